package poller_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/container"
	"github.com/apmlabs/memscan-core/internal/poller"
	"github.com/apmlabs/memscan-core/testutil/fakeproc"
)

const heroHandle = "Hero"

func plantHand(a *fakeproc.Arena, bufAddr codec.Address, handID codec.HandID, heroSeat codec.SeatIndex) {
	a.PlantSignature(bufAddr)
	a.PlantEntry(bufAddr, 0, codec.EventEntry{
		HandID: handID, Sequence: 1, MsgType: codec.MsgNewHand, SeatIndex: codec.SeatTable,
	})
	a.PlantEntry(bufAddr, 1, codec.EventEntry{
		HandID: handID, Sequence: 2, MsgType: codec.MsgSeated, SeatIndex: heroSeat,
		NamePtr: bufAddr + 0x9000 + codec.Address(heroSeat), NameLen: uint32(len(heroHandle)),
		ExtraPtr: bufAddr + 0xA000, ExtraLen: 4,
	})
	a.PlantString(bufAddr+0x9000+codec.Address(heroSeat), heroHandle)
	a.PlantString(bufAddr+0xA000, "8h5d")
}

func appendAction(a *fakeproc.Arena, bufAddr codec.Address, index int, handID codec.HandID, seat codec.SeatIndex) {
	a.PlantEntry(bufAddr, index, codec.EventEntry{
		HandID: handID, Sequence: uint32(index + 1), MsgType: codec.MsgAction, SeatIndex: seat,
		ActionCode: 0x43, Amount: 100,
	})
}

func plantContainerFor(a *fakeproc.Arena, containerAddr, bufAddr codec.Address) {
	var sentinel [4]byte
	binary.LittleEndian.PutUint32(sentinel[:], 0x00000001)
	a.WriteAt(containerAddr+container.FieldOffset-4, sentinel[:])

	var ptr [8]byte
	binary.LittleEndian.PutUint64(ptr[:], uint64(bufAddr-8))
	a.WriteAt(containerAddr+container.FieldOffset, ptr[:])
}

func opts() poller.Options {
	return poller.Options{HeroHandle: heroHandle, MaxEntries: 30, PollInterval: 5 * time.Millisecond}
}

func TestInitialScanTracksBuffer(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	plantHand(a, 0x11000, 250_000_000_001, 2)

	p := poller.New(a.Reader(), opts())
	data, err := p.InitialScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, codec.HandID(250_000_000_001), data.HandID)
	assert.Equal(t, "8h5d", data.HeroCards)
	assert.False(t, data.HandIDChanged)
}

func TestPollNoChangeWhenNothingChanged(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	plantHand(a, 0x11000, 250_000_000_001, 2)

	p := poller.New(a.Reader(), opts())
	_, err := p.InitialScan(context.Background())
	require.NoError(t, err)

	outcome, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, poller.NoChange, outcome.Kind)
}

func TestPollGrowsOnNewEntries(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	plantHand(a, 0x11000, 250_000_000_001, 2)

	p := poller.New(a.Reader(), opts())
	_, err := p.InitialScan(context.Background())
	require.NoError(t, err)

	appendAction(a, 0x11000, 2, 250_000_000_001, 3)

	outcome, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, poller.Grew, outcome.Kind)
	assert.Equal(t, 3, outcome.Data.EntryCount)
	assert.Equal(t, "8h5d", outcome.Data.HeroCards)
}

func TestPollNewHandWhenContainerReportsDifferentBuffer(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x40000)
	plantHand(a, 0x11000, 250_000_000_001, 2)
	containerAddr := codec.Address(0x30000)
	plantContainerFor(a, containerAddr, 0x11000)

	cfg := opts()
	cfg.ContainerEnabled = true
	p := poller.New(a.Reader(), cfg)
	_, err := p.InitialScan(context.Background())
	require.NoError(t, err)

	// Plant the next hand at a new address and repoint the container.
	plantHand(a, 0x21000, 250_000_000_002, 4)
	plantContainerFor(a, containerAddr, 0x21000)

	outcome, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, poller.NewHand, outcome.Kind)
	assert.Equal(t, codec.HandID(250_000_000_002), outcome.Data.HandID)
	assert.True(t, outcome.Data.HandIDChanged)
}

func TestPollHoldsInRetryingWithinBudgetThenRescansToLost(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	plantHand(a, 0x11000, 250_000_000_001, 2)

	p := poller.New(a.Reader(), opts())
	_, err := p.InitialScan(context.Background())
	require.NoError(t, err)

	// Simulate the buffer going away entirely: per-entry reads start
	// failing (forcing the Retrying path) and the signature anchor itself
	// is wiped (so a forced rescan cannot rediscover the same hand).
	a.MarkUnreadable(0x11000)
	a.WriteAt(0x11000-10, make([]byte, 10))

	var last poller.PollOutcome
	for i := 0; i < 20; i++ {
		last, err = p.Poll(context.Background())
		require.NoError(t, err)
		if last.Kind == poller.Lost {
			break
		}
		assert.Equal(t, poller.NoChange, last.Kind)
	}
	assert.Equal(t, poller.Lost, last.Kind)

	// Lost is idempotent: subsequent polls keep reporting Lost.
	again, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, poller.Lost, again.Kind)
}

func TestRefreshRecoversFromLost(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	plantHand(a, 0x11000, 250_000_000_001, 2)

	p := poller.New(a.Reader(), opts())
	_, err := p.InitialScan(context.Background())
	require.NoError(t, err)

	a.MarkUnreadable(0x11000)
	a.WriteAt(0x11000-10, make([]byte, 10))
	for i := 0; i < 20; i++ {
		outcome, err := p.Poll(context.Background())
		require.NoError(t, err)
		if outcome.Kind == poller.Lost {
			break
		}
	}

	// A replacement hand appears; the refresh-triggered rescan finds it.
	plantHand(a, 0x15000, 250_000_000_002, 4)

	p.Refresh()
	outcome, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, poller.NewHand, outcome.Kind)
	assert.Equal(t, codec.HandID(250_000_000_002), outcome.Data.HandID)
}

func TestRunDeliversOutcomesUntilStopped(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	plantHand(a, 0x11000, 250_000_000_001, 2)

	p := poller.New(a.Reader(), opts())
	_, err := p.InitialScan(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go p.Run(ctx)

	appendAction(a, 0x11000, 2, 250_000_000_001, 3)

	for {
		outcome, err := p.NextUpdate(ctx)
		require.NoError(t, err)
		if outcome.Kind == poller.Grew {
			assert.Equal(t, 3, outcome.Data.EntryCount)
			p.Stop()
			return
		}
	}
}
