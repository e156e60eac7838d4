package poller_test

// End-to-end scenarios, named after spec.md's "Concrete end-to-end
// scenarios" section (A through F). Each test scripts a
// testutil/fakeproc arena the same way poller_test.go's unit tests do;
// these just walk the exact sequences the scenarios describe.

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/container"
	"github.com/apmlabs/memscan-core/internal/dump"
	"github.com/apmlabs/memscan-core/internal/poller"
	"github.com/apmlabs/memscan-core/testutil/fakeproc"
)

// plantSixMaxHand plants a full ring: a NEW_HAND marker, a small-blind and
// big-blind post, six SEATED entries (one per seat, hero at heroSeat with
// resolvable cards), and a raise from seat 3 -- the exact entry sequence
// Scenario A specifies.
func plantSixMaxHand(a *fakeproc.Arena, bufAddr codec.Address, handID codec.HandID, heroSeat codec.SeatIndex, heroCards string) {
	a.PlantSignature(bufAddr)
	a.PlantEntry(bufAddr, 0, codec.EventEntry{HandID: handID, Sequence: 1, MsgType: codec.MsgNewHand, SeatIndex: codec.SeatTable})
	a.PlantEntry(bufAddr, 1, codec.EventEntry{HandID: handID, Sequence: 2, MsgType: codec.MsgAction, SeatIndex: 5, ActionCode: 0x70, Amount: 2})
	a.PlantEntry(bufAddr, 2, codec.EventEntry{HandID: handID, Sequence: 3, MsgType: codec.MsgAction, SeatIndex: 0, ActionCode: 0x50, Amount: 5})

	for seat := codec.SeatIndex(0); seat < 6; seat++ {
		namePtr := bufAddr + 0x9000 + codec.Address(seat)
		name := "Player" + string(rune('0'+seat))
		var extraPtr codec.Address
		var extraLen uint32
		if seat == heroSeat {
			name = heroHandle
			extraPtr = bufAddr + 0xA000
			extraLen = 4
			a.PlantString(extraPtr, heroCards)
		}
		a.PlantEntry(bufAddr, 3+int(seat), codec.EventEntry{
			HandID: handID, Sequence: uint32(4 + seat), MsgType: codec.MsgSeated, SeatIndex: seat,
			NamePtr: namePtr, NameLen: uint32(len(name)), ExtraPtr: extraPtr, ExtraLen: extraLen,
		})
		a.PlantString(namePtr, name)
	}

	a.PlantEntry(bufAddr, 9, codec.EventEntry{HandID: handID, Sequence: 10, MsgType: codec.MsgAction, SeatIndex: 3, ActionCode: 0x45, Amount: 15})
}

func TestScenarioA_FreshAttachPreflop(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	plantSixMaxHand(a, 0x11000, 259_644_772_106, 2, "8h5d")

	p := poller.New(a.Reader(), opts())
	data, err := p.InitialScan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, codec.HandID(259_644_772_106), data.HandID)
	assert.Equal(t, 10, data.EntryCount)
	assert.Equal(t, "8h5d", data.HeroCards)
	assert.Len(t, data.Players, 6)
	require.Len(t, data.Actions, 3)
	assert.Equal(t, "PostSB", data.Actions[0].Kind.String())
	assert.Equal(t, codec.Amount(2), data.Actions[0].Amount)
	assert.Equal(t, "PostBB", data.Actions[1].Kind.String())
	assert.Equal(t, codec.Amount(5), data.Actions[1].Amount)
	assert.Equal(t, "Raise", data.Actions[2].Kind.String())
	assert.Equal(t, codec.Amount(15), data.Actions[2].Amount)
	assert.Equal(t, codec.ScanInitial, data.ScanKind)
}

func TestScenarioB_HandChangeWhileTracking(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x40000)
	plantSixMaxHand(a, 0x11000, 259_644_772_106, 2, "8h5d")
	containerAddr := codec.Address(0x30000)
	plantContainerFor(a, containerAddr, 0x11000)

	cfg := opts()
	cfg.ContainerEnabled = true
	p := poller.New(a.Reader(), cfg)
	_, err := p.InitialScan(context.Background())
	require.NoError(t, err)

	plantSixMaxHand(a, 0x21000, 259_644_777_045, 2, "2dQc")
	plantContainerFor(a, containerAddr, 0x21000)

	outcome, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, poller.NewHand, outcome.Kind)
	assert.True(t, outcome.Data.HandIDChanged)
	assert.Equal(t, codec.HandID(259_644_777_045), outcome.Data.HandID)
	assert.Equal(t, "2dQc", outcome.Data.HeroCards)
	assert.Equal(t, codec.ScanContainer, outcome.Data.ScanKind)
}

func TestScenarioC_ContainerHasntCaughtUp(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x40000)
	plantSixMaxHand(a, 0x11000, 259_644_772_106, 2, "8h5d")
	containerAddr := codec.Address(0x30000)
	plantContainerFor(a, containerAddr, 0x11000)

	cfg := opts()
	cfg.ContainerEnabled = true
	p := poller.New(a.Reader(), cfg)
	_, err := p.InitialScan(context.Background())
	require.NoError(t, err)

	// The writer atomically zeroes the container momentarily: the
	// dereferenced buffer address falls outside any readable region.
	a.WriteAt(containerAddr+container.FieldOffset, make([]byte, 8))

	outcome, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, poller.NoChange, outcome.Kind)

	// Within the retry budget, the container is updated to the new hand.
	plantSixMaxHand(a, 0x21000, 259_644_777_045, 2, "2dQc")
	plantContainerFor(a, containerAddr, 0x21000)

	outcome, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, poller.NewHand, outcome.Kind)
	assert.Equal(t, codec.HandID(259_644_777_045), outcome.Data.HandID)
}

func TestScenarioD_StaleBufferOnly(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	plantSixMaxHand(a, 0x11000, 259_644_772_106, 2, "8h5d")

	p := poller.New(a.Reader(), opts())
	first, err := p.InitialScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, "8h5d", first.HeroCards)

	// Free every name/extra pointer: the strings no longer resolve, but
	// the entries themselves (and the hand_id) are still intact.
	for seat := codec.SeatIndex(0); seat < 6; seat++ {
		a.MarkUnreadable(0x11000 + 0x9000 + codec.Address(seat))
	}
	a.MarkUnreadable(0x11000 + 0xA000)

	p.Refresh()
	data, err := p.InitialScan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data.Players)
	// hand_id is unchanged from the cached read, so the cached hero cards
	// still apply.
	assert.Equal(t, "8h5d", data.HeroCards)
}

func TestScenarioE_TargetExit(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	plantSixMaxHand(a, 0x11000, 259_644_772_106, 2, "8h5d")

	p := poller.New(a.Reader(), opts())
	_, err := p.InitialScan(context.Background())
	require.NoError(t, err)

	// The buffer goes away: reads at its address fail and its signature
	// anchor is wiped, so no rescan can find it again.
	a.MarkUnreadable(0x11000)
	a.WriteAt(0x11000-10, make([]byte, 10))

	var last poller.PollOutcome
	for i := 0; i < 20; i++ {
		last, err = p.Poll(context.Background())
		require.NoError(t, err)
		if last.Kind == poller.Lost {
			break
		}
	}
	assert.Equal(t, poller.Lost, last.Kind)

	p.Refresh()
	_, err = p.InitialScan(context.Background())
	assert.Error(t, err)
}

func TestScenarioF_DumpMode(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	plantSixMaxHand(a, 0x11000, 259_644_772_106, 2, "8h5d")

	path := t.TempDir() + "/scenario-f.dump"
	require.NoError(t, dump.Capture(path, a.Reader(), dump.DumpMeta{ProcessName: "poker.exe", HeroHandle: heroHandle}))

	reader, _, err := dump.OpenDump(path)
	require.NoError(t, err)
	defer reader.Close()

	cfg := opts()
	cfg.ContainerEnabled = false
	cfg.StaticSource = true
	p := poller.New(reader, cfg)
	data, err := p.InitialScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, codec.HandID(259_644_772_106), data.HandID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go p.Run(ctx)

	outcome, err := p.NextUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, poller.Lost, outcome.Kind)
}
