package locator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/locator"
	"github.com/apmlabs/memscan-core/testutil/fakeproc"
)

const heroHandle = "Hero"

func plantValidHand(a *fakeproc.Arena, bufAddr codec.Address, handID codec.HandID, heroName string, heroSeat codec.SeatIndex) {
	a.PlantSignature(bufAddr)
	a.PlantEntry(bufAddr, 0, codec.EventEntry{
		HandID: handID, Sequence: 1, MsgType: codec.MsgNewHand, SeatIndex: codec.SeatTable,
	})
	a.PlantEntry(bufAddr, 1, codec.EventEntry{
		HandID: handID, Sequence: 2, MsgType: codec.MsgSeated, SeatIndex: heroSeat,
		NamePtr: codec.Address(bufAddr) + 0x9000 + codec.Address(heroSeat), NameLen: uint32(len(heroName)),
		ExtraPtr: codec.Address(bufAddr) + 0xA000, ExtraLen: 4,
	})
	a.PlantString(codec.Address(bufAddr)+0x9000+codec.Address(heroSeat), heroName)
	a.PlantString(codec.Address(bufAddr)+0xA000, "8h5d")
}

func TestLocateSingleValidBuffer(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	plantValidHand(a, 0x11000, 250_000_000_001, heroHandle, 2)

	res, err := locator.Locate(context.Background(), a.Reader(), locator.Options{HeroHandle: heroHandle, MaxEntries: 30})
	require.NoError(t, err)
	assert.Equal(t, codec.Address(0x11000), res.BufAddr)
	assert.Equal(t, "8h5d", res.HeroCards)
	assert.False(t, res.Stale)
}

func TestLocatePrefersHigherHandID(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x40000)
	plantValidHand(a, 0x11000, 250_000_000_001, heroHandle, 2)
	plantValidHand(a, 0x21000, 250_000_000_002, heroHandle, 3)

	res, err := locator.Locate(context.Background(), a.Reader(), locator.Options{HeroHandle: heroHandle, MaxEntries: 30})
	require.NoError(t, err)
	assert.Equal(t, codec.Address(0x21000), res.BufAddr)
}

func TestLocateTieBreaksOnResolvableHeroName(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x40000)
	const tiedHandID = 250_000_000_005

	// First candidate: hero name dangling (stale allocation left behind).
	a.PlantSignature(0x11000)
	a.PlantEntry(0x11000, 0, codec.EventEntry{HandID: tiedHandID, Sequence: 1, MsgType: codec.MsgNewHand, SeatIndex: codec.SeatTable})
	a.PlantEntry(0x11000, 1, codec.EventEntry{
		HandID: tiedHandID, Sequence: 2, MsgType: codec.MsgSeated, SeatIndex: 2,
		NamePtr: 0x11900, NameLen: 4,
	})
	a.MarkUnreadable(0x11900)

	// Second candidate: hero name resolves.
	plantValidHand(a, 0x21000, tiedHandID, heroHandle, 4)

	res, err := locator.Locate(context.Background(), a.Reader(), locator.Options{HeroHandle: heroHandle, MaxEntries: 30})
	require.NoError(t, err)
	assert.Equal(t, codec.Address(0x21000), res.BufAddr)
	assert.False(t, res.Stale)
}

func TestLocateReturnsStaleWhenOnlyStaleCandidateExists(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x20000)
	a.PlantSignature(0x11000)
	a.PlantEntry(0x11000, 0, codec.EventEntry{HandID: 250_000_000_009, Sequence: 1, MsgType: codec.MsgNewHand, SeatIndex: codec.SeatTable})
	a.PlantEntry(0x11000, 1, codec.EventEntry{
		HandID: 250_000_000_009, Sequence: 2, MsgType: codec.MsgSeated, SeatIndex: 2,
		NamePtr: 0x11900, NameLen: 4,
	})
	a.MarkUnreadable(0x11900)

	res, err := locator.Locate(context.Background(), a.Reader(), locator.Options{HeroHandle: heroHandle, MaxEntries: 30})
	require.NoError(t, err)
	assert.Equal(t, codec.Address(0x11000), res.BufAddr)
	assert.True(t, res.Stale)
}

func TestLocateNoCandidate(t *testing.T) {
	t.Parallel()
	a := fakeproc.NewArena(0x10000, 0x1000)

	_, err := locator.Locate(context.Background(), a.Reader(), locator.Options{HeroHandle: heroHandle, MaxEntries: 30})
	require.Error(t, err)
}
