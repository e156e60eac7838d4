package codec

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/width"

	"github.com/apmlabs/memscan-core/internal/scanerr"
)

// Field byte offsets within a raw 64-byte EventEntry (spec §3.2).
const (
	offHandID       = 0x00
	offSequence     = 0x08
	offMsgType      = 0x14
	offSeatIndex    = 0x16
	offActionCode   = 0x17
	offAmount       = 0x18
	offNamePtr      = 0x1C
	offNameLen      = 0x20
	offNameCapacity = 0x24
	offExtraPtr     = 0x28
	offExtraLen     = 0x2C
)

// ReadFunc reads len bytes at addr from whatever backing store the caller
// has attached to: a live Windows process, a dump file, or
// testutil/fakeproc. It returns a short read as an error, matching spec
// §4.1's "short reads are errors."
type ReadFunc func(addr Address, length int) ([]byte, error)

// DecodeEntry is infallible: fields are extracted by fixed offset. Unknown
// msg_type and action_code values are preserved, never rejected.
func DecodeEntry(bytes *[EntrySize]byte) EventEntry {
	b := bytes[:]
	return EventEntry{
		HandID:       HandID(binary.LittleEndian.Uint64(b[offHandID:])),
		Sequence:     binary.LittleEndian.Uint32(b[offSequence:]),
		MsgType:      MsgType(b[offMsgType]),
		SeatIndex:    SeatIndex(b[offSeatIndex]),
		ActionCode:   b[offActionCode],
		Amount:       Amount(binary.LittleEndian.Uint16(b[offAmount:])),
		NamePtr:      Address(binary.LittleEndian.Uint32(b[offNamePtr:])),
		NameLen:      binary.LittleEndian.Uint32(b[offNameLen:]),
		NameCapacity: binary.LittleEndian.Uint32(b[offNameCapacity:]),
		ExtraPtr:     Address(binary.LittleEndian.Uint32(b[offExtraPtr:])),
		ExtraLen:     binary.LittleEndian.Uint32(b[offExtraLen:]),
	}
}

// EncodeEntry is the inverse of DecodeEntry; used by the round-trip
// property test in decode_test.go (spec §8 "Round-trip law").
func EncodeEntry(e EventEntry) [EntrySize]byte {
	var buf [EntrySize]byte
	b := buf[:]
	binary.LittleEndian.PutUint64(b[offHandID:], uint64(e.HandID))
	binary.LittleEndian.PutUint32(b[offSequence:], e.Sequence)
	b[offMsgType] = byte(e.MsgType)
	b[offSeatIndex] = byte(e.SeatIndex)
	b[offActionCode] = e.ActionCode
	binary.LittleEndian.PutUint16(b[offAmount:], uint16(e.Amount))
	binary.LittleEndian.PutUint32(b[offNamePtr:], uint32(e.NamePtr))
	binary.LittleEndian.PutUint32(b[offNameLen:], e.NameLen)
	binary.LittleEndian.PutUint32(b[offNameCapacity:], e.NameCapacity)
	binary.LittleEndian.PutUint32(b[offExtraPtr:], uint32(e.ExtraPtr))
	binary.LittleEndian.PutUint32(b[offExtraLen:], e.ExtraLen)
	return buf
}

// DecodedBuffer is the result of decoding a run of entries starting at a
// buffer address (spec §4.2 decode_buffer).
type DecodedBuffer struct {
	Entries   []EventEntry
	HandID    HandID // observed hand_id, from the first entry
	Truncated bool   // true if max_entries was reached before a zero hand_id
}

// DecodeBuffer reads up to maxEntries entries starting at bufAddr. It stops
// at the first entry whose hand_id is zero after at least one non-zero
// entry has been seen (spec §4.2).
func DecodeBuffer(read ReadFunc, bufAddr Address, maxEntries int) (DecodedBuffer, error) {
	var out DecodedBuffer
	sawNonZero := false

	for i := 0; i < maxEntries; i++ {
		raw, err := read(bufAddr+Address(i*EntrySize), EntrySize)
		if err != nil {
			if i == 0 {
				return DecodedBuffer{}, err
			}
			// A read failure mid-run is a transient condition for the
			// caller to retry, not a reason to discard entries already
			// decoded.
			break
		}
		var arr [EntrySize]byte
		copy(arr[:], raw)
		entry := DecodeEntry(&arr)

		if entry.HandID == 0 {
			if sawNonZero {
				break
			}
			continue
		}
		sawNonZero = true

		if out.HandID == 0 {
			out.HandID = entry.HandID
		} else if entry.HandID != out.HandID {
			// Homogeneity invariant (spec §3.4): the buffer was reused
			// mid-read. Discard the whole result.
			return DecodedBuffer{}, scanerr.ErrHeterogeneousEntries
		}

		out.Entries = append(out.Entries, entry)
	}

	if len(out.Entries) == maxEntries {
		out.Truncated = true
	}
	return out, nil
}

// isNameBearing reports whether an entry kind's name_ptr is meaningful
// (spec §4.2 resolve_names).
func isNameBearing(t MsgType) bool {
	switch t {
	case MsgSeated, MsgAction, MsgActionStart, MsgWin:
		return true
	default:
		return false
	}
}

const maxNameLen = 64

// ReadCStringFunc dereferences a NUL-terminated UTF-8 string of at most
// maxLen bytes, matching Process Attachment's read_c_string (spec §4.1).
type ReadCStringFunc func(addr Address, maxLen int) (string, bool)

// ResolveNames dereferences name_ptr for every name-bearing entry, and
// extra_ptr for the hero's SEATED entry, exactly as spec §4.2 describes.
// A string that fails to resolve is silently omitted — a higher component
// (Buffer Locator, Live Poller) decides whether that constitutes
// corruption or ordinary staleness.
func ResolveNames(readCString ReadCStringFunc, entries []EventEntry, heroHandle string) (players map[SeatIndex]string, heroCards string) {
	players = make(map[SeatIndex]string)

	for _, e := range entries {
		if !isNameBearing(e.MsgType) || e.SeatIndex == SeatTable {
			continue
		}
		if e.NamePtr == 0 {
			continue
		}
		// name_len counts the name's bytes; the read also has to cover the
		// NUL terminator that readCString requires within its limit.
		limit := int(e.NameLen) + 1
		if e.NameLen == 0 || limit > maxNameLen {
			limit = maxNameLen
		}
		name, ok := readCString(e.NamePtr, limit)
		if !ok || name == "" {
			continue
		}
		players[e.SeatIndex] = name

		if e.MsgType == MsgSeated && HandlesMatch(name, heroHandle) && e.ExtraPtr != 0 {
			cardLimit := int(e.ExtraLen) + 1
			if e.ExtraLen == 0 || cardLimit > 5 {
				cardLimit = 5 // four card characters plus the NUL terminator
			}
			if cards, ok := readCString(e.ExtraPtr, cardLimit); ok && isValidCardString(cards) {
				heroCards = cards
			}
		}
	}
	return players, heroCards
}

// HandlesMatch compares a decoded display name against the configured
// hero handle, folding full-width/half-width Unicode variants to their
// narrow form first: VR clients routinely render the same handle using
// either form depending on the renderer, and a byte-exact comparison
// would silently miss the hero's own SEATED entry.
func HandlesMatch(name, heroHandle string) bool {
	return width.Narrow.String(name) == width.Narrow.String(heroHandle) ||
		strings.EqualFold(name, heroHandle)
}

// postBBCode is the action_code spec §3.3 assigns to posting the big
// blind; ResolvePosition anchors its labeling to whichever seat posts it.
const postBBCode = 0x50

// sixMaxOrder labels seats by their offset from the big blind, going
// forward in acting order (spec §3.2: "Derived from hero seat and
// big-blind seat; unambiguous"). Anchored to the 6-max ring the format's
// seat_index field was observed to use; a table seating a different
// number of players than six falls back to PosUnknown rather than
// guessing at a mapping spec.md does not define.
var sixMaxOrder = [6]Position{PosBB, PosUTG, PosMP, PosCO, PosBTN, PosSB}

// ResolvePosition derives the hero's table position label from the
// decoded entries: find whichever seat posted the big blind, find the
// hero's own seat by matching a resolved name against heroHandle, and map
// their offset onto the canonical 6-max ring.
func ResolvePosition(entries []EventEntry, players map[SeatIndex]string, heroHandle string) Position {
	if len(players) != len(sixMaxOrder) {
		return PosUnknown
	}

	var bbSeat SeatIndex
	foundBB := false
	for _, e := range entries {
		if e.MsgType == MsgAction && e.ActionCode == postBBCode {
			bbSeat = e.SeatIndex
			foundBB = true
			break
		}
	}
	if !foundBB {
		return PosUnknown
	}

	var heroSeat SeatIndex
	foundHero := false
	for seat, name := range players {
		if HandlesMatch(name, heroHandle) {
			heroSeat = seat
			foundHero = true
			break
		}
	}
	if !foundHero {
		return PosUnknown
	}

	offset := (int(heroSeat) - int(bbSeat) + len(sixMaxOrder)) % len(sixMaxOrder)
	return sixMaxOrder[offset]
}

// BuildActions extracts the ordered list of wagering actions from a
// decoded run of entries (spec §3.2 HandData.actions): every MsgAction
// entry, in sequence order, with its seat resolved to a player name where
// one is already known.
func BuildActions(entries []EventEntry, players map[SeatIndex]string) []Action {
	var out []Action
	for _, e := range entries {
		if e.MsgType != MsgAction {
			continue
		}
		out = append(out, Action{
			Seat:     e.SeatIndex,
			Name:     players[e.SeatIndex],
			Kind:     DecodeActionKind(e.ActionCode),
			Amount:   e.Amount,
			Sequence: e.Sequence,
		})
	}
	return out
}

func isValidCardString(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, pair := range [][2]byte{{s[0], s[1]}, {s[2], s[3]}} {
		if !isValidRank(pair[0]) || !isValidSuit(pair[1]) {
			return false
		}
	}
	return true
}

func isValidRank(r byte) bool {
	switch r {
	case '2', '3', '4', '5', '6', '7', '8', '9', 'T', 'J', 'Q', 'K', 'A':
		return true
	default:
		return false
	}
}

func isValidSuit(s byte) bool {
	switch s {
	case 'h', 'd', 's', 'c':
		return true
	default:
		return false
	}
}
