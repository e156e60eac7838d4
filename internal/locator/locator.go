// Package locator implements the Buffer Locator of spec §4.3: on a cold
// start, find the address of the buffer holding the current hand by
// scanning readable regions for the signature anchor and validating
// candidates.
package locator

import (
	"bytes"
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/scanerr"
	"github.com/apmlabs/memscan-core/internal/winproc"
)

// Signature is the 10-byte anchor immediately preceding every valid buffer
// (spec §3.4).
var Signature = [10]byte{0x00, 0x88, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// Candidate is a signature match that passed first-entry validation (spec
// §4.3 step 3).
type Candidate struct {
	BufAddr    codec.Address
	FirstEntry codec.EventEntry
}

// Result is what Locate returns on success.
type Result struct {
	BufAddr         codec.Address
	Decoded         codec.DecodedBuffer
	Players         map[codec.SeatIndex]string
	HeroCards       string
	Stale           bool // true when the chosen candidate's hero-SEATED name failed to resolve (and no candidate tied with it on hand_id resolved one)
}

// Options configures a single Locate call.
type Options struct {
	HeroHandle string
	MaxEntries int
	// Concurrency bounds how many regions are scanned in parallel. Zero
	// means "scan serially."
	Concurrency int
}

// Locate runs the full algorithm of spec §4.3: enumerate regions, scan for
// the signature, validate and choose the best candidate, decode and
// resolve names for it.
func Locate(ctx context.Context, reader winproc.Reader, opts Options) (Result, error) {
	regions, err := reader.Regions()
	if err != nil {
		return Result{}, scanerr.Fatal(err, "enumerate regions")
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Base < regions[j].Base })

	candidates, err := scanRegions(ctx, reader, regions, opts.Concurrency)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{}, scanerr.NotFound(scanerr.ErrNoCandidate, "signature scan")
	}

	chosen, stale, err := choose(reader, candidates, opts.HeroHandle)
	if err != nil {
		return Result{}, err
	}

	decoded, err := codec.DecodeBuffer(readFuncOf(reader), chosen.BufAddr, opts.MaxEntries)
	if err != nil {
		return Result{}, scanerr.Wrap(scanerr.KindConsistency, err, "decode chosen candidate")
	}
	players, heroCards := codec.ResolveNames(reader.ReadCString, decoded.Entries, opts.HeroHandle)

	// spec §4.3 OnlyStale: the best candidate is still returned, flagged,
	// so the poller may use it with a staleness warning rather than
	// treating it as NoCandidate.
	return Result{BufAddr: chosen.BufAddr, Decoded: decoded, Players: players, HeroCards: heroCards, Stale: stale}, nil
}

func readFuncOf(reader winproc.Reader) codec.ReadFunc {
	return func(addr codec.Address, length int) ([]byte, error) {
		return reader.Read(addr, length)
	}
}

// scanRegions scans every readable region for the signature, in parallel
// when opts.Concurrency > 1. Region scanning itself never yields mid-region
// (spec §5), but the errgroup's shared context lets a caller cancel
// between regions by cancelling ctx.
func scanRegions(ctx context.Context, reader winproc.Reader, regions []winproc.Region, concurrency int) ([]Candidate, error) {
	if concurrency <= 1 {
		var out []Candidate
		for _, r := range regions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			cs, err := scanOneRegion(reader, r)
			if err != nil {
				continue // unreadable mid-scan: skip, don't fail the whole locate
			}
			out = append(out, cs...)
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	results := make([][]Candidate, len(regions))
	for i, r := range regions {
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cs, err := scanOneRegion(reader, r)
			if err != nil {
				return nil // unreadable region: not fatal to the overall locate
			}
			results[i] = cs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Candidate
	for _, cs := range results {
		out = append(out, cs...)
	}
	return out, nil
}

func scanOneRegion(reader winproc.Reader, r winproc.Region) ([]Candidate, error) {
	data, err := reader.Read(r.Base, int(r.Size))
	if err != nil {
		return nil, err
	}

	var out []Candidate
	haystack := data
	offset := 0
	for {
		idx := bytes.Index(haystack, Signature[:])
		if idx < 0 {
			break
		}
		matchPos := r.Base + codec.Address(offset+idx)
		bufAddr := matchPos + 10

		if entry, ok := validateFirstEntry(data, offset+idx+10); ok {
			out = append(out, Candidate{BufAddr: bufAddr, FirstEntry: entry})
		}

		advance := idx + 1
		haystack = haystack[advance:]
		offset += advance
	}
	return out, nil
}

// validateFirstEntry implements spec §4.3 step 3's candidate validation:
// sequence==1, hand_id in range, msg_type==NEW_HAND, seat_index==table.
func validateFirstEntry(data []byte, entryOffset int) (codec.EventEntry, bool) {
	if entryOffset < 0 || entryOffset+codec.EntrySize > len(data) {
		return codec.EventEntry{}, false
	}
	var arr [codec.EntrySize]byte
	copy(arr[:], data[entryOffset:entryOffset+codec.EntrySize])
	entry := codec.DecodeEntry(&arr)

	if entry.Sequence != 1 {
		return codec.EventEntry{}, false
	}
	if !entry.HandID.Valid() {
		return codec.EventEntry{}, false
	}
	if entry.MsgType != codec.MsgNewHand {
		return codec.EventEntry{}, false
	}
	if entry.SeatIndex != codec.SeatTable {
		return codec.EventEntry{}, false
	}
	return entry, true
}

// choose implements spec §4.3 step 5: pick the highest hand_id, tie-break
// by whether the hero-SEATED entry resolves. Returns stale=true when the
// winning candidate's hero name did not resolve but no better candidate
// existed (spec's OnlyStale failure mode, spec §4.3).
func choose(reader winproc.Reader, candidates []Candidate, heroHandle string) (Candidate, bool, error) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].FirstEntry.HandID > candidates[j].FirstEntry.HandID
	})

	topHandID := candidates[0].FirstEntry.HandID
	var tied []Candidate
	for _, c := range candidates {
		if c.FirstEntry.HandID == topHandID {
			tied = append(tied, c)
		}
	}
	if len(tied) == 1 {
		return tied[0], !heroResolves(reader, tied[0], heroHandle), nil
	}

	for _, c := range tied {
		if heroResolves(reader, c, heroHandle) {
			return c, false, nil
		}
	}
	// None of the tied candidates resolve the hero name: keep the first
	// (arbitrary among equals) and mark stale.
	return tied[0], true, nil
}

// heroResolves decodes a modest run of entries following the candidate's
// first entry and checks whether any hero-SEATED entry resolves to
// heroHandle.
func heroResolves(reader winproc.Reader, c Candidate, heroHandle string) bool {
	decoded, err := codec.DecodeBuffer(readFuncOf(reader), c.BufAddr, 30)
	if err != nil {
		return false
	}
	var seated []codec.EventEntry
	for _, e := range decoded.Entries {
		if e.MsgType == codec.MsgSeated {
			seated = append(seated, e)
		}
	}
	players, _ := codec.ResolveNames(reader.ReadCString, seated, heroHandle)
	for _, name := range players {
		if codec.HandlesMatch(name, heroHandle) {
			return true
		}
	}
	return false
}
