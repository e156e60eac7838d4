// Package container implements the Container Tracker of spec §4.4: it
// discovers and remembers the small heap object whose field at +0xE4
// points to the current buffer's allocation base, so cross-hand buffer
// replacements can be followed in O(1) instead of re-running a full
// signature scan.
package container

import (
	"context"
	"encoding/binary"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/winproc"
)

// FieldOffset is the container's pointer-to-buffer-allocation-base field
// (spec §4.4 Background).
const FieldOffset = 0xE4

// sentinelOffset / sentinelValue are the weak structural hint checked
// during discovery (spec §4.4 Discovery): the 4 bytes just before a
// candidate slot equal 0x00000001.
const (
	sentinelOffset = 4
	sentinelValue  = 0x00000001
)

// stabilityWindow neighborhood is resampled after this delay to confirm a
// discovery candidate is not a transient coincidence (spec §4.4 Discovery:
// "stable across two consecutive samples taken a short interval apart").
const stabilityWindow = 20 * time.Millisecond

// neighborhoodSize is the byte window around a candidate slot compared
// across the two samples.
const neighborhoodSize = 40

// discoveryBudget bounds how long try_discover may run (spec §4.4
// try_discover: "capped by a wall-clock budget").
const discoveryBudget = 1500 * time.Millisecond

// discoveryConcurrency bounds parallel region scans during discovery.
const discoveryConcurrency = 4

// Tracker owns the cached container address for one core session (spec
// §3.5: "cached for the rest of the session").
type Tracker struct {
	addr  codec.Address
	known bool
}

// New returns an empty tracker; call TryDiscover or SetAddr to populate it.
func New() *Tracker { return &Tracker{} }

// Addr returns the cached container address and whether one is known.
func (t *Tracker) Addr() (codec.Address, bool) { return t.addr, t.known }

// SetAddr caches a container address discovered elsewhere.
func (t *Tracker) SetAddr(addr codec.Address) {
	t.addr = addr
	t.known = true
}

// Invalidate forgets the container (spec §4.4 invalidate()). Called by the
// poller after persistent read failures.
func (t *Tracker) Invalidate() {
	t.addr = 0
	t.known = false
}

// TryDiscover searches readable heap regions for a 4/8-byte aligned slot
// whose value equals bufferAddr-8, preferring a match preceded by the
// sentinel value and whose 40-byte neighborhood is stable across two
// samples (spec §4.4 Discovery). It returns (0, false) rather than an
// error when no single candidate wins — that is an expected, non-fatal
// outcome per spec ("leave the container unknown and fall back to
// signature rescans").
func TryDiscover(ctx context.Context, reader winproc.Reader, bufferAddr codec.Address) (codec.Address, bool) {
	target := bufferAddr - 8

	ctx, cancel := context.WithTimeout(ctx, discoveryBudget)
	defer cancel()

	regions, err := reader.Regions()
	if err != nil {
		return 0, false
	}
	// Heap allocations live in read-write pages; read-only and executable
	// regions are not scanned.
	heap := regions[:0]
	for _, r := range regions {
		if r.Protection == winproc.ProtReadWrite {
			heap = append(heap, r)
		}
	}

	candidates := scanForValue(ctx, reader, heap, target)
	if len(candidates) == 0 {
		return 0, false
	}

	// Prefer slots preceded by the sentinel value (spec §4.4: "a weak
	// structural hint"); fall back to the full candidate set if none
	// carry it.
	sentineled := filterSentineled(reader, candidates)
	if len(sentineled) > 0 {
		candidates = sentineled
	}

	firstSamples := make([][]byte, len(candidates))
	for i, slot := range candidates {
		firstSamples[i], _ = reader.Read(slot-sentinelOffset, neighborhoodSize)
	}

	select {
	case <-ctx.Done():
		return 0, false
	case <-time.After(stabilityWindow):
	}

	var stable []codec.Address
	for i, slot := range candidates {
		if neighborhoodStable(reader, slot, firstSamples[i]) {
			stable = append(stable, slot)
		}
	}
	if len(stable) != 1 {
		return 0, false
	}
	return stable[0] - FieldOffset, true
}

// scanForValue returns the addresses of every 4-byte-aligned slot across
// regions whose 32-bit or 64-bit value equals target, i.e. every slot that
// could be container_addr+FieldOffset.
func scanForValue(ctx context.Context, reader winproc.Reader, regions []winproc.Region, target codec.Address) []codec.Address {
	var out []codec.Address
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoveryConcurrency)
	results := make([][]codec.Address, len(regions))

	for i, r := range regions {
		i, r := i, r
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = scanRegionForValue(reader, r, target)
			return nil
		})
	}
	_ = g.Wait()

	for _, rs := range results {
		out = append(out, rs...)
	}
	return out
}

func scanRegionForValue(reader winproc.Reader, r winproc.Region, target codec.Address) []codec.Address {
	data, err := reader.Read(r.Base, int(r.Size))
	if err != nil {
		return nil
	}
	var out []codec.Address
	// 4-byte aligned scan covers both 32-bit pointer slots directly and
	// 64-bit slots whose low 4 bytes alias a 4-byte-aligned offset.
	for off := 0; off+4 <= len(data); off += 4 {
		v32 := binary.LittleEndian.Uint32(data[off:])
		if codec.Address(v32) == target {
			out = append(out, r.Base+codec.Address(off))
			continue
		}
		if off+8 <= len(data) {
			v64 := binary.LittleEndian.Uint64(data[off:])
			if codec.Address(v64) == target {
				out = append(out, r.Base+codec.Address(off))
			}
		}
	}
	return out
}

// filterSentineled narrows candidates to those whose preceding 4 bytes
// equal the sentinel value.
func filterSentineled(reader winproc.Reader, candidates []codec.Address) []codec.Address {
	var out []codec.Address
	for _, slot := range candidates {
		raw, err := reader.Read(slot-sentinelOffset, sentinelOffset)
		if err != nil {
			continue
		}
		if binary.LittleEndian.Uint32(raw) == sentinelValue {
			out = append(out, slot)
		}
	}
	return out
}

// neighborhoodStable re-reads the 40-byte neighborhood around slot and
// confirms the bytes have not shifted since first, the sample taken
// before stabilityWindow elapsed (spec §4.4 Discovery).
func neighborhoodStable(reader winproc.Reader, slot codec.Address, first []byte) bool {
	if first == nil {
		return false
	}
	second, err := reader.Read(slot-sentinelOffset, neighborhoodSize)
	if err != nil {
		return false
	}
	if len(first) != len(second) {
		return false
	}
	for i := range first {
		if first[i] != second[i] {
			return false
		}
	}
	return true
}

// ReadHandAndBuffer dereferences the container: reads the buffer pointer
// at +FieldOffset, applies the +8 offset to obtain the current buffer
// base, then reads the first entry's hand_id (spec §4.4
// read_hand_and_buffer).
func ReadHandAndBuffer(reader winproc.Reader, containerAddr codec.Address) (codec.HandID, codec.Address, bool) {
	raw, err := reader.Read(containerAddr+FieldOffset, 8)
	if err != nil {
		return 0, 0, false
	}
	allocBase := codec.Address(binary.LittleEndian.Uint64(raw))
	bufAddr := allocBase + 8

	entryRaw, err := reader.Read(bufAddr, codec.EntrySize)
	if err != nil {
		return 0, 0, false
	}
	var arr [codec.EntrySize]byte
	copy(arr[:], entryRaw)
	entry := codec.DecodeEntry(&arr)
	return entry.HandID, bufAddr, true
}
