// Package fakeproc is a synthetic "target process" used by
// locator/container/poller tests in place of a real Windows process. It
// implements winproc.Reader over a plain []byte arena, mirroring the role
// tools/gen_testlog plays for the teacher's parser tests: a generator of
// realistic fixtures rather than a mock of the production dependency.
package fakeproc

import (
	"sync"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/scanerr"
	"github.com/apmlabs/memscan-core/internal/winproc"
)

// Signature is the 10-byte anchor immediately preceding every valid buffer
// (spec §3.4).
var Signature = [10]byte{0x00, 0x88, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// Arena is an in-memory address space: a single contiguous region holding
// whatever bytes the test has planted, plus a set of addresses at which
// reads fail, simulating dangling pointers.
type Arena struct {
	mu      sync.RWMutex
	base    codec.Address
	mem     []byte
	unreadable map[codec.Address]bool // addresses that always fail Read, e.g. a freed string
	strings map[codec.Address]string
	heapRegions []winproc.Region
}

// NewArena creates an arena starting at base, sized to hold at least size
// bytes.
func NewArena(base codec.Address, size int) *Arena {
	return &Arena{
		base:       base,
		mem:        make([]byte, size),
		unreadable: make(map[codec.Address]bool),
		strings:    make(map[codec.Address]string),
	}
}

// WriteAt copies b into the arena at addr, growing the backing slice if
// needed.
func (a *Arena) WriteAt(addr codec.Address, b []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	off := int(addr - a.base)
	if off < 0 {
		panic("fakeproc: write before arena base")
	}
	need := off + len(b)
	if need > len(a.mem) {
		grown := make([]byte, need)
		copy(grown, a.mem)
		a.mem = grown
	}
	copy(a.mem[off:], b)
}

// PlantSignature writes the 10-byte anchor immediately before bufAddr.
func (a *Arena) PlantSignature(bufAddr codec.Address) {
	a.WriteAt(bufAddr-10, Signature[:])
}

// PlantEntry encodes and writes an EventEntry at bufAddr + index*64.
func (a *Arena) PlantEntry(bufAddr codec.Address, index int, e codec.EventEntry) {
	buf := codec.EncodeEntry(e)
	a.WriteAt(bufAddr+codec.Address(index*codec.EntrySize), buf[:])
}

// PlantString stores a NUL-terminated string readable via ReadCString at
// addr. The byte layout is irrelevant here since reads are served directly
// from the strings table rather than from mem; this models "a string
// pointer that happens to dereference successfully" without needing to
// hand-encode NUL-terminated bytes into the byte arena.
func (a *Arena) PlantString(addr codec.Address, s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.strings[addr] = s
}

// MarkUnreadable makes every future Read/ReadCString that starts at addr
// fail, modeling a dangling pointer into freed memory (spec's "stale
// buffer" concept). A read of a larger range that merely covers addr still
// succeeds.
func (a *Arena) MarkUnreadable(addr codec.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unreadable[addr] = true
}

// AddHeapRegion registers a region reported by Regions() as heap-like, for
// container discovery tests that scan only "heap" regions.
func (a *Arena) AddHeapRegion(r winproc.Region) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heapRegions = append(a.heapRegions, r)
}

// Reader returns a winproc.Reader view over the arena.
func (a *Arena) Reader() winproc.Reader {
	return &arenaReader{a: a}
}

type arenaReader struct{ a *Arena }

func (r *arenaReader) Regions() ([]winproc.Region, error) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	base := winproc.Region{
		Base:       r.a.base,
		Size:       uint64(len(r.a.mem)),
		Protection: winproc.ProtReadWrite,
		State:      winproc.StateCommit,
	}
	out := append([]winproc.Region{base}, r.a.heapRegions...)
	return out, nil
}

func (r *arenaReader) Read(addr codec.Address, length int) ([]byte, error) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	if r.a.unreadable[addr] {
		return nil, scanerr.ErrNotReadable
	}
	off := int(addr - r.a.base)
	if off < 0 || off+length > len(r.a.mem) {
		return nil, scanerr.ErrNotReadable
	}
	out := make([]byte, length)
	copy(out, r.a.mem[off:off+length])
	return out, nil
}

func (r *arenaReader) ReadCString(addr codec.Address, maxLen int) (string, bool) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	if r.a.unreadable[addr] {
		return "", false
	}
	s, ok := r.a.strings[addr]
	if !ok || len(s)+1 > maxLen { // the NUL terminator must fit within maxLen too
		return "", false
	}
	return s, true
}

func (r *arenaReader) Close() error { return nil }
