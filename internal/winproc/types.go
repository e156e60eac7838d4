// Package winproc implements Process Attachment (spec §4.1): a read-only
// handle onto a target process's address space, and region enumeration
// over it. Only query-information and read-virtual-memory rights are ever
// requested — the same rights an ordinary third-party stat tracker asks
// for, per spec §4.1's detectability requirement.
package winproc

import "github.com/apmlabs/memscan-core/internal/codec"

// Prot is the subset of page protection flags the locator cares about.
type Prot int

const (
	ProtNoAccess Prot = iota
	ProtReadOnly
	ProtReadWrite
	ProtExecuteRead
	ProtGuard // excluded from enumeration results regardless of readability
)

// State mirrors the Windows MEM_* region states.
type State int

const (
	StateCommit State = iota
	StateReserve
	StateFree
)

// Region is one committed, user-mode, readable memory range (spec §4.1).
type Region struct {
	Base       codec.Address
	Size       uint64
	Protection Prot
	State      State
}

// Readable reports whether a region is eligible for scanning: committed,
// non-guard, and carrying at least read access.
func (r Region) Readable() bool {
	if r.State != StateCommit {
		return false
	}
	if r.Protection == ProtGuard || r.Protection == ProtNoAccess {
		return false
	}
	return true
}

// Selector picks the target process: either a case-insensitive substring
// of the process name, or an explicit PID (spec §4.1 attach()).
type Selector struct {
	ProcessName string
	ProcessID   int
}

// Reader is the platform-independent surface every core component reads
// through. The real implementation (windows.go) backs it with
// OpenProcess/ReadProcessMemory; testutil/fakeproc and internal/dump back
// it with an in-memory arena or a flat file, so locator/container/poller
// logic is exercised identically regardless of source.
type Reader interface {
	// Regions returns every committed, user-mode, readable, non-guard
	// region, sorted by base address (spec §4.1 enumerate_regions, with
	// the filtering already applied).
	Regions() ([]Region, error)

	// Read reads exactly length bytes at addr. A short read is an error,
	// per spec §4.1.
	Read(addr codec.Address, length int) ([]byte, error)

	// ReadCString reads up to maxLen bytes starting at addr, returning the
	// longest valid UTF-8 prefix terminated by the first NUL. It reports
	// false if the first byte can't be read, is NUL, or no NUL is found
	// within maxLen (spec §4.1 read_c_string).
	ReadCString(addr codec.Address, maxLen int) (string, bool)

	// Close releases the underlying OS handle, if any.
	Close() error
}
