//go:build windows

package winproc

import (
	"sort"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/scanerr"
)

// handle is the real Windows implementation of Reader. Rights are
// requested narrowly: PROCESS_QUERY_INFORMATION | PROCESS_VM_READ only.
// Never PROCESS_VM_WRITE, never SeDebugPrivilege, never thread-manipulation
// rights (spec §4.1).
type handle struct {
	pid windows.Handle
	h   windows.Handle
}

const readAccess = windows.PROCESS_QUERY_INFORMATION | windows.PROCESS_VM_READ

// Attach opens a read-only handle to the target process. Selector is
// either an explicit PID or a case-insensitive process-name substring
// (spec §4.1 attach()).
func Attach(sel Selector) (Reader, error) {
	pid, err := resolvePID(sel)
	if err != nil {
		return nil, err
	}

	h, err := windows.OpenProcess(readAccess, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return nil, scanerr.ErrAccessDenied
		}
		return nil, errors.Wrap(err, "OpenProcess")
	}
	return &handle{h: h}, nil
}

func resolvePID(sel Selector) (int, error) {
	if sel.ProcessID != 0 {
		return sel.ProcessID, nil
	}
	matches, err := findProcessesByName(sel.ProcessName)
	if err != nil {
		return 0, err
	}
	switch len(matches) {
	case 0:
		return 0, scanerr.ErrTargetNotFound
	case 1:
		return matches[0], nil
	default:
		return 0, scanerr.ErrMultipleCandidates
	}
}

func findProcessesByName(substr string) ([]int, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, errors.Wrap(err, "CreateToolhelp32Snapshot")
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var pids []int
	needle := strings.ToLower(substr)

	if err := windows.Process32First(snap, &entry); err != nil {
		return nil, errors.Wrap(err, "Process32First")
	}
	for {
		name := windows.UTF16ToString(entry.ExeFile[:])
		if strings.Contains(strings.ToLower(name), needle) {
			pids = append(pids, int(entry.ProcessID))
		}
		if err := windows.Process32Next(snap, &entry); err != nil {
			break
		}
	}
	sort.Ints(pids)
	return pids, nil
}

func (h *handle) Regions() ([]Region, error) {
	var regions []Region
	var addr uintptr

	for {
		var mbi windows.MemoryBasicInformation
		err := windows.VirtualQueryEx(h.h, addr, &mbi, unsafe.Sizeof(mbi))
		if err != nil {
			break // VirtualQueryEx fails once addr runs past the address space
		}
		if mbi.RegionSize == 0 {
			break
		}

		region := Region{
			Base: codec.Address(mbi.BaseAddress),
			Size: uint64(mbi.RegionSize),
		}
		switch mbi.State {
		case windows.MEM_COMMIT:
			region.State = StateCommit
		case windows.MEM_RESERVE:
			region.State = StateReserve
		default:
			region.State = StateFree
		}
		if mbi.Protect&windows.PAGE_GUARD != 0 {
			region.Protection = ProtGuard
		} else {
			switch {
			case mbi.Protect&(windows.PAGE_READWRITE|windows.PAGE_EXECUTE_READWRITE) != 0:
				region.Protection = ProtReadWrite
			case mbi.Protect&windows.PAGE_EXECUTE_READ != 0:
				region.Protection = ProtExecuteRead
			case mbi.Protect&windows.PAGE_READONLY != 0:
				region.Protection = ProtReadOnly
			default:
				region.Protection = ProtNoAccess
			}
		}

		if region.Readable() {
			regions = append(regions, region)
		}

		next := addr + uintptr(mbi.RegionSize)
		if next <= addr {
			break // overflow guard
		}
		addr = next
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].Base < regions[j].Base })
	return regions, nil
}

func (h *handle) Read(addr codec.Address, length int) ([]byte, error) {
	buf := make([]byte, length)
	var nRead uintptr
	err := windows.ReadProcessMemory(h.h, uintptr(addr), &buf[0], uintptr(length), &nRead)
	if err != nil {
		return nil, errors.Wrap(scanerr.ErrNotReadable, err.Error())
	}
	if int(nRead) < length {
		return nil, scanerr.ErrNotReadable
	}
	return buf, nil
}

func (h *handle) ReadCString(addr codec.Address, maxLen int) (string, bool) {
	return ReadCStringVia(h.Read, addr, maxLen)
}

func (h *handle) Close() error {
	return windows.CloseHandle(h.h)
}
