//go:build !windows

package winproc

import "github.com/apmlabs/memscan-core/internal/scanerr"

// Attach fails fast on every non-Windows host. The core does not provide a
// cross-platform memory abstraction (spec §1 Non-goals); this stub exists
// purely so the rest of the module type-checks and tests off-Windows,
// mirroring the teacher's restart_unix.go/restart_windows.go pairing: one
// file per GOOS behind a shared interface.
func Attach(sel Selector) (Reader, error) {
	return nil, scanerr.ErrUnsupportedPlatform
}
