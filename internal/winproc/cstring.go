package winproc

import (
	"bytes"
	"unicode/utf8"

	"github.com/apmlabs/memscan-core/internal/codec"
)

// ReadCStringVia implements spec §4.1's read_c_string algorithm on top of
// any raw byte reader, so the Windows implementation, the dump-file
// implementation, and testutil/fakeproc all share one definition of
// "dereference a NUL-terminated UTF-8 string" instead of three slightly
// different ones.
func ReadCStringVia(read func(codec.Address, int) ([]byte, error), addr codec.Address, maxLen int) (string, bool) {
	if maxLen <= 0 {
		maxLen = 1
	}
	raw, err := read(addr, maxLen)
	if err != nil || len(raw) == 0 {
		return "", false
	}
	if raw[0] == 0 {
		return "", false
	}

	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		// No terminator within maxLen. Even if what we have so far is
		// valid UTF-8, spec treats this as suspicious (possibly dangling)
		// and refuses to guess.
		return "", false
	}

	prefix := raw[:nul]
	if !utf8.Valid(prefix) {
		return "", false
	}
	return string(prefix), true
}
