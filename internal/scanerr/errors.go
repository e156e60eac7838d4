// Package scanerr declares the error taxonomy shared by every core
// component. Errors are sentinel values so callers can switch on them with
// errors.Is; pkg/errors.Wrap attaches the context (candidate address,
// region count, retry count, ...) that matters when a failure arrives as
// an offline dump with no way to reproduce interactively.
package scanerr

import "github.com/pkg/errors"

// Environmental errors: not recoverable within the core, but often
// transient at the process level.
var (
	ErrTargetNotFound    = errors.New("target process not found")
	ErrAccessDenied      = errors.New("access denied opening target process")
	ErrMultipleCandidates = errors.New("multiple processes match selector")
	ErrNotReadable       = errors.New("memory region not readable")
	ErrReadFaulted       = errors.New("transient fault reading target memory")
)

// Structural errors: recoverable by retrying or waiting for the target to
// enter a hand. Surfaced to the caller as ScanError(NotFound).
var (
	ErrNoCandidate             = errors.New("no signature candidate validated")
	ErrOnlyStale               = errors.New("only a stale buffer candidate found")
	ErrSignatureMatchedButInvalid = errors.New("signature matched but candidate failed validation")
)

// Consistency errors: recoverable; the caller receives NoChange while the
// poller self-heals.
var (
	ErrHeterogeneousEntries = errors.New("decoded entries span more than one hand_id")
	ErrContainerStale       = errors.New("container no longer dereferences to a plausible buffer")
)

// Terminal: reported once, then idempotently until a refresh is requested.
var ErrLost = errors.New("tracked buffer and container both unrecoverable")

// ErrUnsupportedPlatform is returned by the non-Windows winproc stub. It is
// environmental, not structural: the core simply has no attachment
// mechanism on this OS.
var ErrUnsupportedPlatform = errors.New("process attachment is only supported on windows")

// ScanKind is the reason category surfaced to Core callers per §7.
type ScanKind int

const (
	KindEnvironmental ScanKind = iota
	KindStructural
	KindConsistency
	KindTerminal
)

// ScanError wraps an underlying sentinel with the taxonomy kind and free
// text context, matching the §6.1 "TargetNotFound / AccessDenied /
// NotFound / Lost / Fatal(String)" surface.
type ScanError struct {
	Kind ScanKind
	Err  error
}

func (e *ScanError) Error() string { return e.Err.Error() }
func (e *ScanError) Unwrap() error { return e.Err }

func Wrap(kind ScanKind, err error, context string) *ScanError {
	if err == nil {
		return nil
	}
	return &ScanError{Kind: kind, Err: errors.Wrap(err, context)}
}

// NotFound builds a ScanError(NotFound) from a structural cause.
func NotFound(cause error, context string) *ScanError {
	return Wrap(KindStructural, cause, context)
}

// Fatal builds a ScanError from an environmental cause.
func Fatal(cause error, context string) *ScanError {
	return Wrap(KindEnvironmental, cause, context)
}

// Lost builds the terminal ScanError.
func Lost(context string) *ScanError {
	return Wrap(KindTerminal, ErrLost, context)
}
