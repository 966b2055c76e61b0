// Package failure defines the error kinds reported by the capture pipeline.
//
// Every error that reaches the shell carries a human-readable message and a
// machine-checkable Kind. Use KindOf to read the tag and errors.Is against the
// exported sentinels to branch on it.
package failure

import (
	"errors"
	"fmt"
)

// Kind tags an error with the remediation path the shell should take.
type Kind string

const (
	KindUnknown              Kind = "unknown"
	KindPermission           Kind = "permission"
	KindHotkeyConflict       Kind = "hotkey_conflict"
	KindInvalidBounds        Kind = "invalid_bounds"
	KindCaptureDenied        Kind = "capture_denied"
	KindCaptureFailed        Kind = "capture_failed"
	KindClipboardUnavailable Kind = "clipboard_unavailable"
	KindExternalLaunch       Kind = "external_launch"
	KindCaptureTimeout       Kind = "capture_timeout"
	KindInvalidArgument      Kind = "invalid_argument"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrPermission           = &Error{Kind: KindPermission}
	ErrHotkeyConflict       = &Error{Kind: KindHotkeyConflict}
	ErrInvalidBounds        = &Error{Kind: KindInvalidBounds}
	ErrCaptureDenied        = &Error{Kind: KindCaptureDenied}
	ErrCaptureFailed        = &Error{Kind: KindCaptureFailed}
	ErrClipboardUnavailable = &Error{Kind: KindClipboardUnavailable}
	ErrExternalLaunch       = &Error{Kind: KindExternalLaunch}
	ErrCaptureTimeout       = &Error{Kind: KindCaptureTimeout}
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
)

// Error is a kind-tagged error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// New returns an error of the given kind with a formatted message.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
