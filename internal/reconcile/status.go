package reconcile

import "strings"

// StatusKind classifies one channel's reading for a tick.
type StatusKind int

const (
	// Disabled channels are not configured. They count as non-ok.
	Disabled StatusKind = iota
	Ok
	NoFrame
	Error
)

// Status is a channel's outcome for one tick. Reason is set for Error.
type Status struct {
	Kind   StatusKind
	Reason string
}

// Common statuses.
var (
	StatusOk       = Status{Kind: Ok}
	StatusNoFrame  = Status{Kind: NoFrame}
	StatusDisabled = Status{Kind: Disabled}
)

// StatusError returns an Error status carrying reason.
func StatusError(reason string) Status {
	return Status{Kind: Error, Reason: reason}
}

// IsOk reports whether the reading can be used.
func (s Status) IsOk() bool { return s.Kind == Ok }

// String returns the column form: "ok", "no_frame", "error:<reason>", or
// "" for a disabled channel.
func (s Status) String() string {
	switch s.Kind {
	case Ok:
		return "ok"
	case NoFrame:
		return "no_frame"
	case Error:
		return "error:" + s.Reason
	default:
		return ""
	}
}

// ParseStatus is the inverse of String.
func ParseStatus(s string) Status {
	switch {
	case s == "ok":
		return StatusOk
	case s == "no_frame":
		return StatusNoFrame
	case strings.HasPrefix(s, "error"):
		return StatusError(strings.TrimPrefix(strings.TrimPrefix(s, "error"), ":"))
	default:
		return StatusDisabled
	}
}
