// Package faulterr implements the engine's error taxonomy: four kinds of
// failure that callers and the supervisor need to tell apart without
// string-matching error messages.
package faulterr

import "fmt"

// Kind identifies which of the four taxonomy buckets an error belongs to.
type Kind int

const (
	// KindInvalidInput covers malformed torrents and out-of-range
	// configuration. Surfaced at the call site; never touches session
	// state.
	KindInvalidInput Kind = iota

	// KindTrackerFailure covers a tracker responding with a "failure
	// reason". The session continues; the next periodic announce proceeds
	// on schedule.
	KindTrackerFailure

	// KindTransportFailure covers HTTP/DNS/timeout errors. Treated
	// identically to KindTrackerFailure for scheduling purposes.
	KindTransportFailure

	// KindInternalInvariant covers programmer errors, e.g. advancing a
	// session that is Idle. Fatal to the affected session only.
	KindInternalInvariant
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindTrackerFailure:
		return "TrackerFailure"
	case KindTransportFailure:
		return "TransportFailure"
	case KindInternalInvariant:
		return "InternalInvariant"
	default:
		return "Unknown"
	}
}

// Error is the concrete type returned for every taxonomy kind.
type Error struct {
	kind    Kind
	field   string // used by InvalidStructure-style InvalidInput errors
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.kind, e.message, e.field)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind reports which taxonomy bucket e belongs to.
func (e *Error) Kind() Kind { return e.kind }

// Field reports the offending field name for InvalidStructure-style
// errors, or "" if not applicable.
func (e *Error) Field() string { return e.field }

// InvalidInput builds a KindInvalidInput error.
func InvalidInput(message string) error {
	return &Error{kind: KindInvalidInput, message: message}
}

// InvalidStructure builds a KindInvalidInput error naming the missing or
// malformed field, matching the bencode/torrent-metadata contract in
// spec §4.A/§4.B.
func InvalidStructure(field string) error {
	return &Error{kind: KindInvalidInput, field: field, message: "invalid structure"}
}

// TrackerFailure builds a KindTrackerFailure error carrying the tracker's
// human-readable reason verbatim.
func TrackerFailure(reason string) error {
	return &Error{kind: KindTrackerFailure, message: reason}
}

// TransportFailure wraps a transport-layer error (HTTP/DNS/timeout).
func TransportFailure(cause error) error {
	return &Error{kind: KindTransportFailure, message: "transport failure", cause: cause}
}

// InternalInvariant builds a KindInternalInvariant error for programmer
// errors such as advancing a session in the wrong state.
func InternalInvariant(message string) error {
	return &Error{kind: KindInternalInvariant, message: message}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if fe, ok := err.(*Error); ok {
			e = fe
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.kind == kind
}
