// Package wireerr defines the wire error-code taxonomy shared by every
// opcode reply in pkg/proto, and classifies each code as fatal, surfaced to
// the client, recovered locally, or retried, per the error handling design.
package wireerr

import "fmt"

// Code is a wire-level error code carried in the `err` field of reply
// messages. Values are frozen by the wire protocol; never renumber.
type Code uint32

const (
	// Ok indicates success.
	Ok Code = iota

	// BadLogin indicates the login request was malformed or the client
	// name was rejected.
	BadLogin

	// NotAllowed indicates the peer is not permitted to take the
	// requested role (e.g. a non-member attempting a slave login).
	NotAllowed

	// BadWireProto indicates a protocol version mismatch at login.
	BadWireProto

	// AlreadyPend indicates the client already has an outstanding request
	// for this key on this lock table.
	AlreadyPend

	// TryFailed indicates a Try-flagged request could not be granted
	// immediately.
	TryFailed

	// Canceled indicates the request was canceled before it completed.
	Canceled

	// MemoryIssues indicates a pre-allocation pool or allocation failure.
	MemoryIssues

	// BadStateChg indicates the requested state transition is invalid.
	BadStateChg

	// PushQu is returned internally by the queue engine to signal "push
	// this request onto a conflict queue". It is never sent on the wire.
	PushQu

	// EInval indicates an invalid argument (EINVAL-class).
	EInval

	// EProto indicates a framing violation (EPROTO-class).
	EProto

	// NoService indicates the lock table is not currently serving
	// requests (e.g. Pending role, or grace/arbitration in progress).
	NoService
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "Ok"
	case BadLogin:
		return "BadLogin"
	case NotAllowed:
		return "NotAllowed"
	case BadWireProto:
		return "BadWireProto"
	case AlreadyPend:
		return "AlreadyPend"
	case TryFailed:
		return "TryFailed"
	case Canceled:
		return "Canceled"
	case MemoryIssues:
		return "MemoryIssues"
	case BadStateChg:
		return "BadStateChg"
	case PushQu:
		return "PushQu"
	case EInval:
		return "EInval"
	case EProto:
		return "EProto"
	case NoService:
		return "NoService"
	default:
		return fmt.Sprintf("Code(%d)", uint32(c))
	}
}

// Error adapts a Code to the error interface so it can be returned from
// Go functions that compute a wire reply before it is serialized.
type Error struct {
	Code Code
}

func (e *Error) Error() string { return e.Code.String() }

// New wraps a Code as an error.
func New(c Code) error {
	if c == Ok {
		return nil
	}
	return &Error{Code: c}
}

// CodeOf extracts the Code from an error produced by New, or Ok if err is
// nil, or EInval if err is a foreign error.
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code
	}
	return EInval
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

// Class describes how an error should be handled per the error handling
// design: fatal process exit, surfaced to the client in a reply, recovered
// locally by closing the offending connection, or retried by the caller.
type Class int

const (
	ClassSurfaced Class = iota
	ClassRecovered
	ClassRetried
	ClassFatal
)

// ClassOf classifies a Code by its error-handling disposition. PushQu has no
// case of its own and falls to the default, ClassSurfaced, as do Ok and
// unknown codes.
func ClassOf(c Code) Class {
	switch c {
	case BadLogin, NotAllowed, AlreadyPend, TryFailed, Canceled,
		MemoryIssues, BadStateChg, BadWireProto, NoService:
		return ClassSurfaced
	case EProto, EInval:
		return ClassRecovered
	default:
		return ClassSurfaced
	}
}
