package negotiation

import (
	"errors"
	"fmt"
)

// Kind classifies failures for the user interface.
type Kind uint8

const (
	KindPermissionDenied Kind = iota + 1
	KindNegotiationFailed
	KindInvalidPayload
	KindNotInitialized
	KindTransport
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission denied"
	case KindNegotiationFailed:
		return "negotiation failed"
	case KindInvalidPayload:
		return "invalid payload"
	case KindNotInitialized:
		return "not initialized"
	case KindTransport:
		return "transport error"
	case KindBusy:
		return "remote busy"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is a failure of one operation. errors.Is matches it against the
// Err* sentinels by Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	text string // overrides the default user-facing message
}

var (
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrNegotiationFailed = &Error{Kind: KindNegotiationFailed}
	ErrInvalidPayload    = &Error{Kind: KindInvalidPayload}
	ErrNotInitialized    = &Error{Kind: KindNotInitialized}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrBusy              = &Error{Kind: KindBusy}
)

// ErrSessionActive is returned by commands that need Idle while an attempt
// is in progress. The active attempt is unaffected.
var ErrSessionActive = errors.New("a session is already active")

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("negotiation machine closed")

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Message is the short text shown to the user.
func (e *Error) Message() string {
	if e.text != "" {
		return e.text
	}
	switch e.Kind {
	case KindPermissionDenied:
		return "Permission to share screen was denied."
	case KindInvalidPayload:
		return "The connection code is invalid. Copy the whole code and try again."
	case KindNotInitialized:
		return "There is no pending connection for this action."
	case KindTransport:
		return "The connection to the remote device was lost."
	case KindBusy:
		return "The remote device is busy in another session."
	}
	return "Failed to establish the connection."
}

func failure(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
