package session

import (
	"errors"
	"fmt"
)

// Kind classifies session failures.
type Kind int

const (
	KindAdapter Kind = iota + 1
	KindNotFound
	KindAlreadyInProgress
	KindLinkFailed
	KindServiceNotFound
	KindSubscriptionFailed
	KindNotConnected
	KindInvalidPayload
	KindTransportWriteFailed
	KindDisconnect
	KindCanceled
	KindLinkLost
)

var kindNames = map[Kind]string{
	KindAdapter:              "adapter error",
	KindNotFound:             "peripheral not found",
	KindAlreadyInProgress:    "already in progress",
	KindLinkFailed:           "link failed",
	KindServiceNotFound:      "service not found",
	KindSubscriptionFailed:   "subscription failed",
	KindNotConnected:         "not connected",
	KindInvalidPayload:       "invalid payload",
	KindTransportWriteFailed: "write failed",
	KindDisconnect:           "disconnect error",
	KindCanceled:             "canceled",
	KindLinkLost:             "link lost",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrAdapter              = &Error{Kind: KindAdapter}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrAlreadyInProgress    = &Error{Kind: KindAlreadyInProgress}
	ErrLinkFailed           = &Error{Kind: KindLinkFailed}
	ErrServiceNotFound      = &Error{Kind: KindServiceNotFound}
	ErrSubscriptionFailed   = &Error{Kind: KindSubscriptionFailed}
	ErrNotConnected         = &Error{Kind: KindNotConnected}
	ErrInvalidPayload       = &Error{Kind: KindInvalidPayload}
	ErrTransportWriteFailed = &Error{Kind: KindTransportWriteFailed}
	ErrDisconnect           = &Error{Kind: KindDisconnect}
	ErrCanceled             = &Error{Kind: KindCanceled}
	ErrLinkLost             = &Error{Kind: KindLinkLost}
)

// Error is returned by every session operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

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
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
