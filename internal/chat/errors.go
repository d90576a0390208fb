package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when a send is attempted before the shared
	// key is derived or the required channel is open.
	ErrNotReady = errors.New("secure channel not ready")

	// ErrChannelClosed is returned once the session or its direct channel
	// has closed; recovery requires a fresh Connect.
	ErrChannelClosed = errors.New("channel closed")

	// ErrProtocolViolation marks a malformed or wrong-state negotiation
	// message.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrNotFound is returned when a relayed blob no longer exists.
	ErrNotFound = errors.New("file not found")
)

// SessionError wraps a failure with the operation that produced it.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}
