package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationUnavailable is returned by Connect when no credential could be obtained.
	ErrAuthenticationUnavailable = errors.New("authentication unavailable")

	// ErrNotConnected is returned by SendMessage when the session is not open.
	ErrNotConnected = errors.New("chat session not connected")

	// ErrAlreadyConnected is returned by Connect when the session is connecting or open.
	ErrAlreadyConnected = errors.New("chat session already connecting or open")

	// ErrSessionClosed is returned by Connect on a session that has already been torn down.
	ErrSessionClosed = errors.New("chat session closed")

	// ErrConnectCanceled is returned by Connect when Disconnect ran before the transport attached.
	ErrConnectCanceled = errors.New("chat connect canceled")
)

// TransportOpenError reports a failed handshake or connection attempt.
type TransportOpenError struct {
	Attempt int
	Err     error
}

// Error implements the error interface
func (e *TransportOpenError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("transport open failed (attempt %d): %v", e.Attempt, e.Err)
	}
	return fmt.Sprintf("transport open failed: %v", e.Err)
}

// Unwrap returns the underlying failure.
func (e *TransportOpenError) Unwrap() error {
	return e.Err
}
