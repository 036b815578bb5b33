package broker

import "errors"

// Domain-specific errors for broker operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMissingCredentials is returned by Connect when the broker username
	// or password has not been derived yet.
	ErrMissingCredentials = errors.New("broker: missing broker credentials")

	// ErrNotConnected is returned when attempting operations on a disconnected session.
	ErrNotConnected = errors.New("broker: not connected")

	// ErrConnectionFailed is returned when the connection attempt or the
	// handshake fails. It is not retried.
	ErrConnectionFailed = errors.New("broker: connection failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("broker: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("broker: unsubscribe failed")

	// ErrNoHost is returned when no broker host is given or configured.
	ErrNoHost = errors.New("broker: no host configured")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("broker: operation timed out")
)
