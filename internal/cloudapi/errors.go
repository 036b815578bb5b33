package cloudapi

import (
	"errors"
	"fmt"
)

// Domain-specific errors for control-plane operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuthentication is returned when login or token refresh is rejected.
	ErrAuthentication = errors.New("cloudapi: authentication failed")

	// ErrNotAuthenticated is returned when a request is attempted before any
	// session has been established.
	ErrNotAuthenticated = errors.New("cloudapi: not authenticated")

	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("cloudapi: transport failure")

	// ErrNotOpen is returned when a request is made before Open.
	ErrNotOpen = errors.New("cloudapi: session not open")

	// ErrNoServer is returned by Open when no server is given or configured.
	ErrNoServer = errors.New("cloudapi: no server configured")
)

// TransportError is a socket-level failure that survived the retry policy.
type TransportError struct {
	Method string
	Path   string
	Err    error

	// Recoverable is true for the retried classes (closed connection,
	// connection reset) once their retry budget is spent.
	Recoverable bool

	// Attempts is how many times the request was sent.
	Attempts int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cloudapi: %s %s failed after %d attempt(s): %v", e.Method, e.Path, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) true for any TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ProtocolError is a non-200 response from the server.
type ProtocolError struct {
	StatusCode int

	// Message is the error_description or message field of the body, or the
	// raw body when neither is present. It is meant for the end user.
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cloudapi: server returned %d: %s", e.StatusCode, e.Message)
}
