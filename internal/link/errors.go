package link

import "errors"

// Domain-specific errors for façade operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when an operation needs a session and
	// none is active.
	ErrNotConnected = errors.New("link: not connected")

	// ErrNoBrokerEntitlement is returned by Connect when the login response
	// carries no broker client id. The account cannot use live data.
	ErrNoBrokerEntitlement = errors.New("link: account has no broker entitlement")

	// ErrNothingToResume is returned by Resume for an incomplete session.
	ErrNothingToResume = errors.New("link: no resumable session")
)
