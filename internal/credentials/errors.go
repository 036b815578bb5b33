package credentials

import "errors"

// Domain-specific errors for credential handling.
var (
	// ErrNoClientID is returned when a login response carries no
	// "rmq:clientId", meaning the account has no broker entitlement.
	ErrNoClientID = errors.New("credentials: login response has no broker client id")
)
