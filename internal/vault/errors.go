package vault

import "errors"

var (
	// ErrNotFound is returned by Load when no session is stored for the profile.
	ErrNotFound = errors.New("vault: no stored session")

	// ErrSealed is returned by Load when a stored value cannot be opened,
	// usually because the passphrase changed.
	ErrSealed = errors.New("vault: cannot open stored session")

	// ErrNoPassphrase is returned when a repository is built without a passphrase.
	ErrNoPassphrase = errors.New("vault: passphrase is required")
)
