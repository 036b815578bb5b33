// Package vault persists a resumable cloud session between runs.
//
// The access token, the refresh token and the broker password are sealed
// with XChaCha20-Poly1305 under a key derived from the configured
// passphrase with Argon2id. Each save uses a fresh salt and fresh nonces.
// The profile name and column are bound in as associated data, so sealed
// values cannot be swapped between rows or fields.
//
// Usage:
//
//	repo, err := vault.NewSQLiteRepository(db.DB, cfg.Vault.Passphrase)
//	saved, err := repo.Load(ctx, cfg.Vault.Profile)
//	if errors.Is(err, vault.ErrNotFound) {
//	    // first run: log in with a password
//	}
package vault
