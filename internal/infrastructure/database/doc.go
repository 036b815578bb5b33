// Package database provides the local SQLite store for Cloudlink Core.
//
// The store is small: it holds the sealed, resumable cloud session (see
// package vault) so a restart does not need a fresh password login.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Versioned schema migrations read from an fs.FS
//   - Health checks for the local gateway
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is created with mode 0600
//   - Tokens are sealed before they reach this package
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named NNNN_description.up.sql with an optional
// NNNN_description.down.sql, and are applied in version order, each in its
// own transaction.
package database
