package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Migration is one versioned schema change.
type Migration struct {
	// Version is the numeric prefix of the file name.
	Version int

	// Name is the description part of the file name.
	Name string

	Up   string
	Down string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// Migrate applies every migration in fsys that has not been applied yet,
// oldest first. Each migration runs in its own transaction: if one fails,
// the earlier ones stay committed and the later ones are not attempted.
// Running Migrate again after a fix continues where it stopped.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - fsys: filesystem holding NNNN_name.up.sql / NNNN_name.down.sql files
//
// Returns:
//   - error: if a file is malformed or a migration fails
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	pending, err := db.pendingMigrations(ctx, fsys)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("applying migration %04d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the most recently applied migration. It does nothing
// when no migration has been applied.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := db.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	all, err := LoadMigrations(fsys)
	if err != nil {
		return err
	}
	var target *Migration
	for i := range all {
		if all[i].Version == latest.Version {
			target = &all[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration %04d not found", latest.Version)
	}
	if target.Down == "" {
		return fmt.Errorf("migration %04d_%s has no down file", target.Version, target.Name)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, target.Down); err != nil {
		return fmt.Errorf("reverting %04d_%s: %w", target.Version, target.Name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", target.Version); err != nil {
		return fmt.Errorf("removing migration record: %w", err)
	}
	return tx.Commit()
}

// AppliedMigrations lists applied migrations in version order.
func (db *DB) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT version, name, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			m  AppliedMigration
			at string
		)
		if err := rows.Scan(&m.Version, &m.Name, &at); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		m.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by apply
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return out, nil
}

func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

func (db *DB) pendingMigrations(ctx context.Context, fsys fs.FS) ([]Migration, error) {
	all, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	applied, err := db.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[int]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}

	var pending []Migration
	for _, m := range all {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// LoadMigrations reads every migration at the root of fsys, sorted by
// version. Files that are not *.up.sql or *.down.sql are ignored; a down
// file without an up file, or two files with the same version and
// direction, is an error.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, up, ok := parseMigrationName(e.Name())
		if !ok {
			continue
		}

		body, err := fs.ReadFile(fsys, path.Join(".", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}

		dst := &m.Down
		if up {
			dst = &m.Up
		}
		if *dst != "" {
			return nil, fmt.Errorf("duplicate migration file %s", e.Name())
		}
		*dst = string(body)
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %04d_%s has no up file", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseMigrationName splits "0001_create_session.up.sql" into
// (1, "create_session", true).
func parseMigrationName(file string) (version int, name string, up, ok bool) {
	base, found := strings.CutSuffix(file, ".sql")
	if !found {
		return 0, "", false, false
	}
	switch {
	case strings.HasSuffix(base, ".up"):
		base, up = strings.TrimSuffix(base, ".up"), true
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return 0, "", false, false
	}

	num, name, found := strings.Cut(base, "_")
	if !found || name == "" {
		return 0, "", false, false
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", false, false
	}
	return version, name, up, true
}
