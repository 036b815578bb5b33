package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/cloudlink-core/internal/credentials"
)

// Repository stores one resumable session per profile.
type Repository interface {
	Save(ctx context.Context, profile string, r credentials.Resumable) error
	Load(ctx context.Context, profile string) (credentials.Resumable, error)
	Delete(ctx context.Context, profile string) error
}

// SQLiteRepository implements Repository on the session table.
type SQLiteRepository struct {
	db         *sql.DB
	passphrase []byte
	kdf        kdfParams
	now        func() time.Time
}

// NewSQLiteRepository creates a repository sealing with passphrase. The
// session table must already exist (see package migrations).
func NewSQLiteRepository(db *sql.DB, passphrase string) (*SQLiteRepository, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	return &SQLiteRepository{
		db:         db,
		passphrase: []byte(passphrase),
		kdf:        defaultKDF,
		now:        time.Now,
	}, nil
}

// Save seals r and replaces whatever was stored for profile.
func (s *SQLiteRepository) Save(ctx context.Context, profile string, r credentials.Resumable) error {
	salt, err := newSalt()
	if err != nil {
		return err
	}
	key := deriveKey(s.passphrase, salt, s.kdf)

	access, err := seal(key, r.Session.AccessToken, ad(profile, "access_token"))
	if err != nil {
		return fmt.Errorf("sealing access token: %w", err)
	}
	refresh, err := seal(key, r.Session.RefreshToken, ad(profile, "refresh_token"))
	if err != nil {
		return fmt.Errorf("sealing refresh token: %w", err)
	}
	brokerPw, err := seal(key, r.Broker.Password, ad(profile, "broker_password"))
	if err != nil {
		return fmt.Errorf("sealing broker password: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session (profile, client_id, access_token, refresh_token,
		                      broker_username, broker_password, expires_at, salt, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(profile) DO UPDATE SET
		     client_id = excluded.client_id,
		     access_token = excluded.access_token,
		     refresh_token = excluded.refresh_token,
		     broker_username = excluded.broker_username,
		     broker_password = excluded.broker_password,
		     expires_at = excluded.expires_at,
		     salt = excluded.salt,
		     updated_at = excluded.updated_at`,
		profile, r.Session.ClientID, access, refresh,
		r.Broker.Username, brokerPw,
		r.Session.ExpiresAt.UTC().Format(time.RFC3339Nano), salt,
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Load opens the session stored for profile.
//
// Returns:
//   - credentials.Resumable: the stored session
//   - error: ErrNotFound if nothing is stored, ErrSealed if it cannot be opened
func (s *SQLiteRepository) Load(ctx context.Context, profile string) (credentials.Resumable, error) {
	var (
		r                         credentials.Resumable
		access, refresh, brokerPw []byte
		expiresAt                 string
		salt                      []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT client_id, access_token, refresh_token, broker_username, broker_password, expires_at, salt
		 FROM session WHERE profile = ?`, profile,
	).Scan(&r.Session.ClientID, &access, &refresh, &r.Broker.Username, &brokerPw, &expiresAt, &salt)
	if errors.Is(err, sql.ErrNoRows) {
		return credentials.Resumable{}, ErrNotFound
	}
	if err != nil {
		return credentials.Resumable{}, fmt.Errorf("loading session: %w", err)
	}

	key := deriveKey(s.passphrase, salt, s.kdf)
	if r.Session.AccessToken, err = open(key, access, ad(profile, "access_token")); err != nil {
		return credentials.Resumable{}, err
	}
	if r.Session.RefreshToken, err = open(key, refresh, ad(profile, "refresh_token")); err != nil {
		return credentials.Resumable{}, err
	}
	if r.Broker.Password, err = open(key, brokerPw, ad(profile, "broker_password")); err != nil {
		return credentials.Resumable{}, err
	}

	if r.Session.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return credentials.Resumable{}, fmt.Errorf("parsing expires_at: %w", err)
	}
	return r, nil
}

// Delete removes the session stored for profile. Deleting a profile with
// nothing stored is not an error.
func (s *SQLiteRepository) Delete(ctx context.Context, profile string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session WHERE profile = ?", profile); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func ad(profile, column string) string {
	return profile + "/" + column
}
