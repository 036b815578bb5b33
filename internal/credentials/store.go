package credentials

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenResponse is the JSON body returned by POST /login for both the
// password and the refresh grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ClientID     string `json:"rmq:clientId"`
	ClientKey    string `json:"rmq:clientKey"`
}

// Snapshot is a copy of the stored session, suitable for persisting and
// later passing to Restore. It never contains the broker key.
type Snapshot struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	ClientID     string    `json:"client_id"`
}

// Store holds the current access/refresh token pair and their expiry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	clientID     string
}

// NewStore returns an empty store. IsExpired reports true until Set is called.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the stored session with resp, computing the expiry as
// now + expires_in.
//
// A response with no expires_in falls back to the access token's "exp"
// claim; with neither, the session is stored already expired so the next
// request refreshes it. A response without a client id (refresh grants
// usually omit it) keeps the previous one.
func (s *Store) Set(resp TokenResponse, now time.Time) {
	expiresAt := now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	if resp.ExpiresIn <= 0 {
		expiresAt = tokenExpiry(resp.AccessToken, now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = resp.AccessToken
	s.refreshToken = resp.RefreshToken
	s.expiresAt = expiresAt
	if resp.ClientID != "" {
		s.clientID = resp.ClientID
	}
}

// tokenExpiry reads the exp claim of an access token without verifying its
// signature; the token is opaque to us and only the server validates it.
func tokenExpiry(accessToken string, now time.Time) time.Time {
	if accessToken == "" {
		return now
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return now
	}
	if claims.ExpiresAt == nil {
		return now
	}
	return claims.ExpiresAt.Time
}

// Clear forgets everything, including the client id.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = ""
	s.refreshToken = ""
	s.expiresAt = time.Time{}
	s.clientID = ""
}

// IsExpired reports whether now is at or past the expiry, or whether no
// session is stored at all.
func (s *Store) IsExpired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.accessToken == "" {
		return true
	}
	return !now.Before(s.expiresAt)
}

// Established reports whether a session has ever been stored and not cleared.
// An established session may still be expired.
func (s *Store) Established() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken != "" || s.refreshToken != ""
}

// AccessToken returns the current bearer token.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// ClientID returns the cloud-assigned client id used to namespace topics.
func (s *Store) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID
}

// ExpiresAt returns the absolute expiry of the access token.
func (s *Store) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Snapshot returns a copy of the stored session.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		AccessToken:  s.accessToken,
		RefreshToken: s.refreshToken,
		ExpiresAt:    s.expiresAt,
		ClientID:     s.clientID,
	}
}

// Restore replaces the stored session with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = snap.AccessToken
	s.refreshToken = snap.RefreshToken
	s.expiresAt = snap.ExpiresAt
	s.clientID = snap.ClientID
}
