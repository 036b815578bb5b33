package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/cloudlink-core/internal/credentials"
	"github.com/nerrad567/cloudlink-core/internal/infrastructure/config"
)

// OAuth client ids the platform expects for each grant.
const (
	loginClientID   = "maker"
	refreshClientID = "dashboard"
)

const defaultUserAgent = "cloudlink-core"

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Session performs authenticated REST calls against the control-plane and
// owns the credential store.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Concurrent requests that find the token expired share one refresh.
type Session struct {
	cfg    config.CloudConfig
	store  *credentials.Store
	now    func() time.Time
	logger Logger

	userAgent string
	base      http.RoundTripper // injected transport; nil builds a fresh one on Open

	// mu guards the transport object, which Open replaces.
	mu      sync.RWMutex
	client  *http.Client
	baseURL string

	// refreshMu serialises token refresh.
	refreshMu sync.Mutex
}

// Option configures a Session built by New.
type Option func(*Session)

// WithTransport replaces the default http.Transport. Tests use it to
// inject failures.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Session) { s.base = rt }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the logger. Tokens and passwords are never logged.
func WithLogger(l Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Session) { s.userAgent = ua }
}

// New creates a Session with an empty credential store. Call Open before use.
func New(cfg config.CloudConfig, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		store:     credentials.NewStore(),
		now:       time.Now,
		logger:    slog.New(slog.DiscardHandler),
		userAgent: defaultUserAgent,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open (re)creates the transport object for server. An empty server falls
// back to the configured one. A server without a scheme gets the configured
// scheme (https by default). Stored credentials are untouched, so Open is
// also how a suspended session gets fresh sockets.
func (s *Session) Open(server string) error {
	if server == "" {
		server = s.cfg.Server
	}
	if server == "" {
		return ErrNoServer
	}

	baseURL, err := normaliseServer(server, s.cfg.Scheme)
	if err != nil {
		return err
	}

	rt := s.base
	if rt == nil {
		rt = newTransport()
	}
	client := &http.Client{
		Timeout:   s.cfg.GetRequestTimeout(),
		Transport: &userAgentTransport{base: rt, ua: s.userAgent},
	}

	s.mu.Lock()
	old := s.client
	s.client = client
	s.baseURL = baseURL
	s.mu.Unlock()

	if old != nil {
		old.CloseIdleConnections()
	}

	s.logger.Debug("http session opened", "server", baseURL)
	return nil
}

func normaliseServer(server, scheme string) (string, error) {
	if !strings.Contains(server, "://") {
		if scheme == "" {
			scheme = "https"
		}
		server = scheme + "://" + server
	}
	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("cloudapi: invalid server %q", server)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Close drops pooled connections. The session can be reopened with Open.
func (s *Session) Close() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		client.CloseIdleConnections()
	}
}

// reopen discards pooled connections so the next attempt dials afresh.
func (s *Session) reopen() {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client != nil {
		client.CloseIdleConnections()
	}
}

// Login exchanges username and password for a token pair and stores it.
//
// The returned response carries the broker client id and key, which are
// not kept in the store.
//
// Returns:
//   - credentials.TokenResponse: the decoded login response
//   - error: ErrAuthentication if the server rejected the login,
//     *TransportError if it could not be reached
func (s *Session) Login(ctx context.Context, username, password string) (credentials.TokenResponse, error) {
	body := formBody(
		"grant_type", "password",
		"username", username,
		"password", password,
		"client_id", loginClientID,
	)

	resp, err := s.tokenRequest(ctx, body)
	if err != nil {
		return credentials.TokenResponse{}, err
	}

	s.store.Set(resp, s.now())
	s.logger.Info("logged in", "client_id", resp.ClientID)
	return resp, nil
}

// RefreshToken exchanges the stored refresh token for a new token pair.
//
// A rejected refresh clears the store and returns ErrAuthentication. A
// transport failure leaves the store untouched so a later call can retry.
func (s *Session) RefreshToken(ctx context.Context) error {
	refresh := s.store.RefreshToken()
	if refresh == "" {
		s.store.Clear()
		return fmt.Errorf("%w: no refresh token", ErrAuthentication)
	}

	body := formBody(
		"grant_type", "refresh_token",
		"refresh_token", refresh,
		"client_id", refreshClientID,
	)

	resp, err := s.tokenRequest(ctx, body)
	if err != nil {
		if !isTransport(err) {
			s.store.Clear()
			s.logger.Warn("token refresh rejected, session cleared", "error", err)
		}
		return err
	}

	s.store.Set(resp, s.now())
	s.logger.Debug("token refreshed", "expires_at", s.store.ExpiresAt())
	return nil
}

// tokenRequest posts a grant to /login and decodes the token response.
func (s *Session) tokenRequest(ctx context.Context, body []byte) (credentials.TokenResponse, error) {
	raw, err := s.do(ctx, http.MethodPost, "/login", body, "")
	if err != nil {
		if isTransport(err) {
			return credentials.TokenResponse{}, err
		}
		return credentials.TokenResponse{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	var resp credentials.TokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return credentials.TokenResponse{}, fmt.Errorf("%w: decoding token response: %w", ErrAuthentication, err)
	}
	if resp.AccessToken == "" {
		return credentials.TokenResponse{}, fmt.Errorf("%w: token response has no access_token", ErrAuthentication)
	}
	return resp, nil
}

// Request performs an authenticated call and returns the raw 200 body.
// A nil body sends no payload; anything else is JSON encoded.
func (s *Session) Request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	if !s.store.Established() {
		return nil, ErrNotAuthenticated
	}

	if err := s.ensureFresh(ctx); err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cloudapi: encoding %s %s body: %w", method, path, err)
		}
	}

	return s.do(ctx, method, path, payload, s.store.AccessToken())
}

// ensureFresh refreshes the token if it has expired. Callers that queue
// behind an in-flight refresh re-check and reuse its result.
func (s *Session) ensureFresh(ctx context.Context) error {
	if !s.store.IsExpired(s.now()) {
		return nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if !s.store.IsExpired(s.now()) {
		return nil
	}
	if !s.store.Established() {
		return ErrNotAuthenticated
	}
	return s.RefreshToken(ctx)
}

// do sends one logical request, applying the retry policy for recoverable
// transport failures. An empty token sends no Authorization header.
func (s *Session) do(ctx context.Context, method, path string, payload []byte, token string) (json.RawMessage, error) {
	badStatus, resets := 0, 0

	for attempt := 1; ; attempt++ {
		resp, err := s.send(ctx, method, path, payload, token)
		if err == nil {
			raw, readErr := readResponse(resp)
			if readErr != nil && errors.Is(readErr, ErrTransport) {
				s.reopen()
				var terr *TransportError
				if errors.As(readErr, &terr) {
					terr.Method, terr.Path, terr.Attempts = method, path, attempt
				}
				s.logger.Warn("reading response failed",
					"method", method, "path", path, "attempts", attempt, "error", readErr)
			}
			return raw, readErr
		}
		if errors.Is(err, ErrNotOpen) {
			return nil, err
		}

		// Whatever went wrong, the pooled connection is suspect.
		s.reopen()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &TransportError{Method: method, Path: path, Err: ctxErr, Attempts: attempt}
		}

		class := classify(err)
		switch class {
		case classBadStatus:
			badStatus++
			if badStatus < maxBadStatusAttempts {
				s.logger.Debug("retrying after closed connection",
					"method", method, "path", path, "attempt", attempt, "error", err)
				continue
			}
		case classReset:
			resets++
			if resets <= maxResetRetries {
				s.logger.Debug("retrying after connection reset",
					"method", method, "path", path, "attempt", attempt, "error", err)
				continue
			}
		}

		s.logger.Warn("request failed",
			"method", method, "path", path, "class", class.String(), "attempts", attempt, "error", err)
		return nil, &TransportError{
			Method:      method,
			Path:        path,
			Err:         err,
			Recoverable: class != classFatal,
			Attempts:    attempt,
		}
	}
}

func (s *Session) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	s.mu.RLock()
	client, baseURL := s.client, s.baseURL
	s.mu.RUnlock()

	if client == nil {
		return nil, ErrNotOpen
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("cloudapi: building request: %w", err)
	}
	req.Header.Set("Content-type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return client.Do(req)
}

// readResponse consumes resp. Only 200 is success; anything else becomes a
// ProtocolError. A body cut off mid-read is a TransportError, since the
// request may or may not have taken effect.
func readResponse(resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{
			Err:         fmt.Errorf("reading response body: %w", err),
			Recoverable: classify(err) != classFatal,
			Attempts:    1,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProtocolError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}
	return json.RawMessage(body), nil
}

// errorMessage picks error_description, then message, then the raw body.
func errorMessage(body []byte) string {
	var e struct {
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.ErrorDescription != "" {
			return e.ErrorDescription
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// formBody encodes key/value pairs as application/x-www-form-urlencoded,
// keeping the given order.
func formBody(kv ...string) []byte {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv[i]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv[i+1]))
	}
	return []byte(b.String())
}

func isTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// =============================================================================
// Credential access
// =============================================================================

// Established reports whether a session exists (it may be expired).
func (s *Session) Established() bool {
	return s.store.Established()
}

// ClientID returns the cloud-assigned client id.
func (s *Session) ClientID() string {
	return s.store.ClientID()
}

// Snapshot returns a copy of the stored session for persisting.
func (s *Session) Snapshot() credentials.Snapshot {
	return s.store.Snapshot()
}

// Restore loads a previously persisted session.
func (s *Session) Restore(snap credentials.Snapshot) {
	s.store.Restore(snap)
}

// ClearCredentials forgets the stored session.
func (s *Session) ClearCredentials() {
	s.store.Clear()
}
