package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/nerrad567/cloudlink-core/internal/cloudapi"
	"github.com/nerrad567/cloudlink-core/internal/infrastructure/config"
	"github.com/nerrad567/cloudlink-core/internal/link"
	"github.com/nerrad567/cloudlink-core/internal/topic"
)

// sentCommand records one Send or SendBounded call.
type sentCommand struct {
	assetID string
	value   any
	bounds  *link.Bounds
}

// fakeFacade is an in-memory Facade.
type fakeFacade struct {
	mu sync.Mutex

	status link.Status
	err    error // returned by every call that can fail

	connectArgs   []string
	reconnectArgs []string
	disconnects   []bool
	sharedArg     *bool
	idArgs        []string

	asset    *cloudapi.Asset
	state    json.RawMessage
	commands []sentCommand

	subscribers  map[string]topic.Subscriber
	subscribeErr error
	unsubscribed []string
}

func newFakeFacade() *fakeFacade {
	return &fakeFacade{
		status:      link.Status{State: link.StateBrokerConnected, ClientID: "C"},
		subscribers: make(map[string]topic.Subscriber),
	}
}

func (f *fakeFacade) Connect(_ context.Context, username, password, httpServer, mqttServer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectArgs = []string{username, password, httpServer, mqttServer}
	return f.err
}

func (f *fakeFacade) Reconnect(_ context.Context, httpServer, mqttServer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnectArgs = []string{httpServer, mqttServer}
	return f.err
}

func (f *fakeFacade) Disconnect(_ context.Context, resumable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, resumable)
	f.status.State = link.StateDisconnected
	if !resumable {
		f.subscribers = make(map[string]topic.Subscriber)
	}
}

func (f *fakeFacade) Status() link.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeFacade) Subscribe(_ context.Context, d topic.Descriptor) (topic.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return "", f.subscribeErr
	}
	f.subscribers[d.Target.Asset] = d.Subscriber
	return topic.Topic("client/C/in/asset/" + d.Target.Asset + "/state"), nil
}

func (f *fakeFacade) Unsubscribe(_ context.Context, target topic.Target, _ topic.Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribers, target.Asset)
	f.unsubscribed = append(f.unsubscribed, target.Asset)
	return nil
}

// push delivers a live value to the subscriber of assetID.
func (f *fakeFacade) push(assetID string, value any) bool {
	f.mu.Lock()
	sub, ok := f.subscribers[assetID]
	f.mu.Unlock()
	if ok {
		sub.OnMessage(value)
	}
	return ok
}

func (f *fakeFacade) subscribed(assetID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subscribers[assetID]
	return ok
}

func (f *fakeFacade) recordID(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idArgs = append(f.idArgs, id)
	return f.err
}

func (f *fakeFacade) GetAsset(_ context.Context, id string) (*cloudapi.Asset, error) {
	if err := f.recordID(id); err != nil {
		return nil, err
	}
	if f.asset != nil {
		return f.asset, nil
	}
	return &cloudapi.Asset{ID: id, Name: "temperature"}, nil
}

func (f *fakeFacade) GetAssetState(_ context.Context, id string) (json.RawMessage, error) {
	if err := f.recordID(id); err != nil {
		return nil, err
	}
	return f.state, nil
}

func (f *fakeFacade) GetDevice(_ context.Context, id string) (*cloudapi.Device, error) {
	if err := f.recordID(id); err != nil {
		return nil, err
	}
	return &cloudapi.Device{ID: id, Name: "thermostat"}, nil
}

func (f *fakeFacade) GetAssets(_ context.Context, deviceID string) ([]cloudapi.Asset, error) {
	if err := f.recordID(deviceID); err != nil {
		return nil, err
	}
	return []cloudapi.Asset{{ID: "a1"}, {ID: "a2"}}, nil
}

func (f *fakeFacade) GetDevices(_ context.Context, groundID string) ([]cloudapi.Device, error) {
	if err := f.recordID(groundID); err != nil {
		return nil, err
	}
	return []cloudapi.Device{{ID: "d1"}}, nil
}

func (f *fakeFacade) GetGrounds(_ context.Context, includeShared bool) ([]cloudapi.Ground, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sharedArg = &includeShared
	if f.err != nil {
		return nil, f.err
	}
	return []cloudapi.Ground{{ID: "g1"}, {ID: "g2"}}, nil
}

func (f *fakeFacade) Send(_ context.Context, assetID string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, sentCommand{assetID: assetID, value: value})
	return f.err
}

func (f *fakeFacade) SendBounded(_ context.Context, assetID string, value float64, b link.Bounds) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, sentCommand{assetID: assetID, value: value, bounds: &b})
	return f.err
}

func (f *fakeFacade) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// fakeHistory records every value offered to it.
type fakeHistory struct {
	mu     sync.Mutex
	values map[string][]any
}

func (h *fakeHistory) WriteAssetValue(assetID string, value any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.values == nil {
		h.values = make(map[string][]any)
	}
	h.values[assetID] = append(h.values[assetID], value)
	return true
}

func (h *fakeHistory) count(assetID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.values[assetID])
}

// testServer creates a Server around a fake facade and history.
func testServer(t *testing.T) (*Server, *fakeFacade, *fakeHistory) {
	t.Helper()

	facade := newFakeFacade()
	history := &fakeHistory{}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  slog.New(slog.DiscardHandler),
		Link:    facade,
		History: history,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, facade, history
}

// do sends one request through the router.
func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v (body %q)", err, w.Body.String())
	}
	return resp
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Link: newFakeFacade()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: slog.New(slog.DiscardHandler)}); err == nil {
		t.Error("New() without link should fail")
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	srv, _, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start() should fail")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start() error = %v", err)
	}
}

// =============================================================================
// Health and middleware
// =============================================================================

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health body = %v", resp)
	}
	if resp["link"] != string(link.StateBrokerConnected) {
		t.Errorf("link = %v, want %s", resp["link"], link.StateBrokerConnected)
	}
}

func TestRequestID(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "")
	if _, err := uuid.Parse(w.Header().Get("X-Request-ID")); err != nil {
		t.Errorf("generated X-Request-ID %q is not a UUID", w.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"any origin by default", nil, "http://panel.local", "*"},
		{"listed origin", []string{"http://panel.local"}, "http://panel.local", "http://panel.local"},
		{"unlisted origin", []string{"http://panel.local"}, "http://evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := testServer(t)
			srv.cfg.CORS.AllowedOrigins = tt.origins

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/session", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Session endpoints
// =============================================================================

func TestSessionStatus(t *testing.T) {
	srv, _, _ := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/session", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if resp["state"] != string(link.StateBrokerConnected) || resp["client_id"] != "C" {
		t.Errorf("session body = %v", resp)
	}
}

func TestConnect(t *testing.T) {
	srv, facade, _ := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/session",
		`{"username":"u","password":"p","http_server":"api.example.io","mqtt_server":"broker.example.io"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	want := []string{"u", "p", "api.example.io", "broker.example.io"}
	if fmt.Sprint(facade.connectArgs) != fmt.Sprint(want) {
		t.Errorf("Connect() args = %v, want %v", facade.connectArgs, want)
	}
}

func TestConnect_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{"username":`},
		{"missing password", `{"username":"u"}`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, facade, _ := testServer(t)
			w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/session", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if facade.connectArgs != nil {
				t.Error("Connect() called for a bad request")
			}
		})
	}
}

func TestConnect_Rejected(t *testing.T) {
	srv, facade, _ := testServer(t)
	facade.setErr(fmt.Errorf("login: %w", cloudapi.ErrAuthentication))

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/session", `{"username":"u","password":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if resp := decodeBody(t, w); resp["code"] != ErrCodeUnauthorized {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeUnauthorized)
	}
}

func TestReconnect(t *testing.T) {
	srv, facade, _ := testServer(t)
	router := srv.buildRouter()

	if w := do(t, router, http.MethodPost, "/api/v1/session/reconnect", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if fmt.Sprint(facade.reconnectArgs) != fmt.Sprint([]string{"", ""}) {
		t.Errorf("Reconnect() args = %v, want empty servers", facade.reconnectArgs)
	}

	do(t, router, http.MethodPost, "/api/v1/session/reconnect", `{"mqtt_server":"b2.example.io"}`)
	if facade.reconnectArgs[1] != "b2.example.io" {
		t.Errorf("Reconnect() mqtt server = %q, want b2.example.io", facade.reconnectArgs[1])
	}

	facade.setErr(link.ErrNotConnected)
	if w := do(t, router, http.MethodPost, "/api/v1/session/reconnect", ""); w.Code != http.StatusConflict {
		t.Errorf("status without session = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestDisconnect(t *testing.T) {
	srv, facade, _ := testServer(t)
	router := srv.buildRouter()

	do(t, router, http.MethodPost, "/api/v1/session/disconnect", `{"resumable":true}`)
	do(t, router, http.MethodPost, "/api/v1/session/disconnect", "")

	want := []bool{true, false}
	if fmt.Sprint(facade.disconnects) != fmt.Sprint(want) {
		t.Errorf("Disconnect() calls = %v, want %v", facade.disconnects, want)
	}
}

// fakeSessions records which stored sessions were removed.
type fakeSessions struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeSessions) Delete(_ context.Context, profile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, profile)
	return nil
}

func TestDisconnect_StoredSession(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		storeErr    error
		wantStatus  int
		wantDeleted []string
	}{
		{"resumable keeps it", `{"resumable":true}`, nil, http.StatusOK, nil},
		{"logout removes it", `{"resumable":false}`, nil, http.StatusOK, []string{"home"}},
		{"empty body is a logout", "", nil, http.StatusOK, []string{"home"}},
		{"store failure", `{"resumable":false}`, errors.New("disk full"), http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, facade, _ := testServer(t)
			store := &fakeSessions{err: tt.storeErr}
			srv.sessions = store
			srv.profile = "home"

			w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/session/disconnect", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if fmt.Sprint(store.deleted) != fmt.Sprint(tt.wantDeleted) {
				t.Errorf("Delete() calls = %v, want %v", store.deleted, tt.wantDeleted)
			}
			if len(facade.disconnects) != 1 {
				t.Errorf("Disconnect() calls = %d, want 1", len(facade.disconnects))
			}
		})
	}
}

// =============================================================================
// Resource endpoints
// =============================================================================

func TestResources(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		wantID string
		key    string
	}{
		{"devices of ground", "/api/v1/grounds/g1/devices", "g1", "devices"},
		{"device", "/api/v1/devices/d1", "d1", "id"},
		{"assets of device", "/api/v1/devices/d1/assets", "d1", "assets"},
		{"asset", "/api/v1/assets/a1", "a1", "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, facade, _ := testServer(t)
			w := do(t, srv.buildRouter(), http.MethodGet, tt.path, "")

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if len(facade.idArgs) != 1 || facade.idArgs[0] != tt.wantID {
				t.Errorf("id args = %v, want [%s]", facade.idArgs, tt.wantID)
			}
			if _, ok := decodeBody(t, w)[tt.key]; !ok {
				t.Errorf("response has no %q field", tt.key)
			}
		})
	}
}

func TestListGrounds(t *testing.T) {
	tests := []struct {
		query      string
		wantStatus int
		wantShared bool
	}{
		{"", http.StatusOK, false},
		{"?shared=true", http.StatusOK, true},
		{"?shared=false", http.StatusOK, false},
		{"?shared=maybe", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			srv, facade, _ := testServer(t)
			w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/grounds"+tt.query, "")

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if facade.sharedArg == nil || *facade.sharedArg != tt.wantShared {
				t.Errorf("GetGrounds() shared = %v, want %v", facade.sharedArg, tt.wantShared)
			}
			if resp := decodeBody(t, w); resp["count"] != float64(2) {
				t.Errorf("count = %v, want 2", resp["count"])
			}
		})
	}
}

func TestGetAssetState(t *testing.T) {
	srv, facade, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/assets/a1/state", "")
	if strings.TrimSpace(w.Body.String()) != "null" {
		t.Errorf("empty state body = %q, want null", w.Body.String())
	}

	facade.state = json.RawMessage(`{"value":21.5,"at":"2026-01-02T03:04:05Z"}`)
	w = do(t, router, http.MethodGet, "/api/v1/assets/a1/state", "")
	if resp := decodeBody(t, w); resp["value"] != 21.5 {
		t.Errorf("state value = %v, want 21.5", resp["value"])
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"rejected token", fmt.Errorf("refresh: %w", cloudapi.ErrAuthentication), http.StatusUnauthorized, ErrCodeUnauthorized},
		{"no session", link.ErrNotConnected, http.StatusConflict, ErrCodeConflict},
		{"no entitlement", link.ErrNoBrokerEntitlement, http.StatusForbidden, ErrCodeForbidden},
		{"server error", &cloudapi.ProtocolError{StatusCode: 500, Message: "oops"}, http.StatusBadGateway, ErrCodeUpstream},
		{"cloud not found", &cloudapi.ProtocolError{StatusCode: 404, Message: "no such asset"}, http.StatusNotFound, ErrCodeNotFound},
		{"transport", &cloudapi.TransportError{Method: "GET", Path: "/x", Err: errors.New("reset"), Attempts: 3}, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"unsupported", topic.ErrUnsupportedAddressing, http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid segment", fmt.Errorf("asset: %w", topic.ErrInvalidSegment), http.StatusBadRequest, ErrCodeBadRequest},
		{"anything else", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, facade, _ := testServer(t)
			facade.setErr(tt.err)

			w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/assets/a1", "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if resp := decodeBody(t, w); resp["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", resp["code"], tt.wantCode)
			}
		})
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestSendCommand(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{"integer", `{"value":1}`, int64(1)},
		{"fraction", `{"value":2.5}`, 2.5},
		{"boolean", `{"value":true}`, true},
		{"text", `{"value":"open"}`, "open"},
		{"snap ignored for text", `{"value":"open","snap":true}`, "open"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, facade, _ := testServer(t)
			w := do(t, srv.buildRouter(), http.MethodPut, "/api/v1/assets/a1/command", tt.body)

			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusAccepted, w.Body.String())
			}
			if len(facade.commands) != 1 {
				t.Fatalf("commands = %v, want one", facade.commands)
			}
			got := facade.commands[0]
			if got.assetID != "a1" || got.value != tt.want || got.bounds != nil {
				t.Errorf("Send() = %+v, want a1 %v unbounded", got, tt.want)
			}
			resp := decodeBody(t, w)
			if _, err := uuid.Parse(fmt.Sprint(resp["command_id"])); err != nil {
				t.Errorf("command_id %v is not a UUID", resp["command_id"])
			}
		})
	}
}

func TestSendCommand_Snap(t *testing.T) {
	srv, facade, _ := testServer(t)
	minimum, maximum := 0.0, 100.0
	facade.asset = &cloudapi.Asset{
		ID:      "a1",
		Profile: cloudapi.Profile{Type: "integer", Minimum: &minimum, Maximum: &maximum},
	}

	w := do(t, srv.buildRouter(), http.MethodPut, "/api/v1/assets/a1/command", `{"value":97,"snap":true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if len(facade.commands) != 1 || facade.commands[0].bounds == nil {
		t.Fatalf("commands = %+v, want one bounded", facade.commands)
	}
	got := facade.commands[0]
	if got.value != 97.0 || !got.bounds.Integer || *got.bounds.Max != 100 || *got.bounds.Min != 0 {
		t.Errorf("SendBounded() = %v with %+v", got.value, *got.bounds)
	}
}

func TestSendCommand_Errors(t *testing.T) {
	srv, facade, _ := testServer(t)
	router := srv.buildRouter()

	if w := do(t, router, http.MethodPut, "/api/v1/assets/a1/command", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	facade.setErr(&cloudapi.TransportError{Method: "PUT", Path: "/asset/a1/command", Err: errors.New("reset"), Attempts: 4})
	if w := do(t, router, http.MethodPut, "/api/v1/assets/a1/command", `{"value":1}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("transport failure status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
