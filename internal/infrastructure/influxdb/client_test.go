package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/cloudlink-core/internal/infrastructure/config"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu        sync.Mutex
	lines     []string
	writeCode int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		code := f.writeCode
		if code == 0 {
			code = http.StatusNoContent
			for _, l := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				f.lines = append(f.lines, l)
			}
		}
		f.mu.Unlock()
		if code != http.StatusNoContent {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"rejected"}`))
			return
		}
		w.WriteHeader(code)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "cloudlink",
		Bucket:        "history",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func connectFake(t *testing.T) (*Client, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // test cleanup
	return c, fake
}

// waitFor polls cond for up to two seconds.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	c, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want %v", err, ErrDisabled)
	}
	if c != nil {
		t.Error("Connect() returned a client while disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := Connect(testConfig(url)); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want %v", err, ErrConnectionFailed)
	}
}

func TestHealthCheck(t *testing.T) {
	c, _ := connectFake(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	c.Close() //nolint:errcheck // closing to test the disconnected path
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestClose_NilAndTwice(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
	if nilClient.IsConnected() {
		t.Error("IsConnected() on nil = true")
	}

	c, _ := connectFake(t)
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if c.WriteAssetValue("a1", 1.0) {
		t.Error("WriteAssetValue() after Close() queued a point")
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteAssetValue(t *testing.T) {
	c, fake := connectFake(t)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	tests := []struct {
		name   string
		value  any
		queued bool
	}{
		{"number", 21.5, true},
		{"bool", true, true},
		{"state document", map[string]any{"value": 7.0, "at": "2026-01-02T03:04:05Z"}, true},
		{"string", "open", false},
		{"nested object", map[string]any{"value": map[string]any{"lat": 1.0}}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := c.WriteAssetValue("a1", tt.value); got != tt.queued {
			t.Errorf("WriteAssetValue(%s) = %v, want %v", tt.name, got, tt.queued)
		}
	}

	c.Flush()
	if !waitFor(func() bool { return len(fake.written()) == 3 }) {
		t.Fatalf("written = %v, want 3 lines", fake.written())
	}

	want := []string{
		"asset_values,asset_id=a1 value=21.5 1700000000000000000",
		"asset_values,asset_id=a1 value=1 1700000000000000000",
		"asset_values,asset_id=a1 value=7 1767323045000000000",
	}
	got := fake.written()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWriteAssetValue_ErrorCallback(t *testing.T) {
	c, fake := connectFake(t)
	fake.mu.Lock()
	fake.writeCode = http.StatusBadRequest
	fake.mu.Unlock()

	var (
		mu     sync.Mutex
		gotErr error
	)
	c.SetOnError(func(err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	})

	c.WriteAssetValue("a1", 1.0)
	c.Flush()

	if !waitFor(func() bool { mu.Lock(); defer mu.Unlock(); return gotErr != nil }) {
		t.Error("write error not reported through SetOnError")
	}
}

func TestNumericValue(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name   string
		in     any
		want   float64
		wantAt time.Time
		wantOK bool
	}{
		{"float", 3.5, 3.5, time.Time{}, true},
		{"int", 4, 4, time.Time{}, true},
		{"false", false, 0, time.Time{}, true},
		{"document with time", map[string]any{"value": 2.0, "at": "2026-01-02T03:04:05Z"}, 2, at, true},
		{"document bad time", map[string]any{"value": 2.0, "at": "yesterday"}, 2, time.Time{}, true},
		{"document no value", map[string]any{"at": "2026-01-02T03:04:05Z"}, 0, time.Time{}, false},
		{"string", "12", 0, time.Time{}, false},
		{"slice", []any{1.0}, 0, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotAt, ok := NumericValue(tt.in)
			if got != tt.want || !gotAt.Equal(tt.wantAt) || ok != tt.wantOK {
				t.Errorf("NumericValue(%v) = (%v, %v, %v), want (%v, %v, %v)",
					tt.in, got, gotAt, ok, tt.want, tt.wantAt, tt.wantOK)
			}
		})
	}
}
