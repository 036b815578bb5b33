package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/cloudlink-core/internal/cloudapi"
	"github.com/nerrad567/cloudlink-core/internal/infrastructure/config"
	"github.com/nerrad567/cloudlink-core/internal/link"
	"github.com/nerrad567/cloudlink-core/internal/topic"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Facade is the connection the gateway fronts. *link.Link satisfies it.
type Facade interface {
	Connect(ctx context.Context, username, password, httpServer, mqttServer string) error
	Reconnect(ctx context.Context, httpServer, mqttServer string) error
	Disconnect(ctx context.Context, resumable bool)
	Status() link.Status

	Subscribe(ctx context.Context, d topic.Descriptor) (topic.Topic, error)
	Unsubscribe(ctx context.Context, target topic.Target, level topic.Level) error

	GetAsset(ctx context.Context, id string) (*cloudapi.Asset, error)
	GetAssetState(ctx context.Context, id string) (json.RawMessage, error)
	GetDevice(ctx context.Context, id string) (*cloudapi.Device, error)
	GetAssets(ctx context.Context, deviceID string) ([]cloudapi.Asset, error)
	GetDevices(ctx context.Context, groundID string) ([]cloudapi.Device, error)
	GetGrounds(ctx context.Context, includeShared bool) ([]cloudapi.Ground, error)

	Send(ctx context.Context, assetID string, value any) error
	SendBounded(ctx context.Context, assetID string, value float64, b link.Bounds) error
}

var _ Facade = (*link.Link)(nil)

// History records live asset values. *influxdb.Client satisfies it.
type History interface {
	WriteAssetValue(assetID string, value any) bool
}

// SessionStore holds the persisted session. vault.Repository satisfies it.
type SessionStore interface {
	Delete(ctx context.Context, profile string) error
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  Logger
	Link    Facade
	History History // optional: live values are not recorded when nil
	Version string

	// Sessions and Profile name the stored session a logout removes.
	// Optional: without a store nothing is persisted to remove.
	Sessions SessionStore
	Profile  string
}

// Server is the local HTTP gateway.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  Logger
	link    Facade
	history History
	version string
	server  *http.Server

	sessions SessionStore
	profile  string

	hub     *Hub
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, link)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Link == nil {
		return nil, fmt.Errorf("link is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		link:    deps.Link,
		history: deps.History,
		version: deps.Version,

		sessions: deps.Sessions,
		profile:  deps.Profile,
	}
	s.hub = NewHub(deps.WS, deps.Logger, assetFeed{s: s})
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
