package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nerrad567/cloudlink-core/internal/broker"
	"github.com/nerrad567/cloudlink-core/internal/cloudapi"
	"github.com/nerrad567/cloudlink-core/internal/credentials"
	"github.com/nerrad567/cloudlink-core/internal/infrastructure/config"
	"github.com/nerrad567/cloudlink-core/internal/topic"
)

// State is the connection state of a Link.
type State string

const (
	// StateDisconnected: no usable HTTP session.
	StateDisconnected State = "disconnected"
	// StateHTTPAuthenticated: logged in over HTTP, broker not connected.
	StateHTTPAuthenticated State = "http_authenticated"
	// StateBrokerConnected: logged in and the broker handshake succeeded.
	StateBrokerConnected State = "broker_connected"
)

// Cloud is the control-plane session a Link drives. *cloudapi.Session
// satisfies it.
type Cloud interface {
	Open(server string) error
	Close()
	Login(ctx context.Context, username, password string) (credentials.TokenResponse, error)
	Established() bool
	ClientID() string
	Snapshot() credentials.Snapshot
	Restore(snap credentials.Snapshot)
	ClearCredentials()

	GetAsset(ctx context.Context, id string) (*cloudapi.Asset, error)
	GetAssetState(ctx context.Context, id string) (json.RawMessage, error)
	GetDevice(ctx context.Context, id string) (*cloudapi.Device, error)
	GetAssets(ctx context.Context, deviceID string) ([]cloudapi.Asset, error)
	GetDevices(ctx context.Context, groundID string) ([]cloudapi.Device, error)
	GetGrounds(ctx context.Context, includeShared bool) ([]cloudapi.Ground, error)
	SendCommand(ctx context.Context, assetID string, value any) error
}

// Broker is the data-plane session a Link drives. *broker.Session
// satisfies it.
type Broker interface {
	Connect(ctx context.Context, host string, creds credentials.BrokerCredentials) error
	Disconnect()
	Subscribe(ctx context.Context, t topic.Topic) error
	Unsubscribe(ctx context.Context, topics ...topic.Topic) error
	IsConnected() bool
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Status is a point-in-time view of a Link.
type Status struct {
	State         State  `json:"state"`
	ClientID      string `json:"client_id,omitempty"`
	Subscriptions int    `json:"subscriptions"`
}

// Link sequences the HTTP session, the broker session and the topic router
// into one logical connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Connect, Reconnect, Resume and Disconnect are serialised.
//   - OnStateChange callbacks run without any Link lock held.
type Link struct {
	cloud          Cloud
	broker         Broker
	router         *topic.Router
	commandRetries int
	logger         Logger

	// lifeMu serialises the lifecycle operations.
	lifeMu sync.Mutex

	mu          sync.RWMutex
	brokerCreds credentials.BrokerCredentials
	httpServer  string
	mqttServer  string
	loggedOut   bool // last session ended with Disconnect(ctx, false)

	stateMu  sync.Mutex
	state    State
	onChange []func(from, to State)
}

// Option configures a Link built by New.
type Option func(*Link)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(k *Link) { k.logger = l }
}

// WithCommandRetries sets how many times Send repeats a command after a
// transport failure.
func WithCommandRetries(n int) Option {
	return func(k *Link) {
		if n >= 0 {
			k.commandRetries = n
		}
	}
}

// New creates a disconnected Link over the given sessions. router must be
// the same router the broker session dispatches into.
func New(cloud Cloud, b Broker, router *topic.Router, opts ...Option) *Link {
	l := &Link{
		cloud:  cloud,
		broker: b,
		router: router,
		state:  StateDisconnected,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(l)
	}

	b.SetOnConnect(l.handleBrokerUp)
	b.SetOnDisconnect(l.handleBrokerDown)
	return l
}

// NewFromConfig builds the HTTP session, router and broker session from cfg
// and wires them into a Link. A nil logger discards output.
func NewFromConfig(cfg *config.Config, logger Logger) *Link {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cloud := cloudapi.New(cfg.Cloud, cloudapi.WithLogger(logger))
	router := topic.NewRouter(logger)
	bs := broker.NewSession(cfg.MQTT, router, cloud, broker.WithLogger(logger))

	return New(cloud, bs, router,
		WithLogger(logger),
		WithCommandRetries(cfg.Cloud.CommandRetries),
	)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Connect logs in and brings up the broker connection.
//
// It performs the following:
//  1. Opens the HTTP session against httpServer and logs in
//  2. Derives the broker login from the response's client id and key
//  3. Prefixes every pending subscription with the client id
//  4. Connects to the broker, which re-subscribes every pending topic
//
// A login failure leaves the Link disconnected. Any failure after login
// leaves it HTTP-authenticated, so REST calls keep working and Reconnect
// can retry the broker.
//
// Parameters:
//   - ctx: bounds the login and the broker handshake
//   - username, password: platform account
//   - httpServer, mqttServer: empty values fall back to the configuration
//
// Returns:
//   - error: cloudapi.ErrAuthentication, *cloudapi.TransportError,
//     ErrNoBrokerEntitlement or a broker connect error
func (l *Link) Connect(ctx context.Context, username, password, httpServer, mqttServer string) error {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()

	l.broker.Disconnect()

	if err := l.cloud.Open(httpServer); err != nil {
		l.setState(StateDisconnected)
		return fmt.Errorf("opening http session: %w", err)
	}

	resp, err := l.cloud.Login(ctx, username, password)
	if err != nil {
		l.setState(StateDisconnected)
		return fmt.Errorf("login: %w", err)
	}
	l.setState(StateHTTPAuthenticated)

	creds, err := credentials.DeriveBrokerCredentials(resp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoBrokerEntitlement, err)
	}
	if err := l.router.SetClientID(resp.ClientID); err != nil {
		return fmt.Errorf("%w: %w", ErrNoBrokerEntitlement, err)
	}

	l.mu.Lock()
	l.brokerCreds = creds
	l.httpServer = httpServer
	l.mqttServer = mqttServer
	l.loggedOut = false
	l.mu.Unlock()

	return l.connectBroker(ctx, mqttServer, creds)
}

// Reconnect re-creates both transports without logging in again. It is
// meant for resuming after the sockets were torn down but the logical
// session was kept, for example after Disconnect(ctx, true).
//
// Empty servers reuse the ones from the last Connect, then the configuration.
func (l *Link) Reconnect(ctx context.Context, httpServer, mqttServer string) error {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()
	return l.reconnect(ctx, httpServer, mqttServer)
}

func (l *Link) reconnect(ctx context.Context, httpServer, mqttServer string) error {
	l.mu.Lock()
	if httpServer == "" {
		httpServer = l.httpServer
	}
	if mqttServer == "" {
		mqttServer = l.mqttServer
	}
	l.httpServer, l.mqttServer = httpServer, mqttServer
	creds := l.brokerCreds
	l.mu.Unlock()

	if !l.cloud.Established() || creds.Empty() {
		return ErrNotConnected
	}

	l.broker.Disconnect()

	if err := l.cloud.Open(httpServer); err != nil {
		l.setState(StateDisconnected)
		return fmt.Errorf("opening http session: %w", err)
	}
	l.setState(StateHTTPAuthenticated)

	return l.connectBroker(ctx, mqttServer, creds)
}

func (l *Link) connectBroker(ctx context.Context, mqttServer string, creds credentials.BrokerCredentials) error {
	if err := l.broker.Connect(ctx, mqttServer, creds); err != nil {
		l.logger.Warn("broker connect failed", "error", err)
		return fmt.Errorf("connecting broker: %w", err)
	}
	l.setState(StateBrokerConnected)
	return nil
}

// Resume restores a persisted session and reconnects both transports
// without a login.
//
// Returns:
//   - error: ErrNothingToResume when saved is incomplete, otherwise as Reconnect
func (l *Link) Resume(ctx context.Context, saved credentials.Resumable, httpServer, mqttServer string) error {
	if !saved.Valid() {
		return ErrNothingToResume
	}

	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()

	if err := l.router.SetClientID(saved.Session.ClientID); err != nil {
		return fmt.Errorf("%w: %w", ErrNothingToResume, err)
	}
	l.cloud.Restore(saved.Session)

	l.mu.Lock()
	l.brokerCreds = saved.Broker
	l.loggedOut = false
	l.mu.Unlock()

	l.logger.Info("resuming stored session", "client_id", saved.Session.ClientID)
	return l.reconnect(ctx, httpServer, mqttServer)
}

// Snapshot returns what Resume needs to pick this session back up. The
// result is not Valid when there is nothing worth persisting.
func (l *Link) Snapshot() credentials.Resumable {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return credentials.Resumable{
		Session: l.cloud.Snapshot(),
		Broker:  l.brokerCreds,
	}
}

// LoggedOut reports whether the session was ended by a non-resumable
// Disconnect and no Connect or Resume has happened since. A persisted copy
// of such a session must not be resumed.
func (l *Link) LoggedOut() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loggedOut
}

// Disconnect tears down both transports.
//
// With resumable false the logical session is dropped as well: every router
// registration is removed (after unsubscribing it on the broker), the
// stored tokens are cleared and the broker login is forgotten.
// With resumable true the registrations and credentials survive for
// Reconnect or Snapshot.
func (l *Link) Disconnect(ctx context.Context, resumable bool) {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()

	if !resumable {
		if topics := l.router.Topics(); len(topics) > 0 && l.broker.IsConnected() {
			if err := l.broker.Unsubscribe(ctx, topics...); err != nil {
				l.logger.Warn("unsubscribe on disconnect failed", "error", err)
			}
		}
		l.router.Clear()
		l.cloud.ClearCredentials()

		l.mu.Lock()
		l.brokerCreds = credentials.BrokerCredentials{}
		l.loggedOut = true
		l.mu.Unlock()
	}

	l.broker.Disconnect()
	l.cloud.Close()
	l.setState(StateDisconnected)

	l.logger.Info("disconnected", "resumable", resumable)
}

// handleBrokerUp runs after every broker handshake, including the broker
// client's own reconnects.
func (l *Link) handleBrokerUp() {
	l.stateMu.Lock()
	up := l.state != StateDisconnected
	l.stateMu.Unlock()
	if up {
		l.setState(StateBrokerConnected)
	}
}

// handleBrokerDown runs when an established broker connection is lost.
// The HTTP session is unaffected.
func (l *Link) handleBrokerDown(err error) {
	l.logger.Warn("broker connection lost", "error", err)
	l.stateMu.Lock()
	up := l.state == StateBrokerConnected
	l.stateMu.Unlock()
	if up {
		l.setState(StateHTTPAuthenticated)
	}
}

// =============================================================================
// State
// =============================================================================

// State returns the current connection state.
func (l *Link) State() State {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

// Status returns the state together with the client id and the number of
// registered topics.
func (l *Link) Status() Status {
	return Status{
		State:         l.State(),
		ClientID:      l.router.ClientID(),
		Subscriptions: l.router.Len(),
	}
}

// OnStateChange registers a callback invoked on every state transition.
func (l *Link) OnStateChange(callback func(from, to State)) {
	l.stateMu.Lock()
	l.onChange = append(l.onChange, callback)
	l.stateMu.Unlock()
}

func (l *Link) setState(to State) {
	l.stateMu.Lock()
	from := l.state
	if from == to {
		l.stateMu.Unlock()
		return
	}
	l.state = to
	callbacks := append([]func(from, to State){}, l.onChange...)
	l.stateMu.Unlock()

	l.logger.Debug("link state changed", "from", from, "to", to)
	for _, cb := range callbacks {
		cb(from, to)
	}
}

// =============================================================================
// Subscriptions
// =============================================================================

// Subscribe registers d with the router. The registration is kept whether or
// not the broker is connected; a live subscribe is issued only when the
// broker is up and the topic has no live subscription yet. When that
// subscribe fails the topic is marked so the next Subscribe retries it.
//
// Returns:
//   - topic.Topic: the resolved topic, or "" before the first login
//   - error: topic.ErrUnsupportedAddressing or topic.ErrInvalidSegment
//     immediately, or the broker's subscribe error
func (l *Link) Subscribe(ctx context.Context, d topic.Descriptor) (topic.Topic, error) {
	t, created, err := l.router.Register(d)
	if err != nil {
		return "", err
	}
	if !created || t == "" || !l.broker.IsConnected() {
		return t, nil
	}

	if err := l.broker.Subscribe(ctx, t); err != nil {
		if errors.Is(err, broker.ErrNotConnected) {
			// Lost the race with a drop; the next handshake applies it.
			return t, nil
		}
		l.router.MarkFailed(t)
		return t, err
	}
	return t, nil
}

// Unsubscribe removes every registration for target at level across all
// directions and facets, and unsubscribes the emptied topics on the broker.
func (l *Link) Unsubscribe(ctx context.Context, target topic.Target, level topic.Level) error {
	topics, err := l.router.Unregister(target, level)
	if err != nil {
		return err
	}
	if len(topics) == 0 || !l.broker.IsConnected() {
		return nil
	}
	if err := l.broker.Unsubscribe(ctx, topics...); err != nil && !errors.Is(err, broker.ErrNotConnected) {
		return err
	}
	return nil
}

// =============================================================================
// REST accessors
// =============================================================================

func (l *Link) requireSession() error {
	if l.State() == StateDisconnected {
		return ErrNotConnected
	}
	return nil
}

// GetAsset returns one asset.
func (l *Link) GetAsset(ctx context.Context, id string) (*cloudapi.Asset, error) {
	if err := l.requireSession(); err != nil {
		return nil, err
	}
	return l.cloud.GetAsset(ctx, id)
}

// GetAssetState returns the raw state document of an asset.
func (l *Link) GetAssetState(ctx context.Context, id string) (json.RawMessage, error) {
	if err := l.requireSession(); err != nil {
		return nil, err
	}
	return l.cloud.GetAssetState(ctx, id)
}

// GetDevice returns one device with its assets.
func (l *Link) GetDevice(ctx context.Context, id string) (*cloudapi.Device, error) {
	if err := l.requireSession(); err != nil {
		return nil, err
	}
	return l.cloud.GetDevice(ctx, id)
}

// GetAssets returns the assets of a device.
func (l *Link) GetAssets(ctx context.Context, deviceID string) ([]cloudapi.Asset, error) {
	if err := l.requireSession(); err != nil {
		return nil, err
	}
	return l.cloud.GetAssets(ctx, deviceID)
}

// GetDevices returns the devices in a ground.
func (l *Link) GetDevices(ctx context.Context, groundID string) ([]cloudapi.Device, error) {
	if err := l.requireSession(); err != nil {
		return nil, err
	}
	return l.cloud.GetDevices(ctx, groundID)
}

// GetGrounds returns the account's grounds, or the ones shared with it.
func (l *Link) GetGrounds(ctx context.Context, includeShared bool) ([]cloudapi.Ground, error) {
	if err := l.requireSession(); err != nil {
		return nil, err
	}
	return l.cloud.GetGrounds(ctx, includeShared)
}
