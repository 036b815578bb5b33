package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/cloudlink-core/internal/credentials"
	"github.com/nerrad567/cloudlink-core/internal/infrastructure/config"
	"github.com/nerrad567/cloudlink-core/internal/topic"
)

// StateFetcher reads the current state of an asset over HTTP.
// *cloudapi.Session satisfies it.
type StateFetcher interface {
	GetAssetState(ctx context.Context, assetID string) (json.RawMessage, error)
}

// ClientFactory builds the underlying paho client. Tests replace it with a fake.
type ClientFactory func(opts *pahomqtt.ClientOptions) pahomqtt.Client

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Session owns the single MQTT connection to the cloud broker.
//
// Subscriptions are not tracked here: the topic.Router is the source of
// truth, and every successful handshake re-subscribes each of its topics.
// Topics whose subscribers all want asset state are primed with an HTTP
// fetch right after SUBACK, and live messages that arrive meanwhile are held
// back until the fetched state has been delivered.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	cfg       config.MQTTConfig
	router    *topic.Router
	fetcher   StateFetcher
	newClient ClientFactory

	// lifeMu serialises Connect and Disconnect.
	lifeMu sync.Mutex

	client   pahomqtt.Client
	clientMu sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	// priming holds live messages for topics whose state fetch is in flight.
	priming map[topic.Topic][][]byte
	primeMu sync.Mutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Option configures a Session built by NewSession.
type Option func(*Session)

// WithClientFactory replaces pahomqtt.NewClient.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Session) { s.newClient = f }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Session) { s.logger = l }
}

// NewSession creates a disconnected session routing into router and priming
// state through fetcher.
func NewSession(cfg config.MQTTConfig, router *topic.Router, fetcher StateFetcher, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		router:    router,
		fetcher:   fetcher,
		newClient: pahomqtt.NewClient,
		priming:   make(map[topic.Topic][][]byte),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect opens a connection to host with the given broker credentials.
//
// It performs the following:
//  1. Refuses to start without both halves of the broker credentials
//  2. Tears down any previous connection
//  3. Connects and waits for CONNACK; a refusal is returned, not retried
//
// Once the handshake succeeds, paho's background loop delivers messages and
// the connect handler re-subscribes every router topic.
//
// Parameters:
//   - ctx: bounds the wait for CONNACK
//   - host: broker host, host:port or URL; empty uses the configured host
//   - creds: derived broker credentials
//
// Returns:
//   - error: ErrMissingCredentials, ErrNoHost or ErrConnectionFailed
func (s *Session) Connect(ctx context.Context, host string, creds credentials.BrokerCredentials) error {
	if creds.Empty() {
		return ErrMissingCredentials
	}
	if host == "" {
		host = s.cfg.Broker.Host
	}
	if host == "" {
		return ErrNoHost
	}

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.teardown()

	url := brokerURL(s.cfg, host)
	opts := buildClientOptions(s.cfg, url, creds, newClientID(s.cfg.Broker.ClientIDPrefix))

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		s.handleConnect(c)
	})
	opts.SetConnectionLostHandler(func(c pahomqtt.Client, err error) {
		s.handleConnectionLost(c, err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		s.getLogger().Info("broker reconnecting", "broker", url)
	})

	client := s.newClient(opts)
	s.setClient(client)

	if err := waitToken(ctx, client.Connect(), defaultConnectTimeout); err != nil {
		s.setClient(nil)
		client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler may not have run yet; IsConnected must already
	// report true when Connect returns.
	s.setConnected(true)

	s.getLogger().Info("broker connected", "broker", url, "username", creds.Username)
	return nil
}

// handleConnect runs after every successful handshake, including paho's
// own reconnects.
func (s *Session) handleConnect(c pahomqtt.Client) {
	if !s.isCurrent(c) {
		return
	}
	s.setConnected(true)

	for _, t := range s.router.Topics() {
		if err := s.subscribeAndPrime(context.Background(), c, t); err != nil {
			s.getLogger().Warn("re-subscribe failed", "topic", t, "error", err)
		}
	}

	s.callbackMu.RLock()
	callback := s.onConnect
	s.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleConnectionLost is called when an established connection drops.
func (s *Session) handleConnectionLost(c pahomqtt.Client, err error) {
	if !s.isCurrent(c) {
		return
	}
	s.setConnected(false)
	s.getLogger().Warn("broker connection lost", "error", err)

	s.callbackMu.RLock()
	callback := s.onDisconnect
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Disconnect stops the message loop and closes the connection.
// It is safe to call when already disconnected.
func (s *Session) Disconnect() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.teardown()
}

// teardown drops the current client, if any. Callers hold lifeMu.
func (s *Session) teardown() {
	c := s.currentClient()
	if c == nil {
		return
	}

	s.setClient(nil)
	s.setConnected(false)
	c.Disconnect(defaultDisconnectQuiesce)

	s.primeMu.Lock()
	s.priming = make(map[topic.Topic][][]byte)
	s.primeMu.Unlock()

	s.getLogger().Info("broker disconnected")
}

// Subscribe issues a live subscription for t and primes it if applicable.
func (s *Session) Subscribe(ctx context.Context, t topic.Topic) error {
	if t == "" {
		return fmt.Errorf("%w: empty topic", ErrSubscribeFailed)
	}
	c := s.currentClient()
	if c == nil || !s.IsConnected() {
		return ErrNotConnected
	}
	return s.subscribeAndPrime(ctx, c, t)
}

// Unsubscribe removes the live subscriptions for topics.
func (s *Session) Unsubscribe(ctx context.Context, topics ...topic.Topic) error {
	if len(topics) == 0 {
		return nil
	}
	c := s.currentClient()
	if c == nil || !s.IsConnected() {
		return ErrNotConnected
	}

	names := make([]string, len(topics))
	s.primeMu.Lock()
	for i, t := range topics {
		names[i] = string(t)
		delete(s.priming, t)
	}
	s.primeMu.Unlock()

	if err := waitToken(ctx, c.Unsubscribe(names...), defaultAckTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// subscribeAndPrime subscribes c to t and, when every subscriber on t wants
// asset state, fetches that state and delivers it before any live message.
func (s *Session) subscribeAndPrime(ctx context.Context, c pahomqtt.Client, t topic.Topic) error {
	assetID, primable := s.router.Primable(t)
	if primable {
		s.primeMu.Lock()
		if _, busy := s.priming[t]; !busy {
			s.priming[t] = nil
		}
		s.primeMu.Unlock()
	}

	if err := waitToken(ctx, c.Subscribe(string(t), byte(s.cfg.QoS), s.wrapHandler()), defaultAckTimeout); err != nil {
		if primable {
			s.flush(t)
		}
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, t, err)
	}

	if primable {
		s.prime(ctx, t, assetID)
	}
	return nil
}

// prime fetches the current state of assetID, delivers it on t, then
// releases any live messages held back in the meantime.
func (s *Session) prime(ctx context.Context, t topic.Topic, assetID string) {
	fetchCtx, cancel := context.WithTimeout(ctx, defaultFetchTimeout)
	defer cancel()

	raw, err := s.fetcher.GetAssetState(fetchCtx, assetID)
	switch {
	case err != nil:
		s.getLogger().Warn("state fetch failed", "topic", t, "asset", assetID, "error", err)
	default:
		if value, ok := stateValue(raw); ok {
			s.router.DispatchValue(t, value)
		} else {
			s.getLogger().Debug("asset has no state yet", "asset", assetID)
		}
	}

	s.flush(t)
}

// flush delivers held-back messages for t in arrival order and ends priming.
// Messages that arrive while a batch is being delivered join the next batch.
func (s *Session) flush(t topic.Topic) {
	for {
		s.primeMu.Lock()
		batch, ok := s.priming[t]
		if !ok || len(batch) == 0 {
			delete(s.priming, t)
			s.primeMu.Unlock()
			return
		}
		s.priming[t] = nil
		s.primeMu.Unlock()

		for _, payload := range batch {
			s.dispatch(t, payload)
		}
	}
}

// stateValue extracts the deliverable value from a state document: the
// "state" member when present, otherwise the whole document if it carries a
// "value" member.
func stateValue(raw json.RawMessage) (any, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}

	src := []byte(raw)
	if state, ok := doc["state"]; ok {
		src = state
	} else if _, ok := doc["value"]; !ok {
		return nil, false
	}

	var value any
	if err := json.Unmarshal(src, &value); err != nil {
		return nil, false
	}
	return value, value != nil
}

// handleMessage routes one inbound message, holding it back if its topic is
// being primed.
func (s *Session) handleMessage(t topic.Topic, payload []byte) {
	s.primeMu.Lock()
	if held, ok := s.priming[t]; ok {
		s.priming[t] = append(held, append([]byte(nil), payload...))
		s.primeMu.Unlock()
		return
	}
	s.primeMu.Unlock()

	s.dispatch(t, payload)
}

func (s *Session) dispatch(t topic.Topic, payload []byte) {
	if err := s.router.Dispatch(t, payload); err != nil {
		s.getLogger().Warn("message dropped", "topic", t, "error", err)
	}
}

// wrapHandler adapts handleMessage to paho with panic recovery, so one bad
// message or subscriber never stops the message loop.
func (s *Session) wrapHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				s.getLogger().Error("message handler panic recovered",
					"topic", msg.Topic(),
					"payload", string(msg.Payload()),
					"panic", r,
				)
			}
		}()

		s.handleMessage(topic.Topic(msg.Topic()), msg.Payload())
	}
}

// HealthCheck verifies the broker connection is alive.
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("broker health check: %w", ctx.Err())
	default:
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (s *Session) IsConnected() bool {
	c := s.currentClient()
	if c == nil {
		return false
	}
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connected && c.IsConnectionOpen()
}

// SetOnConnect sets a callback invoked after every successful handshake,
// once all subscriptions have been re-issued.
func (s *Session) SetOnConnect(callback func()) {
	s.callbackMu.Lock()
	s.onConnect = callback
	s.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when an established connection is
// lost. It is not invoked by Disconnect.
func (s *Session) SetOnDisconnect(callback func(err error)) {
	s.callbackMu.Lock()
	s.onDisconnect = callback
	s.callbackMu.Unlock()
}

// SetLogger replaces the logger.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Session) currentClient() pahomqtt.Client {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return s.client
}

func (s *Session) setClient(c pahomqtt.Client) {
	s.clientMu.Lock()
	s.client = c
	s.clientMu.Unlock()
}

func (s *Session) isCurrent(c pahomqtt.Client) bool {
	cur := s.currentClient()
	return cur != nil && cur == c
}

func (s *Session) setConnected(v bool) {
	s.connMu.Lock()
	s.connected = v
	s.connMu.Unlock()
}

// waitToken waits for a paho token, the context, or the timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
