package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// =============================================================================
// paho fakes
// =============================================================================

// fakeToken is an already-completed paho token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

// fakeMessage is an inbound publish.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakeClient stands in for a paho client. Connect runs the OnConnect
// handler synchronously, the way a fast broker would look to the caller.
type fakeClient struct {
	opts *pahomqtt.ClientOptions

	mu             sync.Mutex
	open           bool
	connectErr     error
	subscribeErr   error
	handlers       map[string]pahomqtt.MessageHandler
	subscribeLog   []string
	unsubscribeLog []string
	disconnects    int
}

func newFakeClient(opts *pahomqtt.ClientOptions) *fakeClient {
	return &fakeClient{opts: opts, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (c *fakeClient) IsConnected() bool { return c.IsConnectionOpen() }

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Connect() pahomqtt.Token {
	c.mu.Lock()
	err := c.connectErr
	if err == nil {
		c.open = true
	}
	c.mu.Unlock()

	if err != nil {
		return newToken(err)
	}
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return newToken(nil)
}

func (c *fakeClient) Disconnect(_ uint) {
	c.mu.Lock()
	c.open = false
	c.disconnects++
	c.mu.Unlock()
}

func (c *fakeClient) Publish(_ string, _ byte, _ bool, _ interface{}) pahomqtt.Token {
	return newToken(errors.New("publish not supported"))
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeLog = append(c.subscribeLog, topic)
	if c.subscribeErr != nil {
		return newToken(c.subscribeErr)
	}
	c.handlers[topic] = callback
	return newToken(nil)
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, callback)
	}
	return newToken(nil)
}

func (c *fakeClient) Unsubscribe(topics ...string) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
		c.unsubscribeLog = append(c.unsubscribeLog, t)
	}
	return newToken(nil)
}

func (c *fakeClient) AddRoute(topic string, callback pahomqtt.MessageHandler) {
	c.mu.Lock()
	c.handlers[topic] = callback
	c.mu.Unlock()
}

func (c *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(c.opts)
}

// deliver simulates an inbound publish. It reports false when nothing is
// subscribed to topic.
func (c *fakeClient) deliver(topic string, payload string) bool {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(c, &fakeMessage{topic: topic, payload: []byte(payload)})
	return true
}

// dropConnection simulates a network loss.
func (c *fakeClient) dropConnection(err error) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(c, err)
	}
}

// autoReconnect simulates paho re-establishing the session on its own.
func (c *fakeClient) autoReconnect() {
	c.mu.Lock()
	c.open = true
	c.handlers = make(map[string]pahomqtt.MessageHandler)
	c.mu.Unlock()
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
}

func (c *fakeClient) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribeLog...)
}

func (c *fakeClient) unsubscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribeLog...)
}

// factory records every client it builds.
type factory struct {
	mu         sync.Mutex
	clients    []*fakeClient
	connectErr error
}

func (f *factory) New(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	c := newFakeClient(opts)
	f.mu.Lock()
	c.connectErr = f.connectErr
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	return c
}

func (f *factory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

// =============================================================================
// HTTP state fake
// =============================================================================

// fakeFetcher returns canned state documents and counts calls per asset.
// onFetch, when set, runs inside the fetch before it returns.
type fakeFetcher struct {
	mu      sync.Mutex
	states  map[string]string
	calls   map[string]int
	err     error
	onFetch func(assetID string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{states: make(map[string]string), calls: make(map[string]int)}
}

func (f *fakeFetcher) GetAssetState(_ context.Context, assetID string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls[assetID]++
	state, err, hook := f.states[assetID], f.err, f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(assetID)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(state), nil
}

func (f *fakeFetcher) count(assetID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[assetID]
}
