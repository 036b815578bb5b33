package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/cloudlink-core/internal/infrastructure/config"
	"github.com/nerrad567/cloudlink-core/internal/topic"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// assetChannelPrefix prefixes the channel an asset's values are broadcast on.
	assetChannelPrefix = "asset."

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// feedTimeout bounds starting or stopping one asset feed.
	feedTimeout = 15 * time.Second
)

// WSMessage represents a message sent to a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a message received from a WebSocket client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Assets []string `json:"assets"`
}

// AssetValue is the payload broadcast on an asset channel.
type AssetValue struct {
	AssetID string `json:"asset_id"`
	Value   any    `json:"value"`
}

// AssetChannel returns the channel name values of assetID are broadcast on.
func AssetChannel(assetID string) string {
	return assetChannelPrefix + assetID
}

// Feed starts and stops the live values of one asset.
type Feed interface {
	Watch(ctx context.Context, assetID string) error
	Unwatch(ctx context.Context, assetID string)
}

// Hub manages WebSocket connections and broadcasts events.
//
// Asset feeds are reference counted across clients: the first subscriber
// to an asset starts its feed and the last one to leave stops it.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  Logger
	feed    Feed
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	// feedMu guards the feeds map only. Starting or stopping a feed holds
	// that asset's own lock, so a slow Watch does not block other assets.
	feedMu sync.Mutex
	feeds  map[string]*assetFeedState
}

// assetFeedState counts the holders of one asset feed. mu is held while
// the feed starts or stops; holders may be read without it.
type assetFeedState struct {
	mu      sync.Mutex
	holders atomic.Int64
	dead    bool // removed from Hub.feeds; callers must look it up again
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger Logger, feed Feed) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		feed:    feed,
		clients: make(map[*WSClient]struct{}),
		feeds:   make(map[string]*assetFeedState),
	}
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and releases the asset feeds it held.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	for _, assetID := range client.takeAssets() {
		h.release(assetID)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event to all clients subscribed to the given channel.
// Lock ordering: hub lock is acquired first, then released before per-client
// subscription checks.
func (h *Hub) Broadcast(channel string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Watchers returns how many clients hold the feed of assetID.
func (h *Hub) Watchers(assetID string) int {
	h.feedMu.Lock()
	st, ok := h.feeds[assetID]
	h.feedMu.Unlock()
	if !ok {
		return 0
	}
	return int(st.holders.Load())
}

// feedState returns the live state for assetID, creating it if needed.
func (h *Hub) feedState(assetID string) *assetFeedState {
	h.feedMu.Lock()
	defer h.feedMu.Unlock()
	st, ok := h.feeds[assetID]
	if !ok {
		st = &assetFeedState{}
		h.feeds[assetID] = st
	}
	return st
}

// forget removes st from the map if it is still the entry for assetID.
// The caller holds st.mu.
func (h *Hub) forget(assetID string, st *assetFeedState) {
	st.dead = true
	h.feedMu.Lock()
	if h.feeds[assetID] == st {
		delete(h.feeds, assetID)
	}
	h.feedMu.Unlock()
}

// acquire adds one holder to an asset feed, starting it for the first holder.
// A failed start is undone with Unwatch so no partial registration is left.
func (h *Hub) acquire(assetID string) error {
	for {
		st := h.feedState(assetID)
		st.mu.Lock()
		if st.dead {
			st.mu.Unlock()
			continue
		}

		if st.holders.Load() == 0 {
			ctx, cancel := context.WithTimeout(context.Background(), feedTimeout)
			err := h.feed.Watch(ctx, assetID)
			if err != nil {
				h.feed.Unwatch(ctx, assetID)
				cancel()
				h.forget(assetID, st)
				st.mu.Unlock()
				return err
			}
			cancel()
			h.logger.Info("asset feed started", "asset", assetID)
		}
		st.holders.Add(1)
		st.mu.Unlock()
		return nil
	}
}

// release drops one holder of an asset feed, stopping it with the last one.
func (h *Hub) release(assetID string) {
	h.feedMu.Lock()
	st, ok := h.feeds[assetID]
	h.feedMu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.dead || st.holders.Load() == 0 {
		return
	}
	if st.holders.Add(-1) > 0 {
		return
	}
	h.forget(assetID, st)

	ctx, cancel := context.WithTimeout(context.Background(), feedTimeout)
	defer cancel()
	h.feed.Unwatch(ctx, assetID)
	h.logger.Info("asset feed stopped", "asset", assetID)
}

// dropFeeds forgets every asset feed without stopping them, for when the
// link has already discarded its registrations. Clients lose their asset
// subscriptions and must subscribe again after the next connect.
func (h *Hub) dropFeeds() {
	h.feedMu.Lock()
	old := h.feeds
	h.feeds = make(map[string]*assetFeedState)
	h.feedMu.Unlock()

	for _, st := range old {
		st.mu.Lock()
		st.dead = true
		st.holders.Store(0)
		st.mu.Unlock()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.takeAssets()
	}
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// =============================================================================
// Asset feed
// =============================================================================

// assetFeed subscribes assets through the link and relays their values to
// the hub and the history sink.
type assetFeed struct {
	s *Server
}

// Watch registers one asset state subscription with the link.
func (f assetFeed) Watch(ctx context.Context, assetID string) error {
	_, err := f.s.link.Subscribe(ctx, topic.Descriptor{
		Target:    topic.Flat(assetID),
		Direction: topic.In,
		Facet:     topic.State,
		Level:     topic.LevelAsset,
		Subscriber: topic.SubscriberFunc(func(value any) {
			f.s.onAssetValue(assetID, value)
		}),
	})
	return err
}

// Unwatch removes the asset's subscriptions from the link.
func (f assetFeed) Unwatch(ctx context.Context, assetID string) {
	if err := f.s.link.Unsubscribe(ctx, topic.Flat(assetID), topic.LevelAsset); err != nil {
		f.s.logger.Warn("asset unsubscribe failed", "asset", assetID, "error", err)
	}
}

// onAssetValue relays one live value.
func (s *Server) onAssetValue(assetID string, value any) {
	s.hub.Broadcast(AssetChannel(assetID), AssetValue{AssetID: assetID, Value: value})
	if s.history != nil && !s.history.WriteAssetValue(assetID, value) {
		s.logger.Debug("asset value not recorded", "asset", assetID)
	}
}

// =============================================================================
// Connection handling
// =============================================================================

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg wsRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe starts or joins the feed of each requested asset.
func (c *WSClient) handleSubscribe(msg wsRequest) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil || len(sub.Assets) == 0 {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	subscribed := make([]string, 0, len(sub.Assets))
	failed := make(map[string]string)
	for _, assetID := range sub.Assets {
		channel := AssetChannel(assetID)
		if c.isSubscribed(channel) {
			subscribed = append(subscribed, assetID)
			continue
		}
		// Subscribed before acquiring so the primed value reaches this client.
		c.mu.Lock()
		c.subscriptions[channel] = struct{}{}
		c.mu.Unlock()
		if err := c.hub.acquire(assetID); err != nil {
			c.mu.Lock()
			delete(c.subscriptions, channel)
			c.mu.Unlock()
			failed[assetID] = err.Error()
			continue
		}
		subscribed = append(subscribed, assetID)
	}

	c.hub.logger.Info("websocket client subscribed", "assets", subscribed, "failed", len(failed))

	resp := map[string]any{"subscribed": subscribed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	c.sendResponse(msg.ID, WSTypeResponse, resp)
}

// handleUnsubscribe leaves the feed of each listed asset.
func (c *WSClient) handleUnsubscribe(msg wsRequest) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	unsubscribed := make([]string, 0, len(sub.Assets))
	for _, assetID := range sub.Assets {
		channel := AssetChannel(assetID)
		c.mu.Lock()
		_, held := c.subscriptions[channel]
		delete(c.subscriptions, channel)
		c.mu.Unlock()
		if held {
			c.hub.release(assetID)
			unsubscribed = append(unsubscribed, assetID)
		}
	}

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": unsubscribed,
	})
}

// takeAssets clears the client's asset subscriptions and returns their ids.
func (c *WSClient) takeAssets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var assets []string
	for channel := range c.subscriptions {
		if id, ok := strings.CutPrefix(channel, assetChannelPrefix); ok {
			assets = append(assets, id)
			delete(c.subscriptions, channel)
		}
	}
	return assets
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
