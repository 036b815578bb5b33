package topic

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Subscriber receives decoded values for a topic.
//
// For "in" topics value is the decoded JSON (map[string]any, []any, string,
// float64, bool or nil). For "out" topics value is the payload as a string.
type Subscriber interface {
	OnMessage(value any)
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(value any)

// OnMessage calls f(value).
func (f SubscriberFunc) OnMessage(value any) {
	f(value)
}

// Descriptor is one application-level subscription.
type Descriptor struct {
	Target     Target
	Direction  Direction
	Facet      Facet
	Level      Level
	Subscriber Subscriber
}

// Address returns the descriptor's topic address.
func (d Descriptor) Address() Address {
	return Address{
		Target:    d.Target,
		Direction: d.Direction,
		Facet:     d.Facet,
		Level:     d.Level,
	}
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Router owns the descriptor-to-topic and topic-to-descriptor mappings.
//
// Descriptors are indexed by route (the topic without its client prefix) so
// that subscriptions registered before the cloud has assigned a client id
// are kept and become live topics once SetClientID is called.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Subscribers are invoked outside the lock, so a subscriber may call
//     back into the Router.
type Router struct {
	mu       sync.RWMutex
	clientID string
	routes   map[string][]Descriptor
	order    []string
	stale    map[string]struct{} // routes whose live subscribe failed

	logger Logger
}

// NewRouter returns an empty Router. A nil logger discards output.
func NewRouter(logger Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		routes: make(map[string][]Descriptor),
		stale:  make(map[string]struct{}),
		logger: logger,
	}
}

// SetClientID sets the id used to prefix every topic. Registrations made
// before the id was known keep their place and order.
func (r *Router) SetClientID(clientID string) error {
	if err := checkSegment("client id", clientID); err != nil {
		return err
	}
	r.mu.Lock()
	r.clientID = clientID
	r.mu.Unlock()
	return nil
}

// ClientID returns the current client id, or "" if none has been set.
func (r *Router) ClientID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clientID
}

// Register appends d to the descriptor list for its topic.
//
// Returns:
//   - Topic: the built topic, or "" while no client id is set
//   - bool: true if the caller needs to issue a broker subscribe, either
//     because d is the first descriptor for that topic or because the last
//     subscribe for it was reported failed with MarkFailed
//   - error: ErrUnsupportedAddressing, ErrInvalidSegment or ErrNilSubscriber
func (r *Router) Register(d Descriptor) (Topic, bool, error) {
	if d.Subscriber == nil {
		return "", false, ErrNilSubscriber
	}
	route, err := buildRoute(d.Address())
	if err != nil {
		return "", false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list, exists := r.routes[route]
	if !exists {
		r.order = append(r.order, route)
	}
	r.routes[route] = append(list, d)

	_, stale := r.stale[route]
	delete(r.stale, route)

	return r.topicLocked(route), !exists || stale, nil
}

// MarkFailed records that the live subscribe for t did not complete, so the
// next Register on t asks for it again. Unknown topics are ignored.
func (r *Router) MarkFailed(t Topic) {
	route, ok := r.routeOf(t)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, registered := r.routes[route]; registered {
		r.stale[route] = struct{}{}
	}
}

// Unregister removes every descriptor registered for target at level, across
// all direction and facet combinations, and returns the topics that no longer
// have any subscriber. The returned slice is empty while no client id is set.
func (r *Router) Unregister(target Target, level Level) ([]Topic, error) {
	var routes []string
	for _, dir := range Directions {
		for _, facet := range Facets {
			route, err := buildRoute(Address{Target: target, Direction: dir, Facet: facet, Level: level})
			if err != nil {
				return nil, err
			}
			routes = append(routes, route)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Topic
	for _, route := range routes {
		if _, ok := r.routes[route]; !ok {
			continue
		}
		delete(r.routes, route)
		delete(r.stale, route)
		r.order = removeRoute(r.order, route)
		if t := r.topicLocked(route); t != "" {
			removed = append(removed, t)
		}
	}
	return removed, nil
}

// Clear removes every registration and returns the topics that were active.
func (r *Router) Clear() []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := r.topicsLocked()
	r.routes = make(map[string][]Descriptor)
	r.stale = make(map[string]struct{})
	r.order = nil
	return topics
}

// Topics returns every topic with at least one descriptor, in the order the
// topics were first registered. It returns nil while no client id is set.
func (r *Router) Topics() []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topicsLocked()
}

// Len returns the number of distinct topics registered.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Subscribers returns how many descriptors are registered for t.
func (r *Router) Subscribers(t Topic) int {
	route, ok := r.routeOf(t)
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes[route])
}

// Primable reports whether current state for t can be fetched over HTTP and
// delivered as if it had arrived on the broker. That holds when every
// descriptor on t is an "in" "state" subscription at asset level. The asset
// id to fetch is returned alongside.
func (r *Router) Primable(t Topic) (string, bool) {
	route, ok := r.routeOf(t)
	if !ok {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.routes[route]
	if len(list) == 0 {
		return "", false
	}
	for _, d := range list {
		if d.Direction != In || d.Facet != State || d.Level != LevelAsset {
			return "", false
		}
	}
	return list[0].Target.Asset, true
}

// Dispatch delivers payload to every descriptor registered for t, in
// registration order.
//
// Payloads on "in" topics are decoded as JSON first; a decode failure is
// logged and returned wrapped in ErrDecode, and nobody receives that message.
// Payloads on "out" topics are delivered as a string. A topic without
// subscribers is not an error.
func (r *Router) Dispatch(t Topic, payload []byte) error {
	_, addr, err := Parse(t)
	if err != nil {
		return err
	}

	subs := r.snapshot(t)
	if len(subs) == 0 {
		r.logger.Debug("no subscribers for topic", "topic", t)
		return nil
	}

	value, err := decode(addr.Direction, payload)
	if err != nil {
		r.logger.Warn("dropping undecodable message",
			"topic", t,
			"payload", string(payload),
			"error", err,
		)
		return fmt.Errorf("%w: %s: %w", ErrDecode, t, err)
	}

	for _, s := range subs {
		s.OnMessage(value)
	}
	return nil
}

// DispatchValue delivers an already decoded value to every descriptor on t.
// Used to inject state fetched over HTTP through the same fan-out.
func (r *Router) DispatchValue(t Topic, value any) {
	for _, s := range r.snapshot(t) {
		s.OnMessage(value)
	}
}

func decode(dir Direction, payload []byte) (any, error) {
	if dir == Out {
		return string(payload), nil
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// snapshot copies the subscriber list for t so it can be invoked unlocked.
func (r *Router) snapshot(t Topic) []Subscriber {
	route, ok := r.routeOf(t)
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.routes[route]
	subs := make([]Subscriber, len(list))
	for i, d := range list {
		subs[i] = d.Subscriber
	}
	return subs
}

// routeOf strips the client prefix from t. It fails for topics belonging to
// another client id or built before one was set.
func (r *Router) routeOf(t Topic) (string, bool) {
	r.mu.RLock()
	prefix := rootSegment + "/" + r.clientID + "/"
	empty := r.clientID == ""
	r.mu.RUnlock()

	s := string(t)
	if empty || len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

func (r *Router) topicLocked(route string) Topic {
	if r.clientID == "" {
		return ""
	}
	return join(r.clientID, route)
}

func (r *Router) topicsLocked() []Topic {
	if r.clientID == "" || len(r.order) == 0 {
		return nil
	}
	topics := make([]Topic, 0, len(r.order))
	for _, route := range r.order {
		topics = append(topics, join(r.clientID, route))
	}
	return topics
}

func removeRoute(order []string, route string) []string {
	for i, v := range order {
		if v == route {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
