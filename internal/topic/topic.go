package topic

import (
	"fmt"
	"strings"
)

// Direction is the flow of a topic relative to this client.
type Direction string

const (
	// In carries cloud-to-client messages (JSON).
	In Direction = "in"
	// Out carries device-to-cloud messages (opaque text).
	Out Direction = "out"
)

// Facet is the kind of data a topic carries.
type Facet string

const (
	State   Facet = "state"
	Command Facet = "command"
	Event   Facet = "event"
)

// Level is the addressing level of a subscription.
// Only LevelAsset has a topic form today.
type Level string

const (
	LevelAsset   Level = "asset"
	LevelDevice  Level = "device"
	LevelGateway Level = "gateway"
	LevelGround  Level = "ground"
)

// Directions and Facets list every value, in the order Unregister walks them.
var (
	Directions = []Direction{In, Out}
	Facets     = []Facet{State, Event, Command}
)

const rootSegment = "client"

// Target identifies what a subscription is about. A flat target sets only Asset.
// Ground is carried for the caller's bookkeeping and never appears in a topic.
type Target struct {
	Ground  string `json:"ground,omitempty"`
	Gateway string `json:"gateway,omitempty"`
	Device  string `json:"device,omitempty"`
	Asset   string `json:"asset"`
}

// Flat returns a target addressed by asset id alone.
func Flat(assetID string) Target {
	return Target{Asset: assetID}
}

// Address is everything Build needs besides the client id.
type Address struct {
	Target    Target
	Direction Direction
	Facet     Facet
	Level     Level
}

// Topic is a fully built MQTT topic string.
type Topic string

// String implements fmt.Stringer.
func (t Topic) String() string {
	return string(t)
}

// Build returns the topic for addr under clientID.
//
// For LevelAsset the segments follow a fixed precedence:
//   - gateway and device set: gateway/<gid>/device/<did>/asset/<aid>
//   - gateway only:           gateway/<gid>/asset/<aid>
//   - device only:            device/<did>/asset/<aid>
//   - neither:                asset/<aid>
//
// Any other level returns ErrUnsupportedAddressing.
//
// Example:
//
//	t, _ := topic.Build("C", topic.Address{
//	    Target:    topic.Target{Gateway: "g1", Device: "d1", Asset: "a1"},
//	    Direction: topic.In, Facet: topic.State, Level: topic.LevelAsset,
//	})
//	// t == "client/C/in/gateway/g1/device/d1/asset/a1/state"
func Build(clientID string, addr Address) (Topic, error) {
	if err := checkSegment("client id", clientID); err != nil {
		return "", err
	}
	route, err := buildRoute(addr)
	if err != nil {
		return "", err
	}
	return join(clientID, route), nil
}

// buildRoute returns the part of the topic after "client/<clientId>/".
func buildRoute(addr Address) (string, error) {
	switch addr.Direction {
	case In, Out:
	default:
		return "", fmt.Errorf("%w: direction %q", ErrUnsupportedAddressing, addr.Direction)
	}
	switch addr.Facet {
	case State, Command, Event:
	default:
		return "", fmt.Errorf("%w: facet %q", ErrUnsupportedAddressing, addr.Facet)
	}
	if addr.Level != LevelAsset {
		return "", fmt.Errorf("%w: level %q", ErrUnsupportedAddressing, addr.Level)
	}

	t := addr.Target
	if err := checkSegment("asset", t.Asset); err != nil {
		return "", err
	}

	parts := []string{string(addr.Direction)}
	if t.Gateway != "" {
		if err := checkSegment("gateway", t.Gateway); err != nil {
			return "", err
		}
		parts = append(parts, "gateway", t.Gateway)
	}
	if t.Device != "" {
		if err := checkSegment("device", t.Device); err != nil {
			return "", err
		}
		parts = append(parts, "device", t.Device)
	}
	parts = append(parts, "asset", t.Asset, string(addr.Facet))

	return strings.Join(parts, "/"), nil
}

func join(clientID, route string) Topic {
	return Topic(rootSegment + "/" + clientID + "/" + route)
}

func checkSegment(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidSegment, name)
	}
	if strings.ContainsAny(v, "/+#") {
		return fmt.Errorf("%w: %s %q contains a reserved character", ErrInvalidSegment, name, v)
	}
	return nil
}

// Parse splits a topic produced by Build back into its client id and address.
// Anything Build would not produce is rejected with ErrMalformedTopic.
func Parse(t Topic) (string, Address, error) {
	segs := strings.Split(string(t), "/")

	// client/<cid>/<dir>/.../asset/<aid>/<facet>: 6, 8 or 10 segments.
	if len(segs) < 6 || segs[0] != rootSegment || segs[1] == "" {
		return "", Address{}, fmt.Errorf("%w: %q", ErrMalformedTopic, t)
	}

	addr := Address{
		Direction: Direction(segs[2]),
		Facet:     Facet(segs[len(segs)-1]),
		Level:     LevelAsset,
	}

	middle := segs[3 : len(segs)-1]
	switch len(middle) {
	case 2:
	case 4:
		switch middle[0] {
		case "gateway":
			addr.Target.Gateway = middle[1]
		case "device":
			addr.Target.Device = middle[1]
		default:
			return "", Address{}, fmt.Errorf("%w: %q", ErrMalformedTopic, t)
		}
		middle = middle[2:]
	case 6:
		if middle[0] != "gateway" || middle[2] != "device" {
			return "", Address{}, fmt.Errorf("%w: %q", ErrMalformedTopic, t)
		}
		addr.Target.Gateway = middle[1]
		addr.Target.Device = middle[3]
		middle = middle[4:]
	default:
		return "", Address{}, fmt.Errorf("%w: %q", ErrMalformedTopic, t)
	}

	if middle[0] != "asset" {
		return "", Address{}, fmt.Errorf("%w: %q", ErrMalformedTopic, t)
	}
	addr.Target.Asset = middle[1]

	// Re-building validates direction, facet and every segment in one place.
	rebuilt, err := Build(segs[1], addr)
	if err != nil || rebuilt != t {
		return "", Address{}, fmt.Errorf("%w: %q", ErrMalformedTopic, t)
	}

	return segs[1], addr, nil
}
