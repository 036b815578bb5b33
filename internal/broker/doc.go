// Package broker owns the MQTT data-plane connection to the cloud broker.
//
// This package manages:
//   - Connecting with credentials derived from the cloud login
//   - Re-subscribing every router topic after each successful handshake
//   - Priming state subscriptions with an HTTP fetch so a reconnect never
//     leaves a subscriber stale
//   - Feeding inbound messages to the topic.Router with panic recovery
//
// Commands are never published here; they go over the HTTP control-plane.
//
// # Reconnection
//
// A refused handshake is returned from Connect and not retried. Once a
// session is established, paho may reconnect it on its own when
// mqtt.reconnect.auto is set; each such reconnect runs the same
// re-subscribe and prime sequence.
//
// # Usage
//
//	s := broker.NewSession(cfg.MQTT, router, httpSession, broker.WithLogger(logger))
//	if err := s.Connect(ctx, "broker.example.io", creds); err != nil { ... }
//	defer s.Disconnect()
package broker
