// Package api provides the local HTTP gateway and WebSocket feed for Cloudlink Core.
//
// It exposes the connection lifecycle, the cloud's grounds, devices and assets,
// and actuator commands to local clients, and relays live asset values to
// WebSocket subscribers.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
