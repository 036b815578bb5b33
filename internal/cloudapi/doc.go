// Package cloudapi is the authenticated HTTP session against the cloud
// control-plane: login, token refresh, resource discovery and actuator
// commands.
//
// # Request policy
//
// Every authenticated request:
//   - fails fast with ErrNotAuthenticated if no session was ever established
//   - refreshes the token first when it has expired (one refresh, shared by
//     concurrent callers); a rejected refresh clears the session and returns
//     ErrAuthentication
//   - retries a closed-connection failure (empty or malformed status line)
//     up to 10 attempts, reopening the connection each time
//   - retries a connection reset exactly once
//   - treats any status other than 200 as a ProtocolError carrying the
//     server's error_description, message or raw body
//
// Transport failures are returned as *TransportError so the caller can tell
// a network problem from bad credentials.
//
// # Usage
//
//	s := cloudapi.New(cfg.Cloud, cloudapi.WithLogger(logger))
//	if err := s.Open(""); err != nil { ... }
//	if _, err := s.Login(ctx, user, pass); err != nil { ... }
//	asset, err := s.GetAsset(ctx, "x1")
package cloudapi
