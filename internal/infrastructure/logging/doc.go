// Package logging provides structured logging for Cloudlink Core.
//
// This package wraps Go's standard log/slog package so every component
// (HTTP session, broker session, gateway) logs through one configured handler.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Redaction of credential-bearing attributes
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("broker connected", "host", host)
//
// # Security
//
// Access tokens, refresh tokens, passwords and broker keys must never reach
// the log. Attributes whose key names a secret are replaced with "[redacted]"
// by the handler itself, so a careless call site cannot leak them.
package logging
