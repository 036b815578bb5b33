package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleSessionStatus)
			r.Post("/", s.handleConnect)
			r.Post("/reconnect", s.handleReconnect)
			r.Post("/disconnect", s.handleDisconnect)
		})

		r.Get("/grounds", s.handleListGrounds)
		r.Get("/grounds/{id}/devices", s.handleListDevices)

		r.Route("/devices/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetDevice)
			r.Get("/assets", s.handleListAssets)
		})

		r.Route("/assets/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAsset)
			r.Get("/state", s.handleGetAssetState)
			r.Put("/command", s.handleSendCommand)
		})

		r.Get(wsPath, s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status together with the link state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"link":    s.link.Status().State,
	})
}
