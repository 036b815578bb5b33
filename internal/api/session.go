package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// connectRequest is the body of POST /session.
type connectRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	HTTPServer string `json:"http_server,omitempty"`
	MQTTServer string `json:"mqtt_server,omitempty"`
}

// reconnectRequest is the body of POST /session/reconnect. Both fields are optional.
type reconnectRequest struct {
	HTTPServer string `json:"http_server,omitempty"`
	MQTTServer string `json:"mqtt_server,omitempty"`
}

// disconnectRequest is the body of POST /session/disconnect.
type disconnectRequest struct {
	Resumable bool `json:"resumable"`
}

// handleSessionStatus returns the link state.
func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.link.Status())
}

// handleConnect logs in and brings up the broker.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	if err := s.link.Connect(r.Context(), req.Username, req.Password, req.HTTPServer, req.MQTTServer); err != nil {
		s.logger.Warn("connect failed", "error", err)
		writeLinkError(w, err)
		return
	}

	s.logger.Info("session connected", "client_id", s.link.Status().ClientID)
	writeJSON(w, http.StatusOK, s.link.Status())
}

// handleReconnect re-creates both transports for the current session.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	var req reconnectRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	if err := s.link.Reconnect(r.Context(), req.HTTPServer, req.MQTTServer); err != nil {
		s.logger.Warn("reconnect failed", "error", err)
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.link.Status())
}

// handleDisconnect tears the link down. A non-resumable disconnect is a
// logout: the hub's feeds are dropped because the router no longer holds
// them, and the stored session is removed so the next start cannot resume it.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	s.link.Disconnect(r.Context(), req.Resumable)
	if !req.Resumable {
		s.hub.dropFeeds()
		if s.sessions != nil {
			if err := s.sessions.Delete(r.Context(), s.profile); err != nil {
				s.logger.Error("removing stored session failed", "profile", s.profile, "error", err)
				writeInternalError(w, "logged out, but the stored session could not be removed")
				return
			}
			s.logger.Info("stored session removed", "profile", s.profile)
		}
	}
	writeJSON(w, http.StatusOK, s.link.Status())
}

// decodeOptional decodes a JSON body into v when one is present.
// It writes a 400 and returns false for a malformed body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeBadRequest(w, "invalid JSON body")
	return false
}
