package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/cloudlink-core/internal/broker"
	"github.com/nerrad567/cloudlink-core/internal/cloudapi"
	"github.com/nerrad567/cloudlink-core/internal/link"
	"github.com/nerrad567/cloudlink-core/internal/topic"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeUpstream     = "upstream_error"
	ErrCodeUnavailable  = "upstream_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeLinkError maps an error from the connection layer to a response.
//
//   - rejected credentials: 401
//   - no active session: 409
//   - no broker entitlement: 403
//   - non-200 from the cloud: 502, or 404 when the cloud said 404
//   - socket failure or broker unreachable: 503
//   - unsupported addressing or a malformed id: 400
func writeLinkError(w http.ResponseWriter, err error) {
	var perr *cloudapi.ProtocolError

	switch {
	case errors.Is(err, cloudapi.ErrAuthentication), errors.Is(err, cloudapi.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, link.ErrNotConnected), errors.Is(err, link.ErrNothingToResume),
		errors.Is(err, cloudapi.ErrNotOpen), errors.Is(err, broker.ErrNotConnected):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, link.ErrNoBrokerEntitlement):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.As(err, &perr):
		if perr.StatusCode == http.StatusNotFound {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, perr.Message)
			return
		}
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, perr.Message)
	case errors.Is(err, cloudapi.ErrTransport), errors.Is(err, broker.ErrConnectionFailed),
		errors.Is(err, broker.ErrTimeout):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, topic.ErrUnsupportedAddressing), errors.Is(err, topic.ErrInvalidSegment),
		errors.Is(err, cloudapi.ErrNoServer), errors.Is(err, broker.ErrNoHost):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
