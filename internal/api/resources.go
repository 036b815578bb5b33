package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/cloudlink-core/internal/link"
)

// commandRequest is the body of PUT /assets/{id}/command.
type commandRequest struct {
	Value any `json:"value"`

	// Snap applies the asset's declared bounds to a numeric value before
	// sending it. Set it for values that come from a slider or knob.
	Snap bool `json:"snap,omitempty"`
}

// handleListGrounds returns the account's grounds, or the shared ones with ?shared=true.
func (s *Server) handleListGrounds(w http.ResponseWriter, r *http.Request) {
	shared := false
	if v := r.URL.Query().Get("shared"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "shared must be true or false")
			return
		}
		shared = b
	}

	grounds, err := s.link.GetGrounds(r.Context(), shared)
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"grounds": grounds,
		"count":   len(grounds),
	})
}

// handleListDevices returns the devices in a ground.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.link.GetDevices(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.link.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleListAssets returns the assets of a device.
func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.link.GetAssets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assets": assets,
		"count":  len(assets),
	})
}

// handleGetAsset returns one asset.
func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.link.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// handleGetAssetState returns the raw state document of an asset.
func (s *Server) handleGetAssetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.link.GetAssetState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLinkError(w, err)
		return
	}
	if len(state) == 0 {
		state = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, state)
}

// handleSendCommand sends an actuator command.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cmd commandRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	value := cmd.Value
	if n, ok := value.(json.Number); ok {
		value = numberValue(n)
	}

	var err error
	if f, numeric := asFloat(value); cmd.Snap && numeric {
		err = s.sendSnapped(r, id, f)
	} else {
		err = s.link.Send(r.Context(), id, value)
	}
	if err != nil {
		s.logger.Warn("asset command failed", "asset", id, "error", err)
		writeLinkError(w, err)
		return
	}

	commandID := uuid.NewString()
	s.logger.Info("asset command sent", "asset", id, "command_id", commandID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"command_id": commandID,
		"asset_id":   id,
		"status":     "accepted",
	})
}

// sendSnapped looks up the asset's bounds and sends v through them.
func (s *Server) sendSnapped(r *http.Request, id string, v float64) error {
	asset, err := s.link.GetAsset(r.Context(), id)
	if err != nil {
		return err
	}
	return s.link.SendBounded(r.Context(), id, v, link.BoundsOf(*asset))
}

// numberValue keeps whole numbers as int64 so they are sent without a fraction.
func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
