package cloudapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Ground is a top-level location or project owning devices.
type Ground struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Device owns one or more assets.
type Device struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Title  string  `json:"title"`
	Assets []Asset `json:"assets,omitempty"`
}

// DisplayName returns the title, falling back to the name for devices
// created before titles existed.
func (d Device) DisplayName() string {
	if d.Title != "" {
		return d.Title
	}
	return d.Name
}

// Asset is a single sensor or actuator data point.
type Asset struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Title    string          `json:"title"`
	Is       string          `json:"is"`
	DeviceID string          `json:"deviceId,omitempty"`
	Profile  Profile         `json:"profile"`
	Control  json.RawMessage `json:"control,omitempty"`
	State    *AssetState     `json:"state,omitempty"`
}

// DisplayName returns the title, falling back to the name.
func (a Asset) DisplayName() string {
	if a.Title != "" {
		return a.Title
	}
	return a.Name
}

// IsActuator reports whether the asset accepts commands.
func (a Asset) IsActuator() bool {
	return a.Is == "actuator"
}

// Profile is the JSON-schema-like description of an asset's value.
type Profile struct {
	Type    string   `json:"type"`
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`
}

// AssetState is the last known value of an asset.
type AssetState struct {
	Value json.RawMessage `json:"value"`
	At    string          `json:"at,omitempty"`
}

// listResponse is the envelope used by collection endpoints.
type listResponse[T any] struct {
	Items []T `json:"items"`
}

// GetAsset returns the details of asset id.
func (s *Session) GetAsset(ctx context.Context, id string) (*Asset, error) {
	var asset Asset
	if err := s.getJSON(ctx, "/asset/"+url.PathEscape(id), &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// GetAssetState returns the raw state document of asset id.
func (s *Session) GetAssetState(ctx context.Context, id string) (json.RawMessage, error) {
	return s.Request(ctx, http.MethodGet, "/asset/"+url.PathEscape(id)+"/state", nil)
}

// GetDevice returns device id, including its assets.
func (s *Session) GetDevice(ctx context.Context, id string) (*Device, error) {
	var device Device
	if err := s.getJSON(ctx, "/device/"+url.PathEscape(id), &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// GetAssets returns the assets of device id.
func (s *Session) GetAssets(ctx context.Context, deviceID string) ([]Asset, error) {
	device, err := s.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return device.Assets, nil
}

// GetDevices returns the devices in ground groundID.
func (s *Session) GetDevices(ctx context.Context, groundID string) ([]Device, error) {
	var list listResponse[Device]
	if err := s.getJSON(ctx, "/ground/"+url.PathEscape(groundID)+"/devices", &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// GetGrounds returns the grounds of the current account, including grounds
// shared with it when includeShared is set.
func (s *Session) GetGrounds(ctx context.Context, includeShared bool) ([]Ground, error) {
	path := "/me/grounds"
	if includeShared {
		path += "?" + url.Values{"type": {"shared"}}.Encode()
	}

	var list listResponse[Ground]
	if err := s.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// SendCommand sends value to actuator assetID with PUT /asset/<id>/command.
func (s *Session) SendCommand(ctx context.Context, assetID string, value any) error {
	_, err := s.Request(ctx, http.MethodPut, "/asset/"+url.PathEscape(assetID)+"/command",
		map[string]any{"value": value})
	return err
}

func (s *Session) getJSON(ctx context.Context, path string, v any) error {
	raw, err := s.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("cloudapi: GET %s: empty response", path)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("cloudapi: GET %s: decoding response: %w", path, err)
	}
	return nil
}
