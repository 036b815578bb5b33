package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementAssetValues is the measurement every asset value is written to.
const measurementAssetValues = "asset_values"

// WriteAssetValue records one value of an asset.
//
// value may be a bare number or boolean, or a state document of the form
// {"value": v, "at": "<RFC 3339 time>"}; the "at" time, when present and
// valid, becomes the point's timestamp. Booleans are stored as 0 or 1 so the
// field keeps a single type. Anything else is skipped.
//
// Returns:
//   - bool: true if a point was queued
func (c *Client) WriteAssetValue(assetID string, value any) bool {
	if !c.IsConnected() || assetID == "" {
		return false
	}

	v, at, ok := NumericValue(value)
	if !ok {
		return false
	}
	if at.IsZero() {
		at = c.now()
	}

	c.writeAPI.WritePoint(write.NewPoint(
		measurementAssetValues,
		map[string]string{"asset_id": assetID},
		map[string]any{"value": v},
		at,
	))
	return true
}

// NumericValue extracts a number from a decoded asset value.
//
// Returns:
//   - float64: the value, with booleans as 0 or 1
//   - time.Time: the "at" time of a state document, or zero
//   - bool: false when value carries no number
func NumericValue(value any) (float64, time.Time, bool) {
	switch v := value.(type) {
	case float64:
		return v, time.Time{}, true
	case float32:
		return float64(v), time.Time{}, true
	case int:
		return float64(v), time.Time{}, true
	case int64:
		return float64(v), time.Time{}, true
	case json.Number:
		f, err := v.Float64()
		return f, time.Time{}, err == nil
	case bool:
		if v {
			return 1, time.Time{}, true
		}
		return 0, time.Time{}, true
	case map[string]any:
		inner, ok := v["value"]
		if !ok {
			return 0, time.Time{}, false
		}
		if _, nested := inner.(map[string]any); nested {
			return 0, time.Time{}, false
		}
		f, _, ok := NumericValue(inner)
		if !ok {
			return 0, time.Time{}, false
		}
		var at time.Time
		if s, isString := v["at"].(string); isString {
			at, _ = time.Parse(time.RFC3339Nano, s) //nolint:errcheck // zero time means "now"
		}
		return f, at, true
	default:
		return 0, time.Time{}, false
	}
}
