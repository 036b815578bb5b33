package link

import (
	"context"
	"errors"
	"math"

	"github.com/nerrad567/cloudlink-core/internal/cloudapi"
)

// SnapDistance is how close to a bound a value must be for SendBounded to
// replace it with the bound. Slider and knob controls rarely land exactly on
// their ends, so values this close are treated as the end itself.
//
// This is a presentation rule for actuator controls. Do not apply it to
// values that did not come from a bounded control.
const SnapDistance = 5.0

// Send issues an actuator command. A command that fails on the transport is
// sent again, up to the configured number of retries. Authentication and
// protocol errors are returned at once.
func (l *Link) Send(ctx context.Context, assetID string, value any) error {
	if err := l.requireSession(); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt <= l.commandRetries; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				return err
			}
			l.logger.Debug("resending command", "asset", assetID, "attempt", attempt+1, "error", err)
		}

		err = l.cloud.SendCommand(ctx, assetID, value)
		if err == nil || !errors.Is(err, cloudapi.ErrTransport) {
			return err
		}
	}

	l.logger.Warn("command failed", "asset", assetID, "attempts", l.commandRetries+1, "error", err)
	return err
}

// Bounds describes the range of a numeric actuator. A nil bound is open.
type Bounds struct {
	Min *float64
	Max *float64

	// Integer sends the value rounded to a whole number, for assets whose
	// profile type is "integer".
	Integer bool
}

// BoundsOf returns the bounds declared by an asset's profile.
func BoundsOf(a cloudapi.Asset) Bounds {
	return Bounds{
		Min:     a.Profile.Minimum,
		Max:     a.Profile.Maximum,
		Integer: a.Profile.Type == "integer",
	}
}

// Snap applies the bounds to v: values outside the range are clamped and
// values within SnapDistance of a bound become that bound.
// When a narrow range puts v near both bounds, the closer one wins.
func (b Bounds) Snap(v float64) float64 {
	if b.Min != nil && v < *b.Min {
		return *b.Min
	}
	if b.Max != nil && v > *b.Max {
		return *b.Max
	}

	nearMin := b.Min != nil && v-*b.Min <= SnapDistance
	nearMax := b.Max != nil && *b.Max-v <= SnapDistance
	switch {
	case nearMin && nearMax:
		if v-*b.Min <= *b.Max-v {
			return *b.Min
		}
		return *b.Max
	case nearMin:
		return *b.Min
	case nearMax:
		return *b.Max
	}
	return v
}

// SendBounded snaps value to b and sends it like Send.
func (l *Link) SendBounded(ctx context.Context, assetID string, value float64, b Bounds) error {
	v := b.Snap(value)
	if b.Integer {
		return l.Send(ctx, assetID, int64(math.Round(v)))
	}
	return l.Send(ctx, assetID, v)
}
