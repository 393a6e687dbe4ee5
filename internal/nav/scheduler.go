package nav

import (
	"errors"
	"math"
	"time"
)

// ErrDivergentSpeedRequest is reported when the deadline is not in the
// future, so no finite positive speed meets it.
var ErrDivergentSpeedRequest = errors.New("divergent speed request")

// RequiredSpeed returns the constant groundspeed that covers remaining
// metres between now and target. It does no clamping: a deadline at or
// before now yields +Inf, NaN or a negative value.
func RequiredSpeed(remaining float64, target, now time.Time) float64 {
	return remaining / target.Sub(now).Seconds()
}

// SpeedPolicy bounds the speeds produced by RequiredSpeed.
type SpeedPolicy struct {
	MinSpeed float64 `yaml:"min_speed"`
	// MaxSpeed <= 0 leaves the upper bound open.
	MaxSpeed float64 `yaml:"max_speed"`
}

// Schedule computes RequiredSpeed and clamps it into [MinSpeed, MaxSpeed].
// When the deadline has passed (or the result is not finite) it returns
// the fastest allowed speed together with ErrDivergentSpeedRequest; the
// returned speed is still usable.
func (p SpeedPolicy) Schedule(remaining float64, target, now time.Time) (float64, error) {
	if !target.After(now) {
		return p.fallback(), ErrDivergentSpeedRequest
	}
	v := RequiredSpeed(remaining, target, now)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return p.fallback(), ErrDivergentSpeedRequest
	}
	return p.clamp(v), nil
}

func (p SpeedPolicy) clamp(v float64) float64 {
	if v < p.MinSpeed {
		v = p.MinSpeed
	}
	if v < 0 {
		v = 0
	}
	if p.MaxSpeed > 0 && v > p.MaxSpeed {
		v = p.MaxSpeed
	}
	return v
}

// fallback is what a late vehicle gets: as fast as allowed. With no
// upper bound configured there is nothing sensible to hurry to, so the
// minimum is used instead.
func (p SpeedPolicy) fallback() float64 {
	if p.MaxSpeed > 0 {
		return p.MaxSpeed
	}
	return math.Max(p.MinSpeed, 0)
}
