// Package flight wraps the arm, take-off and landing sequences around a
// mission. Every wait is a bounded poll so a vehicle that never reaches the
// expected state fails with ErrTimeout instead of hanging.
package flight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"OctaFlight/internal/geo"
	"OctaFlight/internal/nav"
)

var (
	ErrTimeout     = errors.New("flight: timed out waiting for vehicle")
	ErrModeChanged = errors.New("flight: vehicle left GUIDED mode")
)

// Mode names understood by SetMode.
const (
	ModeGuided = "GUIDED"
	ModeLand   = "LAND"
	ModeRTL    = "RTL"
)

// Autopilot is the full vehicle surface used around a mission.
type Autopilot interface {
	nav.Vehicle
	IsArmable(ctx context.Context) (bool, error)
	Armed(ctx context.Context) (bool, error)
	Arm(ctx context.Context, arm bool) error
	SetMode(ctx context.Context, mode string) error
	Takeoff(ctx context.Context, altitude float64) error
	// RelativePosition reports the position with altitude above home.
	RelativePosition(ctx context.Context) (geo.Location, error)
}

// Waits bounds a single wait: the condition is checked every Poll until
// Budget has elapsed.
type Waits struct {
	Poll   time.Duration `yaml:"poll"`
	Budget time.Duration `yaml:"budget"`
}

// DefaultWaits polls once a second for up to two minutes.
func DefaultWaits() Waits {
	return Waits{Poll: time.Second, Budget: 2 * time.Minute}
}

// Pilot runs lifecycle sequences against one autopilot.
type Pilot struct {
	ap    Autopilot
	clock nav.Clock
	waits Waits
	log   *slog.Logger
}

// NewPilot returns a Pilot. A nil clock means wall time, a nil logger
// discards output.
func NewPilot(ap Autopilot, clock nav.Clock, waits Waits, log *slog.Logger) *Pilot {
	if clock == nil {
		clock = nav.WallClock()
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if waits.Poll <= 0 {
		waits.Poll = time.Second
	}
	return &Pilot{ap: ap, clock: clock, waits: waits, log: log}
}

// waitFor polls cond until it reports true, the budget runs out or ctx is
// done.
func (p *Pilot) waitFor(ctx context.Context, what string, cond func() (bool, error)) error {
	deadline := p.clock.Now().Add(p.waits.Budget)
	for {
		ok, err := cond()
		if err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		if ok {
			return nil
		}
		if p.waits.Budget > 0 && !p.clock.Now().Before(deadline) {
			return fmt.Errorf("%s: %w", what, ErrTimeout)
		}
		if err := p.clock.Sleep(ctx, p.waits.Poll); err != nil {
			return err
		}
	}
}

// ArmAndTakeoff arms the vehicle in GUIDED mode and climbs to altitude
// metres above home. It returns once 95% of the altitude is reached.
func (p *Pilot) ArmAndTakeoff(ctx context.Context, altitude float64) error {
	p.log.Info("basic pre-arm checks")
	err := p.waitFor(ctx, "wait armable", func() (bool, error) {
		return p.ap.IsArmable(ctx)
	})
	if err != nil {
		return err
	}

	p.log.Info("arming motors")
	if err := p.ap.SetMode(ctx, ModeGuided); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	if err := p.ap.Arm(ctx, true); err != nil {
		return fmt.Errorf("arm: %w", err)
	}
	err = p.waitFor(ctx, "wait armed", func() (bool, error) {
		return p.ap.Armed(ctx)
	})
	if err != nil {
		return err
	}

	p.log.Info("taking off", slog.Float64("altitude", altitude))
	if err := p.ap.Takeoff(ctx, altitude); err != nil {
		return fmt.Errorf("takeoff: %w", err)
	}
	return p.waitFor(ctx, "wait takeoff altitude", func() (bool, error) {
		pos, err := p.ap.RelativePosition(ctx)
		if err != nil {
			return false, err
		}
		p.log.Debug("climbing", slog.Float64("altitude", pos.Alt))
		return pos.Alt >= altitude*0.95, nil
	})
}

// Land switches to LAND and waits for touchdown.
func (p *Pilot) Land(ctx context.Context) error {
	return p.descend(ctx, ModeLand)
}

// ReturnToLaunch switches to RTL and waits for touchdown at home.
func (p *Pilot) ReturnToLaunch(ctx context.Context) error {
	return p.descend(ctx, ModeRTL)
}

// landedAltitude absorbs barometer noise around the home altitude.
const landedAltitude = 0.3

// descend treats an autopilot that disarmed itself as landed even if its
// altitude estimate never settles at home.
func (p *Pilot) descend(ctx context.Context, mode string) error {
	p.log.Info("descending", slog.String("mode", mode))
	if err := p.ap.SetMode(ctx, mode); err != nil {
		return fmt.Errorf("set mode %s: %w", mode, err)
	}
	return p.waitFor(ctx, "wait landed", func() (bool, error) {
		armed, err := p.ap.Armed(ctx)
		if err != nil {
			return false, err
		}
		if !armed {
			return true, nil
		}
		pos, err := p.ap.RelativePosition(ctx)
		if err != nil {
			return false, err
		}
		return pos.Alt <= landedAltitude, nil
	})
}

// Goto flies to an offset from the current position at speed m/s and
// waits until within tolerance metres of it. It gives up with
// ErrModeChanged as soon as the vehicle is no longer in GUIDED mode.
func (p *Pilot) Goto(ctx context.Context, offset geo.Offset, speed, tolerance float64) error {
	cur, err := p.ap.RelativePosition(ctx)
	if err != nil {
		return fmt.Errorf("goto: %w", err)
	}
	target, err := cur.Offset(offset)
	if err != nil {
		return fmt.Errorf("goto: %w", err)
	}
	if err := p.ap.Goto(ctx, target, speed); err != nil {
		return fmt.Errorf("goto: %w", err)
	}

	return p.waitFor(ctx, "goto", func() (bool, error) {
		mode, err := p.ap.FlightMode(ctx)
		if err != nil {
			return false, err
		}
		if mode != ModeGuided {
			return false, ErrModeChanged
		}
		pos, err := p.ap.Position(ctx)
		if err != nil {
			return false, err
		}
		remaining := geo.DistanceMetres(pos, target)
		p.log.Debug("distance to target", slog.Float64("remaining", remaining))
		return remaining <= tolerance, nil
	})
}
