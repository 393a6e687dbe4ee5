package nav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"OctaFlight/internal/geo"
)

// ErrNoSpeedUpdates means a transit would never issue a goto.
var ErrNoSpeedUpdates = errors.New("at least one speed update is required")

// ControllerConfig tunes a waypoint transit.
type ControllerConfig struct {
	// MaxSpeedUpdates bounds the polling loop; each iteration issues one
	// goto command.
	MaxSpeedUpdates int `yaml:"max_speed_updates"`
	// ArrivalTolerance is the remaining distance, in metres, at which the
	// waypoint counts as reached.
	ArrivalTolerance float64       `yaml:"arrival_tolerance"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	// SettleDelay is a pause after each transit before the next one.
	SettleDelay time.Duration `yaml:"settle_delay"`
	Policy      SpeedPolicy   `yaml:"speed"`
}

// DefaultControllerConfig matches the values the octahedron mission was
// tuned with.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxSpeedUpdates:  10,
		ArrivalTolerance: 1.5,
		PollInterval:     time.Second,
		SettleDelay:      time.Second,
		Policy:           SpeedPolicy{MinSpeed: 0, MaxSpeed: 10},
	}
}

// Validate rejects settings under which no transit can make progress.
func (c ControllerConfig) Validate() error {
	if c.MaxSpeedUpdates < 1 {
		return fmt.Errorf("max_speed_updates %d: %w", c.MaxSpeedUpdates, ErrNoSpeedUpdates)
	}
	if c.ArrivalTolerance < 0 {
		return fmt.Errorf("arrival_tolerance must not be negative")
	}
	if c.Policy.MaxSpeed > 0 && c.Policy.MinSpeed > c.Policy.MaxSpeed {
		return fmt.Errorf("speed: min %v above max %v", c.Policy.MinSpeed, c.Policy.MaxSpeed)
	}
	return nil
}

// Controller drives the vehicle to one waypoint at a time.
type Controller struct {
	vehicle Vehicle
	cfg     ControllerConfig
	clock   Clock
	log     *slog.Logger
	obs     Observers
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithLogger sets the logger; the default discards output.
func WithLogger(l *slog.Logger) Option { return func(ctl *Controller) { ctl.log = l } }

// WithObserver registers progress observers.
func WithObserver(obs ...Observer) Option {
	return func(ctl *Controller) { ctl.obs = append(ctl.obs, obs...) }
}

// NewController builds a Controller for v.
func NewController(v Vehicle, cfg ControllerConfig, opts ...Option) *Controller {
	c := &Controller{
		vehicle: v,
		cfg:     cfg,
		clock:   WallClock(),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() ControllerConfig { return c.cfg }

// FlyToWaypoint flies from the current position to wp, an offset from
// home, starting at speed m/s. It returns once the vehicle is within the
// arrival tolerance or the speed-update budget is spent; running out of
// budget is not an error. Errors come only from converting the target
// (a bad home frame) and from the vehicle link, and are fatal to the
// mission.
//
// The flight mode is deliberately not checked, so a brief mode change
// cannot interrupt a transit.
func (c *Controller) FlyToWaypoint(ctx context.Context, home geo.Location, index int, wp Waypoint, speed float64) (WaypointResult, error) {
	target, err := home.Offset(wp.Target)
	if err != nil {
		return WaypointResult{}, fmt.Errorf("waypoint %d: %w", index, err)
	}

	log := c.log.With(slog.Int("waypoint", index))
	log.Info("go to waypoint",
		slog.Float64("north", wp.Target.North),
		slog.Float64("east", wp.Target.East),
		slog.Float64("up", wp.Target.Up),
		slog.Time("deadline", wp.Deadline))

	res := WaypointResult{
		Index:    index,
		Outcome:  OutcomeSpeedUpdatesExhausted,
		Target:   target,
		Deadline: wp.Deadline,
	}

	last := c.cfg.MaxSpeedUpdates - 1
	for i := 0; i <= last; i++ {
		if err := c.vehicle.Goto(ctx, target, speed); err != nil {
			return res, fmt.Errorf("waypoint %d: goto: %w", index, err)
		}
		pos, err := c.vehicle.Position(ctx)
		if err != nil {
			return res, fmt.Errorf("waypoint %d: position: %w", index, err)
		}

		now := c.clock.Now()
		remaining := geo.DistanceMetres(pos, target)
		res.Remaining = remaining
		res.Speed = speed
		at := TransitAttempt{
			Waypoint:  index,
			Update:    i,
			Target:    target,
			Position:  pos,
			Remaining: remaining,
			TimeLeft:  wp.Deadline.Sub(now),
			Speed:     speed,
		}

		if remaining <= c.cfg.ArrivalTolerance {
			c.obs.TransitTick(ctx, at)
			res.Outcome = OutcomeArrived
			break
		}
		if i == last {
			c.obs.TransitTick(ctx, at)
			break
		}

		next, err := c.cfg.Policy.Schedule(remaining, wp.Deadline, now)
		if errors.Is(err, ErrDivergentSpeedRequest) {
			at.Divergent = true
			log.Warn("deadline passed, using fallback speed",
				slog.Float64("remaining", remaining),
				slog.Duration("time_left", at.TimeLeft),
				slog.Float64("speed", next))
		}
		c.obs.TransitTick(ctx, at)
		log.Debug("speed update",
			slog.Int("update", i),
			slog.Float64("remaining", remaining),
			slog.Duration("time_left", at.TimeLeft),
			slog.Float64("speed", next))
		speed = next
		res.Speed = speed
		res.Updates++

		if err := c.clock.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return res, err
		}
	}

	res.Finished = c.clock.Now()
	if res.Outcome == OutcomeArrived {
		log.Info("reached waypoint", slog.Float64("remaining", res.Remaining), slog.Duration("lateness", res.Lateness()))
	} else {
		log.Warn("speed updates exhausted", slog.Float64("remaining", res.Remaining), slog.Int("updates", res.Updates))
	}
	c.obs.WaypointDone(ctx, res)

	if err := c.clock.Sleep(ctx, c.cfg.SettleDelay); err != nil {
		return res, err
	}
	return res, nil
}
