// Package sim is a kinematic multicopter that behaves enough like an
// ArduCopter in GUIDED mode to fly missions against: it boots, arms, takes
// off, follows position targets at a commanded groundspeed and lands.
//
// There is no aerodynamics. Velocity tracks the desired velocity under an
// acceleration limit and position integrates velocity.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"OctaFlight/internal/geo"
)

var (
	ErrNotArmable      = errors.New("sim: vehicle not armable")
	ErrNotGuided       = errors.New("sim: command needs GUIDED mode and armed motors")
	ErrUnsupportedMode = errors.New("sim: unsupported mode")
)

// Modes the simulator understands.
var supportedModes = map[string]bool{
	"STABILIZE": true,
	"GUIDED":    true,
	"LOITER":    true,
	"LAND":      true,
	"RTL":       true,
}

// Config tunes the airframe.
type Config struct {
	Home         geo.Location  `yaml:"-"`
	BootDelay    time.Duration `yaml:"boot_delay"`
	DefaultSpeed float64       `yaml:"default_speed"`
	MaxSpeed     float64       `yaml:"max_speed"`
	MaxAccel     float64       `yaml:"max_accel"`
	ClimbRate    float64       `yaml:"climb_rate"`
	DescentRate  float64       `yaml:"descent_rate"`
	RTLAltitude  float64       `yaml:"rtl_altitude"`
	Start        time.Time     `yaml:"-"`
}

// DefaultConfig puts the copter at the ArduPilot SITL default location.
func DefaultConfig() Config {
	return Config{
		Home:         geo.Location{Lat: -35.363261, Lon: 149.165230, Alt: 584, Frame: geo.FrameAbsolute},
		BootDelay:    2 * time.Second,
		DefaultSpeed: 5,
		MaxSpeed:     15,
		MaxAccel:     5,
		ClimbRate:    2.5,
		DescentRate:  1.5,
		RTLAltitude:  15,
	}
}

// State is a snapshot of the simulated vehicle.
type State struct {
	Time     time.Time
	Mode     string
	Armed    bool
	Position Vec3
	Velocity Vec3
	Target   *Vec3
	Speed    float64
}

// Copter is safe for concurrent use; Step may run on a ticker goroutine
// while commands arrive from a MAVLink server.
type Copter struct {
	cfg Config
	ref GeoRef

	mu      sync.Mutex
	now     time.Time
	booted  time.Time
	mode    string
	armed   bool
	pos     Vec3
	vel     Vec3
	target  *Vec3
	speed   float64
	takeoff float64
}

// NewCopter returns a disarmed copter on the ground at cfg.Home in
// STABILIZE mode. Zero fields in cfg take DefaultConfig values.
func NewCopter(cfg Config) *Copter {
	def := DefaultConfig()
	if cfg.Home.Frame == geo.FrameUnknown {
		cfg.Home = def.Home
	}
	if cfg.DefaultSpeed <= 0 {
		cfg.DefaultSpeed = def.DefaultSpeed
	}
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = def.MaxSpeed
	}
	if cfg.MaxAccel <= 0 {
		cfg.MaxAccel = def.MaxAccel
	}
	if cfg.ClimbRate <= 0 {
		cfg.ClimbRate = def.ClimbRate
	}
	if cfg.DescentRate <= 0 {
		cfg.DescentRate = def.DescentRate
	}
	if cfg.RTLAltitude <= 0 {
		cfg.RTLAltitude = def.RTLAltitude
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	return &Copter{
		cfg:    cfg,
		ref:    GeoRef{Lat: cfg.Home.Lat, Lon: cfg.Home.Lon, Alt: cfg.Home.Alt},
		now:    cfg.Start,
		booted: cfg.Start.Add(cfg.BootDelay),
		mode:   "STABILIZE",
	}
}

// Now returns simulated time.
func (c *Copter) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Snapshot returns the current state.
func (c *Copter) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		Time:     c.now,
		Mode:     c.mode,
		Armed:    c.armed,
		Position: c.pos,
		Velocity: c.vel,
		Speed:    c.speed,
	}
	if c.target != nil {
		t := *c.target
		st.Target = &t
	}
	return st
}

// Step advances the simulation by dt.
func (c *Copter) Step(dt time.Duration) {
	if dt <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(dt)
	s := dt.Seconds()

	if !c.armed {
		c.vel = Vec3{}
		return
	}

	var desired Vec3
	switch c.mode {
	case "GUIDED":
		desired = c.guidedVelocity()
	case "LAND":
		desired = Vec3{Z: -c.cfg.DescentRate}
	case "RTL":
		desired = c.rtlVelocity()
	default:
		// hold position
	}

	step := c.cfg.MaxAccel * s
	c.vel = Vec3{
		X: approach(c.vel.X, desired.X, step),
		Y: approach(c.vel.Y, desired.Y, step),
		Z: desired.Z,
	}
	next := c.pos.Add(c.vel.Mul(s))

	// do not overshoot the target
	if c.mode == "GUIDED" && c.target != nil {
		before := c.target.Sub(c.pos).Horizontal().Norm()
		if moved := next.Sub(c.pos).Horizontal().Norm(); moved >= before {
			next.X, next.Y = c.target.X, c.target.Y
			c.vel.X, c.vel.Y = 0, 0
		}
		if (c.vel.Z > 0 && next.Z > c.target.Z) || (c.vel.Z < 0 && next.Z < c.target.Z) {
			next.Z = c.target.Z
		}
	}
	c.pos = next

	if c.pos.Z <= 0 {
		c.pos.Z = 0
		c.vel.Z = 0
		if c.mode == "LAND" || (c.mode == "RTL" && c.pos.Horizontal().Norm() < 0.5) {
			c.armed = false
			c.target = nil
			c.takeoff = 0
		}
	}
}

func (c *Copter) guidedVelocity() Vec3 {
	if c.takeoff > 0 && c.target == nil {
		if c.pos.Z < c.takeoff {
			return Vec3{Z: math.Min(c.cfg.ClimbRate, (c.takeoff-c.pos.Z)*4)}
		}
		return Vec3{}
	}
	if c.target == nil {
		return Vec3{}
	}
	return c.velocityToward(*c.target, c.speed)
}

func (c *Copter) rtlVelocity() Vec3 {
	if c.pos.Horizontal().Norm() > 0.5 {
		if c.pos.Z < c.cfg.RTLAltitude-0.5 {
			return Vec3{Z: c.cfg.ClimbRate}
		}
		return c.velocityToward(Vec3{Z: c.pos.Z}, c.cfg.DefaultSpeed)
	}
	return Vec3{Z: -c.cfg.DescentRate}
}

// velocityToward flies horizontally at speed, slowing so the copter can
// stop at target, and climbs or descends at the climb rate.
func (c *Copter) velocityToward(target Vec3, speed float64) Vec3 {
	delta := target.Sub(c.pos)
	h := delta.Horizontal()
	dist := h.Norm()

	var v Vec3
	if dist > 1e-6 {
		brake := math.Sqrt(2 * c.cfg.MaxAccel * dist)
		sp := math.Min(speed, brake)
		v = h.Mul(sp / dist)
	}
	v.Z = math.Max(-c.cfg.ClimbRate, math.Min(c.cfg.ClimbRate, delta.Z*2))
	return v
}

// Run steps the copter in real time every period until ctx is done.
func (c *Copter) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = 50 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			c.Step(t.Sub(last))
			last = t
		}
	}
}

// The methods below implement flight.Autopilot.

func (c *Copter) Position(context.Context) (geo.Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ref.ToGeo(c.pos, geo.FrameAbsolute), nil
}

func (c *Copter) RelativePosition(context.Context) (geo.Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ref.ToGeo(c.pos, geo.FrameRelativeToHome), nil
}

func (c *Copter) FlightMode(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode, nil
}

func (c *Copter) IsArmable(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now.Before(c.booted), nil
}

func (c *Copter) Armed(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed, nil
}

func (c *Copter) Arm(_ context.Context, arm bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !arm {
		if c.pos.Z > 0.1 {
			return fmt.Errorf("sim: refusing to disarm at %.1f m", c.pos.Z)
		}
		c.armed = false
		return nil
	}
	if c.now.Before(c.booted) {
		return ErrNotArmable
	}
	c.armed = true
	return nil
}

func (c *Copter) SetMode(_ context.Context, mode string) error {
	if !supportedModes[mode] {
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode != c.mode {
		c.target = nil
	}
	c.mode = mode
	return nil
}

func (c *Copter) Takeoff(_ context.Context, altitude float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed || c.mode != "GUIDED" {
		return ErrNotGuided
	}
	c.takeoff = altitude
	c.target = nil
	return nil
}

// Goto sets a position target. A groundspeed of zero keeps the previous
// speed, or the default speed if none was set.
func (c *Copter) Goto(_ context.Context, loc geo.Location, groundspeed float64) error {
	p, err := c.ref.ToLocal(loc)
	if err != nil {
		return fmt.Errorf("sim goto: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed || c.mode != "GUIDED" {
		return ErrNotGuided
	}
	switch {
	case groundspeed > 0:
		c.speed = math.Min(groundspeed, c.cfg.MaxSpeed)
	case c.speed <= 0:
		c.speed = c.cfg.DefaultSpeed
	}
	c.target = &p
	return nil
}
