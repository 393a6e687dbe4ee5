// Package mission loads flight plans: a list of timed offsets from home,
// written out in YAML or generated as an octahedron tour.
package mission

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"OctaFlight/internal/geo"
	"OctaFlight/internal/nav"
)

var (
	ErrEmptyPlan     = errors.New("mission: plan has neither waypoints nor octahedron")
	ErrAmbiguousPlan = errors.New("mission: plan has both waypoints and octahedron")
)

// Leg is one waypoint: an offset from home and the time after mission
// start by which it should be reached.
type Leg struct {
	North float64       `yaml:"north"`
	East  float64       `yaml:"east"`
	Up    float64       `yaml:"up"`
	At    time.Duration `yaml:"at"`
}

// Offset returns the leg's target.
func (l Leg) Offset() geo.Offset {
	return geo.Offset{North: l.North, East: l.East, Up: l.Up}
}

// Plan is the mission file.
type Plan struct {
	Name            string      `yaml:"name"`
	TakeoffAltitude float64     `yaml:"takeoff_altitude"`
	InitialSpeed    float64     `yaml:"initial_speed"`
	Waypoints       []Leg       `yaml:"waypoints"`
	Octahedron      *Octahedron `yaml:"octahedron"`
}

// Default is the octahedron mission flown at 10 m starting at 1 m/s.
func Default() Plan {
	o := DefaultOctahedron()
	return Plan{
		Name:            "octahedron",
		TakeoffAltitude: 10,
		InitialSpeed:    1,
		Octahedron:      &o,
	}
}

// Load reads a plan from a YAML file.
func Load(path string) (Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read mission: %w", err)
	}
	p, err := Parse(b)
	if err != nil {
		return Plan{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a YAML plan. Missing altitude and speed
// take the Default values.
func Parse(b []byte) (Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Plan{}, fmt.Errorf("parse mission: %w", err)
	}
	def := Default()
	if p.TakeoffAltitude <= 0 {
		p.TakeoffAltitude = def.TakeoffAltitude
	}
	if p.InitialSpeed <= 0 {
		p.InitialSpeed = def.InitialSpeed
	}
	if p.Octahedron != nil {
		if p.Octahedron.Radius <= 0 {
			p.Octahedron.Radius = def.Octahedron.Radius
		}
		if p.Octahedron.Interval <= 0 {
			p.Octahedron.Interval = def.Octahedron.Interval
		}
	}
	if _, err := p.Legs(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Legs returns the plan's legs in flying order.
func (p Plan) Legs() ([]Leg, error) {
	switch {
	case p.Octahedron != nil && len(p.Waypoints) > 0:
		return nil, ErrAmbiguousPlan
	case p.Octahedron != nil:
		return p.Octahedron.Legs(), nil
	case len(p.Waypoints) == 0:
		return nil, ErrEmptyPlan
	}
	var prev time.Duration
	for i, l := range p.Waypoints {
		if l.At <= prev {
			return nil, fmt.Errorf("waypoint %d at %v: %w", i, l.At, nav.ErrDeadlinesNotIncreasing)
		}
		prev = l.At
	}
	return p.Waypoints, nil
}

// Schedule turns the plan into waypoints with absolute deadlines counted
// from start.
func (p Plan) Schedule(start time.Time) ([]nav.Waypoint, error) {
	legs, err := p.Legs()
	if err != nil {
		return nil, err
	}
	wps := make([]nav.Waypoint, len(legs))
	for i, l := range legs {
		wps[i] = nav.Waypoint{Target: l.Offset(), Deadline: start.Add(l.At)}
	}
	return wps, nil
}
