package nav

import (
	"context"
	"log/slog"

	"OctaFlight/internal/geo"
)

// Sequencer flies an ordered list of waypoints through one Controller.
type Sequencer struct {
	ctl   *Controller
	state MissionState
}

// NewSequencer wraps ctl.
func NewSequencer(ctl *Controller) *Sequencer {
	return &Sequencer{ctl: ctl}
}

// State returns a copy of the current mission state.
func (s *Sequencer) State() MissionState { return s.state }

// RunMission visits waypoints in order, one transit at a time, each
// starting at initialSpeed. A transit that runs out of speed updates does
// not stop the mission. The returned slice holds one result per completed
// transit, also when an error cuts the mission short.
//
// home is captured once by the caller and used for every waypoint.
func (s *Sequencer) RunMission(ctx context.Context, home geo.Location, waypoints []Waypoint, initialSpeed float64) ([]WaypointResult, error) {
	log := s.ctl.log
	s.state = MissionState{
		Home:  home,
		Speed: initialSpeed,
		Start: s.ctl.clock.Now(),
	}

	if err := ValidateWaypoints(waypoints); err != nil {
		s.ctl.obs.MissionFinished(ctx, nil, err)
		return nil, err
	}

	log.Info("mission start",
		slog.Int("waypoints", len(waypoints)),
		slog.Float64("home_lat", home.Lat),
		slog.Float64("home_lon", home.Lon),
		slog.Float64("home_alt", home.Alt))
	s.ctl.obs.MissionStarted(ctx, s.state, waypoints)

	results := make([]WaypointResult, 0, len(waypoints))
	for i, wp := range waypoints {
		s.state.Index = i
		res, err := s.ctl.FlyToWaypoint(ctx, home, i, wp, initialSpeed)
		if err != nil {
			log.Error("mission aborted", slog.Int("waypoint", i), slog.Any("error", err))
			s.ctl.obs.MissionFinished(ctx, results, err)
			return results, err
		}
		s.state.Speed = res.Speed
		results = append(results, res)
	}

	log.Info("mission complete",
		slog.Int("waypoints", len(results)),
		slog.Duration("elapsed", s.ctl.clock.Now().Sub(s.state.Start)))
	s.ctl.obs.MissionFinished(ctx, results, nil)
	return results, nil
}
