// Package core wires the configured components into one runtime: the
// vehicle link, the flight lifecycle, the mission controller and the
// observers that publish and record its progress.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"OctaFlight/internal/flight"
	"OctaFlight/internal/mavlink"
	"OctaFlight/internal/metrics"
	"OctaFlight/internal/mission"
	"OctaFlight/internal/model"
	"OctaFlight/internal/nav"
	"OctaFlight/internal/store"
	"OctaFlight/internal/telemetry"
	"OctaFlight/internal/util"
)

// ErrNotStarted is returned by Fly before Start has connected a vehicle.
var ErrNotStarted = errors.New("core: system not started")

// System manages the lifecycle of every component built from a Config.
type System struct {
	cfg  *model.Config
	plan mission.Plan
	log  *slog.Logger

	logCloser io.Closer
	registry  prometheus.Registerer
	clock     nav.Clock

	ap    flight.Autopilot
	link  *mavlink.Link
	pilot *flight.Pilot
	seq   *nav.Sequencer

	Hub      *telemetry.Hub
	Metrics  *metrics.Collector
	Store    *store.Store
	Recorder *store.Recorder
	Server   *telemetry.Server

	started   bool
	startLock sync.Mutex
	serveErr  chan error
}

// Option adjusts how a System is built.
type Option func(*System)

// WithAutopilot flies ap instead of dialing cfg.Vehicle.Connection. The
// clock paces the controller; nil means wall time.
func WithAutopilot(ap flight.Autopilot, clock nav.Clock) Option {
	return func(s *System) { s.ap, s.clock = ap, clock }
}

// WithLogger replaces the logger built from cfg.Log.
func WithLogger(l *slog.Logger) Option { return func(s *System) { s.log = l } }

// WithRegistry registers metrics with reg instead of the default registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(s *System) { s.registry = reg }
}

// NewSystem loads the mission plan and constructs the observers. Nothing
// is connected or served until Start.
func NewSystem(cfg *model.Config, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &System{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		l, closer, err := util.NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		s.log, s.logCloser = l, closer
	}
	if s.clock == nil {
		s.clock = nav.WallClock()
	}

	plan := mission.Default()
	if cfg.Mission.File != "" {
		p, err := mission.Load(cfg.Mission.File)
		if err != nil {
			return nil, err
		}
		plan = p
	}
	s.plan = plan

	m, err := metrics.NewCollector(s.registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	s.Metrics = m

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s.Store = st
		s.Recorder = store.NewRecorder(st, plan.Name, s.clock, s.log)
	}

	var runID func() uint64
	if s.Recorder != nil {
		runID = s.Recorder.CurrentID
	}
	s.Hub = telemetry.NewHub(s.clock, runID, s.log)
	return s, nil
}

// Plan returns the mission that Fly will run.
func (s *System) Plan() mission.Plan { return s.plan }

// Start connects to the vehicle and launches the telemetry server in the
// background.
func (s *System) Start() error {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if s.started {
		return nil
	}

	if s.ap == nil {
		link, err := mavlink.Dial(s.cfg.Vehicle, s.log)
		if err != nil {
			return err
		}
		s.link, s.ap = link, link
	}
	s.buildMission()

	if addr := s.cfg.Telemetry.Addr; addr != "" {
		opts := []telemetry.ServerOption{
			telemetry.WithMetrics(s.Metrics.Handler()),
			telemetry.WithLogger(s.log),
		}
		if s.link != nil {
			opts = append(opts, telemetry.WithLink(s.link))
		}
		if s.Store != nil {
			opts = append(opts, telemetry.WithRuns(s.Store))
		}
		s.Server = telemetry.NewServer(addr, s.Hub, opts...)
		s.serveErr = make(chan error, 1)
		go func() { s.serveErr <- s.Server.Start() }()
	}
	s.started = true
	return nil
}

func (s *System) buildMission() {
	obs := []nav.Observer{s.Metrics}
	if s.Recorder != nil {
		// the recorder allocates the run ID the hub stamps on its events
		obs = append(obs, s.Recorder)
	}
	obs = append(obs, s.Hub)

	ctl := nav.NewController(s.ap, s.cfg.Controller,
		nav.WithClock(s.clock),
		nav.WithLogger(s.log),
		nav.WithObserver(obs...))
	s.seq = nav.NewSequencer(ctl)
	s.pilot = flight.NewPilot(s.ap, s.clock, s.cfg.Waits, s.log)
}

// Fly runs the whole flight: wait for the vehicle, arm and take off, fly
// the mission, then land or return to launch. The finish step runs even
// when the mission fails or ctx is cancelled, as long as the vehicle is
// armed.
func (s *System) Fly(ctx context.Context) ([]nav.WaypointResult, error) {
	s.startLock.Lock()
	started := s.started
	s.startLock.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	log := s.log.With("component", "core")

	if s.link != nil {
		log.Info("waiting for vehicle", "connection", s.cfg.Vehicle.Connection)
		if err := s.link.WaitReady(ctx, s.cfg.Vehicle.Ready); err != nil {
			return nil, err
		}
	}

	results, err := s.mission(ctx, log)
	if ferr := s.finish(ctx, log); ferr != nil {
		err = errors.Join(err, ferr)
	}
	return results, err
}

func (s *System) mission(ctx context.Context, log *slog.Logger) ([]nav.WaypointResult, error) {
	if err := s.pilot.ArmAndTakeoff(ctx, s.plan.TakeoffAltitude); err != nil {
		return nil, fmt.Errorf("takeoff: %w", err)
	}
	home, err := s.ap.RelativePosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("read home: %w", err)
	}
	wps, err := s.plan.Schedule(s.clock.Now())
	if err != nil {
		return nil, err
	}
	log.Info("starting mission", "name", s.plan.Name, "waypoints", len(wps), "initial_speed", s.plan.InitialSpeed)
	return s.seq.RunMission(ctx, home, wps, s.plan.InitialSpeed)
}

func (s *System) finish(ctx context.Context, log *slog.Logger) error {
	// land even after an operator abort
	ctx = context.WithoutCancel(ctx)
	armed, err := s.ap.Armed(ctx)
	if err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	if !armed {
		return nil
	}
	if s.cfg.Mission.Finish == "rtl" {
		log.Info("returning to launch")
		return s.pilot.ReturnToLaunch(ctx)
	}
	log.Info("landing")
	return s.pilot.Land(ctx)
}

// Stop shuts every component down. It is safe to call more than once.
func (s *System) Stop() {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if s.Server != nil {
		s.Server.Stop()
		if err := <-s.serveErr; err != nil {
			s.log.Error("telemetry server", "err", err)
		}
		s.Server = nil
	}
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			s.log.Warn("close link", "err", err)
		}
		s.link = nil
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			s.log.Warn("close flight log", "err", err)
		}
	}
	s.started = false
	if s.logCloser != nil {
		_ = s.logCloser.Close()
		s.logCloser = nil
	}
}
