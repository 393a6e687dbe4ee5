package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"OctaFlight/internal/mavlink"
	"OctaFlight/internal/model"
	"OctaFlight/internal/store"
)

// LinkSource supplies the latest vehicle telemetry.
type LinkSource interface {
	Telemetry() mavlink.Telemetry
}

// RunSource reads the flight log.
type RunSource interface {
	Latest() (*model.RunRecord, error)
	Get(id uint64) (*model.RunRecord, error)
	List(limit int) ([]model.RunRecord, error)
}

// Server exposes the hub and the flight log over HTTP:
//
//	GET /ws              websocket event stream
//	GET /api/status      vehicle and mission status
//	GET /api/runs        recent runs, ?limit=n
//	GET /api/runs/latest last run
//	GET /api/runs/{id}   one run
//	GET /metrics         Prometheus metrics
type Server struct {
	Addr string

	hub     *Hub
	link    LinkSource
	runs    RunSource
	metrics http.Handler
	log     *slog.Logger
	server  *http.Server
}

// ServerOption configures optional sources on a Server.
type ServerOption func(*Server)

func WithLink(l LinkSource) ServerOption      { return func(s *Server) { s.link = l } }
func WithRuns(r RunSource) ServerOption       { return func(s *Server) { s.runs = r } }
func WithMetrics(h http.Handler) ServerOption { return func(s *Server) { s.metrics = h } }
func WithLogger(l *slog.Logger) ServerOption  { return func(s *Server) { s.log = l } }

// NewServer constructs a Server listening on addr.
func NewServer(addr string, hub *Hub, opts ...ServerOption) *Server {
	s := &Server{Addr: addr, hub: hub}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	s.log = s.log.With("component", "telemetry")
	s.server = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler returns the routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.hub)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/latest", s.handleLatest)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Start serves until Stop is called. It blocks.
func (s *Server) Start() error {
	s.log.Info("listening", "addr", s.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("telemetry server: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down and disconnects websocket clients.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Warn("shutdown", "err", err)
	}
	s.hub.Close()
}

// VehicleStatus is the link telemetry as served by /api/status.
type VehicleStatus struct {
	Connected   bool      `json:"connected"`
	SystemID    uint8     `json:"system_id,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	Armed       bool      `json:"armed"`
	State       string    `json:"state,omitempty"`
	Fix         string    `json:"fix,omitempty"`
	Satellites  int       `json:"satellites"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Alt         float64   `json:"alt"`
	RelativeAlt float64   `json:"relative_alt"`
	Groundspeed float64   `json:"groundspeed"`
	Heartbeat   time.Time `json:"heartbeat"`
}

func vehicleStatus(t mavlink.Telemetry) VehicleStatus {
	if t.Heartbeat.IsZero() {
		return VehicleStatus{}
	}
	return VehicleStatus{
		Connected:   true,
		SystemID:    t.SystemID,
		Mode:        t.Mode,
		Armed:       t.Armed,
		State:       fmt.Sprint(t.SystemStatus),
		Fix:         fmt.Sprint(t.FixType),
		Satellites:  t.Satellites,
		Lat:         t.Lat,
		Lon:         t.Lon,
		Alt:         t.Alt,
		RelativeAlt: t.RelativeAlt,
		Groundspeed: t.Groundspeed,
		Heartbeat:   t.Heartbeat,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Vehicle *VehicleStatus `json:"vehicle,omitempty"`
		Mission MissionStatus  `json:"mission"`
		Clients int            `json:"clients"`
	}{Mission: s.hub.Status(), Clients: s.hub.Clients()}
	if s.link != nil {
		v := vehicleStatus(s.link.Telemetry())
		resp.Vehicle = &v
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "flight log disabled", http.StatusNotFound)
		return
	}
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.runs.List(limit)
	if err != nil {
		s.runError(w, err)
		return
	}
	if runs == nil {
		runs = []model.RunRecord{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	if s.runs == nil {
		http.Error(w, "flight log disabled", http.StatusNotFound)
		return
	}
	rec, err := s.runs.Latest()
	if err != nil {
		s.runError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "flight log disabled", http.StatusNotFound)
		return
	}
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}
	rec, err := s.runs.Get(id)
	if err != nil {
		s.runError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) runError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "no such run", http.StatusNotFound)
		return
	}
	s.log.Error("read flight log", "err", err)
	http.Error(w, "failed to read flight log", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", "err", err)
	}
}
