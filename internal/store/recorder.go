package store

import (
	"context"
	"log/slog"
	"sync"

	"OctaFlight/internal/model"
	"OctaFlight/internal/nav"
)

// Recorder writes missions to a Store as they fly. Write failures are
// logged and never interrupt the mission.
type Recorder struct {
	st    *Store
	name  string
	clock nav.Clock
	log   *slog.Logger

	mu     sync.Mutex
	cur    *model.RunRecord
	active bool
}

// NewRecorder returns a Recorder that names runs name.
func NewRecorder(st *Store, name string, clock nav.Clock, log *slog.Logger) *Recorder {
	if clock == nil {
		clock = nav.WallClock()
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Recorder{st: st, name: name, clock: clock, log: log.With("component", "store")}
}

// CurrentID is the ID of the mission in flight, or of the last one flown.
// Zero means nothing has been recorded.
func (r *Recorder) CurrentID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return 0
	}
	return r.cur.ID
}

func (r *Recorder) MissionStarted(_ context.Context, st nav.MissionState, wps []nav.Waypoint) {
	rec := &model.RunRecord{
		Name:      r.name,
		Start:     st.Start,
		Home:      st.Home,
		Planned:   len(wps),
		Waypoints: []model.WaypointRecord{},
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur, r.active = rec, true
	id, err := r.st.Create(rec)
	if err != nil {
		r.log.Error("record mission start", "err", err)
		return
	}
	r.log.Info("recording mission", "run", id, "waypoints", len(wps))
}

func (r *Recorder) TransitTick(context.Context, nav.TransitAttempt) {}

func (r *Recorder) WaypointDone(_ context.Context, res nav.WaypointResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.cur.Waypoints = append(r.cur.Waypoints, model.NewWaypointRecord(res))
	r.save()
}

func (r *Recorder) MissionFinished(_ context.Context, _ []nav.WaypointResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		// rejected before it started
		return
	}
	r.active = false
	r.cur.End = r.clock.Now()
	if err != nil {
		r.cur.Error = err.Error()
	}
	r.save()
}

// save must be called with mu held.
func (r *Recorder) save() {
	if r.cur.ID == 0 {
		return
	}
	if err := r.st.Save(r.cur); err != nil {
		r.log.Error("record mission", "run", r.cur.ID, "err", err)
	}
}
