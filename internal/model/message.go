package model

import (
	"time"

	"OctaFlight/internal/geo"
	"OctaFlight/internal/nav"
)

// Event types carried in Event.Type.
const (
	EventMissionStarted  = "mission_started"
	EventTransitTick     = "tick"
	EventWaypointDone    = "waypoint"
	EventMissionFinished = "mission_finished"
)

// Event is one message on the telemetry websocket. Exactly one of the
// payload fields is set, matching Type.
type Event struct {
	Type     string          `json:"type"`
	Run      uint64          `json:"run,omitempty"`
	Time     time.Time       `json:"time"`
	Mission  *MissionInfo    `json:"mission,omitempty"`
	Tick     *TickInfo       `json:"tick,omitempty"`
	Waypoint *WaypointRecord `json:"waypoint,omitempty"`
	Finished *FinishInfo     `json:"finished,omitempty"`
}

// MissionInfo describes a mission as it starts.
type MissionInfo struct {
	Home      geo.Location `json:"home"`
	Waypoints int          `json:"waypoints"`
	Speed     float64      `json:"initial_speed"`
}

// TickInfo is one controller poll.
type TickInfo struct {
	Waypoint  int          `json:"waypoint"`
	Update    int          `json:"update"`
	Position  geo.Location `json:"position"`
	Remaining float64      `json:"remaining_m"`
	TimeLeft  float64      `json:"time_left_s"`
	Speed     float64      `json:"speed"`
	Divergent bool         `json:"divergent,omitempty"`
}

// WaypointRecord is the outcome of one transit, as published and stored.
type WaypointRecord struct {
	Index     int         `json:"index"`
	Outcome   nav.Outcome `json:"outcome"`
	Remaining float64     `json:"remaining_m"`
	Updates   int         `json:"updates"`
	Speed     float64     `json:"speed"`
	Deadline  time.Time   `json:"deadline"`
	Finished  time.Time   `json:"finished"`
	Lateness  float64     `json:"lateness_s"`
}

// FinishInfo closes a mission.
type FinishInfo struct {
	Arrived   int    `json:"arrived"`
	Exhausted int    `json:"exhausted"`
	Error     string `json:"error,omitempty"`
}

// RunRecord is a whole mission as kept in the flight log.
type RunRecord struct {
	ID        uint64           `json:"id"`
	Name      string           `json:"name,omitempty"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	Home      geo.Location     `json:"home"`
	Planned   int              `json:"planned"`
	Waypoints []WaypointRecord `json:"waypoints"`
	Error     string           `json:"error,omitempty"`
}

// NewTickInfo converts a controller poll.
func NewTickInfo(at nav.TransitAttempt) *TickInfo {
	return &TickInfo{
		Waypoint:  at.Waypoint,
		Update:    at.Update,
		Position:  at.Position,
		Remaining: at.Remaining,
		TimeLeft:  at.TimeLeft.Seconds(),
		Speed:     at.Speed,
		Divergent: at.Divergent,
	}
}

// NewWaypointRecord converts a transit result.
func NewWaypointRecord(res nav.WaypointResult) WaypointRecord {
	return WaypointRecord{
		Index:     res.Index,
		Outcome:   res.Outcome,
		Remaining: res.Remaining,
		Updates:   res.Updates,
		Speed:     res.Speed,
		Deadline:  res.Deadline,
		Finished:  res.Finished,
		Lateness:  res.Lateness().Seconds(),
	}
}

// NewFinishInfo tallies outcomes.
func NewFinishInfo(results []nav.WaypointResult, err error) *FinishInfo {
	f := &FinishInfo{}
	for _, r := range results {
		switch r.Outcome {
		case nav.OutcomeArrived:
			f.Arrived++
		case nav.OutcomeSpeedUpdatesExhausted:
			f.Exhausted++
		}
	}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}
