package nav

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OctaFlight/internal/geo"
)

// ErrDeadlinesNotIncreasing is returned when waypoint deadlines are not
// strictly increasing.
var ErrDeadlinesNotIncreasing = errors.New("waypoint deadlines not strictly increasing")

// Waypoint is a target offset from home plus the time to arrive there.
type Waypoint struct {
	Target   geo.Offset `json:"target"`
	Deadline time.Time  `json:"deadline"`
}

// ValidateWaypoints checks that deadlines strictly increase.
func ValidateWaypoints(wps []Waypoint) error {
	for i := 1; i < len(wps); i++ {
		if !wps[i].Deadline.After(wps[i-1].Deadline) {
			return fmt.Errorf("waypoint %d (%s) not after waypoint %d (%s): %w",
				i, wps[i].Deadline.Format(time.RFC3339Nano),
				i-1, wps[i-1].Deadline.Format(time.RFC3339Nano),
				ErrDeadlinesNotIncreasing)
		}
	}
	return nil
}

// Outcome is how a single waypoint transit ended.
type Outcome int

const (
	// OutcomeArrived means the vehicle came within the arrival tolerance.
	OutcomeArrived Outcome = iota + 1
	// OutcomeSpeedUpdatesExhausted means the update budget ran out first.
	// The waypoint is still treated as visited.
	OutcomeSpeedUpdatesExhausted
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeArrived:
		return "arrived"
	case OutcomeSpeedUpdatesExhausted:
		return "speed-updates-exhausted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText lets outcomes appear by name in JSON.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText parses the names produced by MarshalText.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "arrived":
		*o = OutcomeArrived
	case "speed-updates-exhausted":
		*o = OutcomeSpeedUpdatesExhausted
	default:
		return fmt.Errorf("unknown outcome %q", b)
	}
	return nil
}

// WaypointResult reports one transit.
type WaypointResult struct {
	Index     int          `json:"index"`
	Outcome   Outcome      `json:"outcome"`
	Target    geo.Location `json:"target"`
	Remaining float64      `json:"remaining_m"`
	// Updates counts speed recomputations, not goto commands.
	Updates  int       `json:"updates"`
	Speed    float64   `json:"speed"`
	Deadline time.Time `json:"deadline"`
	Finished time.Time `json:"finished"`
}

// Lateness is how long after the deadline the transit ended; negative
// when early.
func (r WaypointResult) Lateness() time.Duration {
	return r.Finished.Sub(r.Deadline)
}

// TransitAttempt is the controller's view of one polling tick.
type TransitAttempt struct {
	Waypoint  int           `json:"waypoint"`
	Update    int           `json:"update"`
	Target    geo.Location  `json:"target"`
	Position  geo.Location  `json:"position"`
	Remaining float64       `json:"remaining_m"`
	TimeLeft  time.Duration `json:"time_left"`
	// Speed is the groundspeed commanded on this tick.
	Speed     float64 `json:"speed"`
	Divergent bool    `json:"divergent,omitempty"`
}

// MissionState is owned by the Sequencer for the life of one mission.
type MissionState struct {
	Home  geo.Location `json:"home"`
	Index int          `json:"index"`
	Speed float64      `json:"speed"`
	Start time.Time    `json:"start"`
}

// Observer receives progress from the controller and sequencer. Calls are
// made synchronously on the flying goroutine.
type Observer interface {
	MissionStarted(ctx context.Context, st MissionState, waypoints []Waypoint)
	TransitTick(ctx context.Context, at TransitAttempt)
	WaypointDone(ctx context.Context, res WaypointResult)
	MissionFinished(ctx context.Context, results []WaypointResult, err error)
}

// Observers fans every call out to each element in order.
type Observers []Observer

func (obs Observers) MissionStarted(ctx context.Context, st MissionState, wps []Waypoint) {
	for _, o := range obs {
		o.MissionStarted(ctx, st, wps)
	}
}

func (obs Observers) TransitTick(ctx context.Context, at TransitAttempt) {
	for _, o := range obs {
		o.TransitTick(ctx, at)
	}
}

func (obs Observers) WaypointDone(ctx context.Context, res WaypointResult) {
	for _, o := range obs {
		o.WaypointDone(ctx, res)
	}
}

func (obs Observers) MissionFinished(ctx context.Context, results []WaypointResult, err error) {
	for _, o := range obs {
		o.MissionFinished(ctx, results, err)
	}
}
