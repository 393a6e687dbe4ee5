package nav

import (
	"context"
	"errors"
	"time"

	"OctaFlight/internal/geo"
)

var errLinkDown = errors.New("link down")

type gotoCall struct {
	loc   geo.Location
	speed float64
}

// fakeVehicle reports positions from a script; once the script is used up
// the last position repeats. With teleport set it is always exactly where
// it was last sent.
type fakeVehicle struct {
	teleport  bool
	positions []geo.Location
	reads     int
	gotos     []gotoCall
	gotoErr   error
	posErr    error
}

func (v *fakeVehicle) Position(context.Context) (geo.Location, error) {
	if v.posErr != nil {
		return geo.Location{}, v.posErr
	}
	if v.teleport && len(v.gotos) > 0 {
		v.reads++
		return v.gotos[len(v.gotos)-1].loc, nil
	}
	i := v.reads
	if i >= len(v.positions) {
		i = len(v.positions) - 1
	}
	v.reads++
	return v.positions[i], nil
}

func (v *fakeVehicle) FlightMode(context.Context) (string, error) { return "GUIDED", nil }

func (v *fakeVehicle) Goto(_ context.Context, loc geo.Location, speed float64) error {
	if v.gotoErr != nil {
		return v.gotoErr
	}
	v.gotos = append(v.gotos, gotoCall{loc: loc, speed: speed})
	return nil
}

// fakeClock advances only when slept on.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// recorder is an Observer that keeps everything it is told.
type recorder struct {
	started  []MissionState
	ticks    []TransitAttempt
	done     []WaypointResult
	finished int
	lastErr  error
}

func (r *recorder) MissionStarted(_ context.Context, st MissionState, _ []Waypoint) {
	r.started = append(r.started, st)
}
func (r *recorder) TransitTick(_ context.Context, at TransitAttempt) { r.ticks = append(r.ticks, at) }
func (r *recorder) WaypointDone(_ context.Context, res WaypointResult) {
	r.done = append(r.done, res)
}
func (r *recorder) MissionFinished(_ context.Context, _ []WaypointResult, err error) {
	r.finished++
	r.lastErr = err
}

var testHome = geo.Location{Lat: -35.363261, Lon: 149.165230, Alt: 10, Frame: geo.FrameRelativeToHome}

func mustOffset(t interface{ Fatalf(string, ...any) }, o geo.Offset) geo.Location {
	loc, err := testHome.Offset(o)
	if err != nil {
		t.Fatalf("Offset(%+v): %v", o, err)
	}
	return loc
}
