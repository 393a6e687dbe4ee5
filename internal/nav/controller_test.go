package nav

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"OctaFlight/internal/geo"
)

func testConfig(updates int) ControllerConfig {
	return ControllerConfig{
		MaxSpeedUpdates:  updates,
		ArrivalTolerance: 1.5,
		PollInterval:     time.Second,
		SettleDelay:      time.Second,
	}
}

func TestFlyToWaypointArrivesOnFirstTick(t *testing.T) {
	wp := Waypoint{Target: geo.Offset{North: 5, East: 5, Up: 7}, Deadline: t0.Add(10 * time.Second)}
	target := mustOffset(t, wp.Target)
	near, _ := geo.OffsetLocation(target, 1, 0, 0)

	v := &fakeVehicle{positions: []geo.Location{near}}
	clock := newFakeClock()
	rec := &recorder{}
	ctl := NewController(v, testConfig(10), WithClock(clock), WithObserver(rec))

	res, err := ctl.FlyToWaypoint(context.Background(), testHome, 0, wp, 1)
	if err != nil {
		t.Fatalf("FlyToWaypoint: %v", err)
	}
	if res.Outcome != OutcomeArrived {
		t.Fatalf("outcome = %v, want arrived", res.Outcome)
	}
	if len(v.gotos) != 1 {
		t.Fatalf("goto calls = %d, want 1", len(v.gotos))
	}
	if res.Updates != 0 {
		t.Fatalf("speed updates = %d, want 0", res.Updates)
	}
	if v.gotos[0].speed != 1 || v.gotos[0].loc != target {
		t.Fatalf("goto = %+v, want %+v at 1 m/s", v.gotos[0], target)
	}
	// only the settle pause
	if len(clock.sleeps) != 1 {
		t.Fatalf("sleeps = %v, want just the settle delay", clock.sleeps)
	}
	if len(rec.ticks) != 1 || len(rec.done) != 1 {
		t.Fatalf("observer ticks/done = %d/%d, want 1/1", len(rec.ticks), len(rec.done))
	}
}

func TestFlyToWaypointExhaustsBudget(t *testing.T) {
	wp := Waypoint{Target: geo.Offset{North: 100}, Deadline: t0.Add(10 * time.Second)}
	// the vehicle never moves from home
	v := &fakeVehicle{positions: []geo.Location{testHome}}
	clock := newFakeClock()
	clock.now = t0
	ctl := NewController(v, testConfig(3), WithClock(clock))

	res, err := ctl.FlyToWaypoint(context.Background(), testHome, 4, wp, 1)
	if err != nil {
		t.Fatalf("FlyToWaypoint: %v", err)
	}
	if res.Outcome != OutcomeSpeedUpdatesExhausted {
		t.Fatalf("outcome = %v, want exhausted", res.Outcome)
	}
	if len(v.gotos) != 3 {
		t.Fatalf("goto calls = %d, want 3", len(v.gotos))
	}
	if res.Updates != 2 {
		t.Fatalf("speed updates = %d, want 2", res.Updates)
	}
	if res.Index != 4 {
		t.Fatalf("index = %d, want 4", res.Index)
	}

	// 100 m with 10 s left, then with 9 s left
	want := []float64{1, 10, 100.0 / 9}
	for i, g := range v.gotos {
		if math.Abs(g.speed-want[i]) > 0.01 {
			t.Fatalf("goto %d speed = %v, want %v", i, g.speed, want[i])
		}
	}
	if got := clock.now.Sub(t0); got != 3*time.Second {
		t.Fatalf("elapsed = %v, want two polls plus settle", got)
	}
	if res.Finished != t0.Add(2*time.Second) {
		t.Fatalf("finished = %v, want %v", res.Finished, t0.Add(2*time.Second))
	}
}

func TestFlyToWaypointSingleUpdateBudget(t *testing.T) {
	wp := Waypoint{Target: geo.Offset{East: 50}, Deadline: t0.Add(time.Minute)}
	v := &fakeVehicle{positions: []geo.Location{testHome}}
	ctl := NewController(v, testConfig(0), WithClock(newFakeClock()))

	res, err := ctl.FlyToWaypoint(context.Background(), testHome, 0, wp, 2)
	if err != nil {
		t.Fatalf("FlyToWaypoint: %v", err)
	}
	if len(v.gotos) != 1 || res.Updates != 0 {
		t.Fatalf("gotos/updates = %d/%d, want 1/0", len(v.gotos), res.Updates)
	}
}

func TestFlyToWaypointArrivesMidway(t *testing.T) {
	wp := Waypoint{Target: geo.Offset{North: 20}, Deadline: t0.Add(20 * time.Second)}
	halfway := mustOffset(t, geo.Offset{North: 10})
	target := mustOffset(t, wp.Target)
	v := &fakeVehicle{positions: []geo.Location{testHome, halfway, target}}
	clock := newFakeClock()
	clock.now = t0
	rec := &recorder{}
	ctl := NewController(v, testConfig(10), WithClock(clock), WithObserver(rec))

	res, err := ctl.FlyToWaypoint(context.Background(), testHome, 1, wp, 1)
	if err != nil {
		t.Fatalf("FlyToWaypoint: %v", err)
	}
	if res.Outcome != OutcomeArrived || len(v.gotos) != 3 || res.Updates != 2 {
		t.Fatalf("outcome/gotos/updates = %v/%d/%d, want arrived/3/2", res.Outcome, len(v.gotos), res.Updates)
	}
	if len(rec.ticks) != 3 {
		t.Fatalf("ticks = %d, want 3", len(rec.ticks))
	}
	if rec.ticks[1].Remaining < 9 || rec.ticks[1].Remaining > 11 {
		t.Fatalf("halfway remaining = %v, want ~10", rec.ticks[1].Remaining)
	}
}

func TestFlyToWaypointLateUsesFallbackSpeed(t *testing.T) {
	wp := Waypoint{Target: geo.Offset{North: 100}, Deadline: t0.Add(-time.Second)}
	v := &fakeVehicle{positions: []geo.Location{testHome}}
	clock := newFakeClock()
	clock.now = t0
	rec := &recorder{}
	cfg := testConfig(3)
	cfg.Policy = SpeedPolicy{MaxSpeed: 6}
	ctl := NewController(v, cfg, WithClock(clock), WithObserver(rec))

	if _, err := ctl.FlyToWaypoint(context.Background(), testHome, 0, wp, 1); err != nil {
		t.Fatalf("FlyToWaypoint: %v", err)
	}
	for i, g := range v.gotos[1:] {
		if g.speed != 6 {
			t.Fatalf("goto %d speed = %v, want fallback 6", i+1, g.speed)
		}
	}
	if !rec.ticks[0].Divergent || !rec.ticks[1].Divergent {
		t.Fatalf("ticks not flagged divergent: %+v", rec.ticks)
	}
	if rec.ticks[2].Divergent {
		t.Fatalf("final tick computes no speed, should not be flagged")
	}
}

func TestFlyToWaypointRejectsBadHome(t *testing.T) {
	v := &fakeVehicle{positions: []geo.Location{testHome}}
	ctl := NewController(v, testConfig(3), WithClock(newFakeClock()))
	home := testHome.WithFrame(geo.FrameUnknown)

	_, err := ctl.FlyToWaypoint(context.Background(), home, 0, Waypoint{Deadline: t0}, 1)
	if !errors.Is(err, geo.ErrInvalidLocationKind) {
		t.Fatalf("err = %v, want ErrInvalidLocationKind", err)
	}
	if len(v.gotos) != 0 {
		t.Fatalf("goto calls = %d, want 0", len(v.gotos))
	}
}

func TestFlyToWaypointPropagatesLinkErrors(t *testing.T) {
	wp := Waypoint{Target: geo.Offset{North: 10}, Deadline: t0.Add(time.Minute)}

	v := &fakeVehicle{gotoErr: errLinkDown}
	ctl := NewController(v, testConfig(3), WithClock(newFakeClock()))
	if _, err := ctl.FlyToWaypoint(context.Background(), testHome, 0, wp, 1); !errors.Is(err, errLinkDown) {
		t.Fatalf("goto failure: err = %v, want errLinkDown", err)
	}

	v = &fakeVehicle{posErr: errLinkDown}
	ctl = NewController(v, testConfig(3), WithClock(newFakeClock()))
	if _, err := ctl.FlyToWaypoint(context.Background(), testHome, 0, wp, 1); !errors.Is(err, errLinkDown) {
		t.Fatalf("position failure: err = %v, want errLinkDown", err)
	}
}

func TestFlyToWaypointStopsOnCancel(t *testing.T) {
	wp := Waypoint{Target: geo.Offset{North: 100}, Deadline: t0.Add(time.Minute)}
	v := &fakeVehicle{positions: []geo.Location{testHome}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ctl := NewController(v, testConfig(5), WithClock(newFakeClock()))

	_, err := ctl.FlyToWaypoint(ctx, testHome, 0, wp, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(v.gotos) != 1 {
		t.Fatalf("goto calls = %d, want 1 before the first poll", len(v.gotos))
	}
}

func TestControllerConfigValidate(t *testing.T) {
	if err := DefaultControllerConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	for _, updates := range []int{0, -3} {
		if err := testConfig(updates).Validate(); !errors.Is(err, ErrNoSpeedUpdates) {
			t.Fatalf("updates %d: err = %v, want ErrNoSpeedUpdates", updates, err)
		}
	}
	cfg := testConfig(5)
	cfg.Policy = SpeedPolicy{MinSpeed: 4, MaxSpeed: 2}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("accepted min speed above max")
	}
}
