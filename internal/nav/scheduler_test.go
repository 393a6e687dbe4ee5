package nav

import (
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestRequiredSpeedScenario(t *testing.T) {
	got := RequiredSpeed(100, t0.Add(10*time.Second), t0)
	if math.Abs(got-10) > 1e-9 {
		t.Fatalf("RequiredSpeed(100, now+10s) = %v, want 10", got)
	}
}

func TestRequiredSpeedMonotonicInDistance(t *testing.T) {
	target := t0.Add(20 * time.Second)
	prev := RequiredSpeed(0, target, t0)
	for d := 1.0; d <= 1000; d *= 2 {
		v := RequiredSpeed(d, target, t0)
		if !(v > prev) {
			t.Fatalf("RequiredSpeed(%v) = %v, not above %v", d, v, prev)
		}
		prev = v
	}
}

func TestRequiredSpeedMonotonicInTimeLeft(t *testing.T) {
	prev := math.Inf(1)
	for s := 1; s <= 120; s += 7 {
		v := RequiredSpeed(50, t0.Add(time.Duration(s)*time.Second), t0)
		if !(v < prev) {
			t.Fatalf("RequiredSpeed with %ds left = %v, not below %v", s, v, prev)
		}
		prev = v
	}
}

func TestRequiredSpeedDivergesWithoutClamping(t *testing.T) {
	if v := RequiredSpeed(10, t0, t0); !math.IsInf(v, 1) {
		t.Fatalf("deadline == now: got %v, want +Inf", v)
	}
	if v := RequiredSpeed(10, t0.Add(-2*time.Second), t0); v >= 0 {
		t.Fatalf("deadline passed: got %v, want negative", v)
	}
}

func TestSpeedPolicySchedule(t *testing.T) {
	tests := []struct {
		name      string
		policy    SpeedPolicy
		remaining float64
		left      time.Duration
		want      float64
		divergent bool
	}{
		{"within bounds", SpeedPolicy{MaxSpeed: 15}, 100, 10 * time.Second, 10, false},
		{"clamped to max", SpeedPolicy{MaxSpeed: 5}, 100, 10 * time.Second, 5, false},
		{"raised to min", SpeedPolicy{MinSpeed: 2, MaxSpeed: 5}, 1, 10 * time.Second, 2, false},
		{"unbounded", SpeedPolicy{}, 1000, 10 * time.Second, 100, false},
		{"zero distance", SpeedPolicy{MaxSpeed: 5}, 0, 10 * time.Second, 0, false},
		{"deadline now", SpeedPolicy{MaxSpeed: 8}, 100, 0, 8, true},
		{"deadline passed", SpeedPolicy{MaxSpeed: 8}, 100, -5 * time.Second, 8, true},
		{"deadline passed no max", SpeedPolicy{MinSpeed: 1}, 100, -5 * time.Second, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.policy.Schedule(tt.remaining, t0.Add(tt.left), t0)
			if tt.divergent != errors.Is(err, ErrDivergentSpeedRequest) {
				t.Fatalf("err = %v, divergent want %v", err, tt.divergent)
			}
			if !tt.divergent && err != nil {
				t.Fatalf("unexpected err %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Schedule = %v, want %v", got, tt.want)
			}
		})
	}
}
