// Package nav flies a vehicle through a list of waypoints, each with an
// arrival deadline, by re-commanding groundspeed while it travels.
//
// The package is synchronous: a Sequencer drives one Controller, which
// blocks on a Clock between polls. Nothing in here is safe for concurrent
// use, and nothing needs to be, since there is one vehicle.
package nav

import (
	"context"
	"time"

	"OctaFlight/internal/geo"
)

// Vehicle is what the controller needs from the autopilot link.
type Vehicle interface {
	// Position returns the latest position in the absolute frame.
	Position(ctx context.Context) (geo.Location, error)
	// FlightMode returns the autopilot mode name, e.g. "GUIDED".
	FlightMode(ctx context.Context) (string, error)
	// Goto commands the vehicle toward loc at groundspeed m/s. It does not
	// wait for acknowledgement and may be re-issued freely.
	Goto(ctx context.Context, loc geo.Location, groundspeed float64) error
}

// Clock is the time source used between polls. Tests substitute a fake.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// WallClock returns a Clock backed by the time package.
func WallClock() Clock { return wallClock{} }

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
