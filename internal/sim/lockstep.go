package sim

import (
	"context"
	"time"
)

// Lockstep is a nav.Clock that advances the copter instead of waiting, so
// a whole mission runs as fast as the CPU allows and is reproducible.
type Lockstep struct {
	copter *Copter
	dt     time.Duration
}

// NewLockstep steps c in increments of dt; zero means 50ms.
func NewLockstep(c *Copter, dt time.Duration) *Lockstep {
	if dt <= 0 {
		dt = 50 * time.Millisecond
	}
	return &Lockstep{copter: c, dt: dt}
}

func (l *Lockstep) Now() time.Time { return l.copter.Now() }

func (l *Lockstep) Sleep(ctx context.Context, d time.Duration) error {
	for d > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := min(d, l.dt)
		l.copter.Step(step)
		d -= step
	}
	return ctx.Err()
}
