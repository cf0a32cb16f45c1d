package supervisor

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/seedbox-tools/ratiofaker/internal/config"
)

// driverShutdownGrace bounds how long Supervisor.Shutdown waits for each
// driver goroutine to notice cancellation before it is abandoned.
const driverShutdownGrace = 5 * time.Second

// driverStopGrace bounds how long stopping a single session waits for
// its driver to exit before the driver is abandoned.
const driverStopGrace = 2 * time.Second

// runDriver ticks m.sess at m.cfg.UpdateInterval until ctx is cancelled.
// Ticks are paced through a rate.Limiter seeded at 1/updateInterval with
// a burst of 1: if the process was suspended (laptop sleep), the driver
// ticks once on waking and then resumes its period; overdue ticks are
// not replayed, and that one tick accounts the whole elapsed time. Each
// session has its own limiter, so sessions that are all overdue tick
// (and announce, if due) at about the same moment.
func (sup *Supervisor) runDriver(ctx context.Context, m *managedSession) {
	defer close(m.driverDone)

	interval := m.cfg.UpdateInterval
	if interval <= 0 {
		interval = config.DefaultUpdateInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		m.sess.Tick(ctx, time.Now())
		sup.maybeSnapshot()
	}
}
