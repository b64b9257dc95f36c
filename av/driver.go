package av

import (
	"context"
	"fmt"
	"time"

	"github.com/opd-ai/meshvoice/clock"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the cadence used when a Driver is built with a
// non-positive interval.
const DefaultPollInterval = 5 * time.Millisecond

// Poller is anything with a non-blocking PollOnce step.
type Poller interface {
	PollOnce()
}

// Driver calls PollOnce at a fixed interval so the engine itself never
// sleeps.
type Driver struct {
	poller   Poller
	interval time.Duration
	clock    clock.TimeProvider
}

// NewDriver returns a driver for p. A nil tp uses the package clock.
func NewDriver(p Poller, interval time.Duration, tp clock.TimeProvider) *Driver {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Driver{poller: p, interval: interval, clock: clock.Or(tp)}
}

// Interval returns the poll cadence.
func (d *Driver) Interval() time.Duration { return d.interval }

// Run polls until ctx is cancelled. Cancellation is a normal exit and
// returns nil.
func (d *Driver) Run(ctx context.Context) error {
	if d.poller == nil {
		return fmt.Errorf("%w: driver has no poller", ErrMissingDependency)
	}

	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"function": "Driver.Run",
		"interval": d.interval.String(),
	}).Info("Poll driver started")

	var polls uint64
	for {
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "Driver.Run",
				"polls":    polls,
			}).Info("Poll driver stopped")
			return nil
		case <-ticker.C:
			d.poller.PollOnce()
			polls++
		}
	}
}
