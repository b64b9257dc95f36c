// Package clock supplies the time source used by the engine, the RTT
// probe and the simulated link. Tests inject a ManualClock for
// deterministic timing.
package clock

import (
	"sync"
	"time"
)

// TimeProvider is an interface for getting the current time and creating tickers.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker creates a new ticker that fires at the given interval.
	NewTicker(d time.Duration) *time.Ticker
	// NewTimer creates a new timer that fires after the given duration.
	NewTimer(d time.Duration) *time.Timer
}

// RealTimeProvider implements TimeProvider using the system clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time { return time.Now() }

// NewTicker creates a new ticker using the standard library.
func (RealTimeProvider) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

// NewTimer creates a new timer using the standard library.
func (RealTimeProvider) NewTimer(d time.Duration) *time.Timer { return time.NewTimer(d) }

// Default returns the system clock.
func Default() TimeProvider {
	return RealTimeProvider{}
}

// Or returns tp when non-nil and the package default otherwise.
func Or(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return Default()
}

// Millis32 returns t as milliseconds since the Unix epoch truncated to
// 32 bits, the resolution and width used for packet timestamps.
func Millis32(t time.Time) uint32 {
	return uint32(t.UnixMilli())
}

// ManualClock is a TimeProvider whose Now only moves when told to.
// Tickers and timers it creates still run on real time.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements TimeProvider.
func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t.
func (m *ManualClock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// NewTicker implements TimeProvider.
func (m *ManualClock) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

// NewTimer implements TimeProvider.
func (m *ManualClock) NewTimer(d time.Duration) *time.Timer { return time.NewTimer(d) }
