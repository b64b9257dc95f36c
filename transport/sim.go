package transport

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/meshvoice/clock"
)

// LinkConfig describes the impairments of a simulated link.
type LinkConfig struct {
	// Loss is the probability in [0, 1] that a datagram is dropped.
	Loss float64
	// MinDelay and MaxDelay bound the uniformly distributed one-way delay.
	MinDelay time.Duration
	MaxDelay time.Duration
	// Seed makes loss and delay draws reproducible.
	Seed uint64
	// Clock decides when queued datagrams are due. Defaults to the
	// package clock.
	Clock clock.TimeProvider
}

// DefaultLinkConfig is the lossy loopback used for local testing:
// 10% loss and 0-120 ms delay.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{Loss: 0.10, MaxDelay: 120 * time.Millisecond, Seed: 1}
}

// SimStats counts simulated link activity for one endpoint.
type SimStats struct {
	Sent      uint64
	Dropped   uint64
	Delivered uint64
	Pending   int
}

type inFlight struct {
	due  time.Time
	data []byte
}

type linkState struct {
	mu  sync.Mutex
	cfg LinkConfig
	rng *rand.Rand
	clk clock.TimeProvider
}

// SimEndpoint is one side of an in-process lossy link.
type SimEndpoint struct {
	link *linkState
	peer *SimEndpoint

	mu      sync.Mutex
	queue   []inFlight
	handler atomic.Pointer[Handler]
	closed  atomic.Bool

	sent      atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

func newLinkState(cfg LinkConfig) *linkState {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &linkState{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9E3779B97F4A7C15)),
		clk: clock.Or(cfg.Clock),
	}
}

// NewSimulatedLink returns two connected endpoints. Datagrams sent on
// one are queued on the other and delivered by its Pump.
func NewSimulatedLink(cfg LinkConfig) (*SimEndpoint, *SimEndpoint) {
	link := newLinkState(cfg)
	a := &SimEndpoint{link: link}
	b := &SimEndpoint{link: link}
	a.peer, b.peer = b, a
	return a, b
}

// NewLoopback returns an endpoint whose datagrams come back to itself.
func NewLoopback(cfg LinkConfig) *SimEndpoint {
	e := &SimEndpoint{link: newLinkState(cfg)}
	e.peer = e
	return e
}

// Send implements Transport. The datagram is copied; it is either
// dropped or queued on the peer with a random delay.
func (e *SimEndpoint) Send(datagram []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.sent.Add(1)

	l := e.link
	l.mu.Lock()
	lost := l.cfg.Loss > 0 && l.rng.Float64() < l.cfg.Loss
	delay := l.cfg.MinDelay
	if span := l.cfg.MaxDelay - l.cfg.MinDelay; span > 0 {
		delay += time.Duration(l.rng.Int64N(int64(span) + 1))
	}
	now := l.clk.Now()
	l.mu.Unlock()

	if lost {
		e.dropped.Add(1)
		return nil
	}

	data := make([]byte, len(datagram))
	copy(data, datagram)
	e.peer.enqueue(inFlight{due: now.Add(delay), data: data})
	return nil
}

func (e *SimEndpoint) enqueue(p inFlight) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Keep the queue ordered by due time, FIFO among equal times.
	i := len(e.queue)
	for i > 0 && e.queue[i-1].due.After(p.due) {
		i--
	}
	e.queue = append(e.queue, inFlight{})
	copy(e.queue[i+1:], e.queue[i:])
	e.queue[i] = p
}

// OnReceive implements Transport.
func (e *SimEndpoint) OnReceive(h Handler) {
	if h == nil {
		e.handler.Store(nil)
		return
	}
	e.handler.Store(&h)
}

// Pump delivers every queued datagram whose due time has passed, in due
// order, and returns how many were delivered.
func (e *SimEndpoint) Pump() int {
	now := e.link.clk.Now()

	e.mu.Lock()
	n := 0
	for n < len(e.queue) && !e.queue[n].due.After(now) {
		n++
	}
	due := make([]inFlight, n)
	copy(due, e.queue[:n])
	e.queue = append(e.queue[:0], e.queue[n:]...)
	e.mu.Unlock()

	h := e.handler.Load()
	for _, p := range due {
		if h != nil {
			(*h)(p.data)
		}
	}
	e.delivered.Add(uint64(n))
	return n
}

// Close stops the endpoint from sending and drops anything queued.
func (e *SimEndpoint) Close() error {
	e.closed.Store(true)
	e.mu.Lock()
	e.queue = nil
	e.mu.Unlock()
	return nil
}

// Stats returns a snapshot of this endpoint's counters. Sent and Dropped
// count outbound traffic, Delivered and Pending inbound.
func (e *SimEndpoint) Stats() SimStats {
	e.mu.Lock()
	pending := len(e.queue)
	e.mu.Unlock()
	return SimStats{
		Sent:      e.sent.Load(),
		Dropped:   e.dropped.Load(),
		Delivered: e.delivered.Load(),
		Pending:   pending,
	}
}
