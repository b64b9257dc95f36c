package rtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/meshvoice/transport"
	"github.com/sirupsen/logrus"
)

const sleepSlice = 10 * time.Millisecond

// ProbeConfig configures a Probe. Zero durations and alpha take defaults.
type ProbeConfig struct {
	// Target is the echo server address, "host:port".
	Target string
	// LocalAddr is the probe's bind address, "0.0.0.0:0" by default.
	LocalAddr string
	// ReplyTimeout bounds the wait for each ECHO. Default 200 ms.
	ReplyTimeout time.Duration
	// Interval is the pause between probes. Default 1 s.
	Interval time.Duration
	// Alpha is the EWMA weight of a new sample. Default 0.2.
	Alpha float64
	// OnSample, when set, receives every accepted sample in milliseconds
	// on the probe goroutine.
	OnSample func(ms float64)
}

func (c ProbeConfig) withDefaults() ProbeConfig {
	if c.LocalAddr == "" {
		c.LocalAddr = "0.0.0.0:0"
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 200 * time.Millisecond
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = DefaultAlpha
	}
	return c
}

// Probe periodically measures RTT to an echo server.
type Probe struct {
	config ProbeConfig
	ewma   *EWMA
	epoch  time.Time

	lifecycle sync.Mutex
	conn      *net.UDPConn
	running   atomic.Bool
	done      chan struct{}

	seq        uint32
	sent       atomic.Uint64
	samples    atomic.Uint64
	timeouts   atomic.Uint64
	mismatches atomic.Uint64
}

// NewProbe returns a stopped probe.
func NewProbe(config ProbeConfig) *Probe {
	config = config.withDefaults()
	return &Probe{
		config: config,
		ewma:   NewEWMA(config.Alpha),
		epoch:  time.Now(),
	}
}

// Start binds the local socket and launches the probe loop. It does
// nothing if the probe is already running.
func (p *Probe) Start() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.running.Load() {
		return nil
	}

	target, err := net.ResolveUDPAddr("udp4", p.config.Target)
	if err != nil {
		return fmt.Errorf("rtt: resolve target %q: %w", p.config.Target, err)
	}
	conn, err := transport.ListenUDP(context.Background(), p.config.LocalAddr, transport.SocketOptions{
		ReuseAddr: true,
		ReusePort: true,
	})
	if err != nil {
		return fmt.Errorf("rtt: %w", err)
	}

	p.conn = conn
	p.done = make(chan struct{})
	p.running.Store(true)
	go p.loop(conn, target, p.done)

	logrus.WithFields(logrus.Fields{
		"function":   "Probe.Start",
		"target":     target.String(),
		"local_addr": conn.LocalAddr().String(),
		"interval":   p.config.Interval.String(),
	}).Info("RTT probe started")

	return nil
}

// Stop ends the probe loop, waits for it and closes the socket.
func (p *Probe) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)
	<-p.done

	err := p.conn.Close()
	p.conn = nil

	logrus.WithFields(logrus.Fields{
		"function": "Probe.Stop",
		"sent":     p.sent.Load(),
		"samples":  p.samples.Load(),
		"timeouts": p.timeouts.Load(),
		"rtt_ms":   p.RTT(),
	}).Info("RTT probe stopped")

	return err
}

// RTT returns the smoothed round-trip time in milliseconds, or a
// negative value before the first sample.
func (p *Probe) RTT() float64 {
	return p.ewma.Value()
}

// RTTDuration returns the smoothed RTT as a duration and whether a
// sample has been taken.
func (p *Probe) RTTDuration() (time.Duration, bool) {
	ms := p.ewma.Value()
	if ms < 0 {
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

// ProbeStats counts probe activity.
type ProbeStats struct {
	Sent       uint64
	Samples    uint64
	Timeouts   uint64
	Mismatches uint64
}

// Stats returns a snapshot of the probe counters.
func (p *Probe) Stats() ProbeStats {
	return ProbeStats{
		Sent:       p.sent.Load(),
		Samples:    p.samples.Load(),
		Timeouts:   p.timeouts.Load(),
		Mismatches: p.mismatches.Load(),
	}
}

func (p *Probe) now() uint64 {
	return uint64(time.Since(p.epoch))
}

func (p *Probe) loop(conn *net.UDPConn, target *net.UDPAddr, done chan struct{}) {
	defer close(done)

	out := make([]byte, PacketSize)
	in := make([]byte, 2048)
	for p.running.Load() {
		p.cycle(conn, target, out, in)
		p.pause()
	}
}

// cycle sends one PING and waits for the matching ECHO until the reply
// deadline. Datagrams that do not match are discarded.
func (p *Probe) cycle(conn *net.UDPConn, target *net.UDPAddr, out, in []byte) {
	p.seq++
	seq := p.seq
	Packet{Type: TypePing, Seq: seq, TimestampNs: p.now()}.MarshalTo(out)

	if _, err := conn.WriteToUDP(out, target); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Probe.cycle",
			"seq":      seq,
			"error":    err.Error(),
		}).Debug("PING send failed")
	} else {
		p.sent.Add(1)
	}

	deadline := time.Now().Add(p.config.ReplyTimeout)
	_ = conn.SetReadDeadline(deadline)
	for {
		n, _, err := conn.ReadFromUDP(in)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				p.timeouts.Add(1)
				return
			}
			if errors.Is(err, net.ErrClosed) || !time.Now().Before(deadline) {
				return
			}
			continue
		}

		pkt, err := Parse(in[:n])
		if err != nil || pkt.Type != TypeEcho || pkt.Seq != seq {
			p.mismatches.Add(1)
			continue
		}

		now := p.now()
		if pkt.TimestampNs > now {
			p.mismatches.Add(1)
			continue
		}
		ms := float64(now-pkt.TimestampNs) / float64(time.Millisecond)
		smoothed := p.ewma.Update(ms)
		p.samples.Add(1)

		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logrus.WithFields(logrus.Fields{
				"function":    "Probe.cycle",
				"seq":         seq,
				"sample_ms":   ms,
				"smoothed_ms": smoothed,
			}).Debug("RTT sample")
		}
		if p.config.OnSample != nil {
			p.config.OnSample(ms)
		}
		return
	}
}

// pause sleeps for the probe interval in short slices so Stop is
// observed quickly.
func (p *Probe) pause() {
	end := time.Now().Add(p.config.Interval)
	for p.running.Load() {
		remaining := time.Until(end)
		if remaining <= 0 {
			return
		}
		time.Sleep(min(remaining, sleepSlice))
	}
}
