package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// UDPConfig configures a UDPTransport. Zero values take the defaults.
type UDPConfig struct {
	// LocalAddr is the bind address, "0.0.0.0:<port>" by default port 0.
	LocalAddr string
	// Remote is the initial destination; it may be set later with SetRemote.
	Remote string

	ReadBuffer  int
	WriteBuffer int
	DSCP        int

	// PollTimeout bounds each blocking read so Stop is observed promptly.
	PollTimeout time.Duration
	// MaxDatagram is the receive buffer size; longer datagrams are truncated.
	MaxDatagram int
}

// DefaultUDPConfig returns the reference socket settings.
func DefaultUDPConfig() UDPConfig {
	return UDPConfig{
		LocalAddr:   "0.0.0.0:0",
		ReadBuffer:  1 << 20,
		WriteBuffer: 1 << 20,
		DSCP:        DSCPExpeditedForwarding,
		PollTimeout: 200 * time.Millisecond,
		MaxDatagram: 2048,
	}
}

func (c UDPConfig) withDefaults() UDPConfig {
	d := DefaultUDPConfig()
	if c.LocalAddr == "" {
		c.LocalAddr = d.LocalAddr
	}
	if c.ReadBuffer == 0 {
		c.ReadBuffer = d.ReadBuffer
	}
	if c.WriteBuffer == 0 {
		c.WriteBuffer = d.WriteBuffer
	}
	if c.DSCP == 0 {
		c.DSCP = d.DSCP
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.MaxDatagram <= 0 {
		c.MaxDatagram = d.MaxDatagram
	}
	return c
}

// UDPStats counts transport activity.
type UDPStats struct {
	Sent       uint64
	Received   uint64
	Oversize   uint64
	SendErrors uint64
}

// UDPTransport is a single-socket UDP Transport with a background
// receive loop.
type UDPTransport struct {
	config UDPConfig

	lifecycle sync.Mutex
	conn      atomic.Pointer[net.UDPConn]
	remote    atomic.Pointer[net.UDPAddr]
	handler   atomic.Pointer[Handler]
	running   atomic.Bool
	done      chan struct{}

	sent       atomic.Uint64
	received   atomic.Uint64
	oversize   atomic.Uint64
	sendErrors atomic.Uint64
}

// NewUDPTransport creates a stopped transport. An unparsable Remote is
// logged and left unset.
func NewUDPTransport(config UDPConfig) *UDPTransport {
	t := &UDPTransport{config: config.withDefaults()}
	if t.config.Remote != "" {
		if err := t.SetRemote(t.config.Remote); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewUDPTransport",
				"remote":   t.config.Remote,
				"error":    err.Error(),
			}).Warn("Ignoring invalid remote address")
		}
	}
	return t
}

// Start binds the socket and launches the receive loop. Calling Start on
// a running transport does nothing.
func (t *UDPTransport) Start() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.running.Load() {
		return nil
	}

	conn, err := ListenUDP(context.Background(), t.config.LocalAddr, SocketOptions{
		ReuseAddr:   true,
		ReadBuffer:  t.config.ReadBuffer,
		WriteBuffer: t.config.WriteBuffer,
		DSCP:        t.config.DSCP,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "UDPTransport.Start",
			"local_addr": t.config.LocalAddr,
			"error":      err.Error(),
		}).Error("Failed to open UDP socket")
		return err
	}

	t.conn.Store(conn)
	t.running.Store(true)
	t.done = make(chan struct{})
	go t.receiveLoop(conn, t.done)

	logrus.WithFields(logrus.Fields{
		"function":   "UDPTransport.Start",
		"local_addr": conn.LocalAddr().String(),
		"remote":     t.RemoteAddr(),
	}).Info("UDP transport started")

	return nil
}

// Stop ends the receive loop, waits for it to exit and closes the socket.
// It is safe to call more than once and before Start.
func (t *UDPTransport) Stop() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if !t.running.Load() {
		return nil
	}
	t.running.Store(false)
	<-t.done

	conn := t.conn.Swap(nil)
	err := conn.Close()

	logrus.WithFields(logrus.Fields{
		"function": "UDPTransport.Stop",
		"sent":     t.sent.Load(),
		"received": t.received.Load(),
	}).Info("UDP transport stopped")

	return err
}

// IsRunning reports whether the receive loop is active.
func (t *UDPTransport) IsRunning() bool {
	return t.running.Load()
}

// OnReceive implements Transport.
func (t *UDPTransport) OnReceive(h Handler) {
	if h == nil {
		t.handler.Store(nil)
		return
	}
	t.handler.Store(&h)
}

// SetRemote changes the destination used by Send. It may be called while
// the transport is running.
func (t *UDPTransport) SetRemote(addr string) error {
	ua, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("resolve remote %q: %w", addr, err)
	}
	t.remote.Store(ua)
	return nil
}

// RemoteAddr returns the current destination or nil.
func (t *UDPTransport) RemoteAddr() net.Addr {
	if r := t.remote.Load(); r != nil {
		return r
	}
	return nil
}

// LocalAddr returns the bound address, or nil when stopped.
func (t *UDPTransport) LocalAddr() net.Addr {
	if c := t.conn.Load(); c != nil {
		return c.LocalAddr()
	}
	return nil
}

// Send implements Transport. Datagrams above MaxSafeDatagram are sent
// with a warning.
func (t *UDPTransport) Send(datagram []byte) error {
	conn := t.conn.Load()
	if conn == nil {
		return ErrNotStarted
	}
	remote := t.remote.Load()
	if remote == nil {
		return ErrNoRemote
	}

	if len(datagram) > MaxSafeDatagram {
		t.oversize.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "UDPTransport.Send",
			"size":     len(datagram),
			"limit":    MaxSafeDatagram,
		}).Warn("Oversize UDP datagram")
	}

	n, err := conn.WriteToUDP(datagram, remote)
	if err != nil {
		t.sendErrors.Add(1)
		return fmt.Errorf("send to %s: %w", remote, err)
	}
	if n != len(datagram) {
		t.sendErrors.Add(1)
		return fmt.Errorf("send to %s: short write %d of %d", remote, n, len(datagram))
	}
	t.sent.Add(1)
	return nil
}

// Stats returns a snapshot of the transport counters.
func (t *UDPTransport) Stats() UDPStats {
	return UDPStats{
		Sent:       t.sent.Load(),
		Received:   t.received.Load(),
		Oversize:   t.oversize.Load(),
		SendErrors: t.sendErrors.Load(),
	}
}

func (t *UDPTransport) receiveLoop(conn *net.UDPConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, t.config.MaxDatagram)
	for t.running.Load() {
		_ = conn.SetReadDeadline(time.Now().Add(t.config.PollTimeout))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if t.handleReadError(err) {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}
		t.received.Add(1)
		if h := t.handler.Load(); h != nil {
			(*h)(buf[:n])
		}
	}
}

// handleReadError reports whether the loop must exit.
func (t *UDPTransport) handleReadError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	logrus.WithFields(logrus.Fields{
		"function": "UDPTransport.receiveLoop",
		"error":    err.Error(),
	}).Debug("UDP read error")
	return false
}
