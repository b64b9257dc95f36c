package rtt

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/meshvoice/transport"
	"github.com/sirupsen/logrus"
)

// EchoState is the lifecycle state of an EchoServer.
type EchoState int32

const (
	// EchoIdle means the server is not bound.
	EchoIdle EchoState = iota
	// EchoListening means the server is bound and reflecting probes.
	EchoListening
)

// String returns a human-readable representation of the state.
func (s EchoState) String() string {
	switch s {
	case EchoIdle:
		return "idle"
	case EchoListening:
		return "listening"
	default:
		return "unknown"
	}
}

const echoPollTimeout = 200 * time.Millisecond

// EchoServer reflects probe PINGs back to their sender.
type EchoServer struct {
	addr string

	lifecycle sync.Mutex
	conn      *net.UDPConn
	state     atomic.Int32
	done      chan struct{}

	echoed  atomic.Uint64
	ignored atomic.Uint64
}

// NewEchoServer returns an idle server that will bind addr, e.g. "0.0.0.0:50000".
func NewEchoServer(addr string) *EchoServer {
	return &EchoServer{addr: addr}
}

// Start binds the socket with address and port reuse and starts
// reflecting. It does nothing if the server is already listening.
func (s *EchoServer) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State() == EchoListening {
		return nil
	}

	conn, err := transport.ListenUDP(context.Background(), s.addr, transport.SocketOptions{
		ReuseAddr: true,
		ReusePort: true,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "EchoServer.Start",
			"addr":     s.addr,
			"error":    err.Error(),
		}).Error("Failed to bind echo socket")
		return err
	}

	s.conn = conn
	s.done = make(chan struct{})
	s.state.Store(int32(EchoListening))
	go s.loop(conn, s.done)

	logrus.WithFields(logrus.Fields{
		"function": "EchoServer.Start",
		"addr":     conn.LocalAddr().String(),
	}).Info("RTT echo server listening")

	return nil
}

// Stop halts the server, waits for its goroutine and closes the socket.
func (s *EchoServer) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State() != EchoListening {
		return nil
	}
	s.state.Store(int32(EchoIdle))
	<-s.done

	err := s.conn.Close()
	s.conn = nil

	logrus.WithFields(logrus.Fields{
		"function": "EchoServer.Stop",
		"echoed":   s.echoed.Load(),
		"ignored":  s.ignored.Load(),
	}).Info("RTT echo server stopped")

	return err
}

// State returns the current lifecycle state.
func (s *EchoServer) State() EchoState {
	return EchoState(s.state.Load())
}

// Addr returns the bound address while listening, otherwise nil.
func (s *EchoServer) Addr() net.Addr {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Echoed returns how many probes were reflected.
func (s *EchoServer) Echoed() uint64 { return s.echoed.Load() }

// Ignored returns how many datagrams were not valid probes.
func (s *EchoServer) Ignored() uint64 { return s.ignored.Load() }

func (s *EchoServer) loop(conn *net.UDPConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 2048)
	for s.State() == EchoListening {
		_ = conn.SetReadDeadline(time.Now().Add(echoPollTimeout))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		pkt := buf[:n]
		if !IsProbe(pkt) {
			s.ignored.Add(1)
			continue
		}
		pkt[typeOffset] = TypeEcho
		if _, err := conn.WriteToUDP(pkt, src); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "EchoServer.loop",
				"peer":     src.String(),
				"error":    err.Error(),
			}).Debug("Echo send failed")
			continue
		}
		s.echoed.Add(1)
	}
}
