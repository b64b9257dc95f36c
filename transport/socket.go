package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// DSCPExpeditedForwarding is the DiffServ code point for voice traffic.
const DSCPExpeditedForwarding = 46

// SocketOptions describes how ListenUDP prepares a socket.
type SocketOptions struct {
	ReuseAddr   bool
	ReusePort   bool
	ReadBuffer  int
	WriteBuffer int
	// DSCP is written into the IPv4 TOS byte (DSCP << 2). Zero leaves the
	// default marking.
	DSCP int
}

// ListenUDP binds a UDP socket on addr with opts applied. Buffer sizes
// and DSCP marking are best effort: failures are logged and the socket
// is still returned. Bind failures are returned as errors.
func ListenUDP(ctx context.Context, addr string, opts SocketOptions) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseControl(opts.ReuseAddr, opts.ReusePort)}
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen udp %s: unexpected connection type %T", addr, pc)
	}

	if opts.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(opts.ReadBuffer); err != nil {
			logSocketWarning("read_buffer", err)
		}
	}
	if opts.WriteBuffer > 0 {
		if err := conn.SetWriteBuffer(opts.WriteBuffer); err != nil {
			logSocketWarning("write_buffer", err)
		}
	}
	if opts.DSCP > 0 {
		if err := ipv4.NewConn(conn).SetTOS(opts.DSCP << 2); err != nil {
			logSocketWarning("tos", err)
		}
	}
	return conn, nil
}

func logSocketWarning(option string, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "ListenUDP",
		"option":   option,
		"error":    err.Error(),
	}).Warn("Socket option not applied")
}
