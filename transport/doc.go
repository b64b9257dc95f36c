// Package transport moves voice datagrams between peers.
//
// The engine only needs two things from a transport: fire-and-forget
// Send and a single receive Handler. Everything else, including socket
// setup, remote selection and lifecycle, stays with the owner of the
// concrete type.
//
//	type Transport interface {
//	    Send(datagram []byte) error
//	    OnReceive(h Handler)
//	}
//
// # Implementations
//
// UDPTransport binds one UDP socket (SO_REUSEADDR, DSCP EF marking,
// 1 MiB socket buffers) and runs a receive goroutine that polls with a
// bounded read deadline so Stop can join it promptly:
//
//	t := transport.NewUDPTransport(transport.UDPConfig{
//	    LocalAddr: "0.0.0.0:40000",
//	    Remote:    "192.0.2.10:40000",
//	})
//	t.OnReceive(func(b []byte) { ... })
//	if err := t.Start(); err != nil { ... }
//	defer t.Stop()
//
// SimEndpoint is an in-process lossy link with random delay, driven by
// Pump, used for loopback runs and tests.
//
// PcapTap wraps any Transport and records both directions to a pcap
// file for offline inspection.
//
// # Threading
//
// Handlers run on the transport's receive goroutine (or on the goroutine
// calling Pump). The datagram slice is only valid for the duration of
// the call; handlers that keep data must copy it.
package transport
