package transport

import "errors"

// MaxSafeDatagram is the largest datagram sent without a warning. It
// stays under a 1500 byte Ethernet MTU after IP and UDP headers.
const MaxSafeDatagram = 1400

// Handler receives one datagram. The slice is only valid during the call.
type Handler func(datagram []byte)

// Transport is the datagram contract used by the voice engine.
type Transport interface {
	// Send transmits one datagram to the current remote. Delivery is not
	// guaranteed.
	Send(datagram []byte) error

	// OnReceive installs the receive handler, replacing any previous one.
	// Passing nil removes it.
	OnReceive(h Handler)
}

var (
	// ErrNotStarted is returned by Send before Start or after Stop.
	ErrNotStarted = errors.New("transport not started")

	// ErrNoRemote is returned by Send when no destination is configured.
	ErrNoRemote = errors.New("no remote address configured")

	// ErrClosed is returned when using a closed simulated endpoint.
	ErrClosed = errors.New("transport closed")
)
