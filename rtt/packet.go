// Package rtt measures round-trip time over UDP with a fixed-size
// PING/ECHO exchange, independent of the voice stream.
//
// A Probe sends one PING per interval and smooths accepted samples with
// an exponentially weighted moving average. An EchoServer reflects
// PINGs back to their source with the type byte rewritten to ECHO.
//
// Packets are 64 bytes, network byte order:
//
//	magic u32 | version u8 | type u8 | reserved u16 | reserved u32 |
//	seq u32 | ts_hi u32 | ts_lo u32 | zero padding to 64 bytes
package rtt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// PacketSize is the exact size of every probe datagram.
	PacketSize = 64

	// Magic marks probe datagrams.
	Magic uint32 = 0xABCD1357

	// Version is the probe protocol version.
	Version uint8 = 1

	// TypePing is sent by the probe.
	TypePing uint8 = 1
	// TypeEcho is returned by the echo server.
	TypeEcho uint8 = 2

	// typeOffset is the byte the echo server rewrites.
	typeOffset = 5
)

var (
	// ErrBadLength is returned for datagrams that are not PacketSize bytes.
	ErrBadLength = errors.New("rtt: datagram is not 64 bytes")

	// ErrBadMagic is returned when the magic number does not match.
	ErrBadMagic = errors.New("rtt: bad magic")
)

// Packet is the decoded form of a probe datagram.
type Packet struct {
	Version     uint8
	Type        uint8
	Seq         uint32
	TimestampNs uint64
}

// Marshal encodes p into a new 64-byte datagram. A zero Version is
// written as the current Version.
func (p Packet) Marshal() []byte {
	b := make([]byte, PacketSize)
	p.MarshalTo(b)
	return b
}

// MarshalTo encodes p into b, which must hold PacketSize bytes.
func (p Packet) MarshalTo(b []byte) {
	_ = b[PacketSize-1]
	v := p.Version
	if v == 0 {
		v = Version
	}
	binary.BigEndian.PutUint32(b[0:4], Magic)
	b[4] = v
	b[typeOffset] = p.Type
	binary.BigEndian.PutUint16(b[6:8], 0)
	binary.BigEndian.PutUint32(b[8:12], 0)
	binary.BigEndian.PutUint32(b[12:16], p.Seq)
	binary.BigEndian.PutUint32(b[16:20], uint32(p.TimestampNs>>32))
	binary.BigEndian.PutUint32(b[20:24], uint32(p.TimestampNs))
	clear(b[24:PacketSize])
}

// Parse decodes a probe datagram after checking its length and magic.
func Parse(b []byte) (Packet, error) {
	if len(b) != PacketSize {
		return Packet{}, fmt.Errorf("%w: got %d", ErrBadLength, len(b))
	}
	if m := binary.BigEndian.Uint32(b[0:4]); m != Magic {
		return Packet{}, fmt.Errorf("%w: 0x%08X", ErrBadMagic, m)
	}
	hi := binary.BigEndian.Uint32(b[16:20])
	lo := binary.BigEndian.Uint32(b[20:24])
	return Packet{
		Version:     b[4],
		Type:        b[typeOffset],
		Seq:         binary.BigEndian.Uint32(b[12:16]),
		TimestampNs: uint64(hi)<<32 | uint64(lo),
	}, nil
}

// IsProbe reports whether b has the size and magic of a probe datagram.
func IsProbe(b []byte) bool {
	return len(b) == PacketSize && binary.BigEndian.Uint32(b[0:4]) == Magic
}
