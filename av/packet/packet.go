// Package packet implements the voice datagram header used on the wire.
//
// Every voice datagram is a fixed 16-byte header followed by exactly
// PayloadLen bytes of encoded audio. All multi-byte fields are written in
// network byte order:
//
//	0      1      2      3      4      6        10       14       16
//	+------+------+------+------+------+--------+--------+--------+
//	| ver  | codec| flags| hop  | seq  | convId | tsMs   | payLen |
//	+------+------+------+------+------+--------+--------+--------+
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// HeaderSize is the encoded size of Header in bytes.
const HeaderSize = 16

// MaxPayloadLen is the largest payload the 16-bit length field can describe.
const MaxPayloadLen = 0xFFFF

// Version is the only header version this package produces.
const Version uint8 = 1

// Codec identifiers carried in Header.Codec.
const (
	CodecOpus uint8 = 1
	CodecPCMU uint8 = 2
	CodecL16  uint8 = 3
)

// Header flag bits. Bits other than FlagPushToTalk are reserved and
// must be sent as zero.
const (
	FlagPushToTalk uint8 = 1 << 0
)

var (
	// ErrShortBuffer is returned when a datagram is smaller than HeaderSize.
	ErrShortBuffer = errors.New("packet: buffer shorter than header")

	// ErrPayloadTruncated is returned when PayloadLen exceeds the bytes present.
	ErrPayloadTruncated = errors.New("packet: payload length exceeds datagram")
)

// Header is the fixed per-datagram voice header.
type Header struct {
	Version     uint8
	Codec       uint8
	Flags       uint8
	Hop         uint8
	Seq         uint16
	ConvID      uint32
	TimestampMs uint32
	PayloadLen  uint16
}

// PushToTalk reports whether the push-to-talk flag is set.
func (h Header) PushToTalk() bool {
	return h.Flags&FlagPushToTalk != 0
}

// MarshalTo writes the header into the first HeaderSize bytes of b and
// returns HeaderSize. It panics if b is too small.
func (h Header) MarshalTo(b []byte) int {
	_ = b[HeaderSize-1]
	b[0] = h.Version
	b[1] = h.Codec
	b[2] = h.Flags
	b[3] = h.Hop
	binary.BigEndian.PutUint16(b[4:6], h.Seq)
	binary.BigEndian.PutUint32(b[6:10], h.ConvID)
	binary.BigEndian.PutUint32(b[10:14], h.TimestampMs)
	binary.BigEndian.PutUint16(b[14:16], h.PayloadLen)
	return HeaderSize
}

// Encode builds a datagram from h and payload. PayloadLen is taken from
// len(payload). A payload longer than MaxPayloadLen is cut to
// MaxPayloadLen bytes and a warning is logged; callers that cannot
// accept a cut frame must check the length first.
func Encode(h Header, payload []byte) []byte {
	if len(payload) > MaxPayloadLen {
		logrus.WithFields(logrus.Fields{
			"function": "packet.Encode",
			"seq":      h.Seq,
			"bytes":    len(payload),
			"max":      MaxPayloadLen,
		}).Warn("Voice payload exceeds length field, truncating")
		payload = payload[:MaxPayloadLen]
	}
	h.PayloadLen = uint16(len(payload))
	out := make([]byte, HeaderSize+len(payload))
	h.MarshalTo(out)
	copy(out[HeaderSize:], payload)
	return out
}

// ParseHeader reads a header from b without looking at the payload.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrShortBuffer, len(b))
	}
	return Header{
		Version:     b[0],
		Codec:       b[1],
		Flags:       b[2],
		Hop:         b[3],
		Seq:         binary.BigEndian.Uint16(b[4:6]),
		ConvID:      binary.BigEndian.Uint32(b[6:10]),
		TimestampMs: binary.BigEndian.Uint32(b[10:14]),
		PayloadLen:  binary.BigEndian.Uint16(b[14:16]),
	}, nil
}

// Decode parses a datagram into its header and a copy of its payload.
// Trailing bytes beyond PayloadLen are ignored.
func Decode(b []byte) (Header, []byte, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Header{}, nil, err
	}
	end := HeaderSize + int(h.PayloadLen)
	if end > len(b) {
		return Header{}, nil, fmt.Errorf("%w: need %d bytes, have %d", ErrPayloadTruncated, end, len(b))
	}
	payload := make([]byte, h.PayloadLen)
	copy(payload, b[HeaderSize:end])
	return h, payload, nil
}
