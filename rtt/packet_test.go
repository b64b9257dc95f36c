package rtt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketLayout(t *testing.T) {
	b := Packet{Type: TypePing, Seq: 0x01020304, TimestampNs: 0x1122334455667788}.Marshal()

	require.Len(t, b, PacketSize)
	assert.Equal(t, Magic, binary.BigEndian.Uint32(b[0:4]))
	assert.Equal(t, Version, b[4])
	assert.Equal(t, TypePing, b[5])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, b[6:12])
	assert.Equal(t, []byte{1, 2, 3, 4}, b[12:16])
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, b[16:20])
	assert.Equal(t, []byte{0x55, 0x66, 0x77, 0x88}, b[20:24])
	assert.Equal(t, make([]byte, 40), b[24:])
}

func TestParseRoundTrip(t *testing.T) {
	in := Packet{Version: Version, Type: TypeEcho, Seq: 77, TimestampNs: 1 << 40}
	out, err := Parse(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseRejects(t *testing.T) {
	good := Packet{Type: TypePing, Seq: 1}.Marshal()
	badMagic := append([]byte(nil), good...)
	badMagic[0] ^= 0xFF

	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"empty", nil, ErrBadLength},
		{"short", good[:63], ErrBadLength},
		{"long", append(append([]byte(nil), good...), 0), ErrBadLength},
		{"magic", badMagic, ErrBadMagic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.ErrorIs(t, err, tt.err)
			assert.False(t, IsProbe(tt.data))
		})
	}
	assert.True(t, IsProbe(good))
}

func TestEWMA(t *testing.T) {
	e := NewEWMA(0.2)
	assert.Less(t, e.Value(), 0.0)

	assert.Equal(t, 50.0, e.Update(50), "first sample seeds the average")
	assert.InDelta(t, 0.2*100+0.8*50, e.Update(100), 1e-9)

	e.Reset()
	assert.Less(t, e.Value(), 0.0)

	assert.InDelta(t, DefaultAlpha, NewEWMA(0).alpha, 0)
	assert.InDelta(t, DefaultAlpha, NewEWMA(2).alpha, 0)
}

func TestEWMAConverges(t *testing.T) {
	e := NewEWMA(DefaultAlpha)
	e.Update(500)
	for i := 0; i < 40; i++ {
		e.Update(20)
	}
	assert.InDelta(t, 20, e.Value(), 0.1)
}
