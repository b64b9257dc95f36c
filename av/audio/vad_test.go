package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func constantFrame(n int, v int16) []int16 {
	f := make([]int16, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		pcm  []int16
		want float64
	}{
		{"empty", nil, 0},
		{"silence", constantFrame(160, 0), 0},
		{"constant", constantFrame(160, 1000), 1000},
		{"alternating", []int16{500, -500, 500, -500}, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RMS(tt.pcm), 1e-9)
		})
	}
}

func TestGateDefaults(t *testing.T) {
	g := NewGate()
	assert.Equal(t, DefaultVADThreshold, g.Threshold())
	assert.Equal(t, 150*16, g.HangoverSamples())
}

func TestGateHangover(t *testing.T) {
	g := NewGate()
	g.Configure(300, 40*time.Millisecond) // 640 samples

	loud := constantFrame(320, 2000)
	quiet := constantFrame(320, 10)

	assert.False(t, g.IsSpeech(quiet), "closed gate stays closed on silence")
	assert.True(t, g.IsSpeech(loud))

	// 640 sample budget covers two 320-sample quiet frames.
	assert.True(t, g.IsSpeech(quiet))
	assert.True(t, g.IsSpeech(quiet))
	assert.False(t, g.IsSpeech(quiet))

	assert.True(t, g.IsSpeech(loud), "speech re-arms the hangover")
	assert.True(t, g.IsSpeech(quiet))
}

func TestGateThresholdIsStrict(t *testing.T) {
	g := NewGate()
	g.Configure(300, 0)

	assert.False(t, g.IsSpeech(constantFrame(160, 300)))
	assert.True(t, g.IsSpeech(constantFrame(160, 301)))
	assert.False(t, g.IsSpeech(constantFrame(160, 0)))
}

func TestGateReset(t *testing.T) {
	g := NewGate()
	assert.True(t, g.IsSpeech(constantFrame(320, 5000)))
	g.Reset()
	assert.False(t, g.IsSpeech(constantFrame(320, 0)))
}
