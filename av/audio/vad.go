package audio

import (
	"math"
	"time"
)

const (
	// DefaultVADThreshold is the RMS level above which a frame is speech.
	DefaultVADThreshold = 300.0

	// DefaultVADHangover keeps the gate open after the last loud frame.
	DefaultVADHangover = 150 * time.Millisecond

	// hangoverRate converts the hangover duration into a sample budget.
	// The budget is counted at a fixed 16 kHz regardless of the stream
	// rate, so the effective hangover scales with 16000/rate.
	hangoverRate = 16
)

// Gate is an RMS voice activity detector with hangover.
type Gate struct {
	threshold float64
	hangover  int
	remain    int
}

// NewGate returns a gate configured with the default threshold and hangover.
func NewGate() *Gate {
	g := &Gate{}
	g.Configure(DefaultVADThreshold, DefaultVADHangover)
	return g
}

// Configure sets the RMS threshold and hangover duration and resets the
// hangover counter.
func (g *Gate) Configure(thresholdRMS float64, hangover time.Duration) {
	if thresholdRMS < 0 {
		thresholdRMS = 0
	}
	if hangover < 0 {
		hangover = 0
	}
	g.threshold = thresholdRMS
	g.hangover = int(hangover.Milliseconds()) * hangoverRate
	g.remain = 0
}

// Threshold returns the configured RMS threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// HangoverSamples returns the hangover budget in samples.
func (g *Gate) HangoverSamples() int {
	return g.hangover
}

// IsSpeech classifies pcm and updates the hangover state.
func (g *Gate) IsSpeech(pcm []int16) bool {
	if RMS(pcm) > g.threshold {
		g.remain = g.hangover
		return true
	}
	if g.remain > 0 {
		g.remain -= len(pcm)
		return true
	}
	return false
}

// Reset closes the gate immediately.
func (g *Gate) Reset() {
	g.remain = 0
}

// RMS returns the root mean square of pcm. An empty frame has RMS 0.
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
