package rtt

import (
	"math"
	"sync/atomic"
)

// DefaultAlpha is the weight given to each new sample.
const DefaultAlpha = 0.2

// EWMA is a lock-free exponentially weighted moving average. The first
// sample seeds the average; until then Value reports a negative number.
type EWMA struct {
	alpha float64
	bits  atomic.Uint64
}

// NewEWMA returns an average with weight alpha in (0, 1]; other values
// use DefaultAlpha.
func NewEWMA(alpha float64) *EWMA {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	e := &EWMA{alpha: alpha}
	e.bits.Store(math.Float64bits(-1))
	return e
}

// Update folds sample into the average and returns the new value.
// It must only be called from one goroutine at a time.
func (e *EWMA) Update(sample float64) float64 {
	prev := e.Value()
	next := sample
	if prev >= 0 {
		next = e.alpha*sample + (1-e.alpha)*prev
	}
	e.bits.Store(math.Float64bits(next))
	return next
}

// Value returns the current average, or -1 before the first sample.
func (e *EWMA) Value() float64 {
	return math.Float64frombits(e.bits.Load())
}

// Reset forgets all samples.
func (e *EWMA) Reset() {
	e.bits.Store(math.Float64bits(-1))
}
