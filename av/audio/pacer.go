package audio

import (
	"time"

	"github.com/opd-ai/meshvoice/clock"
)

// maxPacerLag is how many frame periods a pacer may fall behind before it
// drops the backlog instead of releasing it as a burst.
const maxPacerLag = 4

// PlayoutPacer is implemented by devices whose playout runs on their own
// frame clock. PlayoutDue reports whether the device is ready to take the
// next frame and claims that frame period when it is.
type PlayoutPacer interface {
	PlayoutDue() bool
}

// framePacer releases one frame per period of a clock.
type framePacer struct {
	clk    clock.TimeProvider
	period time.Duration
	next   time.Time
}

func newFramePacer(tp clock.TimeProvider, frameMs int) framePacer {
	clk := clock.Or(tp)
	return framePacer{
		clk:    clk,
		period: time.Duration(frameMs) * time.Millisecond,
		next:   clk.Now(),
	}
}

// due reports whether a frame period has begun since the last released
// frame, and claims it.
func (p *framePacer) due() bool {
	if p.clk == nil {
		return false
	}
	now := p.clk.Now()
	if now.Before(p.next) {
		return false
	}
	if now.Sub(p.next) > maxPacerLag*p.period {
		p.next = now
	}
	p.next = p.next.Add(p.period)
	return true
}
