// Package jitter provides a fixed-depth reorder window that turns an
// unordered, lossy stream of sequence-numbered voice frames into an
// ordered playout sequence.
//
// The window is anchored target frames before the first pushed sequence
// number, so playout of the first frame waits target ticks. A push is
// stored when its modular distance from the window base lies in
// [0, depth); everything else is dropped. Each PopReady call consumes the
// slot at the base and advances the base by one whether or not a frame
// was present, so a lost packet costs exactly one playout tick.
//
// A sender that stops transmitting during silence stalls its sequence
// numbers while the receiver keeps popping, so the first frame of the next
// talk spurt lands behind the base. When the window holds no frames and
// the push is newer than the last frame played, the window re-anchors on
// it at once. Out-of-window pushes while frames are buffered re-anchor
// only after the resync threshold.
package jitter

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultDepth is the default number of slots in the window.
	DefaultDepth = 64

	// DefaultTarget is the default playout delay in frames.
	DefaultTarget = 0

	// DefaultResyncThreshold is the number of consecutive out-of-window
	// pushes after which the window re-anchors on the incoming sequence.
	DefaultResyncThreshold = 16

	maxDepth = 1 << 15
)

// Frame is a payload released by PopReady together with its sequence number.
type Frame struct {
	Seq     uint16
	Payload []byte
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Pushed      uint64
	Accepted    uint64
	Late        uint64
	TooFar      uint64
	Overwritten uint64
	Hits        uint64
	Misses      uint64
	Resyncs     uint64
}

type slot struct {
	payload []byte
	seq     uint16
	used    bool
}

// Buffer is a mutex-guarded reorder window. It is safe for one producer
// and one consumer running on different goroutines.
type Buffer struct {
	mu sync.Mutex

	slots    []slot
	head     int
	base     uint16
	anchored bool

	count      int
	lastPlayed uint16
	played     bool

	target          int
	resyncThreshold int
	outOfWindow     int

	stats Stats
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithDepth sets the number of window slots. Values outside [1, 32768)
// fall back to DefaultDepth.
func WithDepth(depth int) Option {
	return func(b *Buffer) {
		if depth <= 0 || depth >= maxDepth {
			depth = DefaultDepth
		}
		b.slots = make([]slot, depth)
	}
}

// WithTarget sets the playout delay in frames. It is capped at depth-1.
func WithTarget(frames int) Option {
	return func(b *Buffer) {
		if frames >= 0 {
			b.target = frames
		}
	}
}

// WithResyncThreshold sets how many consecutive out-of-window pushes
// trigger a re-anchor while frames are buffered. Zero disables
// resynchronisation, including the immediate re-anchor of an idle window.
func WithResyncThreshold(n int) Option {
	return func(b *Buffer) {
		if n >= 0 {
			b.resyncThreshold = n
		}
	}
}

// New creates an empty, unanchored buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		slots:           make([]slot, DefaultDepth),
		target:          DefaultTarget,
		resyncThreshold: DefaultResyncThreshold,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.target >= len(b.slots) {
		b.target = len(b.slots) - 1
	}
	return b
}

// Push stores payload under seq. It reports whether the frame was stored.
// The buffer takes ownership of payload. A second push for a sequence
// already in the window replaces the first.
func (b *Buffer) Push(seq uint16, payload []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Pushed++
	if !b.anchored {
		b.anchorLocked(seq)
	}

	d := int16(seq - b.base)
	if d < 0 || int(d) >= len(b.slots) {
		if !b.resyncLocked(seq, d) {
			return false
		}
		d = int16(b.target)
	}
	b.outOfWindow = 0

	idx := (b.head + int(d)) % len(b.slots)
	if b.slots[idx].used {
		b.stats.Overwritten++
	} else {
		b.count++
	}
	b.slots[idx] = slot{payload: payload, seq: seq, used: true}
	b.stats.Accepted++
	return true
}

// PopReady releases the frame at the window base, if any, and advances
// the base by one. Before the first push it returns false and leaves the
// buffer untouched.
func (b *Buffer) PopReady() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.anchored {
		return Frame{}, false
	}

	s := b.slots[b.head]
	b.slots[b.head] = slot{}
	b.head = (b.head + 1) % len(b.slots)
	b.base++

	if !s.used {
		b.stats.Misses++
		return Frame{}, false
	}
	b.count--
	b.lastPlayed = s.seq
	b.played = true
	b.stats.Hits++
	return Frame{Seq: s.seq, Payload: s.payload}, true
}

// Base returns the sequence number the next PopReady will release and
// whether the window has been anchored yet.
func (b *Buffer) Base() (uint16, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base, b.anchored
}

// Len returns the number of occupied slots.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Depth returns the window size in frames.
func (b *Buffer) Depth() int {
	return len(b.slots)
}

// Target returns the playout delay in frames.
func (b *Buffer) Target() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Reset drops all buffered frames and un-anchors the window. Counters are kept.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.clearLocked()
	b.anchored = false
	b.played = false
	b.base = 0
}

func (b *Buffer) anchorLocked(seq uint16) {
	b.base = seq - uint16(b.target)
	b.head = 0
	b.anchored = true
	b.outOfWindow = 0
}

func (b *Buffer) clearLocked() {
	for i := range b.slots {
		b.slots[i] = slot{}
	}
	b.head = 0
	b.count = 0
	b.outOfWindow = 0
}

// resyncLocked handles a push at distance d outside the window. It
// re-anchors on seq and returns true when the window is idle or the run
// of out-of-window pushes has reached the threshold.
func (b *Buffer) resyncLocked(seq uint16, d int16) bool {
	if b.resyncThreshold > 0 && b.count == 0 && !b.staleLocked(seq) {
		logrus.WithFields(logrus.Fields{
			"function": "Buffer.Push",
			"old_base": b.base,
			"seq":      seq,
		}).Debug("Jitter buffer idle, re-anchoring on new talk spurt")
	} else {
		if d < 0 {
			b.stats.Late++
		} else {
			b.stats.TooFar++
		}
		b.outOfWindow++
		if b.resyncThreshold == 0 || b.outOfWindow < b.resyncThreshold {
			return false
		}
		logrus.WithFields(logrus.Fields{
			"function":      "Buffer.Push",
			"old_base":      b.base,
			"seq":           seq,
			"out_of_window": b.outOfWindow,
		}).Info("Jitter buffer re-anchoring on incoming sequence")
	}

	b.clearLocked()
	b.anchorLocked(seq)
	b.stats.Resyncs++
	return true
}

// staleLocked reports whether seq is at or before the last frame played.
func (b *Buffer) staleLocked(seq uint16) bool {
	return b.played && int16(seq-b.lastPlayed) <= 0
}
