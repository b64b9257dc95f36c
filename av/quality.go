package av

import (
	"fmt"
	"sync"
)

// QualityLevel represents an overall link quality assessment.
type QualityLevel int

const (
	// QualityExcellent indicates no audible impairment
	QualityExcellent QualityLevel = iota
	// QualityGood indicates minor impairment
	QualityGood
	// QualityFair indicates noticeable gaps or delay
	QualityFair
	// QualityPoor indicates frequent gaps or long delay
	QualityPoor
	// QualityUnacceptable indicates the conversation is not usable
	QualityUnacceptable
)

// String returns the string representation of QualityLevel.
func (q QualityLevel) String() string {
	switch q {
	case QualityExcellent:
		return "Excellent"
	case QualityGood:
		return "Good"
	case QualityFair:
		return "Fair"
	case QualityPoor:
		return "Poor"
	case QualityUnacceptable:
		return "Unacceptable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(q))
	}
}

// LinkSample is one observation window of the receive path.
type LinkSample struct {
	// Hits and Misses are jitter buffer playout outcomes in the window.
	Hits   uint64
	Misses uint64
	// Malformed counts datagrams dropped as unparseable in the window.
	Malformed uint64
	// Received counts datagrams that reached the jitter buffer.
	Received uint64
	// RTTMs is the smoothed round-trip time, negative when unknown.
	RTTMs float64
}

// LossFraction returns Misses / (Hits + Misses), or 0 for an empty window.
func (s LinkSample) LossFraction() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Misses) / float64(total)
}

// MalformedRate returns the share of datagrams that failed to parse.
func (s LinkSample) MalformedRate() float64 {
	total := s.Malformed + s.Received
	if total == 0 {
		return 0
	}
	return float64(s.Malformed) / float64(total)
}

// QualityThresholds defines the boundaries between quality levels.
// Loss values are fractions in [0, 1]; RTT values are milliseconds.
type QualityThresholds struct {
	ExcellentLoss float64
	GoodLoss      float64
	FairLoss      float64
	PoorLoss      float64

	ExcellentRTT float64
	GoodRTT      float64
	FairRTT      float64
	PoorRTT      float64

	// MaxMalformedRate lowers the assessment by one level when exceeded.
	MaxMalformedRate float64
}

// DefaultQualityThresholds returns thresholds suited to conversational voice.
func DefaultQualityThresholds() *QualityThresholds {
	return &QualityThresholds{
		ExcellentLoss:    0.01,
		GoodLoss:         0.03,
		FairLoss:         0.08,
		PoorLoss:         0.15,
		ExcellentRTT:     50,
		GoodRTT:          150,
		FairRTT:          300,
		PoorRTT:          500,
		MaxMalformedRate: 0.05,
	}
}

// AssessLink grades a sample. The worse of the loss and RTT grades wins;
// an unknown RTT does not affect the result. A nil t uses the defaults.
func AssessLink(s LinkSample, t *QualityThresholds) QualityLevel {
	if t == nil {
		t = DefaultQualityThresholds()
	}

	level := grade(s.LossFraction(), t.ExcellentLoss, t.GoodLoss, t.FairLoss, t.PoorLoss)
	if s.RTTMs >= 0 {
		level = max(level, grade(s.RTTMs, t.ExcellentRTT, t.GoodRTT, t.FairRTT, t.PoorRTT))
	}
	if s.MalformedRate() > t.MaxMalformedRate && level < QualityUnacceptable {
		level++
	}
	return level
}

func grade(v, excellent, good, fair, poor float64) QualityLevel {
	switch {
	case v >= poor:
		return QualityUnacceptable
	case v >= fair:
		return QualityPoor
	case v >= good:
		return QualityFair
	case v >= excellent:
		return QualityGood
	default:
		return QualityExcellent
	}
}

// LinkMonitor turns cumulative engine counters into windowed samples.
type LinkMonitor struct {
	mu         sync.Mutex
	engine     *Engine
	rtt        func() float64
	thresholds *QualityThresholds

	lastHits      uint64
	lastMisses    uint64
	lastMalformed uint64
	lastAccepted  uint64
	level         QualityLevel
	onChange      func(QualityLevel, LinkSample)
}

// NewLinkMonitor watches e. rtt supplies the current RTT in milliseconds
// and may be nil.
func NewLinkMonitor(e *Engine, rtt func() float64, t *QualityThresholds) *LinkMonitor {
	if t == nil {
		t = DefaultQualityThresholds()
	}
	return &LinkMonitor{engine: e, rtt: rtt, thresholds: t}
}

// OnChange installs a callback run from Sample whenever the level changes.
func (m *LinkMonitor) OnChange(fn func(QualityLevel, LinkSample)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Sample closes the current window and grades it.
func (m *LinkMonitor) Sample() (LinkSample, QualityLevel) {
	js := m.engine.JitterStats()
	malformed := m.engine.Stats().MalformedPackets

	m.mu.Lock()
	s := LinkSample{
		Hits:      js.Hits - m.lastHits,
		Misses:    js.Misses - m.lastMisses,
		Malformed: malformed - m.lastMalformed,
		Received:  js.Accepted - m.lastAccepted,
		RTTMs:     -1,
	}
	m.lastHits, m.lastMisses = js.Hits, js.Misses
	m.lastMalformed, m.lastAccepted = malformed, js.Accepted
	if m.rtt != nil {
		s.RTTMs = m.rtt()
	}

	level := AssessLink(s, m.thresholds)
	changed := level != m.level
	m.level = level
	cb := m.onChange
	m.mu.Unlock()

	if changed && cb != nil {
		cb(level, s)
	}
	return s, level
}

// Level returns the grade of the last window.
func (m *LinkMonitor) Level() QualityLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}
