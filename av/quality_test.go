package av

import (
	"testing"

	"github.com/opd-ai/meshvoice/av/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityLevelString(t *testing.T) {
	tests := []struct {
		level QualityLevel
		want  string
	}{
		{QualityExcellent, "Excellent"},
		{QualityGood, "Good"},
		{QualityFair, "Fair"},
		{QualityPoor, "Poor"},
		{QualityUnacceptable, "Unacceptable"},
		{QualityLevel(99), "Unknown(99)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestAssessLink(t *testing.T) {
	tests := []struct {
		name   string
		sample LinkSample
		want   QualityLevel
	}{
		{"empty window", LinkSample{RTTMs: -1}, QualityExcellent},
		{"clean", LinkSample{Hits: 1000, RTTMs: 20}, QualityExcellent},
		{"light loss", LinkSample{Hits: 98, Misses: 2, RTTMs: -1}, QualityGood},
		{"moderate loss", LinkSample{Hits: 95, Misses: 5, RTTMs: -1}, QualityFair},
		{"heavy loss", LinkSample{Hits: 90, Misses: 10, RTTMs: -1}, QualityPoor},
		{"severe loss", LinkSample{Hits: 80, Misses: 20, RTTMs: -1}, QualityUnacceptable},
		{"rtt dominates", LinkSample{Hits: 100, RTTMs: 350}, QualityPoor},
		{"loss dominates", LinkSample{Hits: 90, Misses: 10, RTTMs: 10}, QualityPoor},
		{"malformed lowers one level", LinkSample{Hits: 100, RTTMs: 10, Malformed: 10, Received: 90}, QualityGood},
		{"malformed capped", LinkSample{Hits: 50, Misses: 50, Malformed: 10, Received: 10, RTTMs: -1}, QualityUnacceptable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AssessLink(tt.sample, nil))
		})
	}
}

func TestLinkSampleRates(t *testing.T) {
	s := LinkSample{Hits: 3, Misses: 1, Malformed: 1, Received: 4}
	assert.InDelta(t, 0.25, s.LossFraction(), 1e-9)
	assert.InDelta(t, 0.2, s.MalformedRate(), 1e-9)
	assert.Zero(t, LinkSample{}.LossFraction())
	assert.Zero(t, LinkSample{}.MalformedRate())
}

func TestLinkMonitorWindows(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t)

	rtt := 30.0
	m := NewLinkMonitor(f.engine, func() float64 { return rtt }, nil)

	var changes []QualityLevel
	m.OnChange(func(l QualityLevel, _ LinkSample) { changes = append(changes, l) })

	// Ten frames delivered, one missing, all played out.
	for seq := uint16(1); seq <= 10; seq++ {
		if seq == 5 {
			continue
		}
		f.tr.deliver(packet.Encode(packet.Header{Version: packet.Version, Seq: seq}, []byte{0, 0}))
	}
	f.poll(10)

	s, level := m.Sample()
	assert.Equal(t, uint64(9), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(9), s.Received)
	assert.Equal(t, 30.0, s.RTTMs)
	assert.Equal(t, QualityPoor, level)
	assert.Equal(t, QualityPoor, m.Level())

	// The next window only sees what happened since.
	for seq := uint16(11); seq <= 20; seq++ {
		f.tr.deliver(packet.Encode(packet.Header{Version: packet.Version, Seq: seq}, []byte{0, 0}))
	}
	f.poll(10)
	s, level = m.Sample()
	assert.Equal(t, uint64(10), s.Hits)
	assert.Equal(t, uint64(0), s.Misses)
	assert.Equal(t, QualityExcellent, level)

	require.Len(t, changes, 2)
	assert.Equal(t, []QualityLevel{QualityPoor, QualityExcellent}, changes)
}
