// Package observe provides OpenTelemetry metric instruments for the voice
// engine and a Prometheus exporter bridge.
//
// Engine components record through a [Metrics] value. A nil *Metrics is
// valid and records nothing, so callers never need to guard their
// recording sites. Tests should use [NewMetrics] with a ManualReader-backed
// provider instead of the global one.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope used for all meshvoice metrics.
const meterName = "github.com/opd-ai/meshvoice"

// Metrics holds the instruments recorded by the voice path.
type Metrics struct {
	// TxFrames counts voice frames handed to the transport.
	TxFrames metric.Int64Counter

	// RxFrames counts frames decoded and played out.
	RxFrames metric.Int64Counter

	// SilenceFrames counts playout slots filled with silence. Use with
	// attribute.String("reason", "miss"|"decode_error").
	SilenceFrames metric.Int64Counter

	// DecodeFailures counts payloads the codec rejected.
	DecodeFailures metric.Int64Counter

	// MalformedPackets counts received datagrams that failed to parse.
	MalformedPackets metric.Int64Counter

	// JitterDrops counts payloads the jitter buffer refused.
	JitterDrops metric.Int64Counter

	// RTT tracks round-trip samples from the probe, in milliseconds.
	RTT metric.Float64Histogram

	// PollDuration tracks the time spent in one engine poll, in seconds.
	PollDuration metric.Float64Histogram
}

var rttBuckets = []float64{1, 5, 10, 20, 40, 80, 150, 300, 600, 1200}

var pollBuckets = []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TxFrames, err = m.Int64Counter("meshvoice.tx.frames",
		metric.WithDescription("Voice frames sent to the transport."),
	); err != nil {
		return nil, err
	}
	if met.RxFrames, err = m.Int64Counter("meshvoice.rx.frames",
		metric.WithDescription("Voice frames decoded and played."),
	); err != nil {
		return nil, err
	}
	if met.SilenceFrames, err = m.Int64Counter("meshvoice.rx.silence_frames",
		metric.WithDescription("Playout slots filled with silence by reason."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("meshvoice.rx.decode_failures",
		metric.WithDescription("Payloads the decoder rejected."),
	); err != nil {
		return nil, err
	}
	if met.MalformedPackets, err = m.Int64Counter("meshvoice.rx.malformed_packets",
		metric.WithDescription("Received datagrams that were not valid voice packets."),
	); err != nil {
		return nil, err
	}
	if met.JitterDrops, err = m.Int64Counter("meshvoice.rx.jitter_drops",
		metric.WithDescription("Payloads outside the jitter window."),
	); err != nil {
		return nil, err
	}

	if met.RTT, err = m.Float64Histogram("meshvoice.rtt",
		metric.WithDescription("Round-trip time samples from the RTT probe."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(rttBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PollDuration, err = m.Float64Histogram("meshvoice.poll.duration",
		metric.WithDescription("Time spent in one engine poll."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(pollBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// AddTx records n transmitted frames.
func (m *Metrics) AddTx(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.TxFrames.Add(ctx, n)
}

// AddRx records n played frames.
func (m *Metrics) AddRx(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.RxFrames.Add(ctx, n)
}

// AddSilence records one silent playout slot with its reason.
func (m *Metrics) AddSilence(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.SilenceFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// AddDecodeFailure records one rejected payload.
func (m *Metrics) AddDecodeFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.DecodeFailures.Add(ctx, 1)
}

// AddMalformed records one unparseable datagram.
func (m *Metrics) AddMalformed(ctx context.Context) {
	if m == nil {
		return
	}
	m.MalformedPackets.Add(ctx, 1)
}

// AddJitterDrop records one payload refused by the jitter buffer.
func (m *Metrics) AddJitterDrop(ctx context.Context) {
	if m == nil {
		return
	}
	m.JitterDrops.Add(ctx, 1)
}

// RecordRTT records one RTT sample in milliseconds.
func (m *Metrics) RecordRTT(ctx context.Context, ms float64) {
	if m == nil {
		return
	}
	m.RTT.Record(ctx, ms)
}

// RecordPoll records the duration of one poll in seconds.
func (m *Metrics) RecordPoll(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.PollDuration.Record(ctx, seconds)
}
