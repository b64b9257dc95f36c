package av

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/meshvoice/av/audio"
	"github.com/opd-ai/meshvoice/av/jitter"
	"github.com/opd-ai/meshvoice/av/packet"
	"github.com/opd-ai/meshvoice/clock"
	"github.com/opd-ai/meshvoice/observe"
	"github.com/opd-ai/meshvoice/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const testFrameSamples = 320

type fixture struct {
	engine *Engine
	device *audio.ScriptedDevice
	codec  *mockCodec
	tr     *mockTransport
}

func newFixture(t *testing.T, frames [][]int16, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		device: audio.NewScriptedDevice(frames...),
		codec:  newMockCodec(),
		tr:     &mockTransport{},
	}
	f.engine = NewEngine(Dependencies{
		Device:    f.device,
		Codec:     f.codec,
		Transport: f.tr,
	}, opts...)
	return f
}

func (f *fixture) init(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Init(DefaultVoiceParams(), 0xC0FFEE))
	t.Cleanup(f.engine.Shutdown)
}

func (f *fixture) poll(n int) {
	for i := 0; i < n; i++ {
		f.engine.PollOnce()
	}
}

func TestInitFailureOrderAndCleanup(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*fixture, *mockSuppressor)
		want       error
		wantStops  int
		wantCloses int
	}{
		{
			name:  "capture",
			setup: func(f *fixture, _ *mockSuppressor) { f.device.CaptureErr = errBoom },
			want:  ErrCaptureStart,
		},
		{
			name:      "playback",
			setup:     func(f *fixture, _ *mockSuppressor) { f.device.PlaybackErr = errBoom },
			want:      ErrPlaybackStart,
			wantStops: 1,
		},
		{
			name:      "encoder",
			setup:     func(f *fixture, _ *mockSuppressor) { f.codec.encInitErr = errBoom },
			want:      ErrEncoderInit,
			wantStops: 1,
		},
		{
			name:       "decoder",
			setup:      func(f *fixture, _ *mockSuppressor) { f.codec.decInitErr = errBoom },
			want:       ErrDecoderInit,
			wantStops:  1,
			wantCloses: 1,
		},
		{
			name:       "suppressor",
			setup:      func(_ *fixture, s *mockSuppressor) { s.initErr = errBoom },
			want:       ErrSuppressorInit,
			wantStops:  1,
			wantCloses: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fixture{
				device: audio.NewScriptedDevice(),
				codec:  newMockCodec(),
				tr:     &mockTransport{},
			}
			sup := &mockSuppressor{}
			tt.setup(f, sup)
			f.engine = NewEngine(Dependencies{
				Device:     f.device,
				Codec:      f.codec,
				Suppressor: sup,
				Transport:  f.tr,
			})

			err := f.engine.Init(DefaultVoiceParams(), 1)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, errBoom)
			assert.Equal(t, StateUninitialized, f.engine.State())
			assert.Equal(t, tt.wantStops, f.device.Stops())
			assert.Equal(t, tt.wantCloses, f.codec.closes)
			assert.Nil(t, f.tr.handler, "receive handler must not be registered")
		})
	}
}

func TestInitRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	params := DefaultVoiceParams()
	params.FrameMs = 0
	assert.ErrorIs(t, f.engine.Init(params, 1), ErrInvalidParams)
	assert.Equal(t, StateUninitialized, f.engine.State())

	e := NewEngine(Dependencies{Device: audio.NewScriptedDevice()})
	assert.ErrorIs(t, e.Init(DefaultVoiceParams(), 1), ErrMissingDependency)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t, constFrames(3, testFrameSamples, 5000))
	f.engine.SetBypassVAD(true)

	f.poll(2)
	assert.Empty(t, f.device.Played(), "poll before Init is a no-op")
	assert.Equal(t, uint64(0), f.engine.Stats().CapturedFrames)

	require.NoError(t, f.engine.Init(DefaultVoiceParams(), 42))
	assert.Equal(t, StateReady, f.engine.State())
	assert.Equal(t, uint32(42), f.engine.ConvID())
	assert.ErrorIs(t, f.engine.Init(DefaultVoiceParams(), 42), ErrAlreadyInitialized)

	f.poll(1)
	assert.Equal(t, uint64(1), f.engine.TxFrames())

	f.engine.Shutdown()
	f.engine.Shutdown()
	assert.Equal(t, StateShutdown, f.engine.State())
	assert.Equal(t, 1, f.device.Stops())
	assert.Equal(t, 1, f.codec.closes)
	assert.Nil(t, f.tr.handler)

	f.poll(3)
	assert.Equal(t, uint64(1), f.engine.TxFrames())
	assert.Len(t, f.device.Played(), 1)
	assert.ErrorIs(t, f.engine.Init(DefaultVoiceParams(), 1), ErrAlreadyInitialized)
}

func TestShutdownBeforeInit(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Shutdown()
	assert.Equal(t, StateShutdown, f.engine.State())
	assert.Equal(t, 0, f.device.Stops())
	assert.ErrorIs(t, f.engine.Init(DefaultVoiceParams(), 1), ErrAlreadyInitialized)
}

func TestBypassVADTransmitsEveryCapturedFrame(t *testing.T) {
	const n = 50
	f := newFixture(t, constFrames(n, testFrameSamples, 0))
	f.init(t)
	f.engine.SetBypassVAD(true)

	f.poll(n + 5)

	st := f.engine.Stats()
	assert.Equal(t, uint64(n), st.CapturedFrames)
	assert.Equal(t, st.CapturedFrames, st.TxFrames)
	assert.Equal(t, uint64(0), st.GatedFrames)
	assert.Len(t, f.tr.sentPackets(), n)
}

func TestVADGatesSilentFrames(t *testing.T) {
	frames := append(constFrames(10, testFrameSamples, 0), constFrames(5, testFrameSamples, 3000)...)
	f := newFixture(t, frames, WithVAD(300, 0))
	f.init(t)

	f.poll(len(frames))

	st := f.engine.Stats()
	assert.Equal(t, uint64(15), st.CapturedFrames)
	assert.Equal(t, uint64(10), st.GatedFrames)
	assert.Equal(t, uint64(5), st.TxFrames)
}

func TestVADHangoverCarriesTrailingFrames(t *testing.T) {
	// 40 ms of hangover is 640 reference samples: two 320-sample frames.
	frames := append(constFrames(1, testFrameSamples, 3000), constFrames(4, testFrameSamples, 0)...)
	f := newFixture(t, frames, WithVAD(300, 40*time.Millisecond))
	f.init(t)

	f.poll(len(frames))
	assert.Equal(t, uint64(3), f.engine.TxFrames())
}

func TestBypassVADLeavesGateUntouched(t *testing.T) {
	frames := append(constFrames(1, testFrameSamples, 3000), constFrames(2, testFrameSamples, 0)...)
	f := newFixture(t, frames, WithVAD(300, 40*time.Millisecond))
	f.init(t)

	f.engine.SetBypassVAD(true)
	f.poll(1)
	f.engine.SetBypassVAD(false)
	f.poll(2)

	// The loud frame went out under bypass and armed no hangover.
	st := f.engine.Stats()
	assert.Equal(t, uint64(1), st.TxFrames)
	assert.Equal(t, uint64(2), st.GatedFrames)
}

func TestPacedDeviceHoldsFrameCadence(t *testing.T) {
	mc := clock.NewManualClock(time.Unix(3000, 0))
	dev := audio.NewToneDevice(20, 4000)
	dev.Clock = mc
	tr := &mockTransport{}
	e := NewEngine(Dependencies{Device: dev, Codec: newMockCodec(), Transport: tr}, WithClock(mc))
	require.NoError(t, e.Init(DefaultVoiceParams(), 1))
	defer e.Shutdown()

	for step := 1; step <= 3; step++ {
		for i := 0; i < 4; i++ {
			e.PollOnce()
			mc.Advance(5 * time.Millisecond)
		}
		assert.Equal(t, step, dev.Captured())
		assert.Len(t, dev.Played(), step)
		assert.Len(t, tr.sentPackets(), step)
	}
	assert.Equal(t, uint64(3), e.Stats().SilenceFrames)
}

func TestHeaderFields(t *testing.T) {
	mc := clock.NewManualClock(time.UnixMilli(1_700_000_000_123))
	f := newFixture(t, rampFrames(3, testFrameSamples), WithClock(mc))
	f.init(t)

	for i := 0; i < 3; i++ {
		f.engine.PollOnce()
		mc.Advance(20 * time.Millisecond)
	}

	sent := f.tr.sentPackets()
	require.Len(t, sent, 3)
	for i, d := range sent {
		h, payload, err := packet.Decode(d)
		require.NoError(t, err)
		assert.Equal(t, packet.Version, h.Version)
		assert.Equal(t, packet.CodecL16, h.Codec)
		assert.True(t, h.PushToTalk())
		assert.Equal(t, uint16(i+1), h.Seq)
		assert.Equal(t, uint32(0xC0FFEE), h.ConvID)
		assert.Equal(t, clock.Millis32(time.UnixMilli(1_700_000_000_123+int64(i)*20)), h.TimestampMs)
		assert.Equal(t, int(h.PayloadLen), len(payload))
		assert.Len(t, payload, testFrameSamples*2)
	}
}

func TestLocalEchoBuffersOwnFrames(t *testing.T) {
	const n = 20
	frames := rampFrames(n, testFrameSamples)
	buf := jitter.New()
	f := newFixture(t, frames, WithJitterBuffer(buf))
	f.init(t)
	f.engine.SetLocalEcho(true)
	f.engine.SetBypassVAD(true)

	for i := 0; i < n; i++ {
		f.engine.PollOnce()

		// The frame sent this cycle was buffered under its own sequence
		// and released by the same cycle's receive step.
		js := buf.Stats()
		assert.Equal(t, uint64(i+1), js.Accepted)
		assert.Equal(t, uint64(i+1), js.Hits)
		base, anchored := buf.Base()
		require.True(t, anchored)
		assert.Equal(t, uint16(i+2), base)
	}

	played := f.device.Played()
	require.Len(t, played, n)
	for i := range frames {
		assert.Equal(t, frames[i], played[i], "frame %d", i)
	}
	assert.Equal(t, uint64(n), f.engine.RxFrames())
	assert.Equal(t, uint64(n), f.engine.TxFrames())
	assert.Equal(t, uint64(0), f.engine.Stats().SilenceFrames)
}

func TestSendErrorStillCountsAsTransmitted(t *testing.T) {
	f := newFixture(t, constFrames(4, testFrameSamples, 4000))
	f.tr.sendErr = transport.ErrNoRemote
	f.init(t)

	f.poll(4)
	assert.Equal(t, uint64(4), f.engine.TxFrames())
}

func TestEncodeFailureSkipsFrame(t *testing.T) {
	f := newFixture(t, constFrames(3, testFrameSamples, 4000))
	f.codec.encodeErr = errBoom
	f.init(t)

	f.poll(3)
	st := f.engine.Stats()
	assert.Equal(t, uint64(3), st.EncodeFailures)
	assert.Equal(t, uint64(0), st.TxFrames)
	assert.Empty(t, f.tr.sentPackets())
}

func TestSilenceOnMiss(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t)

	f.poll(5)

	played := f.device.Played()
	require.Len(t, played, 5)
	for _, frame := range played {
		assert.Len(t, frame, testFrameSamples)
		assert.Equal(t, make([]int16, testFrameSamples), frame)
	}
	st := f.engine.Stats()
	assert.Equal(t, uint64(5), st.SilenceFrames)
	assert.Equal(t, uint64(0), st.RxFrames)
}

func TestDecodeFailurePlaysSilence(t *testing.T) {
	f := newFixture(t, nil)
	f.codec.decodeErr = errBoom
	f.init(t)

	f.tr.deliver(packet.Encode(packet.Header{Version: packet.Version, Codec: packet.CodecL16, Seq: 9}, []byte{1, 2, 3, 4}))
	f.poll(1)

	st := f.engine.Stats()
	assert.Equal(t, uint64(1), st.DecodeFailures)
	assert.Equal(t, uint64(1), st.SilenceFrames)
	assert.Equal(t, uint64(0), st.RxFrames)
	played := f.device.Played()
	require.Len(t, played, 1)
	assert.Equal(t, make([]int16, testFrameSamples), played[0])
}

func TestReceivedFrameIsDecodedAndPlayed(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t)

	pcm := rampFrames(1, testFrameSamples)[0]
	payload, err := f.codec.PCMCodec.Encode(pcm)
	require.NoError(t, err)
	f.tr.deliver(packet.Encode(packet.Header{Version: packet.Version, Codec: packet.CodecL16, Seq: 100}, payload))

	assert.Empty(t, f.device.Played(), "no decode on the receive path")
	f.poll(1)

	require.Len(t, f.device.Played(), 1)
	assert.Equal(t, pcm, f.device.Played()[0])
	assert.Equal(t, uint64(1), f.engine.RxFrames())
}

func TestMalformedPacketsAreDropped(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t)

	valid := packet.Encode(packet.Header{Version: packet.Version, Seq: 1}, []byte{1, 2})
	wrongVersion := append([]byte(nil), valid...)
	wrongVersion[0] = 9
	truncated := valid[:len(valid)-1]

	inputs := map[string][]byte{
		"empty":         nil,
		"short":         valid[:packet.HeaderSize-1],
		"truncated":     truncated,
		"wrong version": wrongVersion,
		"no payload":    packet.Encode(packet.Header{Version: packet.Version, Seq: 2}, nil),
	}
	for name, d := range inputs {
		assert.NotPanics(t, func() { f.tr.deliver(d) }, name)
	}

	st := f.engine.Stats()
	assert.Equal(t, uint64(len(inputs)), st.MalformedPackets)
	assert.Equal(t, uint64(0), f.engine.JitterStats().Pushed)
}

func TestJitterDropsAreCounted(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t)

	f.tr.deliver(packet.Encode(packet.Header{Version: packet.Version, Seq: 50}, []byte{0, 0}))
	f.tr.deliver(packet.Encode(packet.Header{Version: packet.Version, Seq: 49}, []byte{0, 0}))

	assert.Equal(t, uint64(1), f.engine.Stats().JitterDrops)
}

func TestPushToTalkGating(t *testing.T) {
	f := newFixture(t, constFrames(6, testFrameSamples, 4000))
	f.init(t)
	f.engine.SetPushToTalkGating(true)

	f.poll(2)
	assert.Equal(t, uint64(0), f.engine.TxFrames())
	assert.Equal(t, uint64(2), f.engine.Stats().GatedFrames)

	f.engine.SetPushToTalk(true)
	f.poll(2)
	assert.Equal(t, uint64(2), f.engine.TxFrames())

	f.engine.SetPushToTalk(false)
	f.engine.SetPushToTalkGating(false)
	f.poll(2)
	assert.Equal(t, uint64(4), f.engine.TxFrames())
}

func TestSuppressorRunsBeforeEncode(t *testing.T) {
	sup := &mockSuppressor{}
	dev := audio.NewScriptedDevice(constFrames(2, testFrameSamples, 4000)...)
	tr := &mockTransport{}
	e := NewEngine(Dependencies{
		Device:     dev,
		Codec:      newMockCodec(),
		Suppressor: sup,
		Transport:  tr,
	}, WithSuppressorSettings(false, -25))
	require.NoError(t, e.Init(DefaultVoiceParams(), 1))

	require.NotNil(t, sup.init)
	assert.Equal(t, suppressorInit{16000, testFrameSamples, false, -25}, *sup.init)

	e.PollOnce()
	e.PollOnce()
	assert.Equal(t, 2, sup.processed)

	sent := tr.sentPackets()
	require.Len(t, sent, 2)
	_, payload, err := packet.Decode(sent[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD0, 0x07}, payload[:2], "samples halved to 2000")

	e.Shutdown()
	assert.Equal(t, 1, sup.closes)
}

func TestEndToEndLossyLink(t *testing.T) {
	const frames = 1000
	mc := clock.NewManualClock(time.Unix(1000, 0))
	linkA, linkB := transport.NewSimulatedLink(transport.LinkConfig{
		Loss:     0.10,
		MaxDelay: 120 * time.Millisecond,
		Seed:     7,
		Clock:    mc,
	})

	// Seven frames of playout delay cover the 120 ms delay spread.
	devA := audio.NewScriptedDevice(rampFrames(frames, testFrameSamples)...)
	sender := NewEngine(Dependencies{Device: devA, Codec: newMockCodec(), Transport: linkA},
		WithClock(mc), WithJitterBuffer(jitter.New(jitter.WithTarget(7))))
	devB := audio.NewScriptedDevice()
	receiver := NewEngine(Dependencies{Device: devB, Codec: newMockCodec(), Transport: linkB},
		WithClock(mc), WithJitterBuffer(jitter.New(jitter.WithTarget(7))))

	require.NoError(t, sender.Init(DefaultVoiceParams(), 5))
	require.NoError(t, receiver.Init(DefaultVoiceParams(), 5))
	defer sender.Shutdown()
	defer receiver.Shutdown()
	sender.SetBypassVAD(true)

	const steps = frames + 20
	for i := 0; i < steps; i++ {
		mc.Advance(20 * time.Millisecond)
		sender.PollOnce()
		linkB.Pump()
		receiver.PollOnce()
		linkA.Pump()
	}

	tx := sender.TxFrames()
	rx := receiver.RxFrames()
	dropped := linkA.Stats().Dropped
	require.Equal(t, uint64(frames), tx)

	assert.Less(t, rx, tx)
	assert.Equal(t, tx-dropped, rx, "every delivered frame is played")
	loss := float64(tx-rx) / float64(tx)
	assert.InDelta(t, 0.10, loss, 0.05)

	played := devB.Played()
	assert.Len(t, played, steps, "one playout write per poll")
	st := receiver.Stats()
	assert.Equal(t, uint64(steps)-rx, st.SilenceFrames)
	assert.Equal(t, uint64(0), st.JitterDrops)
	assert.Equal(t, uint64(0), st.MalformedPackets)
}

func TestTalkSpurtAfterPauseIsNotDropped(t *testing.T) {
	mc := clock.NewManualClock(time.Unix(2000, 0))
	linkA, linkB := transport.NewSimulatedLink(transport.LinkConfig{Clock: mc})

	var frames [][]int16
	frames = append(frames, constFrames(50, testFrameSamples, 4000)...)
	frames = append(frames, constFrames(50, testFrameSamples, 0)...)
	frames = append(frames, constFrames(50, testFrameSamples, 4000)...)

	sender := NewEngine(Dependencies{
		Device:    audio.NewScriptedDevice(frames...),
		Codec:     newMockCodec(),
		Transport: linkA,
	}, WithClock(mc))
	buf := jitter.New(jitter.WithTarget(6))
	receiver := NewEngine(Dependencies{
		Device:    audio.NewScriptedDevice(),
		Codec:     newMockCodec(),
		Transport: linkB,
	}, WithClock(mc), WithJitterBuffer(buf))

	require.NoError(t, sender.Init(DefaultVoiceParams(), 9))
	require.NoError(t, receiver.Init(DefaultVoiceParams(), 9))
	defer sender.Shutdown()
	defer receiver.Shutdown()

	for i := 0; i < len(frames)+20; i++ {
		mc.Advance(20 * time.Millisecond)
		sender.PollOnce()
		linkB.Pump()
		receiver.PollOnce()
	}

	st := sender.Stats()
	require.Greater(t, st.GatedFrames, uint64(30), "the pause is gated")
	assert.Equal(t, st.TxFrames, receiver.RxFrames(), "both talk spurts are played in full")
	assert.Equal(t, uint64(0), receiver.Stats().JitterDrops)
	js := buf.Stats()
	assert.Equal(t, uint64(0), js.Late)
	assert.Equal(t, uint64(1), js.Resyncs)
}

func TestMetricsRecording(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	f := newFixture(t, constFrames(3, testFrameSamples, 4000), WithMetrics(m))
	f.init(t)
	f.poll(3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[met.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(3), totals["meshvoice.tx.frames"])
	assert.Equal(t, int64(3), totals["meshvoice.rx.silence_frames"])
}

func TestEngineStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "shutdown", StateShutdown.String())
	assert.Equal(t, "unknown(7)", EngineState(7).String())
}
