package av

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/meshvoice/av/audio"
	"github.com/opd-ai/meshvoice/av/codec"
	"github.com/opd-ai/meshvoice/av/jitter"
	"github.com/opd-ai/meshvoice/av/packet"
	"github.com/opd-ai/meshvoice/clock"
	"github.com/opd-ai/meshvoice/observe"
	"github.com/opd-ai/meshvoice/transport"
	"github.com/sirupsen/logrus"
)

// Dependencies are the collaborators an Engine drives. Suppressor is
// optional; the rest are required.
type Dependencies struct {
	Device     audio.Device
	Codec      codec.Codec
	Suppressor audio.Suppressor
	Transport  transport.Transport
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithJitterBuffer replaces the default 64-slot jitter buffer.
func WithJitterBuffer(b *jitter.Buffer) Option {
	return func(e *Engine) {
		if b != nil {
			e.jitter = b
		}
	}
}

// WithMetrics records engine activity into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock sets the time source used for packet timestamps.
func WithClock(tp clock.TimeProvider) Option {
	return func(e *Engine) {
		e.clock = tp
	}
}

// WithVAD sets the speech gate threshold (RMS) and hangover.
func WithVAD(threshold float64, hangover time.Duration) Option {
	return func(e *Engine) {
		e.vadThreshold = threshold
		e.vadHangover = hangover
	}
}

// WithSuppressorSettings sets the AGC switch and the suppression depth in
// dB passed to the suppressor at Init.
func WithSuppressorSettings(agc bool, suppressDB int) Option {
	return func(e *Engine) {
		e.agc = agc
		e.suppressDB = suppressDB
	}
}

// Engine moves captured PCM frames through the codec onto a Transport and
// plays received frames back through a jitter buffer.
//
// PollOnce is meant to be called from a single goroutine at the frame
// cadence; the receive handler may run concurrently on the transport's
// goroutine. All readers are safe from any goroutine.
type Engine struct {
	deps    Dependencies
	jitter  *jitter.Buffer
	gate    *audio.Gate
	metrics *observe.Metrics
	clock   clock.TimeProvider

	vadThreshold float64
	vadHangover  time.Duration
	agc          bool
	suppressDB   int

	// mu serializes Init, PollOnce and Shutdown.
	mu           sync.Mutex
	state        atomic.Uint32
	params       VoiceParams
	frameSamples int
	silence      []int16
	convID       atomic.Uint32
	seq          uint16

	localEcho atomic.Bool
	bypassVAD atomic.Bool
	pttDown   atomic.Bool
	pttGating atomic.Bool

	txFrames       atomic.Uint64
	rxFrames       atomic.Uint64
	captured       atomic.Uint64
	gated          atomic.Uint64
	encodeFailures atomic.Uint64
	decodeFailures atomic.Uint64
	silenceFrames  atomic.Uint64
	malformed      atomic.Uint64
	jitterDrops    atomic.Uint64
}

// NewEngine returns an uninitialized engine over deps.
func NewEngine(deps Dependencies, opts ...Option) *Engine {
	e := &Engine{
		deps:         deps,
		gate:         audio.NewGate(),
		vadThreshold: audio.DefaultVADThreshold,
		vadHangover:  audio.DefaultVADHangover,
		agc:          true,
		suppressDB:   audio.DefaultSuppressDB,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.jitter == nil {
		e.jitter = jitter.New()
	}
	e.clock = clock.Or(e.clock)
	return e
}

// Init wires the collaborators and moves the engine to StateReady. Steps
// run in a fixed order: capture, playback, encoder, decoder, suppressor,
// VAD, receive handler. The first failure releases what was already
// started and leaves the engine uninitialized.
func (e *Engine) Init(params VoiceParams, convID uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StateUninitialized {
		return ErrAlreadyInitialized
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if e.deps.Device == nil || e.deps.Codec == nil || e.deps.Transport == nil {
		return fmt.Errorf("%w: device, codec and transport are required", ErrMissingDependency)
	}

	frameSamples := params.FrameSamples()
	dev := e.deps.Device

	if err := dev.StartCapture(params.SampleRate, 1); err != nil {
		return e.initFailed("capture", fmt.Errorf("%w: %w", ErrCaptureStart, err))
	}
	if err := dev.StartPlayback(params.SampleRate, 1); err != nil {
		_ = dev.Stop()
		return e.initFailed("playback", fmt.Errorf("%w: %w", ErrPlaybackStart, err))
	}
	if err := e.deps.Codec.InitEncoder(params.encoderConfig()); err != nil {
		_ = dev.Stop()
		return e.initFailed("encoder", fmt.Errorf("%w: %w", ErrEncoderInit, err))
	}
	if err := e.deps.Codec.InitDecoder(params.SampleRate); err != nil {
		_ = dev.Stop()
		_ = e.deps.Codec.Close()
		return e.initFailed("decoder", fmt.Errorf("%w: %w", ErrDecoderInit, err))
	}
	if e.deps.Suppressor != nil {
		if err := e.deps.Suppressor.Init(params.SampleRate, frameSamples, e.agc, e.suppressDB); err != nil {
			_ = dev.Stop()
			_ = e.deps.Codec.Close()
			return e.initFailed("suppressor", fmt.Errorf("%w: %w", ErrSuppressorInit, err))
		}
	}

	e.gate.Configure(e.vadThreshold, e.vadHangover)

	e.params = params
	e.frameSamples = frameSamples
	e.silence = make([]int16, frameSamples)
	e.convID.Store(convID)
	e.state.Store(uint32(StateReady))

	e.deps.Transport.OnReceive(e.handleDatagram)

	logrus.WithFields(logrus.Fields{
		"function":      "Engine.Init",
		"conv_id":       convID,
		"codec":         e.deps.Codec.Name(),
		"sample_rate":   params.SampleRate,
		"frame_ms":      params.FrameMs,
		"frame_samples": frameSamples,
		"bitrate":       params.BitrateBps,
		"suppressor":    e.deps.Suppressor != nil,
	}).Info("Voice engine ready")

	return nil
}

func (e *Engine) initFailed(step string, err error) error {
	logrus.WithFields(logrus.Fields{
		"function": "Engine.Init",
		"step":     step,
		"error":    err.Error(),
	}).Error("Voice engine initialization failed")
	return err
}

// PollOnce performs one transmit attempt followed by one receive attempt.
// It does nothing unless the engine is ready. When the device implements
// audio.PlayoutPacer the receive attempt only pops the jitter buffer once
// the device is ready for the next frame, so playout keeps the frame rate
// however often PollOnce runs.
func (e *Engine) PollOnce() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StateReady {
		return
	}

	start := time.Now()
	e.transmit()
	e.receive()
	e.metrics.RecordPoll(context.Background(), time.Since(start).Seconds())
}

func (e *Engine) transmit() {
	pcm, ok := e.deps.Device.ReadFrame()
	if !ok {
		return
	}
	e.captured.Add(1)

	if e.deps.Suppressor != nil {
		e.deps.Suppressor.Process(pcm)
	}

	speech := e.bypassVAD.Load() || e.gate.IsSpeech(pcm)
	if !speech || (e.pttGating.Load() && !e.pttDown.Load()) {
		e.gated.Add(1)
		return
	}

	payload, err := e.deps.Codec.Encode(pcm)
	if err != nil || len(payload) > packet.MaxPayloadLen {
		e.encodeFailures.Add(1)
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.transmit",
				"bytes":    len(payload),
				"error":    fmt.Sprint(err),
			}).Debug("Encode failed, frame skipped")
		}
		return
	}
	if len(payload) == 0 {
		// Discontinuous transmission: the encoder chose to send nothing.
		return
	}

	e.seq++
	datagram := packet.Encode(packet.Header{
		Version:     packet.Version,
		Codec:       e.deps.Codec.ID(),
		Flags:       packet.FlagPushToTalk,
		Seq:         e.seq,
		ConvID:      e.convID.Load(),
		TimestampMs: clock.Millis32(e.clock.Now()),
	}, payload)

	if e.localEcho.Load() {
		e.handleDatagram(datagram)
	}

	if err := e.deps.Transport.Send(datagram); err != nil && logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.transmit",
			"seq":      e.seq,
			"error":    err.Error(),
		}).Debug("Send failed")
	}
	e.txFrames.Add(1)
	e.metrics.AddTx(context.Background(), 1)
}

func (e *Engine) receive() {
	ctx := context.Background()

	if p, ok := e.deps.Device.(audio.PlayoutPacer); ok && !p.PlayoutDue() {
		return
	}

	frame, ok := e.jitter.PopReady()
	if !ok {
		e.playSilence(ctx, "miss")
		return
	}

	pcm, err := e.deps.Codec.Decode(frame.Payload, e.frameSamples)
	if err != nil {
		e.decodeFailures.Add(1)
		e.metrics.AddDecodeFailure(ctx)
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.receive",
				"seq":      frame.Seq,
				"error":    err.Error(),
			}).Debug("Decode failed, playing silence")
		}
		e.playSilence(ctx, "decode_error")
		return
	}

	e.write(pcm)
	e.rxFrames.Add(1)
	e.metrics.AddRx(ctx, 1)
}

func (e *Engine) playSilence(ctx context.Context, reason string) {
	clear(e.silence)
	e.write(e.silence)
	e.silenceFrames.Add(1)
	e.metrics.AddSilence(ctx, reason)
}

func (e *Engine) write(pcm []int16) {
	if err := e.deps.Device.WriteFrame(pcm); err != nil && logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.write",
			"samples":  len(pcm),
			"error":    err.Error(),
		}).Debug("Playback write failed")
	}
}

// handleDatagram is the transport receive handler. It only parses and
// buffers; decoding happens on the poll goroutine.
func (e *Engine) handleDatagram(datagram []byte) {
	if e.State() != StateReady {
		return
	}

	h, payload, err := packet.Decode(datagram)
	if err == nil && h.Version != packet.Version {
		err = fmt.Errorf("unsupported version %d", h.Version)
	}
	if err == nil && len(payload) == 0 {
		err = codec.ErrEmptyPayload
	}
	if err != nil {
		e.malformed.Add(1)
		e.metrics.AddMalformed(context.Background())
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.handleDatagram",
				"bytes":    len(datagram),
				"error":    err.Error(),
			}).Debug("Dropping malformed voice packet")
		}
		return
	}

	if !e.jitter.Push(h.Seq, payload) {
		e.jitterDrops.Add(1)
		e.metrics.AddJitterDrop(context.Background())
	}
}

// Shutdown stops the device and releases the codec and suppressor. It is
// terminal and idempotent. The transport is left running; its owner stops it.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.State()
	if prev == StateShutdown {
		return
	}
	e.state.Store(uint32(StateShutdown))
	if prev != StateReady {
		return
	}

	e.deps.Transport.OnReceive(nil)
	if err := e.deps.Device.Stop(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.Shutdown",
			"error":    err.Error(),
		}).Warn("Device stop failed")
	}
	if err := e.deps.Codec.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.Shutdown",
			"error":    err.Error(),
		}).Warn("Codec close failed")
	}
	if e.deps.Suppressor != nil {
		_ = e.deps.Suppressor.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Engine.Shutdown",
		"conv_id":   e.convID.Load(),
		"tx_frames": e.txFrames.Load(),
		"rx_frames": e.rxFrames.Load(),
	}).Info("Voice engine shut down")
}

// SetLocalEcho makes every transmitted packet also enter the local
// receive path.
func (e *Engine) SetLocalEcho(on bool) { e.localEcho.Store(on) }

// SetBypassVAD treats every captured frame as speech.
func (e *Engine) SetBypassVAD(on bool) { e.bypassVAD.Store(on) }

// SetPushToTalk records the state of the talk key.
func (e *Engine) SetPushToTalk(down bool) { e.pttDown.Store(down) }

// SetPushToTalkGating makes transmission require the talk key to be down.
func (e *Engine) SetPushToTalkGating(on bool) { e.pttGating.Store(on) }

// State returns the lifecycle state.
func (e *Engine) State() EngineState { return EngineState(e.state.Load()) }

// ConvID returns the conversation id set at Init.
func (e *Engine) ConvID() uint32 { return e.convID.Load() }

// TxFrames returns the number of transmitted frames.
func (e *Engine) TxFrames() uint64 { return e.txFrames.Load() }

// RxFrames returns the number of decoded and played frames.
func (e *Engine) RxFrames() uint64 { return e.rxFrames.Load() }

// JitterStats returns the jitter buffer counters.
func (e *Engine) JitterStats() jitter.Stats { return e.jitter.Stats() }

// Stats returns a snapshot of all engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		TxFrames:         e.txFrames.Load(),
		RxFrames:         e.rxFrames.Load(),
		CapturedFrames:   e.captured.Load(),
		GatedFrames:      e.gated.Load(),
		EncodeFailures:   e.encodeFailures.Load(),
		DecodeFailures:   e.decodeFailures.Load(),
		SilenceFrames:    e.silenceFrames.Load(),
		MalformedPackets: e.malformed.Load(),
		JitterDrops:      e.jitterDrops.Load(),
	}
}
