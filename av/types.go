package av

import (
	"fmt"

	"github.com/opd-ai/meshvoice/av/codec"
)

// EngineState is the lifecycle state of an Engine.
type EngineState uint32

const (
	// StateUninitialized is the state before a successful Init.
	StateUninitialized EngineState = iota
	// StateReady means the engine is wired and PollOnce does work.
	StateReady
	// StateShutdown is terminal.
	StateShutdown
)

// String returns a human-readable representation of the state.
func (s EngineState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(s))
	}
}

// VoiceParams describes the audio format and encoder settings of a
// conversation.
type VoiceParams struct {
	SampleRate      int  `yaml:"sample_rate"`
	FrameMs         int  `yaml:"frame_ms"`
	BitrateBps      int  `yaml:"bitrate_bps"`
	FEC             bool `yaml:"fec"`
	DTX             bool `yaml:"dtx"`
	ExpectedLossPct int  `yaml:"expected_loss_pct"`
}

// DefaultVoiceParams returns 16 kHz mono, 20 ms frames at 12 kbps with
// FEC on and a 15% loss hint.
func DefaultVoiceParams() VoiceParams {
	return VoiceParams{
		SampleRate:      16000,
		FrameMs:         20,
		BitrateBps:      12000,
		FEC:             true,
		DTX:             false,
		ExpectedLossPct: 15,
	}
}

// FrameSamples returns the number of samples in one frame.
func (p VoiceParams) FrameSamples() int {
	return p.SampleRate * p.FrameMs / 1000
}

// Validate checks that the parameters describe a usable stream.
func (p VoiceParams) Validate() error {
	switch {
	case p.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidParams, p.SampleRate)
	case p.FrameMs <= 0 || p.FrameMs > 120:
		return fmt.Errorf("%w: frame duration %d ms", ErrInvalidParams, p.FrameMs)
	case p.FrameSamples() == 0:
		return fmt.Errorf("%w: %d ms at %d Hz is an empty frame", ErrInvalidParams, p.FrameMs, p.SampleRate)
	case p.BitrateBps < 0:
		return fmt.Errorf("%w: bitrate %d", ErrInvalidParams, p.BitrateBps)
	case p.ExpectedLossPct < 0 || p.ExpectedLossPct > 100:
		return fmt.Errorf("%w: expected loss %d%%", ErrInvalidParams, p.ExpectedLossPct)
	}
	return nil
}

func (p VoiceParams) encoderConfig() codec.EncoderConfig {
	return codec.EncoderConfig{
		SampleRate:      p.SampleRate,
		FrameSamples:    p.FrameSamples(),
		BitrateBps:      p.BitrateBps,
		FEC:             p.FEC,
		DTX:             p.DTX,
		ExpectedLossPct: p.ExpectedLossPct,
	}
}

// Stats is a snapshot of engine counters.
type Stats struct {
	TxFrames         uint64
	RxFrames         uint64
	CapturedFrames   uint64
	GatedFrames      uint64
	EncodeFailures   uint64
	DecodeFailures   uint64
	SilenceFrames    uint64
	MalformedPackets uint64
	JitterDrops      uint64
}
