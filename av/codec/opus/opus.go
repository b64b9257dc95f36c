// Package opus provides the Opus speech codec through libopus.
//
// It is kept apart from package codec because it requires cgo; builds
// that only need the pure-Go codecs do not link libopus. Codec is the
// default backend and exposes the full encoder control set. GopusCodec
// is a lighter alternative on the gopus binding.
package opus

import (
	"fmt"
	"sync"

	"github.com/opd-ai/meshvoice/av/codec"
	"github.com/opd-ai/meshvoice/av/packet"
	"github.com/sirupsen/logrus"
	hopus "gopkg.in/hraban/opus.v2"
)

const (
	// maxPacketBytes caps a single encoded frame.
	maxPacketBytes = 1275

	// maxFrameMs is the longest Opus frame a packet can carry.
	maxFrameMs = 120

	// DefaultComplexity trades encoder CPU for quality on a 0-10 scale.
	DefaultComplexity = 5
)

// Name is the codec name accepted by NewByName.
const Name = "opus"

// Settings are the encoder controls as libopus reports them.
type Settings struct {
	BitrateBps      int
	Complexity      int
	FEC             bool
	DTX             bool
	ExpectedLossPct int
}

// Codec is a mono VoIP-tuned Opus encoder/decoder pair.
type Codec struct {
	mu     sync.Mutex
	enc    *hopus.Encoder
	dec    *hopus.Decoder
	decBuf []int16
}

// New returns an uninitialised Opus codec.
func New() *Codec {
	return &Codec{}
}

// ID implements codec.Codec.
func (c *Codec) ID() uint8 { return packet.CodecOpus }

// Name implements codec.Codec.
func (c *Codec) Name() string { return Name }

// InitEncoder implements codec.Codec. It applies the bitrate, in-band
// FEC, DTX and expected packet loss from cfg, and DefaultComplexity.
func (c *Codec) InitEncoder(cfg codec.EncoderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := codec.ValidateSampleRate(cfg.SampleRate); err != nil {
		return err
	}

	enc, err := hopus.NewEncoder(cfg.SampleRate, 1, hopus.AppVoIP)
	if err != nil {
		return fmt.Errorf("opus: new encoder: %w", err)
	}
	if cfg.BitrateBps > 0 {
		if err := enc.SetBitrate(cfg.BitrateBps); err != nil {
			return fmt.Errorf("opus: set bitrate %d: %w", cfg.BitrateBps, err)
		}
	}
	if err := enc.SetComplexity(DefaultComplexity); err != nil {
		return fmt.Errorf("opus: set complexity: %w", err)
	}
	if err := enc.SetInBandFEC(cfg.FEC); err != nil {
		return fmt.Errorf("opus: set in-band FEC: %w", err)
	}
	if err := enc.SetDTX(cfg.DTX); err != nil {
		return fmt.Errorf("opus: set DTX: %w", err)
	}
	if err := enc.SetPacketLossPerc(cfg.ExpectedLossPct); err != nil {
		return fmt.Errorf("opus: set packet loss %d%%: %w", cfg.ExpectedLossPct, err)
	}

	c.mu.Lock()
	c.enc = enc
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":      "opus.InitEncoder",
		"sample_rate":   cfg.SampleRate,
		"frame_samples": cfg.FrameSamples,
		"bitrate":       cfg.BitrateBps,
		"complexity":    DefaultComplexity,
		"fec":           cfg.FEC,
		"dtx":           cfg.DTX,
		"expected_loss": cfg.ExpectedLossPct,
	}).Info("Opus encoder initialized")
	return nil
}

// EncoderSettings reads the active encoder controls back from libopus.
func (c *Codec) EncoderSettings() (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enc == nil {
		return Settings{}, codec.ErrNotInitialized
	}
	var (
		s   Settings
		err error
	)
	if s.BitrateBps, err = c.enc.Bitrate(); err != nil {
		return Settings{}, fmt.Errorf("opus: read bitrate: %w", err)
	}
	if s.Complexity, err = c.enc.Complexity(); err != nil {
		return Settings{}, fmt.Errorf("opus: read complexity: %w", err)
	}
	if s.FEC, err = c.enc.InBandFEC(); err != nil {
		return Settings{}, fmt.Errorf("opus: read in-band FEC: %w", err)
	}
	if s.DTX, err = c.enc.DTX(); err != nil {
		return Settings{}, fmt.Errorf("opus: read DTX: %w", err)
	}
	if s.ExpectedLossPct, err = c.enc.PacketLossPerc(); err != nil {
		return Settings{}, fmt.Errorf("opus: read packet loss: %w", err)
	}
	return s, nil
}

// InitDecoder implements codec.Codec.
func (c *Codec) InitDecoder(sampleRate int) error {
	if err := codec.ValidateSampleRate(sampleRate); err != nil {
		return err
	}
	dec, err := hopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return fmt.Errorf("opus: new decoder: %w", err)
	}

	c.mu.Lock()
	c.dec = dec
	c.decBuf = make([]int16, sampleRate*maxFrameMs/1000)
	c.mu.Unlock()
	return nil
}

// Encode implements codec.Codec. With DTX enabled libopus may return a
// packet of one or two bytes during silence.
func (c *Codec) Encode(pcm []int16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enc == nil {
		return nil, codec.ErrNotInitialized
	}
	data := make([]byte, maxPacketBytes)
	n, err := c.enc.Encode(pcm, data)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return data[:n], nil
}

// Decode implements codec.Codec.
func (c *Codec) Decode(payload []byte, frameSamples int) ([]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dec == nil {
		return nil, codec.ErrNotInitialized
	}
	if len(payload) == 0 {
		return nil, codec.ErrEmptyPayload
	}
	n, err := c.dec.Decode(payload, c.decBuf)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return fitFrame(c.decBuf[:n], frameSamples), nil
}

// Close implements codec.Codec. The binding frees native state when the
// encoder and decoder are collected.
func (c *Codec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enc = nil
	c.dec = nil
	c.decBuf = nil
	return nil
}

// fitFrame returns exactly frameSamples samples, zero padded or cut.
func fitFrame(pcm []int16, frameSamples int) []int16 {
	out := make([]int16, frameSamples)
	copy(out, pcm)
	return out
}

// NewByName returns the codec for name, handling the Opus backends here
// and delegating everything else to codec.New.
func NewByName(name string) (codec.Codec, error) {
	switch name {
	case Name:
		return New(), nil
	case GopusName:
		return NewGopus(), nil
	}
	return codec.New(name)
}
