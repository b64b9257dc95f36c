package opus

import (
	"fmt"
	"sync"

	"github.com/opd-ai/meshvoice/av/codec"
	"github.com/opd-ai/meshvoice/av/packet"
	"github.com/sirupsen/logrus"
	"layeh.com/gopus"
)

// GopusName selects the layeh.com/gopus backend.
const GopusName = "gopus"

// GopusCodec is an Opus codec on the minimal gopus binding. It honours
// the bitrate only; FEC, DTX and expected loss stay at libopus defaults.
// Its packets are ordinary Opus and interoperate with Codec.
type GopusCodec struct {
	mu  sync.Mutex
	enc *gopus.Encoder
	dec *gopus.Decoder
}

// NewGopus returns an uninitialised gopus-backed codec.
func NewGopus() *GopusCodec {
	return &GopusCodec{}
}

// ID implements codec.Codec.
func (c *GopusCodec) ID() uint8 { return packet.CodecOpus }

// Name implements codec.Codec.
func (c *GopusCodec) Name() string { return GopusName }

// InitEncoder implements codec.Codec.
func (c *GopusCodec) InitEncoder(cfg codec.EncoderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := codec.ValidateSampleRate(cfg.SampleRate); err != nil {
		return err
	}

	enc, err := gopus.NewEncoder(cfg.SampleRate, 1, gopus.Voip)
	if err != nil {
		return fmt.Errorf("gopus: new encoder: %w", err)
	}
	if cfg.BitrateBps > 0 {
		enc.SetBitrate(cfg.BitrateBps)
	}

	c.mu.Lock()
	c.enc = enc
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "GopusCodec.InitEncoder",
		"sample_rate": cfg.SampleRate,
		"bitrate":     cfg.BitrateBps,
	}).Info("gopus encoder initialized")
	return nil
}

// InitDecoder implements codec.Codec.
func (c *GopusCodec) InitDecoder(sampleRate int) error {
	if err := codec.ValidateSampleRate(sampleRate); err != nil {
		return err
	}
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return fmt.Errorf("gopus: new decoder: %w", err)
	}

	c.mu.Lock()
	c.dec = dec
	c.mu.Unlock()
	return nil
}

// Encode implements codec.Codec.
func (c *GopusCodec) Encode(pcm []int16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enc == nil {
		return nil, codec.ErrNotInitialized
	}
	data, err := c.enc.Encode(pcm, len(pcm), maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("gopus: encode: %w", err)
	}
	return data, nil
}

// Decode implements codec.Codec.
func (c *GopusCodec) Decode(payload []byte, frameSamples int) ([]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dec == nil {
		return nil, codec.ErrNotInitialized
	}
	if len(payload) == 0 {
		return nil, codec.ErrEmptyPayload
	}
	pcm, err := c.dec.Decode(payload, frameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("gopus: decode: %w", err)
	}
	return fitFrame(pcm, frameSamples), nil
}

// Close implements codec.Codec. gopus releases the native state through
// finalizers; Close drops the references so they can be collected.
func (c *GopusCodec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enc = nil
	c.dec = nil
	return nil
}
