package codec

import (
	"fmt"
	"sync"

	"github.com/opd-ai/meshvoice/av/packet"
	"github.com/zaf/g711"
)

// G711Codec is ITU-T G.711 µ-law, one byte per sample.
type G711Codec struct {
	mu        sync.Mutex
	encoderOn bool
	decoderOn bool
}

// NewG711Codec returns an uninitialised µ-law codec.
func NewG711Codec() *G711Codec {
	return &G711Codec{}
}

// ID implements Codec.
func (c *G711Codec) ID() uint8 { return packet.CodecPCMU }

// Name implements Codec.
func (c *G711Codec) Name() string { return NamePCMU }

// InitEncoder implements Codec. G.711 has a fixed rate of 8 bits per
// sample so the bitrate hint is ignored.
func (c *G711Codec) InitEncoder(cfg EncoderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoderOn = true
	return nil
}

// InitDecoder implements Codec.
func (c *G711Codec) InitDecoder(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, sampleRate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoderOn = true
	return nil
}

// Encode implements Codec.
func (c *G711Codec) Encode(pcm []int16) ([]byte, error) {
	c.mu.Lock()
	on := c.encoderOn
	c.mu.Unlock()
	if !on {
		return nil, ErrNotInitialized
	}
	return g711.EncodeUlaw(Int16ToBytes(pcm)), nil
}

// Decode implements Codec.
func (c *G711Codec) Decode(payload []byte, frameSamples int) ([]int16, error) {
	c.mu.Lock()
	on := c.decoderOn
	c.mu.Unlock()
	if !on {
		return nil, ErrNotInitialized
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	return fitFrame(BytesToInt16(g711.DecodeUlaw(payload)), frameSamples), nil
}

// Close implements Codec.
func (c *G711Codec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoderOn = false
	c.decoderOn = false
	return nil
}
