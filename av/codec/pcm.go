package codec

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/opd-ai/meshvoice/av/packet"
	"github.com/sirupsen/logrus"
)

// PCMCodec carries uncompressed 16-bit little-endian PCM.
type PCMCodec struct {
	mu         sync.Mutex
	encoderOn  bool
	decoderOn  bool
	sampleRate int
}

// NewPCMCodec returns an uninitialised L16 codec.
func NewPCMCodec() *PCMCodec {
	return &PCMCodec{}
}

// ID implements Codec.
func (c *PCMCodec) ID() uint8 { return packet.CodecL16 }

// Name implements Codec.
func (c *PCMCodec) Name() string { return NameL16 }

// InitEncoder implements Codec. Bitrate and loss hints do not apply.
func (c *PCMCodec) InitEncoder(cfg EncoderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoderOn = true
	c.sampleRate = cfg.SampleRate

	logrus.WithFields(logrus.Fields{
		"function":    "PCMCodec.InitEncoder",
		"sample_rate": cfg.SampleRate,
		"bitrate":     cfg.SampleRate * 16,
	}).Debug("PCM encoder initialized")
	return nil
}

// InitDecoder implements Codec.
func (c *PCMCodec) InitDecoder(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, sampleRate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoderOn = true
	return nil
}

// Encode implements Codec.
func (c *PCMCodec) Encode(pcm []int16) ([]byte, error) {
	c.mu.Lock()
	on := c.encoderOn
	c.mu.Unlock()
	if !on {
		return nil, ErrNotInitialized
	}
	return Int16ToBytes(pcm), nil
}

// Decode implements Codec.
func (c *PCMCodec) Decode(payload []byte, frameSamples int) ([]int16, error) {
	c.mu.Lock()
	on := c.decoderOn
	c.mu.Unlock()
	if !on {
		return nil, ErrNotInitialized
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("odd L16 payload length %d", len(payload))
	}
	return fitFrame(BytesToInt16(payload), frameSamples), nil
}

// Close implements Codec.
func (c *PCMCodec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoderOn = false
	c.decoderOn = false
	return nil
}

// Int16ToBytes serialises samples as little-endian 16-bit PCM.
func Int16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 parses little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
