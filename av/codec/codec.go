// Package codec defines the speech codec contract used by the voice
// engine together with the pure-Go codecs that need no cgo.
//
// A Codec owns one encoder and one decoder. Encode returning an error or
// an empty payload means "nothing to send" and Decode returning an error
// means the frame is replaced by silence; neither is fatal to a call.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInitialized is returned when Encode or Decode run before Init.
	ErrNotInitialized = errors.New("codec not initialized")

	// ErrEncodeUnsupported is returned by decode-only codecs.
	ErrEncodeUnsupported = errors.New("codec does not support encoding")

	// ErrUnknownCodec is returned by New for unrecognised names.
	ErrUnknownCodec = errors.New("unknown codec")

	// ErrEmptyPayload is returned when asked to decode zero bytes.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrInvalidConfig is returned for unusable encoder settings.
	ErrInvalidConfig = errors.New("invalid codec configuration")
)

// EncoderConfig carries the voice encoder settings. FEC, DTX and
// ExpectedLossPct are hints that codecs without such controls ignore.
type EncoderConfig struct {
	SampleRate      int
	FrameSamples    int
	BitrateBps      int
	FEC             bool
	DTX             bool
	ExpectedLossPct int
}

// Validate checks the settings every codec relies on.
func (c EncoderConfig) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("frame samples must be positive, got %d", c.FrameSamples))
	}
	if c.BitrateBps < 0 {
		errs = append(errs, fmt.Errorf("bitrate must not be negative, got %d", c.BitrateBps))
	}
	if c.ExpectedLossPct < 0 || c.ExpectedLossPct > 100 {
		errs = append(errs, fmt.Errorf("expected loss must be 0-100%%, got %d", c.ExpectedLossPct))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Codec encodes and decodes 16-bit mono PCM frames.
type Codec interface {
	// ID is the codec identifier written into the packet header.
	ID() uint8
	Name() string
	InitEncoder(cfg EncoderConfig) error
	InitDecoder(sampleRate int) error
	Encode(pcm []int16) ([]byte, error)
	// Decode returns frameSamples samples decoded from payload.
	Decode(payload []byte, frameSamples int) ([]int16, error)
	Close() error
}

// Names of the codecs New can build.
const (
	NameL16  = "l16"
	NamePCMU = "pcmu"
	NameSILK = "silk"
)

// New builds one of the pure-Go codecs by name. Opus is provided by the
// av/codec/opus package.
func New(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case NameL16, "pcm":
		return NewPCMCodec(), nil
	case NamePCMU, "g711", "ulaw":
		return NewG711Codec(), nil
	case NameSILK:
		return NewSilkDecoder(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Duplex pairs the encoder of Tx with the decoder of Rx. ID and Name
// come from Tx.
type Duplex struct {
	Tx Codec
	Rx Codec
}

// NewDuplex returns a Duplex, or tx itself when both sides are the same codec.
func NewDuplex(tx, rx Codec) Codec {
	if rx == nil || tx == rx {
		return tx
	}
	return &Duplex{Tx: tx, Rx: rx}
}

func (d *Duplex) ID() uint8    { return d.Tx.ID() }
func (d *Duplex) Name() string { return d.Tx.Name() + "/" + d.Rx.Name() }

func (d *Duplex) InitEncoder(cfg EncoderConfig) error { return d.Tx.InitEncoder(cfg) }
func (d *Duplex) InitDecoder(sampleRate int) error    { return d.Rx.InitDecoder(sampleRate) }
func (d *Duplex) Encode(pcm []int16) ([]byte, error)  { return d.Tx.Encode(pcm) }

func (d *Duplex) Decode(payload []byte, frameSamples int) ([]int16, error) {
	return d.Rx.Decode(payload, frameSamples)
}

func (d *Duplex) Close() error {
	return errors.Join(d.Tx.Close(), d.Rx.Close())
}

// fitFrame returns pcm truncated or zero-padded to n samples.
func fitFrame(pcm []int16, n int) []int16 {
	if len(pcm) == n {
		return pcm
	}
	out := make([]int16, n)
	copy(out, pcm)
	return out
}
