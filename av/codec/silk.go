package codec

import (
	"fmt"
	"sync"

	"github.com/opd-ai/meshvoice/av/audio"
	"github.com/opd-ai/meshvoice/av/packet"
	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// silkUpsample is the factor the pion decoder applies to the SILK
// internal rate when emitting 16-bit PCM.
const silkUpsample = 3

// silkMaxOutput bounds one decoded packet: 60 ms at 48 kHz, stereo.
const silkMaxOutput = 2880 * 2 * 2

// SilkDecoder is a decode-only Opus codec in pure Go, limited to
// SILK-mode packets. It resamples the decoder output to the stream rate.
type SilkDecoder struct {
	mu         sync.Mutex
	decoder    *opus.Decoder
	sampleRate int
	resampler  *audio.Resampler
	outBuf     []byte
}

// NewSilkDecoder returns an uninitialised SILK decoder.
func NewSilkDecoder() *SilkDecoder {
	return &SilkDecoder{}
}

// ID implements Codec.
func (s *SilkDecoder) ID() uint8 { return packet.CodecOpus }

// Name implements Codec.
func (s *SilkDecoder) Name() string { return NameSILK }

// InitEncoder implements Codec and always fails.
func (s *SilkDecoder) InitEncoder(EncoderConfig) error {
	return ErrEncodeUnsupported
}

// Encode implements Codec and always fails.
func (s *SilkDecoder) Encode([]int16) ([]byte, error) {
	return nil, ErrEncodeUnsupported
}

// InitDecoder implements Codec.
func (s *SilkDecoder) InitDecoder(sampleRate int) error {
	if err := ValidateSampleRate(sampleRate); err != nil {
		return err
	}
	dec := opus.NewDecoder()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoder = &dec
	s.sampleRate = sampleRate
	s.resampler = nil
	s.outBuf = make([]byte, silkMaxOutput)

	logrus.WithFields(logrus.Fields{
		"function":    "SilkDecoder.InitDecoder",
		"sample_rate": sampleRate,
		"bandwidth":   BandwidthForSampleRate(sampleRate).String(),
	}).Debug("SILK decoder initialized")
	return nil
}

// Decode implements Codec.
func (s *SilkDecoder) Decode(payload []byte, frameSamples int) ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.decoder == nil {
		return nil, ErrNotInitialized
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	bandwidth, stereo, err := s.decoder.Decode(payload, s.outBuf)
	if err != nil {
		return nil, fmt.Errorf("silk decode: %w", err)
	}

	outRate := bandwidth.SampleRate() * silkUpsample
	samples := frameSamples * outRate / s.sampleRate
	channels := 1
	if stereo {
		channels = 2
	}
	if samples*channels*2 > len(s.outBuf) {
		samples = len(s.outBuf) / (channels * 2)
	}

	pcm := BytesToInt16(s.outBuf[:samples*channels*2])
	if stereo {
		mono := make([]int16, samples)
		for i := range mono {
			mono[i] = int16((int32(pcm[2*i]) + int32(pcm[2*i+1])) / 2)
		}
		pcm = mono
	}

	if outRate != s.sampleRate {
		if s.resampler == nil || s.resampler.InputRate() != outRate {
			s.resampler, err = audio.NewResampler(audio.ResamplerConfig{
				InputRate:  outRate,
				OutputRate: s.sampleRate,
				Channels:   1,
			})
			if err != nil {
				return nil, fmt.Errorf("silk resampler: %w", err)
			}
		}
		if pcm, err = s.resampler.Resample(pcm); err != nil {
			return nil, fmt.Errorf("silk resample: %w", err)
		}
	}
	return fitFrame(pcm, frameSamples), nil
}

// Close implements Codec.
func (s *SilkDecoder) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoder = nil
	s.resampler = nil
	return nil
}

// BandwidthForSampleRate maps a stream rate onto the Opus audio bandwidth
// that covers it.
func BandwidthForSampleRate(sampleRate int) opus.Bandwidth {
	switch {
	case sampleRate <= 8000:
		return opus.BandwidthNarrowband
	case sampleRate <= 12000:
		return opus.BandwidthMediumband
	case sampleRate <= 16000:
		return opus.BandwidthWideband
	case sampleRate <= 24000:
		return opus.BandwidthSuperwideband
	default:
		return opus.BandwidthFullband
	}
}

// ValidateSampleRate accepts only the rates Opus operates at natively.
func ValidateSampleRate(sampleRate int) error {
	if BandwidthForSampleRate(sampleRate).SampleRate() != sampleRate {
		return fmt.Errorf("%w: %d Hz is not an Opus rate (8000, 12000, 16000, 24000, 48000)", ErrInvalidConfig, sampleRate)
	}
	return nil
}
