package audio

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultSuppressDB is the reference noise suppression depth.
	DefaultSuppressDB = -15

	// DefaultAGCTarget is the reference AGC level (of 32768 full scale).
	DefaultAGCTarget = 20000

	// maxSuppressDB maps to full suppression strength.
	maxSuppressDB = 30
)

// Suppressor is capture-side noise suppression with optional gain control.
type Suppressor interface {
	// Init prepares the suppressor for frames of frameSamples samples.
	// suppressDB is the maximum attenuation in negative dB.
	Init(sampleRate, frameSamples int, agc bool, suppressDB int) error
	// Process cleans pcm in place. Frames whose length differs from the
	// initialised frame size are left untouched.
	Process(pcm []int16)
	Close() error
}

// SpectralSuppressor implements Suppressor with an EffectChain of
// NoiseSuppressionEffect and AutoGainEffect.
type SpectralSuppressor struct {
	mu           sync.Mutex
	chain        *EffectChain
	frameSamples int
	sampleRate   int
}

// NewSpectralSuppressor returns an uninitialised suppressor.
func NewSpectralSuppressor() *SpectralSuppressor {
	return &SpectralSuppressor{}
}

// SuppressionLevel maps a negative dB attenuation onto the [0, 1]
// strength used by NoiseSuppressionEffect.
func SuppressionLevel(suppressDB int) float64 {
	level := float64(-suppressDB) / maxSuppressDB
	switch {
	case level < 0:
		return 0
	case level > 1:
		return 1
	default:
		return level
	}
}

// Init implements Suppressor.
func (s *SpectralSuppressor) Init(sampleRate, frameSamples int, agc bool, suppressDB int) error {
	if sampleRate <= 0 || frameSamples <= 0 {
		return fmt.Errorf("invalid suppressor geometry: rate=%d frame=%d", sampleRate, frameSamples)
	}

	fftSize := 64
	for fftSize < frameSamples && fftSize < 4096 {
		fftSize <<= 1
	}

	ns, err := NewNoiseSuppressionEffect(SuppressionLevel(suppressDB), fftSize)
	if err != nil {
		return fmt.Errorf("noise suppression: %w", err)
	}

	chain := NewEffectChain()
	chain.AddEffect(ns)
	if agc {
		gain, err := NewAutoGainEffect(float64(DefaultAGCTarget) / 32768.0)
		if err != nil {
			return fmt.Errorf("agc: %w", err)
		}
		chain.AddEffect(gain)
	}

	s.mu.Lock()
	old := s.chain
	s.chain = chain
	s.frameSamples = frameSamples
	s.sampleRate = sampleRate
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function":      "SpectralSuppressor.Init",
		"sample_rate":   sampleRate,
		"frame_samples": frameSamples,
		"fft_size":      fftSize,
		"agc":           agc,
		"suppress_db":   suppressDB,
		"effects":       chain.Names(),
	}).Info("Noise suppressor initialized")

	return nil
}

// Process implements Suppressor.
func (s *SpectralSuppressor) Process(pcm []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chain == nil || len(pcm) != s.frameSamples {
		return
	}
	out, err := s.chain.Process(pcm)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SpectralSuppressor.Process",
			"error":    err.Error(),
		}).Debug("Suppression failed, frame left unprocessed")
		return
	}
	if &out[0] != &pcm[0] {
		copy(pcm, out)
	}
}

// Close implements Suppressor.
func (s *SpectralSuppressor) Close() error {
	s.mu.Lock()
	chain := s.chain
	s.chain = nil
	s.mu.Unlock()

	if chain == nil {
		return nil
	}
	return chain.Close()
}
