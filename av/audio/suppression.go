package audio

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/sirupsen/logrus"
)

const (
	noiseLearningFrames = 10
	noiseFloorAlpha     = 0.8
	overSubtraction     = 2.0
	spectralFloor       = 0.1
)

// NoiseSuppressionEffect removes stationary background noise with
// short-time spectral subtraction.
//
// Input is cut into 50% overlapping blocks of fftSize samples, windowed
// with a square-root Hann window for both analysis and synthesis, and
// overlap-added back. The noise spectrum is learned from the first
// blocks. Output is delayed by fftSize samples; every call returns as
// many samples as it was given.
type NoiseSuppressionEffect struct {
	suppressionLevel float64
	fftSize          int
	hop              int

	window   []float64
	spectrum []complex128

	noiseFloor []float64
	learned    int

	pending []float64 // unprocessed input
	overlap []float64 // synthesis accumulator, fftSize long
	ready   []float64 // processed output not yet returned
}

// NewNoiseSuppressionEffect creates a suppressor.
//
// Parameters:
//   - suppressionLevel: strength in [0, 1]; 0 passes audio through unchanged
//   - fftSize: block size, a power of two in [64, 4096]
func NewNoiseSuppressionEffect(suppressionLevel float64, fftSize int) (*NoiseSuppressionEffect, error) {
	if suppressionLevel < 0 || suppressionLevel > 1 {
		return nil, fmt.Errorf("suppression level must be between 0.0 and 1.0: %f", suppressionLevel)
	}
	if fftSize < 64 || fftSize > 4096 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size must be power of 2 between 64 and 4096: %d", fftSize)
	}

	window := make([]float64, fftSize)
	for i := range window {
		window[i] = math.Sqrt(0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize))))
	}

	ns := &NoiseSuppressionEffect{
		suppressionLevel: suppressionLevel,
		fftSize:          fftSize,
		hop:              fftSize / 2,
		window:           window,
		spectrum:         make([]complex128, fftSize),
		noiseFloor:       make([]float64, fftSize/2+1),
		overlap:          make([]float64, fftSize),
		ready:            make([]float64, fftSize),
	}

	logrus.WithFields(logrus.Fields{
		"function":          "NewNoiseSuppressionEffect",
		"suppression_level": suppressionLevel,
		"fft_size":          fftSize,
	}).Debug("Noise suppression effect created")

	return ns, nil
}

// Process writes the suppressed signal back into samples.
func (ns *NoiseSuppressionEffect) Process(samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return samples, nil
	}

	for _, s := range samples {
		ns.pending = append(ns.pending, float64(s)/32768.0)
	}

	for len(ns.pending) >= ns.fftSize {
		ns.processBlock(ns.pending[:ns.fftSize])
		ns.ready = append(ns.ready, ns.overlap[:ns.hop]...)
		copy(ns.overlap, ns.overlap[ns.hop:])
		clear(ns.overlap[ns.fftSize-ns.hop:])
		ns.pending = append(ns.pending[:0], ns.pending[ns.hop:]...)
	}

	n := min(len(samples), len(ns.ready))
	for i := 0; i < n; i++ {
		samples[i] = clampSample(ns.ready[i] * 32768.0)
	}
	for i := n; i < len(samples); i++ {
		samples[i] = 0
	}
	ns.ready = append(ns.ready[:0], ns.ready[n:]...)

	return samples, nil
}

func (ns *NoiseSuppressionEffect) processBlock(block []float64) {
	for i, v := range block {
		ns.spectrum[i] = complex(v*ns.window[i], 0)
	}
	fft(ns.spectrum)

	half := ns.fftSize / 2
	magnitude := make([]float64, half+1)
	for i := range magnitude {
		magnitude[i] = cmplx.Abs(ns.spectrum[i])
	}

	if ns.learned < noiseLearningFrames {
		for i := range ns.noiseFloor {
			if ns.learned == 0 {
				ns.noiseFloor[i] = magnitude[i]
			} else {
				ns.noiseFloor[i] = noiseFloorAlpha*ns.noiseFloor[i] + (1-noiseFloorAlpha)*magnitude[i]
			}
		}
		ns.learned++
	} else if ns.suppressionLevel > 0 {
		for i, m := range magnitude {
			if m == 0 {
				continue
			}
			sub := math.Max(m-overSubtraction*ns.suppressionLevel*ns.noiseFloor[i], spectralFloor*m)
			gain := complex(sub/m, 0)
			ns.spectrum[i] *= gain
			if i > 0 && i < half {
				ns.spectrum[ns.fftSize-i] *= gain
			}
		}
	}

	ifft(ns.spectrum)
	for i := range ns.overlap {
		ns.overlap[i] += real(ns.spectrum[i]) * ns.window[i]
	}
}

// NoiseLearned reports whether the noise profile has been estimated.
func (ns *NoiseSuppressionEffect) NoiseLearned() bool {
	return ns.learned >= noiseLearningFrames
}

// GetName implements AudioEffect.
func (ns *NoiseSuppressionEffect) GetName() string {
	return "NoiseSuppression"
}

// Close implements AudioEffect.
func (ns *NoiseSuppressionEffect) Close() error {
	ns.pending = nil
	ns.ready = nil
	return nil
}

// fft is an in-place radix-2 Cooley-Tukey transform. len(data) must be a
// power of two.
func fft(data []complex128) {
	n := len(data)
	for i, j := 0, 0; i < n; i++ {
		if j > i {
			data[i], data[j] = data[j], data[i]
		}
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := -2 * math.Pi / float64(size)
		for i := 0; i < n; i += size {
			for k := 0; k < half; k++ {
				w := cmplx.Rect(1, step*float64(k))
				u, v := data[i+k], data[i+k+half]*w
				data[i+k] = u + v
				data[i+k+half] = u - v
			}
		}
	}
}

func ifft(data []complex128) {
	for i := range data {
		data[i] = cmplx.Conj(data[i])
	}
	fft(data)
	scale := 1 / float64(len(data))
	for i := range data {
		data[i] = cmplx.Conj(data[i]) * complex(scale, 0)
	}
}
