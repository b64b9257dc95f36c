package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Resampler converts 16-bit PCM between sample rates using linear
// interpolation. It carries the last input frame and the fractional read
// position across calls so a stream can be resampled chunk by chunk.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int

	step     float64 // input frames per output frame
	position float64 // next read position relative to the current chunk
	last     []int16 // last input frame of the previous chunk
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  int
	OutputRate int
	Channels   int
}

// NewResampler validates config and returns a resampler.
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate <= 0 || config.OutputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: input=%d, output=%d", config.InputRate, config.OutputRate)
	}
	if config.Channels < 1 || config.Channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d (must be 1 or 2)", config.Channels)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  config.InputRate,
		"output_rate": config.OutputRate,
		"channels":    config.Channels,
	}).Debug("Creating audio resampler")

	return &Resampler{
		inputRate:  config.InputRate,
		outputRate: config.OutputRate,
		channels:   config.Channels,
		step:       float64(config.InputRate) / float64(config.OutputRate),
		last:       make([]int16, config.Channels),
	}, nil
}

// Resample converts an interleaved chunk. The input length must be a
// multiple of the channel count.
func (r *Resampler) Resample(input []int16) ([]int16, error) {
	if len(input)%r.channels != 0 {
		return nil, fmt.Errorf("input length %d not a multiple of %d channels", len(input), r.channels)
	}
	if r.inputRate == r.outputRate {
		out := make([]int16, len(input))
		copy(out, input)
		return out, nil
	}

	frames := len(input) / r.channels
	if frames == 0 {
		return []int16{}, nil
	}

	out := make([]int16, 0, r.OutputSize(len(input)))
	for {
		idx := int(r.position)
		if r.position < 0 {
			idx = -1
		}
		if idx+1 >= frames {
			break
		}
		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			s0 := r.sample(input, idx, ch)
			s1 := r.sample(input, idx+1, ch)
			out = append(out, int16(float64(s0)+(float64(s1)-float64(s0))*frac))
		}
		r.position += r.step
	}

	r.position -= float64(frames)
	copy(r.last, input[(frames-1)*r.channels:])
	return out, nil
}

func (r *Resampler) sample(input []int16, frame, ch int) int16 {
	if frame < 0 {
		return r.last[ch]
	}
	return input[frame*r.channels+ch]
}

// OutputSize estimates the number of output samples for inputSize input samples.
func (r *Resampler) OutputSize(inputSize int) int {
	frames := inputSize / r.channels
	return (frames*r.outputRate/r.inputRate + 1) * r.channels
}

// InputRate returns the input sample rate.
func (r *Resampler) InputRate() int { return r.inputRate }

// OutputRate returns the output sample rate.
func (r *Resampler) OutputRate() int { return r.outputRate }

// Reset forgets stream history.
func (r *Resampler) Reset() {
	r.position = 0
	clear(r.last)
}
