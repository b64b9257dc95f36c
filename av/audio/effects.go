package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// AudioEffect is one stage of a capture-side processing chain.
//
// Process may modify samples in place and may return a different slice;
// callers must use the returned slice.
type AudioEffect interface {
	Process(samples []int16) ([]int16, error)
	GetName() string
	Close() error
}

// AutoGainEffect is a peak-following automatic gain control.
//
// The smoothed peak follows rising levels quickly and falling levels
// slowly. The applied gain moves toward targetLevel/peak at attackRate
// per sample when increasing and releaseRate per sample when decreasing,
// bounded by [minGain, maxGain].
type AutoGainEffect struct {
	targetLevel float64
	currentGain float64
	peakLevel   float64
	attackRate  float64
	releaseRate float64
	minGain     float64
	maxGain     float64
}

// NewAutoGainEffect creates an AGC stage aiming at targetLevel, a
// fraction of full scale in (0, 1].
func NewAutoGainEffect(targetLevel float64) (*AutoGainEffect, error) {
	if targetLevel <= 0 || targetLevel > 1 {
		return nil, fmt.Errorf("agc target level must be in (0, 1]: %f", targetLevel)
	}

	agc := &AutoGainEffect{
		targetLevel: targetLevel,
		currentGain: 1.0,
		attackRate:  0.001,
		releaseRate: 0.0001,
		minGain:     0.1,
		maxGain:     4.0,
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewAutoGainEffect",
		"target_level": agc.targetLevel,
		"min_gain":     agc.minGain,
		"max_gain":     agc.maxGain,
	}).Debug("Auto gain control created")

	return agc, nil
}

// Process applies the current gain to samples in place.
func (a *AutoGainEffect) Process(samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return samples, nil
	}

	var peak float64
	for _, s := range samples {
		if v := math.Abs(float64(s) / 32768.0); v > peak {
			peak = v
		}
	}
	if peak > a.peakLevel {
		a.peakLevel += (peak - a.peakLevel) * 0.1
	} else {
		a.peakLevel += (peak - a.peakLevel) * 0.01
	}

	desired := a.maxGain
	if a.peakLevel > 0.001 {
		desired = a.targetLevel / a.peakLevel
	}
	desired = math.Max(a.minGain, math.Min(a.maxGain, desired))

	step := float64(len(samples))
	if desired > a.currentGain {
		a.currentGain = math.Min(desired, a.currentGain+a.attackRate*step)
	} else {
		a.currentGain = math.Max(desired, a.currentGain-a.releaseRate*step)
	}

	for i, s := range samples {
		samples[i] = clampSample(float64(s) * a.currentGain)
	}
	return samples, nil
}

// CurrentGain returns the gain applied to the last frame.
func (a *AutoGainEffect) CurrentGain() float64 {
	return a.currentGain
}

// GetName implements AudioEffect.
func (a *AutoGainEffect) GetName() string {
	return "AutoGain"
}

// Close implements AudioEffect.
func (a *AutoGainEffect) Close() error {
	return nil
}

// EffectChain runs effects in insertion order.
type EffectChain struct {
	effects []AudioEffect
}

// NewEffectChain returns an empty chain.
func NewEffectChain() *EffectChain {
	return &EffectChain{}
}

// AddEffect appends effect to the chain. Nil effects are ignored.
func (e *EffectChain) AddEffect(effect AudioEffect) {
	if effect == nil {
		return
	}
	e.effects = append(e.effects, effect)
}

// Process feeds samples through every effect. Processing stops at the
// first failing effect.
func (e *EffectChain) Process(samples []int16) ([]int16, error) {
	out := samples
	for _, effect := range e.effects {
		var err error
		out, err = effect.Process(out)
		if err != nil {
			return samples, fmt.Errorf("effect %s: %w", effect.GetName(), err)
		}
	}
	return out, nil
}

// Len returns the number of effects in the chain.
func (e *EffectChain) Len() int {
	return len(e.effects)
}

// Names returns the effect names in processing order.
func (e *EffectChain) Names() []string {
	names := make([]string, len(e.effects))
	for i, effect := range e.effects {
		names[i] = effect.GetName()
	}
	return names
}

// Close closes every effect and empties the chain.
func (e *EffectChain) Close() error {
	var errs []error
	for _, effect := range e.effects {
		if err := effect.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", effect.GetName(), err))
		}
	}
	e.effects = nil
	return errors.Join(errs...)
}

func clampSample(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
