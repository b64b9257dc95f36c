package audio

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingEffect struct {
	closeErr error
	closed   bool
}

func (f *failingEffect) Process([]int16) ([]int16, error) { return nil, errors.New("boom") }
func (f *failingEffect) GetName() string                  { return "failing" }
func (f *failingEffect) Close() error {
	f.closed = true
	return f.closeErr
}

func TestNewAutoGainEffectValidation(t *testing.T) {
	tests := []struct {
		name    string
		target  float64
		wantErr bool
	}{
		{"zero", 0, true},
		{"negative", -0.5, true},
		{"above full scale", 1.5, true},
		{"typical", 0.3, false},
		{"full scale", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agc, err := NewAutoGainEffect(tt.target)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, agc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1.0, agc.CurrentGain())
		})
	}
}

func TestAutoGainBoostsQuietSignal(t *testing.T) {
	agc, err := NewAutoGainEffect(0.5)
	require.NoError(t, err)

	var out []int16
	for i := 0; i < 200; i++ {
		out, err = agc.Process(constantFrame(320, 1000))
		require.NoError(t, err)
	}

	assert.Greater(t, agc.CurrentGain(), 1.0)
	assert.LessOrEqual(t, agc.CurrentGain(), 4.0)
	assert.Greater(t, out[0], int16(1000))
}

func TestAutoGainClipsInsteadOfWrapping(t *testing.T) {
	agc, err := NewAutoGainEffect(1)
	require.NoError(t, err)
	agc.currentGain = 4

	out, err := agc.Process([]int16{math.MaxInt16, math.MinInt16})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, out[0], int16(0))
	assert.LessOrEqual(t, out[1], int16(0))
}

func TestEffectChain(t *testing.T) {
	chain := NewEffectChain()
	agc, err := NewAutoGainEffect(0.3)
	require.NoError(t, err)

	chain.AddEffect(agc)
	chain.AddEffect(nil)
	assert.Equal(t, 1, chain.Len())
	assert.Equal(t, []string{"AutoGain"}, chain.Names())

	in := constantFrame(64, 100)
	out, err := chain.Process(in)
	require.NoError(t, err)
	assert.Len(t, out, 64)

	bad := &failingEffect{closeErr: errors.New("close failed")}
	chain.AddEffect(bad)
	_, err = chain.Process(in)
	assert.ErrorContains(t, err, "failing")

	err = chain.Close()
	assert.ErrorContains(t, err, "close failed")
	assert.True(t, bad.closed)
	assert.Equal(t, 0, chain.Len())
}
