package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/opd-ai/meshvoice/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameSamples(t *testing.T) {
	assert.Equal(t, 320, FrameSamples(16000, 20))
	assert.Equal(t, 960, FrameSamples(48000, 20))
	assert.Equal(t, 80, FrameSamples(8000, 10))
}

func TestToneDevice(t *testing.T) {
	d := NewToneDevice(20, 8000)

	_, ok := d.ReadFrame()
	assert.False(t, ok, "capture not started")
	assert.ErrorIs(t, d.WriteFrame([]int16{1}), ErrDeviceNotStarted)

	assert.ErrorIs(t, d.StartCapture(16000, 2), ErrUnsupportedFormat)
	require.NoError(t, d.StartCapture(16000, 1))
	require.NoError(t, d.StartPlayback(16000, 1))

	frame, ok := d.ReadFrame()
	require.True(t, ok)
	require.Len(t, frame, 320)
	assert.Greater(t, RMS(frame), 5000.0)
	assert.Equal(t, 1, d.Captured())

	require.NoError(t, d.WriteFrame(frame))
	assert.Len(t, d.Played(), 1)

	require.NoError(t, d.Stop())
	_, ok = d.ReadFrame()
	assert.False(t, ok)
}

func TestToneDeviceGaps(t *testing.T) {
	mc := clock.NewManualClock(time.Unix(0, 0))
	d := NewToneDevice(20, 8000)
	d.Clock = mc
	d.GapEvery = 4
	d.GapLength = 2
	require.NoError(t, d.StartCapture(16000, 1))

	var loud []bool
	for i := 0; i < 8; i++ {
		if i > 0 {
			mc.Advance(20 * time.Millisecond)
		}
		f, ok := d.ReadFrame()
		require.True(t, ok)
		loud = append(loud, RMS(f) > 0)
	}
	assert.Equal(t, []bool{true, true, false, false, true, true, false, false}, loud)
}

func TestFileDevice(t *testing.T) {
	var src bytes.Buffer
	for i := 0; i < 160*2+10; i++ {
		_ = binary.Write(&src, binary.LittleEndian, int16(i))
	}
	var sink bytes.Buffer
	mc := clock.NewManualClock(time.Unix(0, 0))

	d := NewFileDevice(&src, &sink, 10)
	d.Clock = mc
	require.NoError(t, d.StartCapture(16000, 1))
	require.NoError(t, d.StartPlayback(16000, 1))

	f1, ok := d.ReadFrame()
	require.True(t, ok)
	assert.Equal(t, int16(0), f1[0])
	assert.Equal(t, int16(159), f1[159])

	_, ok = d.ReadFrame()
	assert.False(t, ok, "next frame not due yet")
	mc.Advance(10 * time.Millisecond)

	f2, ok := d.ReadFrame()
	require.True(t, ok)
	assert.Equal(t, int16(160), f2[0])

	mc.Advance(10 * time.Millisecond)
	_, ok = d.ReadFrame()
	assert.False(t, ok, "partial trailing frame is dropped")

	require.NoError(t, d.WriteFrame([]int16{-2, 3}))
	require.NoError(t, d.Stop())
	assert.Equal(t, []byte{0xFE, 0xFF, 0x03, 0x00}, sink.Bytes())
}

func TestToneDevicePacing(t *testing.T) {
	mc := clock.NewManualClock(time.Unix(100, 0))
	d := NewToneDevice(20, 8000)
	d.Clock = mc

	assert.False(t, d.PlayoutDue(), "playback not started")
	require.NoError(t, d.StartCapture(16000, 1))
	require.NoError(t, d.StartPlayback(16000, 1))

	_, ok := d.ReadFrame()
	require.True(t, ok)
	assert.True(t, d.PlayoutDue())

	for i := 0; i < 3; i++ {
		mc.Advance(5 * time.Millisecond)
		_, ok = d.ReadFrame()
		assert.False(t, ok)
		assert.False(t, d.PlayoutDue())
	}
	mc.Advance(5 * time.Millisecond)
	_, ok = d.ReadFrame()
	assert.True(t, ok)
	assert.True(t, d.PlayoutDue())

	// A short stall is caught up frame by frame.
	mc.Advance(60 * time.Millisecond)
	for i := 0; i < 3; i++ {
		_, ok = d.ReadFrame()
		assert.True(t, ok, "catch-up frame %d", i)
	}
	_, ok = d.ReadFrame()
	assert.False(t, ok)

	// A long stall drops the backlog.
	mc.Advance(time.Second)
	_, ok = d.ReadFrame()
	assert.True(t, ok)
	_, ok = d.ReadFrame()
	assert.False(t, ok)
	assert.Equal(t, 6, d.Captured())
}

func TestFileDeviceWithoutSource(t *testing.T) {
	d := NewFileDevice(nil, nil, 20)
	assert.Error(t, d.StartCapture(16000, 1))
	require.NoError(t, d.StartPlayback(16000, 1))
	assert.NoError(t, d.WriteFrame([]int16{1, 2}))
	assert.NoError(t, d.Stop())
}

func TestScriptedDevice(t *testing.T) {
	d := NewScriptedDevice([]int16{1, 2}, []int16{3, 4})
	require.NoError(t, d.StartCapture(16000, 1))
	require.NoError(t, d.StartPlayback(16000, 1))

	f, ok := d.ReadFrame()
	require.True(t, ok)
	assert.Equal(t, []int16{1, 2}, f)
	f, ok = d.ReadFrame()
	require.True(t, ok)
	assert.Equal(t, []int16{3, 4}, f)
	_, ok = d.ReadFrame()
	assert.False(t, ok)

	require.NoError(t, d.WriteFrame([]int16{9}))
	assert.Equal(t, [][]int16{{9}}, d.Played())

	require.NoError(t, d.Stop())
	assert.Equal(t, 1, d.Stops())
}
