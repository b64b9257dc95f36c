package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/opd-ai/meshvoice/clock"
)

var (
	// ErrDeviceNotStarted is returned when frames are moved on a stopped device.
	ErrDeviceNotStarted = errors.New("device not started")

	// ErrUnsupportedFormat is returned for channel layouts a device cannot handle.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Device captures and plays 16-bit PCM.
//
// ReadFrame returns one frame of FrameSamples samples or false when no
// frame is available. It must not block longer than one frame period.
// WriteFrame queues one frame for playout. Devices that do not block may
// implement PlayoutPacer so the engine only plays out at the frame rate.
type Device interface {
	StartCapture(sampleRate, channels int) error
	StartPlayback(sampleRate, channels int) error
	ReadFrame() ([]int16, bool)
	WriteFrame(pcm []int16) error
	Stop() error
}

// FrameSamples returns the number of samples in a frame of frameMs at sampleRate.
func FrameSamples(sampleRate, frameMs int) int {
	return sampleRate * frameMs / 1000
}

// ToneDevice captures a synthetic sine tone and records playout. Capture
// and playout each run at one frame per FrameMs on Clock, which defaults
// to the package clock.
//
// When GapEvery is non-zero, every GapEvery-th group of GapLength frames
// is captured as digital silence, which exercises voice activity gating.
type ToneDevice struct {
	Frequency float64
	Amplitude int16
	FrameMs   int
	GapEvery  int
	GapLength int
	Clock     clock.TimeProvider

	mu         sync.Mutex
	capture    framePacer
	playout    framePacer
	rate       int
	frame      int
	phase      float64
	captured   int
	capturing  bool
	playing    bool
	played     [][]int16
	maxHistory int
}

// NewToneDevice returns a 440 Hz tone source at the given amplitude.
func NewToneDevice(frameMs int, amplitude int16) *ToneDevice {
	return &ToneDevice{
		Frequency:  440,
		Amplitude:  amplitude,
		FrameMs:    frameMs,
		maxHistory: 1 << 14,
	}
}

// StartCapture implements Device.
func (d *ToneDevice) StartCapture(sampleRate, channels int) error {
	if channels != 1 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}
	if sampleRate <= 0 || d.FrameMs <= 0 {
		return fmt.Errorf("%w: rate=%d frame=%dms", ErrUnsupportedFormat, sampleRate, d.FrameMs)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rate = sampleRate
	d.frame = FrameSamples(sampleRate, d.FrameMs)
	d.capture = newFramePacer(d.Clock, d.FrameMs)
	d.capturing = true
	return nil
}

// StartPlayback implements Device.
func (d *ToneDevice) StartPlayback(sampleRate, channels int) error {
	if channels != 1 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}
	if d.FrameMs <= 0 {
		return fmt.Errorf("%w: frame=%dms", ErrUnsupportedFormat, d.FrameMs)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playout = newFramePacer(d.Clock, d.FrameMs)
	d.playing = true
	return nil
}

// ReadFrame implements Device. It returns false until the next frame
// period has begun.
func (d *ToneDevice) ReadFrame() ([]int16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.capturing || !d.capture.due() {
		return nil, false
	}

	pcm := make([]int16, d.frame)
	index := d.captured
	d.captured++
	if d.GapEvery > 0 && d.GapLength > 0 && index%d.GapEvery >= d.GapEvery-d.GapLength {
		return pcm, true
	}

	inc := 2 * math.Pi * d.Frequency / float64(d.rate)
	for i := range pcm {
		pcm[i] = int16(float64(d.Amplitude) * math.Sin(d.phase))
		d.phase += inc
	}
	d.phase = math.Mod(d.phase, 2*math.Pi)
	return pcm, true
}

// WriteFrame implements Device.
func (d *ToneDevice) WriteFrame(pcm []int16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.playing {
		return ErrDeviceNotStarted
	}
	frame := make([]int16, len(pcm))
	copy(frame, pcm)
	d.played = append(d.played, frame)
	if len(d.played) > d.maxHistory {
		d.played = d.played[len(d.played)-d.maxHistory:]
	}
	return nil
}

// PlayoutDue implements PlayoutPacer.
func (d *ToneDevice) PlayoutDue() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing && d.playout.due()
}

// Captured returns the number of frames produced so far.
func (d *ToneDevice) Captured() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captured
}

// Played returns a copy of the recorded playout frames.
func (d *ToneDevice) Played() [][]int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]int16, len(d.played))
	copy(out, d.played)
	return out
}

// Stop implements Device.
func (d *ToneDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capturing = false
	d.playing = false
	return nil
}

// FileDevice reads raw little-endian s16 mono PCM from In and writes
// playout to Out. Either side may be nil. Frames are paced at FrameMs on
// Clock like a sound card would.
type FileDevice struct {
	In      io.Reader
	Out     io.Writer
	FrameMs int
	Clock   clock.TimeProvider

	mu      sync.Mutex
	capture framePacer
	playout framePacer
	frame   int
	reader  *bufio.Reader
	writer  *bufio.Writer
	buf     []byte
	eof     bool
}

// NewFileDevice returns a device streaming frames of frameMs.
func NewFileDevice(in io.Reader, out io.Writer, frameMs int) *FileDevice {
	return &FileDevice{In: in, Out: out, FrameMs: frameMs}
}

// StartCapture implements Device.
func (d *FileDevice) StartCapture(sampleRate, channels int) error {
	if channels != 1 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}
	if d.In == nil {
		return fmt.Errorf("file device: no capture source")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame = FrameSamples(sampleRate, d.FrameMs)
	d.capture = newFramePacer(d.Clock, d.FrameMs)
	d.reader = bufio.NewReader(d.In)
	d.buf = make([]byte, d.frame*2)
	d.eof = false
	return nil
}

// StartPlayback implements Device.
func (d *FileDevice) StartPlayback(sampleRate, channels int) error {
	if channels != 1 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.Out
	if out == nil {
		out = io.Discard
	}
	d.writer = bufio.NewWriter(out)
	d.playout = newFramePacer(d.Clock, d.FrameMs)
	return nil
}

// ReadFrame implements Device. It returns false between frame periods
// and once the source is exhausted; a partial trailing frame is discarded.
func (d *FileDevice) ReadFrame() ([]int16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reader == nil || d.eof || !d.capture.due() {
		return nil, false
	}
	if _, err := io.ReadFull(d.reader, d.buf); err != nil {
		d.eof = true
		return nil, false
	}
	pcm := make([]int16, d.frame)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(d.buf[i*2:]))
	}
	return pcm, true
}

// WriteFrame implements Device.
func (d *FileDevice) WriteFrame(pcm []int16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writer == nil {
		return ErrDeviceNotStarted
	}
	var b [2]byte
	for _, s := range pcm {
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		if _, err := d.writer.Write(b[:]); err != nil {
			return err
		}
	}
	return nil
}

// PlayoutDue implements PlayoutPacer.
func (d *FileDevice) PlayoutDue() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writer != nil && d.playout.due()
}

// Stop implements Device and flushes buffered playout.
func (d *FileDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.writer != nil {
		err = d.writer.Flush()
		d.writer = nil
	}
	d.reader = nil
	return err
}

// ScriptedDevice captures a fixed list of frames and records playout.
// CaptureErr and PlaybackErr make the corresponding Start call fail.
type ScriptedDevice struct {
	CaptureErr  error
	PlaybackErr error

	mu        sync.Mutex
	frames    [][]int16
	next      int
	capturing bool
	playing   bool
	stopped   int
	played    [][]int16
}

// NewScriptedDevice returns a device that captures frames in order.
func NewScriptedDevice(frames ...[]int16) *ScriptedDevice {
	return &ScriptedDevice{frames: frames}
}

// StartCapture implements Device.
func (d *ScriptedDevice) StartCapture(sampleRate, channels int) error {
	if d.CaptureErr != nil {
		return d.CaptureErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capturing = true
	return nil
}

// StartPlayback implements Device.
func (d *ScriptedDevice) StartPlayback(sampleRate, channels int) error {
	if d.PlaybackErr != nil {
		return d.PlaybackErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = true
	return nil
}

// ReadFrame implements Device.
func (d *ScriptedDevice) ReadFrame() ([]int16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.capturing || d.next >= len(d.frames) {
		return nil, false
	}
	src := d.frames[d.next]
	d.next++
	pcm := make([]int16, len(src))
	copy(pcm, src)
	return pcm, true
}

// WriteFrame implements Device.
func (d *ScriptedDevice) WriteFrame(pcm []int16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.playing {
		return ErrDeviceNotStarted
	}
	frame := make([]int16, len(pcm))
	copy(frame, pcm)
	d.played = append(d.played, frame)
	return nil
}

// Played returns the recorded playout frames.
func (d *ScriptedDevice) Played() [][]int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]int16, len(d.played))
	copy(out, d.played)
	return out
}

// Stops returns how many times Stop was called.
func (d *ScriptedDevice) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// Stop implements Device.
func (d *ScriptedDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capturing = false
	d.playing = false
	d.stopped++
	return nil
}
