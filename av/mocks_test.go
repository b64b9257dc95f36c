package av

import (
	"errors"
	"sync"

	"github.com/opd-ai/meshvoice/av/codec"
	"github.com/opd-ai/meshvoice/transport"
)

// mockCodec wraps the L16 codec with injectable failures.
type mockCodec struct {
	*codec.PCMCodec

	encInitErr error
	decInitErr error
	encodeErr  error
	decodeErr  error
	closes     int
}

func newMockCodec() *mockCodec {
	return &mockCodec{PCMCodec: codec.NewPCMCodec()}
}

func (m *mockCodec) InitEncoder(cfg codec.EncoderConfig) error {
	if m.encInitErr != nil {
		return m.encInitErr
	}
	return m.PCMCodec.InitEncoder(cfg)
}

func (m *mockCodec) InitDecoder(sampleRate int) error {
	if m.decInitErr != nil {
		return m.decInitErr
	}
	return m.PCMCodec.InitDecoder(sampleRate)
}

func (m *mockCodec) Encode(pcm []int16) ([]byte, error) {
	if m.encodeErr != nil {
		return nil, m.encodeErr
	}
	return m.PCMCodec.Encode(pcm)
}

func (m *mockCodec) Decode(payload []byte, frameSamples int) ([]int16, error) {
	if m.decodeErr != nil {
		return nil, m.decodeErr
	}
	return m.PCMCodec.Decode(payload, frameSamples)
}

func (m *mockCodec) Close() error {
	m.closes++
	return m.PCMCodec.Close()
}

type suppressorInit struct {
	sampleRate   int
	frameSamples int
	agc          bool
	suppressDB   int
}

// mockSuppressor records its calls and halves every sample.
type mockSuppressor struct {
	initErr   error
	init      *suppressorInit
	processed int
	closes    int
}

func (m *mockSuppressor) Init(sampleRate, frameSamples int, agc bool, suppressDB int) error {
	if m.initErr != nil {
		return m.initErr
	}
	m.init = &suppressorInit{sampleRate, frameSamples, agc, suppressDB}
	return nil
}

func (m *mockSuppressor) Process(pcm []int16) {
	m.processed++
	for i := range pcm {
		pcm[i] /= 2
	}
}

func (m *mockSuppressor) Close() error {
	m.closes++
	return nil
}

// mockTransport records sent datagrams and lets tests inject received ones.
type mockTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	handler transport.Handler
}

func (m *mockTransport) Send(datagram []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, append([]byte(nil), datagram...))
	return m.sendErr
}

func (m *mockTransport) OnReceive(h transport.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *mockTransport) deliver(datagram []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(datagram)
	}
}

func (m *mockTransport) sentPackets() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

var errBoom = errors.New("boom")

func constFrames(n, samples int, value int16) [][]int16 {
	frames := make([][]int16, n)
	for i := range frames {
		f := make([]int16, samples)
		for j := range f {
			f[j] = value
		}
		frames[i] = f
	}
	return frames
}

// rampFrames returns n loud frames whose samples encode the frame index.
func rampFrames(n, samples int) [][]int16 {
	frames := make([][]int16, n)
	for i := range frames {
		f := make([]int16, samples)
		for j := range f {
			f[j] = int16(1000 + i*10 + j%7)
		}
		frames[i] = f
	}
	return frames
}
