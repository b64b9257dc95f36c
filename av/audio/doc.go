// Package audio holds the PCM-side building blocks of the voice engine.
//
// Everything in this package operates on 16-bit signed mono PCM frames
// and is driven from a single poll goroutine, so none of the stateful
// types are safe for concurrent use unless stated otherwise.
//
// # Voice activity gate
//
// Gate decides whether a captured frame is worth transmitting. It
// compares the frame RMS with a threshold and keeps the gate open for a
// hangover period after speech so word endings are not clipped:
//
//	gate := audio.NewGate()
//	gate.Configure(300, 150*time.Millisecond)
//	if gate.IsSpeech(frame) {
//		// encode and send
//	}
//
// # Noise suppression and gain control
//
// Suppressor is the narrow contract the engine uses for capture-side
// cleanup. SpectralSuppressor implements it with an EffectChain made of
// a NoiseSuppressionEffect (STFT spectral subtraction) followed by an
// optional AutoGainEffect:
//
//	ns := audio.NewSpectralSuppressor()
//	if err := ns.Init(16000, 320, true, -15); err != nil {
//		return err
//	}
//	ns.Process(frame) // in place
//
// # Devices
//
// Device abstracts capture and playout. ToneDevice synthesises a test
// tone and records playout in memory, FileDevice streams raw s16le from
// an io.Reader and to an io.Writer, and ScriptedDevice replays a fixed
// list of frames. Devices are owned values handed to the engine.
//
// # Resampling
//
// Resampler converts between sample rates with linear interpolation and
// keeps state across calls so consecutive frames join without clicks.
package audio
