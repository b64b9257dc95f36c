// Package av implements the voice engine: it reads PCM frames from a
// capture device, gates them on voice activity, encodes them and sends
// them over a Transport, and plays received frames back in sequence order
// through a jitter buffer.
//
// # Lifecycle
//
// An Engine starts uninitialized. Init wires the device, codec, optional
// noise suppressor and transport in a fixed order and moves it to
// StateReady; any failing step undoes the earlier ones. Shutdown is
// terminal.
//
//	engine := av.NewEngine(av.Dependencies{
//		Device:    dev,
//		Codec:     c,
//		Transport: udp,
//	})
//	if err := engine.Init(av.DefaultVoiceParams(), convID); err != nil {
//		return err
//	}
//	defer engine.Shutdown()
//
//	driver := av.NewDriver(engine, 5*time.Millisecond, nil)
//	_ = driver.Run(ctx)
//
// # Poll cycle
//
// Each PollOnce makes one transmit attempt and one receive attempt. The
// receive side always writes exactly one frame to the device: the decoded
// frame when the jitter buffer has one and it decodes, silence otherwise.
// Playout therefore keeps a fixed cadence regardless of network arrival.
//
// Datagrams arriving on the transport goroutine are only parsed and
// buffered; decoding stays on the poll goroutine.
//
// # Link quality
//
// LinkMonitor derives windowed playout loss and malformed rates from the
// engine counters and grades them, together with an RTT estimate, into a
// QualityLevel.
package av
