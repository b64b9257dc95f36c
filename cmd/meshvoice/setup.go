package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/opd-ai/meshvoice/av"
	"github.com/opd-ai/meshvoice/av/audio"
	"github.com/opd-ai/meshvoice/av/codec"
	"github.com/opd-ai/meshvoice/av/codec/opus"
	"github.com/opd-ai/meshvoice/av/jitter"
	"github.com/opd-ai/meshvoice/config"
	"github.com/opd-ai/meshvoice/observe"
	"github.com/opd-ai/meshvoice/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// buildCodec returns the configured encoder, paired with a separate
// decoder when engine.decoder names one.
func buildCodec(cfg config.EngineConfig) (codec.Codec, error) {
	tx, err := opus.NewByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.Decoder == "" || cfg.Decoder == cfg.Codec {
		return tx, nil
	}
	rx, err := opus.NewByName(cfg.Decoder)
	if err != nil {
		return nil, err
	}
	if rx.ID() != tx.ID() {
		return nil, fmt.Errorf("decoder %q cannot read %q packets", cfg.Decoder, cfg.Codec)
	}
	return codec.NewDuplex(tx, rx), nil
}

// buildDevice returns the configured audio device and a closer for any
// files it opened.
func buildDevice(cfg config.DeviceConfig, frameMs int) (audio.Device, io.Closer, error) {
	switch cfg.Kind {
	case config.DeviceFile:
		in, err := os.Open(cfg.Input)
		if err != nil {
			return nil, nil, fmt.Errorf("open device input: %w", err)
		}
		files := multiCloser{in}
		var out io.Writer
		if cfg.Output != "" {
			f, err := os.Create(cfg.Output)
			if err != nil {
				_ = in.Close()
				return nil, nil, fmt.Errorf("create device output: %w", err)
			}
			files = append(files, f)
			out = f
		}
		return audio.NewFileDevice(in, out, frameMs), files, nil
	case config.DeviceSilence:
		return audio.NewToneDevice(frameMs, 0), multiCloser{}, nil
	default:
		dev := audio.NewToneDevice(frameMs, int16(cfg.ToneAmplitude))
		if cfg.ToneFrequency > 0 {
			dev.Frequency = cfg.ToneFrequency
		}
		return dev, multiCloser{}, nil
	}
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// buildEngine wires an engine over tr from the configuration.
func buildEngine(cfg *config.Config, dev audio.Device, c codec.Codec, tr transport.Transport, m *observe.Metrics) *av.Engine {
	deps := av.Dependencies{
		Device:    dev,
		Codec:     c,
		Transport: tr,
	}
	if cfg.Engine.Suppressor {
		deps.Suppressor = audio.NewSpectralSuppressor()
	}

	e := cfg.Engine
	engine := av.NewEngine(deps,
		av.WithJitterBuffer(jitter.New(
			jitter.WithDepth(e.JitterDepth),
			jitter.WithTarget(e.JitterTarget),
			jitter.WithResyncThreshold(e.JitterResync),
		)),
		av.WithVAD(e.VADThreshold, e.VADHangover),
		av.WithSuppressorSettings(e.AGC, e.SuppressDB),
		av.WithMetrics(m),
	)
	engine.SetLocalEcho(e.LocalEcho)
	engine.SetBypassVAD(e.BypassVAD)
	engine.SetPushToTalkGating(e.PushToTalkGating)
	return engine
}

// setupMetrics installs the Prometheus-backed meter provider when a
// listen address is configured. Without one it returns nil metrics and a
// no-op shutdown.
func setupMetrics(ctx context.Context, cfg config.MetricsConfig) (*observe.Metrics, func(context.Context) error, error) {
	if cfg.Listen == "" {
		return nil, func(context.Context) error { return nil }, nil
	}
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("metrics provider: %w", err)
	}
	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, fmt.Errorf("metrics instruments: %w", err)
	}
	return m, shutdown, nil
}

// serveMetrics serves /metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.WithFields(logrus.Fields{
		"function": "serveMetrics",
		"addr":     addr,
	}).Info("Serving metrics")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// reportEvery logs engine counters and link quality until ctx is done.
func reportEvery(ctx context.Context, interval time.Duration, engine *av.Engine, monitor *av.LinkMonitor) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sample, level := monitor.Sample()
			st := engine.Stats()
			logrus.WithFields(logrus.Fields{
				"function":  "reportEvery",
				"tx_frames": st.TxFrames,
				"rx_frames": st.RxFrames,
				"silence":   st.SilenceFrames,
				"malformed": st.MalformedPackets,
				"loss":      fmt.Sprintf("%.3f", sample.LossFraction()),
				"rtt_ms":    sample.RTTMs,
				"quality":   level.String(),
			}).Info("Voice link status")
		}
	}
}
