package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/opd-ai/meshvoice/av"
	"github.com/opd-ai/meshvoice/config"
	"github.com/opd-ai/meshvoice/observe"
	"github.com/opd-ai/meshvoice/rtt"
	"github.com/opd-ai/meshvoice/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const statusInterval = 5 * time.Second

func newCallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call",
		Short: "Run the voice engine over UDP",
		Long: `call binds the voice socket, starts the engine and exchanges frames with
network.remote until interrupted. The RTT echo responder and probe run
alongside when enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.runCall(ctx)
		},
	}
}

func (a *app) runCall(ctx context.Context) error {
	cfg := a.cfg

	metrics, shutdownMetrics, err := setupMetrics(ctx, cfg.Metrics)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	n := cfg.Network
	udp := transport.NewUDPTransport(transport.UDPConfig{
		LocalAddr:   fmt.Sprintf("0.0.0.0:%d", n.LocalPort),
		Remote:      n.Remote,
		ReadBuffer:  n.ReadBuffer,
		WriteBuffer: n.WriteBuffer,
		DSCP:        n.DSCP,
		PollTimeout: n.PollTimeout,
		MaxDatagram: n.MaxDatagram,
	})
	if err := udp.Start(); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer func() { _ = udp.Stop() }()

	var tr transport.Transport = udp
	if n.PcapPath != "" {
		local, _ := udp.LocalAddr().(*net.UDPAddr)
		remote, _ := udp.RemoteAddr().(*net.UDPAddr)
		tap, err := transport.OpenPcapTap(udp, n.PcapPath, local, remote)
		if err != nil {
			return err
		}
		defer func() { _ = tap.Close() }()
		tr = tap
	}

	dev, devFiles, err := buildDevice(cfg.Device, cfg.Voice.FrameMs)
	if err != nil {
		return err
	}
	defer func() { _ = devFiles.Close() }()

	c, err := buildCodec(cfg.Engine)
	if err != nil {
		return err
	}

	engine := buildEngine(cfg, dev, c, tr, metrics)
	if err := engine.Init(cfg.Voice, cfg.Engine.ConvID); err != nil {
		return err
	}
	defer engine.Shutdown()

	if cfg.RTT.EchoEnabled {
		echo := rtt.NewEchoServer(fmt.Sprintf("0.0.0.0:%d", cfg.RTT.EchoPort))
		if err := echo.Start(); err != nil {
			return fmt.Errorf("start echo server: %w", err)
		}
		defer func() { _ = echo.Stop() }()
	}

	rttMs := func() float64 { return -1 }
	if cfg.RTT.ProbeEnabled {
		probe := newProbe(cfg.RTT, metrics)
		if err := probe.Start(); err != nil {
			return fmt.Errorf("start rtt probe: %w", err)
		}
		defer func() { _ = probe.Stop() }()
		rttMs = probe.RTT
	}

	logrus.WithFields(logrus.Fields{
		"function":   "runCall",
		"local_addr": udp.LocalAddr().String(),
		"remote":     n.Remote,
		"codec":      c.Name(),
	}).Info("Call running")

	monitor := av.NewLinkMonitor(engine, rttMs, nil)
	monitor.OnChange(func(level av.QualityLevel, s av.LinkSample) {
		logrus.WithFields(logrus.Fields{
			"function": "runCall",
			"quality":  level.String(),
			"loss":     s.LossFraction(),
			"rtt_ms":   s.RTTMs,
		}).Info("Link quality changed")
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return av.NewDriver(engine, cfg.Engine.PollInterval, nil).Run(gctx)
	})
	g.Go(func() error {
		return reportEvery(gctx, statusInterval, engine, monitor)
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Listen) })
	}
	return g.Wait()
}

func newProbe(cfg config.RTTConfig, m *observe.Metrics) *rtt.Probe {
	return rtt.NewProbe(rtt.ProbeConfig{
		Target:       cfg.ProbeTarget,
		LocalAddr:    fmt.Sprintf("0.0.0.0:%d", cfg.ProbeLocalPort),
		ReplyTimeout: cfg.Timeout,
		Interval:     cfg.Interval,
		Alpha:        cfg.Alpha,
		OnSample: func(ms float64) {
			m.RecordRTT(context.Background(), ms)
		},
	})
}
