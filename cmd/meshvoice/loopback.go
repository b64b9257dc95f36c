package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/opd-ai/meshvoice/av"
	"github.com/opd-ai/meshvoice/transport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	pumpInterval    = time.Millisecond
	counterInterval = time.Second
)

func newLoopbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "loopback",
		Short: "Run the voice engine over a simulated lossy link",
		Long: `loopback sends the engine's frames to itself through an in-process link
that drops 10% of datagrams and delays the rest by 0-120 ms, printing the
TX and RX counters every second.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.runLoopback(ctx, cmd.OutOrStdout())
		},
	}
}

func (a *app) runLoopback(ctx context.Context, out io.Writer) error {
	cfg := a.cfg

	metrics, shutdownMetrics, err := setupMetrics(ctx, cfg.Metrics)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	link := transport.NewLoopback(transport.DefaultLinkConfig())
	defer func() { _ = link.Close() }()

	dev, devFiles, err := buildDevice(cfg.Device, cfg.Voice.FrameMs)
	if err != nil {
		return err
	}
	defer func() { _ = devFiles.Close() }()

	c, err := buildCodec(cfg.Engine)
	if err != nil {
		return err
	}

	engine := buildEngine(cfg, dev, c, link, metrics)
	if err := engine.Init(cfg.Voice, cfg.Engine.ConvID); err != nil {
		return err
	}
	defer engine.Shutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return av.NewDriver(engine, cfg.Engine.PollInterval, nil).Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(pumpInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				link.Pump()
			}
		}
	})
	g.Go(func() error {
		return printCounters(gctx, out, engine, link)
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Listen) })
	}
	return g.Wait()
}

func printCounters(ctx context.Context, out io.Writer, engine *av.Engine, link *transport.SimEndpoint) error {
	ticker := time.NewTicker(counterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := engine.Stats()
			ls := link.Stats()
			fmt.Fprintf(out, "tx=%d rx=%d silence=%d dropped=%d pending=%d\n",
				st.TxFrames, st.RxFrames, st.SilenceFrames, ls.Dropped, ls.Pending)
		}
	}
}
