package main

import (
	"context"
	"fmt"

	"github.com/opd-ai/meshvoice/rtt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newEchoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "echo",
		Short: "Run a standalone RTT echo responder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.runEcho(ctx)
		},
	}
}

func (a *app) runEcho(ctx context.Context) error {
	echo := rtt.NewEchoServer(fmt.Sprintf("0.0.0.0:%d", a.cfg.RTT.EchoPort))
	if err := echo.Start(); err != nil {
		return err
	}

	<-ctx.Done()

	logrus.WithFields(logrus.Fields{
		"function": "runEcho",
		"echoed":   echo.Echoed(),
	}).Info("Echo responder shutting down")
	return echo.Stop()
}
