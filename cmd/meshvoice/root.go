package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/meshvoice/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app carries state shared by the subcommands once the root has loaded
// the configuration.
type app struct {
	cfgFile string
	cfg     *config.Config
	logFile io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "meshvoice",
		Short:         "Real-time voice over UDP",
		Long:          `meshvoice captures, encodes and sends voice frames over UDP and plays the remote side back through a jitter buffer.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logFile != nil {
				return a.logFile.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (defaults apply when omitted)")

	root.AddCommand(
		newCallCmd(a),
		newLoopbackCmd(a),
		newEchoCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	closer, err := config.ConfigureLogging(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logFile = closer

	logrus.WithFields(logrus.Fields{
		"function": "app.load",
		"config":   a.cfgFile,
		"conv_id":  cfg.Engine.ConvID,
	}).Info("Configuration loaded")
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
