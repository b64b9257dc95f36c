package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables applied on top of the file.
const (
	EnvLogLevel  = "MESHVOICE_LOG_LEVEL"
	EnvRemote    = "MESHVOICE_REMOTE"
	EnvLocalPort = "MESHVOICE_LOCAL_PORT"
)

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := finish(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults, applies
// environment overrides and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config) error {
	if err := ApplyEnv(cfg); err != nil {
		return err
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if cfg.Engine.ConvID == 0 {
		cfg.Engine.ConvID = uuid.New().ID()
		logrus.WithFields(logrus.Fields{
			"function": "config.finish",
			"conv_id":  cfg.Engine.ConvID,
		}).Debug("Generated random conversation id")
	}
	return nil
}

// ApplyEnv overlays MESHVOICE_* environment variables on cfg.
func ApplyEnv(cfg *Config) error {
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Log.Level = level
	}
	if remote := os.Getenv(EnvRemote); remote != "" {
		cfg.Network.Remote = remote
	}
	if port := os.Getenv(EnvLocalPort); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not a port: %w", EnvLocalPort, port, err)
		}
		cfg.Network.LocalPort = p
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level %q is invalid", cfg.Log.Level))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	if err := cfg.Voice.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("voice: %w", err))
	}

	e := cfg.Engine
	if e.Codec == "" {
		errs = append(errs, errors.New("engine.codec is required"))
	}
	if e.VADThreshold < 0 {
		errs = append(errs, fmt.Errorf("engine.vad_threshold must not be negative, got %g", e.VADThreshold))
	}
	if e.VADHangover < 0 {
		errs = append(errs, fmt.Errorf("engine.vad_hangover must not be negative, got %s", e.VADHangover))
	}
	if e.JitterDepth < 1 || e.JitterDepth >= 1<<15 {
		errs = append(errs, fmt.Errorf("engine.jitter_depth must be in [1, 32767], got %d", e.JitterDepth))
	}
	if e.JitterTarget < 0 || e.JitterTarget >= e.JitterDepth {
		errs = append(errs, fmt.Errorf("engine.jitter_target must be in [0, jitter_depth), got %d", e.JitterTarget))
	}
	if e.JitterResync < 0 {
		errs = append(errs, fmt.Errorf("engine.jitter_resync must not be negative, got %d", e.JitterResync))
	}
	if e.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("engine.poll_interval must be positive, got %s", e.PollInterval))
	}
	if e.SuppressDB > 0 {
		errs = append(errs, fmt.Errorf("engine.suppress_db must be zero or negative, got %d", e.SuppressDB))
	}

	n := cfg.Network
	if n.LocalPort < 0 || n.LocalPort > 65535 {
		errs = append(errs, fmt.Errorf("network.local_port %d out of range", n.LocalPort))
	}
	if n.Remote != "" {
		if _, _, err := net.SplitHostPort(n.Remote); err != nil {
			errs = append(errs, fmt.Errorf("network.remote %q: %w", n.Remote, err))
		}
	}
	if n.DSCP < 0 || n.DSCP > 63 {
		errs = append(errs, fmt.Errorf("network.dscp must be in [0, 63], got %d", n.DSCP))
	}
	if n.ReadBuffer < 0 || n.WriteBuffer < 0 || n.MaxDatagram < 0 {
		errs = append(errs, errors.New("network buffer sizes must not be negative"))
	}

	r := cfg.RTT
	if r.EchoEnabled && (r.EchoPort <= 0 || r.EchoPort > 65535) {
		errs = append(errs, fmt.Errorf("rtt.echo_port %d out of range", r.EchoPort))
	}
	if r.ProbeEnabled {
		if _, _, err := net.SplitHostPort(r.ProbeTarget); err != nil {
			errs = append(errs, fmt.Errorf("rtt.probe_target %q: %w", r.ProbeTarget, err))
		}
	}
	if r.ProbeLocalPort < 0 || r.ProbeLocalPort > 65535 {
		errs = append(errs, fmt.Errorf("rtt.probe_local_port %d out of range", r.ProbeLocalPort))
	}
	if r.Alpha < 0 || r.Alpha > 1 {
		errs = append(errs, fmt.Errorf("rtt.alpha must be in [0, 1], got %g", r.Alpha))
	}

	d := cfg.Device
	switch d.Kind {
	case DeviceTone, DeviceSilence:
	case DeviceFile:
		if d.Input == "" {
			errs = append(errs, errors.New("device.input is required for the file device"))
		}
	default:
		errs = append(errs, fmt.Errorf("device.kind %q is invalid; valid values: tone, file, silence", d.Kind))
	}
	if d.ToneAmplitude < 0 || d.ToneAmplitude > 32767 {
		errs = append(errs, fmt.Errorf("device.tone_amplitude must be in [0, 32767], got %d", d.ToneAmplitude))
	}

	return errors.Join(errs...)
}
