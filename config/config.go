// Package config defines the YAML configuration of the meshvoice process
// and its loader.
//
// A configuration file overlays [Default]; fields it leaves out keep their
// reference values. Unknown keys are rejected. After decoding, a small set
// of MESHVOICE_* environment variables is applied and the result is
// validated as a whole.
package config

import (
	"time"

	"github.com/opd-ai/meshvoice/av"
)

// Config is the root of the configuration file.
type Config struct {
	Log     LogConfig      `yaml:"log"`
	Voice   av.VoiceParams `yaml:"voice"`
	Engine  EngineConfig   `yaml:"engine"`
	Network NetworkConfig  `yaml:"network"`
	RTT     RTTConfig      `yaml:"rtt"`
	Device  DeviceConfig   `yaml:"device"`
	Metrics MetricsConfig  `yaml:"metrics"`
}

// LogConfig controls the logrus output.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
	// Output is "stderr", "stdout" or a file path.
	Output string `yaml:"output"`
}

// EngineConfig holds voice engine behaviour switches.
type EngineConfig struct {
	// ConvID is the conversation id stamped into every packet. Zero picks
	// a random id at startup.
	ConvID uint32 `yaml:"conv_id"`
	// Codec names the encoder: opus, l16, pcmu.
	Codec string `yaml:"codec"`
	// Decoder optionally names a different decoder, e.g. silk to decode
	// Opus SILK frames without libopus.
	Decoder string `yaml:"decoder"`

	LocalEcho        bool          `yaml:"local_echo"`
	BypassVAD        bool          `yaml:"bypass_vad"`
	PushToTalkGating bool          `yaml:"push_to_talk_gating"`
	VADThreshold     float64       `yaml:"vad_threshold"`
	VADHangover      time.Duration `yaml:"vad_hangover"`

	JitterDepth  int `yaml:"jitter_depth"`
	JitterTarget int `yaml:"jitter_target"`
	JitterResync int `yaml:"jitter_resync"`

	PollInterval time.Duration `yaml:"poll_interval"`

	Suppressor bool `yaml:"suppressor"`
	AGC        bool `yaml:"agc"`
	SuppressDB int  `yaml:"suppress_db"`
}

// NetworkConfig configures the UDP voice socket.
type NetworkConfig struct {
	LocalPort   int           `yaml:"local_port"`
	Remote      string        `yaml:"remote"`
	ReadBuffer  int           `yaml:"read_buffer"`
	WriteBuffer int           `yaml:"write_buffer"`
	DSCP        int           `yaml:"dscp"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	MaxDatagram int           `yaml:"max_datagram"`
	// PcapPath, when set, records all voice datagrams to a pcap file.
	PcapPath string `yaml:"pcap_path"`
}

// RTTConfig configures the RTT echo responder and probe.
type RTTConfig struct {
	EchoEnabled    bool          `yaml:"echo_enabled"`
	EchoPort       int           `yaml:"echo_port"`
	ProbeEnabled   bool          `yaml:"probe_enabled"`
	ProbeTarget    string        `yaml:"probe_target"`
	ProbeLocalPort int           `yaml:"probe_local_port"`
	Timeout        time.Duration `yaml:"timeout"`
	Interval       time.Duration `yaml:"interval"`
	Alpha          float64       `yaml:"alpha"`
}

// Device kinds.
const (
	DeviceTone    = "tone"
	DeviceFile    = "file"
	DeviceSilence = "silence"
)

// DeviceConfig selects the audio device.
type DeviceConfig struct {
	Kind string `yaml:"kind"`
	// Input and Output are raw s16le files for the file device. An empty
	// Output discards playout.
	Input  string `yaml:"input"`
	Output string `yaml:"output"`

	ToneFrequency float64 `yaml:"tone_frequency"`
	ToneAmplitude int     `yaml:"tone_amplitude"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the HTTP address serving /metrics; empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Voice: av.DefaultVoiceParams(),
		Engine: EngineConfig{
			Codec:        "opus",
			VADThreshold: 300,
			VADHangover:  150 * time.Millisecond,
			JitterDepth:  64,
			JitterTarget: 7,
			JitterResync: 16,
			PollInterval: 5 * time.Millisecond,
			Suppressor:   true,
			AGC:          true,
			SuppressDB:   -15,
		},
		Network: NetworkConfig{
			LocalPort:   40000,
			ReadBuffer:  1 << 20,
			WriteBuffer: 1 << 20,
			DSCP:        46,
			PollTimeout: 200 * time.Millisecond,
			MaxDatagram: 2048,
		},
		RTT: RTTConfig{
			EchoPort:       50000,
			ProbeLocalPort: 0,
			Timeout:        200 * time.Millisecond,
			Interval:       time.Second,
			Alpha:          0.2,
		},
		Device: DeviceConfig{
			Kind:          DeviceTone,
			ToneFrequency: 440,
			ToneAmplitude: 8000,
		},
	}
}
