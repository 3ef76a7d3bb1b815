package config

import (
	"time"

	"github.com/ardnew/softuac/codec"
	"github.com/ardnew/softuac/stream"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOFTUAC"

// Config is the complete softuac configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Stream  StreamConfig  `yaml:"stream"`
	Codec   CodecConfig   `yaml:"codec"`
	Device  DeviceConfig  `yaml:"device"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StreamConfig sizes the streaming pipeline.
type StreamConfig struct {
	Slots            int           `yaml:"slots"`
	Rate             uint32        `yaml:"rate"`
	GovernorInterval time.Duration `yaml:"governor_interval" split_words:"true"`
}

// CodecConfig addresses the codec on its control bus.
type CodecConfig struct {
	Bus      string `yaml:"bus"`                         // periph I2C bus name; empty selects the simulated bus
	Address  uint16 `yaml:"address"`                     // 7-bit bus address
	Attempts int    `yaml:"attempts"`                    // Write attempts before giving up
	SpeedHz  int64  `yaml:"speed_hz" split_words:"true"` // Bus clock; zero keeps the bus default
}

// DeviceConfig drives the simulated host and codec clocks.
type DeviceConfig struct {
	PacketInterval  time.Duration `yaml:"packet_interval" split_words:"true"`  // Host microframe period
	SkewPPM         float64       `yaml:"skew_ppm" split_words:"true"`         // Codec clock error against the host
	ArbitrationLoss float64       `yaml:"arbitration_loss" split_words:"true"` // Simulated bus: chance a byte loses arbitration
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// MaxSkewPPM bounds the simulated clock error.
const MaxSkewPPM = 10000

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Stream: StreamConfig{
			Slots:            stream.DefaultSlots,
			Rate:             stream.DefaultRate,
			GovernorInterval: stream.DefaultGovernorInterval,
		},
		Codec: CodecConfig{
			Address:  codec.DefaultAddress,
			Attempts: codec.DefaultAttempts,
		},
		Device: DeviceConfig{
			PacketInterval:  125 * time.Microsecond,
			ArbitrationLoss: 0.01,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
	}
}
