package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ardnew/softuac/pkg"
	"github.com/ardnew/softuac/stream"
)

// Load builds the configuration from the defaults, the YAML file at path
// (skipped when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentConfig, "configuration loaded",
		"path", path,
		"rate", cfg.Stream.Rate,
		"slots", cfg.Stream.Slots)
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from SOFTUAC_ environment variables. The named
// dotenv files (".env" when none are given) are loaded first; missing files
// are ignored and variables already set in the environment win.
func ApplyEnv(cfg *Config, envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load env file: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := pkg.ParseLogLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := pkg.ParseLogFormat(cfg.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}

	if cfg.Stream.Slots < stream.MinSlots {
		errs = append(errs, fmt.Errorf("stream.slots %d is below %d", cfg.Stream.Slots, stream.MinSlots))
	}
	if _, err := stream.LookupRate(cfg.Stream.Rate); err != nil {
		errs = append(errs, fmt.Errorf("stream.rate: %w; valid values: %v", err, stream.SupportedRates()))
	}
	if cfg.Stream.GovernorInterval <= 0 {
		errs = append(errs, fmt.Errorf("stream.governor_interval %s must be positive", cfg.Stream.GovernorInterval))
	}

	if cfg.Codec.Address > 0x7F {
		errs = append(errs, fmt.Errorf("codec.address %#x is not a 7-bit address", cfg.Codec.Address))
	}
	if cfg.Codec.Attempts < 1 {
		errs = append(errs, fmt.Errorf("codec.attempts %d must be at least 1", cfg.Codec.Attempts))
	}
	if cfg.Codec.SpeedHz < 0 {
		errs = append(errs, fmt.Errorf("codec.speed_hz %d is negative", cfg.Codec.SpeedHz))
	}

	if cfg.Device.PacketInterval <= 0 {
		errs = append(errs, fmt.Errorf("device.packet_interval %s must be positive", cfg.Device.PacketInterval))
	}
	if cfg.Device.SkewPPM < -MaxSkewPPM || cfg.Device.SkewPPM > MaxSkewPPM {
		errs = append(errs, fmt.Errorf("device.skew_ppm %.1f is out of range [-%d, %d]", cfg.Device.SkewPPM, MaxSkewPPM, MaxSkewPPM))
	}

	if cfg.Device.ArbitrationLoss < 0 || cfg.Device.ArbitrationLoss >= 1 {
		errs = append(errs, fmt.Errorf("device.arbitration_loss %.3f is out of range [0, 1)", cfg.Device.ArbitrationLoss))
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Address == "" {
			errs = append(errs, errors.New("metrics.address is required when metrics are enabled"))
		}
		if len(cfg.Metrics.Path) == 0 || cfg.Metrics.Path[0] != '/' {
			errs = append(errs, fmt.Errorf("metrics.path %q must start with /", cfg.Metrics.Path))
		}
	}

	return errors.Join(errs...)
}
