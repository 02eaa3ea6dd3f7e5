// Package config merges defaults, an optional YAML file and command-line
// flags into the run configuration.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/srodi/pcp-bpf/pkg/selector"
	"github.com/srodi/pcp-bpf/pkg/types"
)

// Config is the complete run configuration.
type Config struct {
	CPUs        string        `yaml:"cpus"`
	IntervalSec float64       `yaml:"interval_sec"`
	Mode        string        `yaml:"mode"`
	SingleView  bool          `yaml:"single_view"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Log         LogConfig     `yaml:"log"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"`
	Path          string `yaml:"path"`
}

// LogConfig controls the diagnostic logger (never the snapshot output).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		IntervalSec: types.DefaultInterval.Seconds(),
		Mode:        types.ModeAllocs.String(),
		Metrics:     MetricsConfig{Path: "/metrics"},
		Log:         LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(fs afero.Fs, path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Parse builds the configuration from command-line args. Flags explicitly
// set on the command line override the config file.
func Parse(args []string, fs afero.Fs, output io.Writer) (*Config, error) {
	set := flag.NewFlagSet("pcpwatch", flag.ContinueOnError)
	set.SetOutput(output)

	def := Default()
	configPath := set.String("config", "", "path to a YAML configuration file")
	cpus := set.String("cpu", "", "comma/space-separated CPU IDs (default: all)")
	sec := set.Float64("sec", def.IntervalSec, "sampling interval in seconds")
	mode := set.String("mode", def.Mode, "counter to watch: occupancy (PCP list length) or allocs (order-0 unmovable allocations)")
	singleView := set.Bool("single-view", false, "redraw each window in place on an alternate screen")
	metricsAddr := set.String("metrics-addr", "", "serve Prometheus metrics on this address (disabled when empty)")
	metricsPath := set.String("metrics-path", def.Metrics.Path, "HTTP path for Prometheus metrics")
	logLevel := set.String("log-level", def.Log.Level, "log level: trace, debug, info, warn, error")
	logFormat := set.String("log-format", def.Log.Format, "log format: console, json, logfmt")
	if err := set.Parse(args); err != nil {
		return nil, err
	}
	if set.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", set.Args())
	}

	cfg, err := Load(fs, *configPath)
	if err != nil {
		return nil, err
	}
	set.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cpu":
			cfg.CPUs = *cpus
		case "sec":
			cfg.IntervalSec = *sec
		case "mode":
			cfg.Mode = *mode
		case "single-view":
			cfg.SingleView = *singleView
		case "metrics-addr":
			cfg.Metrics.ListenAddress = *metricsAddr
		case "metrics-path":
			cfg.Metrics.Path = *metricsPath
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if _, err := c.ModeValue(); err != nil {
		return err
	}
	if math.IsNaN(c.IntervalSec) || math.IsInf(c.IntervalSec, 0) || c.Interval() <= 0 {
		return fmt.Errorf("interval must be a positive number of seconds, got %v", c.IntervalSec)
	}
	if _, err := c.Selection(); err != nil {
		return fmt.Errorf("cpu list %q: %w", c.CPUs, err)
	}
	if c.Metrics.ListenAddress != "" && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		return fmt.Errorf("metrics path must start with '/', got %q", c.Metrics.Path)
	}
	return nil
}

// Interval converts IntervalSec to a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSec * float64(time.Second))
}

// ModeValue parses Mode.
func (c *Config) ModeValue() (types.Mode, error) {
	return types.ParseMode(c.Mode)
}

// Selection parses CPUs; nil means every CPU.
func (c *Config) Selection() (*selector.Selection, error) {
	return selector.Parse(c.CPUs)
}
