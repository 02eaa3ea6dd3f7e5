package config

import (
	"flag"
	"io"
	"math"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/srodi/pcp-bpf/pkg/selector"
	"github.com/srodi/pcp-bpf/pkg/types"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil, afero.NewMemMapFs(), io.Discard)
	require.NoError(t, err)
	require.Equal(t, time.Second, cfg.Interval())
	mode, err := cfg.ModeValue()
	require.NoError(t, err)
	require.Equal(t, types.ModeAllocs, mode)
	sel, err := cfg.Selection()
	require.NoError(t, err)
	require.True(t, sel.Dynamic())
	require.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestParseFlags(t *testing.T) {
	cfg, err := Parse([]string{"-cpu", "1,3 5", "-sec", "0.5", "-mode", "occupancy"}, afero.NewMemMapFs(), io.Discard)
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, cfg.Interval())
	sel, err := cfg.Selection()
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 3, 5}, sel.IDs())
	mode, _ := cfg.ModeValue()
	require.Equal(t, types.ModeOccupancy, mode)
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := map[string][]string{
		"letters":      {"-cpu", "a,b"},
		"zeroInterval": {"-sec", "0"},
		"negative":     {"-sec", "-1"},
		"mode":         {"-mode", "bogus"},
		"positional":   {"extra"},
		"unknownFlag":  {"-nope"},
		"metricsPath":  {"-metrics-addr", ":9200", "-metrics-path", "metrics"},
	}
	for name, args := range cases {
		_, err := Parse(args, afero.NewMemMapFs(), io.Discard)
		require.Error(t, err, name)
	}

	_, err := Parse([]string{"-cpu", "x"}, afero.NewMemMapFs(), io.Discard)
	require.ErrorIs(t, err, selector.ErrNoValidCPU)

	_, err = Parse([]string{"-h"}, afero.NewMemMapFs(), io.Discard)
	require.ErrorIs(t, err, flag.ErrHelp)
}

func TestFileThenFlagPrecedence(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/pcpwatch.yaml", []byte(`
cpus: "2,5"
interval_sec: 2
mode: occupancy
single_view: true
metrics:
  listen_address: ":9200"
log:
  level: debug
  format: json
`), 0o644))

	cfg, err := Parse([]string{"-config", "/etc/pcpwatch.yaml", "-sec", "0.25"}, fs, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "2,5", cfg.CPUs)
	require.Equal(t, 250*time.Millisecond, cfg.Interval())
	require.Equal(t, "occupancy", cfg.Mode)
	require.True(t, cfg.SingleView)
	require.Equal(t, ":9200", cfg.Metrics.ListenAddress)
	require.Equal(t, "/metrics", cfg.Metrics.Path)
	require.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
}

func TestLoadErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "/missing.yaml")
	require.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/typo.yaml", []byte("intervl_sec: 3\n"), 0o644))
	_, err = Load(fs, "/typo.yaml")
	require.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/empty.yaml", nil, 0o644))
	cfg, err := Load(fs, "/empty.yaml")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestValidateRejectsNaN(t *testing.T) {
	cfg := Default()
	cfg.IntervalSec = math.NaN()
	require.Error(t, cfg.Validate())
	cfg.IntervalSec = math.Inf(1)
	require.Error(t, cfg.Validate())
}
