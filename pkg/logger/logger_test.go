package logger

import (
	"bytes"
	"testing"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Level{
		"trace":   log.TraceLevel,
		"debug":   log.DebugLevel,
		"":        log.InfoLevel,
		"info":    log.InfoLevel,
		"warning": log.WarnLevel,
		"error":   log.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNewJSONFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("warn", "json", &buf, false)
	require.NoError(t, err)

	l.Info().Msg("hidden")
	l.Warn().Str("cpu", "3").Msg("clear failed")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"message":"clear failed"`)
	require.Contains(t, out, `"cpu":"3"`)
}

func TestNewFormats(t *testing.T) {
	for _, format := range []string{"console", "logfmt", "json", ""} {
		var buf bytes.Buffer
		l, err := New("info", format, &buf, false)
		require.NoError(t, err, format)
		l.Info().Msg("attached")
		require.Contains(t, buf.String(), "attached", format)
	}

	_, err := New("info", "xml", &bytes.Buffer{}, false)
	require.Error(t, err)
}
