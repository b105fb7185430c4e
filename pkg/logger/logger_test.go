package logger

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{" WARN ", zerolog.WarnLevel},
		{"Warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_JSONEntries(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	l := New(Config{Level: "warn", Service: "rebalancer", Output: &buf})

	l.Info().Msg("filtered")
	l.Warn().Str("account", "acc").Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "rebalancer", entry["service"])
	assert.Equal(t, "acc", entry["account"])
	assert.Contains(t, entry, "caller")

	_, err := time.Parse(time.RFC3339, entry["time"].(string))
	assert.NoError(t, err)
}

func TestNew_InstallsGlobalLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	previous := log.Logger
	defer func() { log.Logger = previous }()

	var buf bytes.Buffer
	New(Config{Level: "info", Output: &buf})

	log.Info().Msg("through the global")
	assert.Contains(t, buf.String(), "through the global")
	assert.NotContains(t, buf.String(), "service")
}

func TestNew_PrettyOutput(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	l := New(Config{Level: "info", Pretty: true, Output: &buf})
	l.Info().Str("ticker", "TMOS").Msg("test message")

	out := buf.String()
	assert.Contains(t, out, "test message")
	assert.Contains(t, out, "ticker=")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}
