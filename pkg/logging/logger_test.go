package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lines decodes every JSON log line written to buf.
func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{"WARNING", zerolog.WarnLevel},
		{"Error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"trace", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestSetup_StaticFieldsOnComponentLoggers(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelInfo,
		Output: buf,
		Fields: map[string]string{"service": "sl-proxy", "instance": "a"},
	})

	logger := NewLogger("gate")
	logger.Info().Msg("permit granted")

	entries := lines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "sl-proxy", entries[0]["service"])
	assert.Equal(t, "a", entries[0]["instance"])
	assert.Equal(t, "gate", entries[0]["component"])
	assert.Equal(t, "permit granted", entries[0]["message"])
}

func TestWithTenant(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	base := NewLogger("session")
	sbodemo := WithTenant(base, "SBODEMO")
	other := WithTenant(base, "SBOTEST")

	sbodemo.Info().Msg("filtered below warn")
	sbodemo.Warn().Msg("login slow")
	other.Error().Msg("login failed")
	base.Warn().Msg("untagged")

	entries := lines(t, buf)
	require.Len(t, entries, 3)

	assert.Equal(t, "SBODEMO", entries[0]["tenant"])
	assert.Equal(t, "SBOTEST", entries[1]["tenant"])
	assert.NotContains(t, entries[2], "tenant")
	for _, e := range entries {
		assert.Equal(t, "session", e["component"])
	}
}
