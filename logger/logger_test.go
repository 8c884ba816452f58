package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentLoggers(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	var buf bytes.Buffer
	InitWithWriter(&buf)

	ForFilter("Alabama").Info().Int("page", 2).Msg("Harvested page")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "harvester", entry["component"])
	assert.Equal(t, "Alabama", entry["filter"])
	assert.Equal(t, float64(2), entry["page"])
	assert.Equal(t, "Harvested page", entry["message"])
}

func TestPublisherLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "info")

	var buf bytes.Buffer
	InitWithWriter(&buf)

	ForPublisher().WithStr("stream", "harvest").Warn().Msg("Trim skipped")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "publisher", entry["component"])
	assert.Equal(t, "harvest", entry["stream"])
	assert.Equal(t, "warn", entry["level"])
}

func TestLogError(t *testing.T) {
	t.Setenv("LOG_LEVEL", "info")

	var buf bytes.Buffer
	InitWithWriter(&buf)

	LogError("publisher", errors.New("redis down"), "failed to publish %d records", 3)

	out := buf.String()
	assert.Contains(t, out, "redis down")
	assert.Contains(t, out, "failed to publish 3 records")
	assert.Contains(t, out, `"component":"publisher"`)
}

func TestLogLevelFromEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("HARVEST_ENVIRONMENT", "production")

	var buf bytes.Buffer
	InitWithWriter(&buf)

	assert.False(t, IsDebugEnabled())
	Debug("hidden %s", "message")
	assert.Empty(t, buf.String())
}
