package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sjsage522/gridharvester/config"
	"sjsage522/gridharvester/internal/harvest"
	"sjsage522/gridharvester/internal/surface"
	"sjsage522/gridharvester/internal/surface/surfacetest"
	"sjsage522/gridharvester/services/worker"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var states = []surfacetest.Option{
	{Label: "Alabama", Value: "AL"},
	{Label: "Alaska", Value: "AK"},
	{Label: "Arizona", Value: "AZ"},
}

func scriptedSession(rows map[string]int) worker.SessionFactory {
	return func(context.Context) (surface.Surface, error) {
		return surfacetest.New(states, rows), nil
	}
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestHarvestToRedisStream(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("REDIS_STREAM", "test_harvest")
	t.Setenv("SETTLE_TIMEOUT_SECONDS", "1")
	t.Setenv("METRICS_ADDR", freePort(t))

	cfg := config.LoadConfig()
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	services, err := initializeServices(ctx, cfg)
	require.NoError(t, err)
	defer services.Cleanup()

	opts, err := worker.OptionsFromConfig(cfg)
	require.NoError(t, err)

	w := worker.NewWorker(ctx, scriptedSession(map[string]int{"AL": 107, "AK": 0, "AZ": 12}), services.Publisher, opts, 0)
	require.NoError(t, w.Start())

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	messages, err := client.XRange(ctx, "test_harvest", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, messages, 119)

	perFilter := map[string]int{}
	for _, msg := range messages {
		for key, value := range msg.Values {
			data, err := base64.StdEncoding.DecodeString(value.(string))
			require.NoError(t, err)

			var rec harvest.Record
			require.NoError(t, json.Unmarshal(data, &rec))
			assert.Equal(t, key, rec.FilterKey)
			perFilter[key]++
		}
	}
	assert.Equal(t, map[string]int{"state=AL": 107, "state=AZ": 12}, perFilter)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.MetricsAddr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "gridharvester_records_emitted_total")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHarvestToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.jsonl")
	t.Setenv("PUBLISHER", "file")
	t.Setenv("OUTPUT_FILE", path)
	t.Setenv("MAX_FILTERS", "2")
	t.Setenv("SETTLE_TIMEOUT_SECONDS", "1")

	cfg := config.LoadConfig()
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	services, err := initializeServices(ctx, cfg)
	require.NoError(t, err)

	opts, err := worker.OptionsFromConfig(cfg)
	require.NoError(t, err)

	w := worker.NewWorker(ctx, scriptedSession(map[string]int{"AL": 3, "AK": 4, "AZ": 5}), services.Publisher, opts, 0)
	summary, err := w.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Records())
	services.Cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 7)
	assert.Contains(t, lines[0], `"key":"state=AL"`)
	assert.Contains(t, lines[6], `"key":"state=AK"`)
}

func TestInitializeServicesRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	t.Setenv("REDIS_ADDR", addr)
	cfg := config.LoadConfig()

	_, err := initializeServices(context.Background(), cfg)
	assert.Error(t, err)
}
