package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"sjsage522/gridharvester/config"
	"sjsage522/gridharvester/internal/harvest"
	"sjsage522/gridharvester/internal/surface"
	"sjsage522/gridharvester/internal/surface/surfacetest"
	apperrors "sjsage522/gridharvester/pkg/errors"
	"sjsage522/gridharvester/services/publisher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	key  string
	data []byte
}

// MockPublisher implements the publisher.Publisher interface for testing
type MockPublisher struct {
	mu       sync.Mutex
	messages []message
	trims    int
	err      error
}

// Ensure MockPublisher implements publisher.Publisher
var _ publisher.Publisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	// Copy the message to ensure thread safety
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	m.messages = append(m.messages, message{key: key, data: dataCopy})
	return nil
}

func (m *MockPublisher) TrimStreams() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trims++
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

func (m *MockPublisher) records(t *testing.T) []harvest.Record {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]harvest.Record, 0, len(m.messages))
	for _, msg := range m.messages {
		var rec harvest.Record
		require.NoError(t, json.Unmarshal(msg.data, &rec))
		assert.Equal(t, msg.key, rec.FilterKey)
		out = append(out, rec)
	}
	return out
}

func testOptions(t *testing.T) harvest.Options {
	t.Helper()
	t.Setenv("HARVEST_URL", "https://example.org/Public/Search/Member.aspx")
	t.Setenv("SETTLE_TIMEOUT_SECONDS", "1")

	opts, err := OptionsFromConfig(config.LoadConfig())
	require.NoError(t, err)
	return opts
}

type documents struct {
	mu     sync.Mutex
	opened []*surfacetest.Document
	rows   map[string]int
}

func (d *documents) open(context.Context) (surface.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc := surfacetest.New([]surfacetest.Option{
		{Label: "Alabama", Value: "AL"},
		{Label: "Alaska", Value: "AK"},
	}, d.rows)
	d.opened = append(d.opened, doc)
	return doc, nil
}

func (d *documents) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened)
}

func TestRunOnce(t *testing.T) {
	docs := &documents{rows: map[string]int{"AL": 107, "AK": 3}}
	pub := &MockPublisher{}

	w := NewWorker(context.Background(), docs.open, pub, testOptions(t), 0)
	summary, err := w.RunOnce()
	require.NoError(t, err)

	assert.Equal(t, 110, summary.Records())
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, pub.trims)

	records := pub.records(t)
	require.Len(t, records, 110)
	assert.Equal(t, "state=AL", records[0].FilterKey)
	assert.Equal(t, "Alabama", records[0].Filter)
	assert.Equal(t, "Alabama Member 001", records[0].Fields["Name"])
	assert.Equal(t, 3, records[106].Page)
	assert.Equal(t, "state=AK", records[109].FilterKey)
	assert.Equal(t, summary.RunID, records[109].RunID)

	require.Equal(t, 1, docs.count())
	doc := docs.opened[0]
	assert.True(t, doc.Closed())
	assert.Equal(t, "https://example.org/Public/Search/Member.aspx", doc.URL())
}

func TestRunOnceSessionFailure(t *testing.T) {
	pub := &MockPublisher{}
	failing := func(context.Context) (surface.Surface, error) {
		return nil, errors.New("chromium not found")
	}

	w := NewWorker(context.Background(), failing, pub, testOptions(t), 0)
	_, err := w.RunOnce()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeSessionLost))
}

func TestRunOnceAbortsFiltersWhenPublishingFails(t *testing.T) {
	docs := &documents{rows: map[string]int{"AL": 5, "AK": 5}}
	pub := &MockPublisher{err: apperrors.NewPublisher("xadd", "redis down", nil)}

	w := NewWorker(context.Background(), docs.open, pub, testOptions(t), 0)
	summary, err := w.RunOnce()
	require.NoError(t, err)

	require.Len(t, summary.Aborted(), 2)
	assert.True(t, apperrors.Is(summary.Aborted()[0].Err, apperrors.ErrorTypePublisher))
}

func TestStartRunsOnceWithoutInterval(t *testing.T) {
	docs := &documents{rows: map[string]int{"AL": 1, "AK": 1}}

	w := NewWorker(context.Background(), docs.open, &MockPublisher{}, testOptions(t), 0)
	require.NoError(t, w.Start())
	assert.Equal(t, 1, docs.count())
}

func TestStartStopsOnCancel(t *testing.T) {
	docs := &documents{rows: map[string]int{"AL": 1, "AK": 1}}
	ctx, cancel := context.WithCancel(context.Background())

	w := NewWorker(ctx, docs.open, &MockPublisher{}, testOptions(t), 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- w.Start() }()

	require.Eventually(t, func() bool { return docs.count() >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
