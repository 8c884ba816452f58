package cache

import (
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "sjsage522/gridharvester/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	items map[string][]byte
	ttls  map[string]time.Duration
	err   error
}

var _ CacheService = (*memoryCache)(nil)

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCache) Get(key string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.items[key]
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

func (m *memoryCache) Set(key string, value []byte, expiration time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.items[key] = value
	m.ttls[key] = expiration
	return nil
}

func TestCheckpoints(t *testing.T) {
	mc := newMemoryCache()
	cp := NewCheckpoints(mc, "gridharvester", time.Hour)

	assert.False(t, cp.Done("state=AL"))
	require.NoError(t, cp.Mark("state=AL"))
	assert.True(t, cp.Done("state=AL"))
	assert.False(t, cp.Done("state=AK"))

	require.Len(t, mc.items, 1)
	for key := range mc.items {
		assert.True(t, strings.HasPrefix(key, "gridharvester:"))
		assert.Len(t, key, len("gridharvester:")+40)
		assert.NotContains(t, key, " ")
		assert.Equal(t, time.Hour, mc.ttls[key])
	}
}

func TestCheckpointsCacheFailure(t *testing.T) {
	mc := newMemoryCache()
	mc.err = errors.New("connection refused")
	cp := NewCheckpoints(mc, "gridharvester", time.Hour)

	assert.False(t, cp.Done("state=AL"))

	err := cp.Mark("state=AL")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeCache))
}
