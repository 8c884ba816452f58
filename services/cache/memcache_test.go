package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// This test requires a running memcached instance
// If memcached is not available, the test will be skipped
func TestMemcacheService(t *testing.T) {
	mc := NewMemcacheService("localhost:11211", 200*time.Millisecond)

	// Test if memcached is available
	if err := mc.Ping(); err != nil {
		t.Skip("Memcached is not available, skipping test")
	}

	err := mc.Set("test_key", []byte("test_value"), 10*time.Second)
	require.NoError(t, err)

	value, err := mc.Get("test_key")
	require.NoError(t, err)
	assert.Equal(t, "test_value", string(value))

	_, err = mc.Get("missing_key")
	assert.ErrorIs(t, err, ErrMiss)
}
