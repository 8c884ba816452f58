package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"

	"sjsage522/gridharvester/logger"
	apperrors "sjsage522/gridharvester/pkg/errors"
)

// Checkpoints marks filter combinations whose harvest completed, so a
// restarted crawl can skip them until the marks expire.
type Checkpoints struct {
	svc    CacheService
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

// NewCheckpoints creates checkpoints stored in svc under prefix
func NewCheckpoints(svc CacheService, prefix string, ttl time.Duration) *Checkpoints {
	return &Checkpoints{
		svc:    svc,
		prefix: prefix,
		ttl:    ttl,
		log:    logger.ForCache(),
	}
}

// memcache keys are limited to 250 bytes without spaces
func (c *Checkpoints) key(filterKey string) string {
	sum := sha1.Sum([]byte(filterKey))
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}

// Done reports whether filterKey was marked. Cache failures count as not done.
func (c *Checkpoints) Done(filterKey string) bool {
	_, err := c.svc.Get(c.key(filterKey))
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrMiss) {
		c.log.Warn().Err(err).Str("filter_key", filterKey).Msg("Failed to read checkpoint")
	}
	return false
}

// Mark records filterKey as done
func (c *Checkpoints) Mark(filterKey string) error {
	value := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := c.svc.Set(c.key(filterKey), value, c.ttl); err != nil {
		return apperrors.NewCache("mark", "failed to store checkpoint for "+filterKey, err)
	}
	return nil
}
