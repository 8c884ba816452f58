package publisher

import (
	"context"
	"encoding/base64"

	"github.com/redis/go-redis/v9"

	"sjsage522/gridharvester/logger"
	apperrors "sjsage522/gridharvester/pkg/errors"
)

// RedisPublisher implements Publisher using a Redis stream
type RedisPublisher struct {
	client          *redis.Client
	ctx             context.Context
	stream          string
	streamMaxLength int
	log             *logger.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a new Redis publisher
func NewRedisPublisher(ctx context.Context, addr string, db int, stream string, streamMaxLength int) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	return &RedisPublisher{
		client:          client,
		ctx:             ctx,
		stream:          stream,
		streamMaxLength: streamMaxLength,
		log:             logger.ForPublisher().WithStr("stream", stream),
	}
}

// Ping checks that Redis is reachable
func (p *RedisPublisher) Ping() error {
	if err := p.client.Ping(p.ctx).Err(); err != nil {
		return apperrors.NewPublisher("ping", "redis is not reachable", err)
	}
	return nil
}

// Publish appends a message to the Redis stream
// The message is base64 encoded before publishing
func (p *RedisPublisher) Publish(key string, message []byte) error {
	encodedMessage := base64.StdEncoding.EncodeToString(message)

	err := p.client.XAdd(p.ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			key: encodedMessage,
		},
	}).Err()
	if err != nil {
		return apperrors.NewPublisher("xadd", "failed to publish to "+p.stream, err)
	}
	return nil
}

// TrimStreams trims the stream to the configured maximum length
func (p *RedisPublisher) TrimStreams() error {
	if p.streamMaxLength <= 0 {
		return nil
	}
	trimmed, err := p.client.XTrimMaxLen(p.ctx, p.stream, int64(p.streamMaxLength)).Result()
	if err != nil {
		return apperrors.NewPublisher("xtrim", "failed to trim "+p.stream, err)
	}
	if trimmed > 0 {
		p.log.Info().
			Int64("trimmed", trimmed).
			Int("max_length", p.streamMaxLength).
			Msg("Trimmed stream")
	}
	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	if err := p.client.Close(); err != nil {
		return err
	}
	p.log.Debug().Msg("Redis publisher closed")
	return nil
}
