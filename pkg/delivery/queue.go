package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind selects the queue discipline of the backend key.
type Kind string

const (
	// KindList appends records to a Redis list (RPUSH).
	KindList Kind = "list"

	// KindChannel publishes records to a pub/sub channel (PUBLISH).
	KindChannel Kind = "channel"
)

// Valid reports whether k names a known queue discipline.
func (k Kind) Valid() bool {
	return k == KindList || k == KindChannel
}

// Queue is the durable queue collaborator contract: push one record,
// push many atomically, and delete a queue. Implementations maintain their
// own bounded connection pooling.
type Queue interface {
	// PushOne delivers a single record to key according to kind.
	PushOne(ctx context.Context, kind Kind, key string, value []byte) error

	// PushMulti delivers all values to key in one atomic round-trip.
	PushMulti(ctx context.Context, kind Kind, key string, values [][]byte) error

	// Delete removes the queue stored under key. Idempotent.
	Delete(ctx context.Context, key string) error
}

// RedisQueue implements Queue on a shared go-redis client. The client's
// connection pool is bounded (PoolSize) with blocking acquisition up to
// PoolTimeout, after which the acquiring worker fails.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(client *redis.Client) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisQueue{client: client}, nil
}

// PoolConfig bounds the Redis connection pool shared by delivery workers.
type PoolConfig struct {
	URL            string
	MaxConnections int
	PoolTimeout    time.Duration
}

// NewRedisQueueFromURL builds a client with a bounded, blocking connection
// pool and wraps it.
func NewRedisQueueFromURL(cfg PoolConfig) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}

	return &RedisQueue{client: redis.NewClient(opts)}, nil
}

// Client exposes the underlying Redis client for health checks.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

// PushOne delivers one record.
func (q *RedisQueue) PushOne(ctx context.Context, kind Kind, key string, value []byte) error {
	switch kind {
	case KindChannel:
		return q.client.Publish(ctx, key, value).Err()
	default:
		return q.client.RPush(ctx, key, value).Err()
	}
}

// PushMulti queues all values inside one MULTI/EXEC transaction, so either
// every record of the sub-batch is committed or none is.
func (q *RedisQueue) PushMulti(ctx context.Context, kind Kind, key string, values [][]byte) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, v := range values {
			switch kind {
			case KindChannel:
				pipe.Publish(ctx, key, v)
			default:
				pipe.RPush(ctx, key, v)
			}
		}
		return nil
	})
	return err
}

// Delete clears the queue key. Used by test and benchmark harnesses, not
// by the steady-state pipeline.
func (q *RedisQueue) Delete(ctx context.Context, key string) error {
	return q.client.Del(ctx, key).Err()
}
