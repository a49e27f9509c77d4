// Package queue carries work items from the dispatcher to the chunk workers.
// The Redis implementation is a list with blocking pops: LPUSH to enqueue,
// BRPOP to consume. Delivery is at-least-once; consumers that fail re-enqueue
// the item with an incremented attempt count until it is dead-lettered.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prateeksaini/rowbatch/internal/config"
	"github.com/prateeksaini/rowbatch/pkg/models"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrEmpty is returned by Dequeue when no item arrived within the timeout.
	ErrEmpty = errors.New("queue empty")
	// ErrDeadLettered is returned by Redeliver when the item has exhausted its
	// attempts and was moved to the dead-letter list instead.
	ErrDeadLettered = errors.New("work item dead-lettered")
)

// Queue is the work-item transport interface.
type Queue interface {
	Ping(ctx context.Context) error
	Enqueue(ctx context.Context, item models.WorkItem) error
	// Dequeue blocks for up to timeout and returns ErrEmpty if nothing arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*models.WorkItem, error)
	// Redeliver puts a failed item back on the queue with its attempt count
	// incremented, or dead-letters it once MaxAttempts is reached.
	Redeliver(ctx context.Context, item models.WorkItem) error
}

// RedisQueue implements Queue on a Redis list.
type RedisQueue struct {
	client      *redis.Client
	key         string
	deadKey     string
	maxAttempts int
}

// NewRedisQueue creates a new RedisQueue from a Redis URL.
func NewRedisQueue(redisURL string, cfg config.WorkerConfig) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisQueue{
		client:      redis.NewClient(opts),
		key:         cfg.QueueName,
		deadKey:     cfg.DeadLetterName,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, item models.WorkItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue work item: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.WorkItem, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue work item: %w", err)
	}
	// BRPOP returns [key, value].
	var item models.WorkItem
	if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}
	return &item, nil
}

func (q *RedisQueue) Redeliver(ctx context.Context, item models.WorkItem) error {
	item.Attempts++
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}
	if item.Attempts >= q.maxAttempts {
		if err := q.client.LPush(ctx, q.deadKey, payload).Err(); err != nil {
			return fmt.Errorf("dead-letter work item: %w", err)
		}
		return ErrDeadLettered
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("requeue work item: %w", err)
	}
	return nil
}

var _ Queue = (*RedisQueue)(nil)
