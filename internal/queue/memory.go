package queue

import (
	"context"
	"time"

	"github.com/prateeksaini/rowbatch/pkg/models"
)

// MemoryQueue is a channel-backed Queue for unit tests.
type MemoryQueue struct {
	items       chan models.WorkItem
	dead        chan models.WorkItem
	maxAttempts int
}

func NewMemoryQueue(capacity, maxAttempts int) *MemoryQueue {
	return &MemoryQueue{
		items:       make(chan models.WorkItem, capacity),
		dead:        make(chan models.WorkItem, capacity),
		maxAttempts: maxAttempts,
	}
}

func (q *MemoryQueue) Ping(_ context.Context) error { return nil }

func (q *MemoryQueue) Enqueue(_ context.Context, item models.WorkItem) error {
	q.items <- item
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.WorkItem, error) {
	select {
	case item := <-q.items:
		return &item, nil
	case <-time.After(timeout):
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Redeliver(_ context.Context, item models.WorkItem) error {
	item.Attempts++
	if item.Attempts >= q.maxAttempts {
		q.dead <- item
		return ErrDeadLettered
	}
	q.items <- item
	return nil
}

// DeadLettered drains and returns everything on the dead-letter channel.
func (q *MemoryQueue) DeadLettered() []models.WorkItem {
	var out []models.WorkItem
	for {
		select {
		case item := <-q.dead:
			out = append(out, item)
		default:
			return out
		}
	}
}

var _ Queue = (*MemoryQueue)(nil)
