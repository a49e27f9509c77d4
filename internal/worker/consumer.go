package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prateeksaini/rowbatch/internal/config"
	"github.com/prateeksaini/rowbatch/internal/queue"
)

// Consumer runs a fixed pool of goroutines, each blocking on the queue and
// handing items to the processor. Failed items go back through the queue's
// redelivery policy; the consumer itself never retries in place.
type Consumer struct {
	queue queue.Queue
	proc  *Processor

	concurrency int
	popTimeout  time.Duration
}

func NewConsumer(q queue.Queue, proc *Processor, cfg config.WorkerConfig) *Consumer {
	return &Consumer{
		queue:       q,
		proc:        proc,
		concurrency: cfg.Concurrency,
		popTimeout:  cfg.PopTimeout,
	}
}

// Run blocks until ctx is cancelled and all pool goroutines have drained.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (c *Consumer) loop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		item, err := c.queue.Dequeue(ctx, c.popTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue failed", "worker", id, "error", err)
			time.Sleep(time.Second)
			continue
		}

		if err := c.proc.Process(ctx, item); err != nil {
			slog.Error("chunk processing failed",
				"worker", id,
				"job_id", item.JobID,
				"chunk", item.ChunkIndex,
				"attempts", item.Attempts,
				"error", err,
			)
			switch rerr := c.queue.Redeliver(ctx, *item); {
			case errors.Is(rerr, queue.ErrDeadLettered):
				slog.Warn("work item dead-lettered", "job_id", item.JobID, "chunk", item.ChunkIndex)
			case rerr != nil:
				slog.Error("redeliver failed", "job_id", item.JobID, "chunk", item.ChunkIndex, "error", rerr)
			}
		}
	}
}
