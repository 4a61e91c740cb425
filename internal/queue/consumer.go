package queue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/pkg/logger"
)

// Consumer runs handler goroutines over the queue's lanes.
type Consumer struct {
	q        *PGQueue
	interval time.Duration
	workerID string

	mu       sync.Mutex
	handlers map[string]Handler
	lanes    map[string]int // lane -> concurrency

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewConsumer builds a consumer polling at the given interval.
func NewConsumer(q *PGQueue, interval time.Duration) *Consumer {
	host, _ := os.Hostname()
	return &Consumer{
		q:        q,
		interval: interval,
		workerID: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		handlers: make(map[string]Handler),
		lanes:    make(map[string]int),
	}
}

// Handle registers a handler for a lane with the given concurrency.
func (c *Consumer) Handle(lane string, concurrency int, h Handler) {
	if concurrency < 1 {
		concurrency = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[lane] = h
	c.lanes[lane] = concurrency
}

// Start launches the worker goroutines and the stuck-job sweeper. It
// returns immediately; call Shutdown to stop.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	for lane, n := range c.lanes {
		h := c.handlers[lane]
		for i := 0; i < n; i++ {
			c.wg.Add(1)
			go c.runLane(ctx, lane, h)
		}
		logger.Info("queue consumer started", "lane", lane, "concurrency", n)
	}

	c.wg.Add(1)
	go c.runRecovery(ctx)
}

// Shutdown stops polling and waits for in-flight handlers to finish.
func (c *Consumer) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	logger.Info("queue consumer stopped")
}

func (c *Consumer) runLane(ctx context.Context, lane string, h Handler) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Drain the lane before sleeping again.
		for {
			job, err := c.q.Claim(ctx, lane, c.workerID)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("claim failed", "lane", lane, "error", err.Error())
				}
				break
			}
			if job == nil {
				break
			}
			c.process(ctx, job, h)
		}
	}
}

func (c *Consumer) process(ctx context.Context, job *Job, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic", "job_id", job.ID, "lane", job.Lane, "panic", fmt.Sprint(r))
			_ = c.q.Fail(ctx, job, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := h(ctx, job); err != nil {
		logger.Warn("job failed", "job_id", job.ID, "lane", job.Lane,
			"attempt", job.Attempt, "error", err.Error())
		if ferr := c.q.Fail(ctx, job, err); ferr != nil {
			logger.Error("record failure failed", "job_id", job.ID, "error", ferr.Error())
		}
		return
	}
	if err := c.q.Complete(ctx, job.ID); err != nil {
		logger.Error("complete failed", "job_id", job.ID, "error", err.Error())
	}
}

func (c *Consumer) runRecovery(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.q.RecoverStuck(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("stuck job recovery failed", "error", err.Error())
				}
				continue
			}
			if n > 0 {
				logger.Warn("requeued stuck jobs", "count", n)
			}
		}
	}
}
