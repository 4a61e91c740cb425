// Package queue implements a durable job queue on PostgreSQL.
//
// Jobs are claimed with FOR UPDATE SKIP LOCKED so any number of worker
// processes can consume the same lane without double-delivery. Failed jobs
// retry with exponential backoff until max_attempts, then park as dead.
// Jobs abandoned by a crashed worker are recovered once their visibility
// timeout lapses.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Lanes group jobs by the handler that processes them.
const (
	LaneSend     = "send"
	LaneFollowUp = "follow-up"
)

// Job is one unit of queued work.
type Job struct {
	ID      int64
	Lane    string
	Payload json.RawMessage
	Attempt int
}

// Handler processes a claimed job. A nil return completes the job; an error
// schedules a retry or, past the attempt limit, parks it as dead.
type Handler func(ctx context.Context, job *Job) error

// Options control a single enqueue.
type Options struct {
	// Delay postpones the first delivery.
	Delay time.Duration
	// MaxAttempts overrides the queue default when > 0.
	MaxAttempts int
}

// Queue is the producer/control surface used by services.
type Queue interface {
	// Enqueue schedules a job on a lane and returns its id.
	Enqueue(ctx context.Context, lane string, payload any, opts Options) (int64, error)
	// Cancel removes a job that has not started. It reports whether the
	// job was still cancellable.
	Cancel(ctx context.Context, jobID int64) (bool, error)
}
