package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"
)

const maxRetryDelay = time.Hour

// PGQueue is the PostgreSQL implementation of Queue plus the consumer-side
// claim/complete operations.
type PGQueue struct {
	db          *sql.DB
	maxAttempts int
	backoffBase time.Duration
	visibility  time.Duration
}

// NewPGQueue builds a queue over an open database handle.
func NewPGQueue(db *sql.DB, maxAttempts int, backoffBase, visibility time.Duration) *PGQueue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	return &PGQueue{db: db, maxAttempts: maxAttempts, backoffBase: backoffBase, visibility: visibility}
}

// Enqueue schedules a job and returns its id.
func (q *PGQueue) Enqueue(ctx context.Context, lane string, payload any, opts Options) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	maxAttempts := q.maxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}
	scheduledAt := time.Now().UTC().Add(opts.Delay)

	var id int64
	err = q.db.QueryRowContext(ctx, `
		INSERT INTO outreach_jobs (lane, payload, status, max_attempts, scheduled_at)
		VALUES ($1, $2, 'queued', $3, $4)
		RETURNING id`,
		lane, data, maxAttempts, scheduledAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s job: %w", lane, err)
	}
	return id, nil
}

// Cancel marks a still-queued job cancelled. Jobs already claimed or
// finished are left alone and Cancel reports false.
func (q *PGQueue) Cancel(ctx context.Context, jobID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE outreach_jobs SET status='cancelled', updated_at=now()
		WHERE id=$1 AND status='queued'`, jobID)
	if err != nil {
		return false, fmt.Errorf("cancel job %d: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Claim picks the next due job on a lane and marks it processing. Returns
// nil when the lane is empty.
func (q *PGQueue) Claim(ctx context.Context, lane, workerID string) (*Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	var job Job
	err = tx.QueryRowContext(ctx, `
		SELECT id, lane, payload, attempts FROM outreach_jobs
		WHERE lane = $1 AND status = 'queued' AND scheduled_at <= now()
		ORDER BY scheduled_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, lane).
		Scan(&job.ID, &job.Lane, &job.Payload, &job.Attempt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s job: %w", lane, err)
	}

	job.Attempt++
	_, err = tx.ExecContext(ctx, `
		UPDATE outreach_jobs
		SET status='processing', attempts=$2, locked_at=now(), locked_by=$3, updated_at=now()
		WHERE id=$1`, job.ID, job.Attempt, workerID)
	if err != nil {
		return nil, fmt.Errorf("lock job %d: %w", job.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return &job, nil
}

// Complete marks a job done.
func (q *PGQueue) Complete(ctx context.Context, jobID int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE outreach_jobs
		SET status='done', locked_at=NULL, locked_by='', updated_at=now()
		WHERE id=$1`, jobID)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", jobID, err)
	}
	return nil
}

// Fail records a failed attempt. Within the attempt budget the job is
// rescheduled with exponential backoff and jitter; past it the job parks
// as dead for operator inspection.
func (q *PGQueue) Fail(ctx context.Context, job *Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	var maxAttempts int
	if err := q.db.QueryRowContext(ctx,
		`SELECT max_attempts FROM outreach_jobs WHERE id=$1`, job.ID).Scan(&maxAttempts); err != nil {
		return fmt.Errorf("load job %d: %w", job.ID, err)
	}

	if job.Attempt >= maxAttempts {
		_, err := q.db.ExecContext(ctx, `
			UPDATE outreach_jobs
			SET status='dead', last_error=$2, locked_at=NULL, locked_by='', updated_at=now()
			WHERE id=$1`, job.ID, msg)
		if err != nil {
			return fmt.Errorf("park job %d: %w", job.ID, err)
		}
		return nil
	}

	delay := q.retryDelay(job.Attempt)
	_, err := q.db.ExecContext(ctx, `
		UPDATE outreach_jobs
		SET status='queued', last_error=$2, scheduled_at=$3,
		    locked_at=NULL, locked_by='', updated_at=now()
		WHERE id=$1`, job.ID, msg, time.Now().UTC().Add(delay))
	if err != nil {
		return fmt.Errorf("reschedule job %d: %w", job.ID, err)
	}
	return nil
}

func (q *PGQueue) retryDelay(attempt int) time.Duration {
	d := time.Duration(float64(q.backoffBase) * math.Pow(2, float64(attempt-1)))
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	// Up to 10% jitter keeps synchronized retries apart.
	return d + time.Duration(rand.Int63n(int64(d)/10+1))
}

// RecoverStuck requeues jobs whose worker died mid-flight. A processing job
// older than the visibility timeout is assumed abandoned.
func (q *PGQueue) RecoverStuck(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE outreach_jobs
		SET status='queued', locked_at=NULL, locked_by='', updated_at=now()
		WHERE status='processing' AND locked_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(q.visibility.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("recover stuck jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
