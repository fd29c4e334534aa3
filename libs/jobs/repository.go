// Package jobs is a durable scheduled-job queue kept in the scheduler_jobs
// table. Producers insert jobs inside their own transaction; workers claim
// due jobs with a short lease (FOR UPDATE SKIP LOCKED) so replicas never
// double-process.
package jobs

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	otelx "github.com/md-rashed-zaman/medibook/libs/otel"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

const DefaultMaxAttempts = 5

type Job struct {
	ID             int64
	IdempotencyKey string
	Kind           string
	AggregateID    string
	Channel        string
	Recipient      string
	RunAt          time.Time
	Payload        map[string]any
	Traceparent    string
	Tracestate     string
	Attempts       int
	MaxAttempts    int
	NextRunAt      time.Time
}

// Execer is satisfied by pgx.Tx and *db.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert enqueues job. A job whose idempotency key already exists is ignored;
// the return value reports whether a row was written.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job Job) (bool, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return false, err
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	channel := job.Channel
	if channel == "" {
		channel = "email"
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	tag, err := tx.Exec(ctx, `
		INSERT INTO scheduler_jobs (idempotency_key, kind, aggregate_id, channel, recipient, run_at, payload, max_attempts, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $6, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, job.IdempotencyKey, job.Kind, job.AggregateID, channel, job.Recipient, job.RunAt.UTC(), payload, maxAttempts, traceparent, tracestate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Querier is satisfied by pgx.Tx and *db.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Claim leases up to limit due jobs of kind by pushing their next_run_at
// forward by lease and returns them. The statement commits on its own, so no
// row lock is held while a job runs. A job whose worker dies comes due again
// once the lease runs out.
func (r *Repository) Claim(ctx context.Context, q Querier, kind string, limit int, lease time.Duration) ([]Job, error) {
	rows, err := q.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM scheduler_jobs
			WHERE status = 'pending' AND kind = $1 AND next_run_at <= now()
			ORDER BY next_run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE scheduler_jobs j
		SET next_run_at = now() + make_interval(secs => $3),
		    updated_at = now()
		FROM due
		WHERE j.id = due.id
		RETURNING j.id, j.idempotency_key, j.kind, j.aggregate_id, j.channel, j.recipient, j.run_at, j.payload,
		          j.traceparent, j.tracestate, j.attempts, j.max_attempts, j.next_run_at
	`, kind, limit, lease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var raw []byte
		if err := rows.Scan(&j.ID, &j.IdempotencyKey, &j.Kind, &j.AggregateID, &j.Channel, &j.Recipient, &j.RunAt, &raw, &j.Traceparent, &j.Tracestate, &j.Attempts, &j.MaxAttempts, &j.NextRunAt); err != nil {
			return nil, err
		}
		j.Payload = map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &j.Payload); err != nil {
				return nil, err
			}
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	return r.setStatus(ctx, tx, ids, StatusProcessed, "")
}

// MarkSkipped closes jobs that are no longer worth running, e.g. a reminder
// whose appointment already started.
func (r *Repository) MarkSkipped(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	return r.setStatus(ctx, tx, []int64{id}, StatusSkipped, reason)
}

// MarkDead fails a job immediately without further retries.
func (r *Repository) MarkDead(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	return r.setStatus(ctx, tx, []int64{id}, StatusFailed, reason)
}

func (r *Repository) setStatus(ctx context.Context, tx pgx.Tx, ids []int64, status, lastError string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE scheduler_jobs
		SET status = $2, last_error = NULLIF($3, ''), updated_at = now()
		WHERE id = ANY($1)
	`, ids, status, lastError)
	return err
}

// MarkFailed records a failed attempt. The job stays pending with nextRunAt
// until attempts reaches maxAttempts, then it is failed for good. It reports
// whether the job is exhausted.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, job Job, nextRunAt time.Time, lastError string) (bool, error) {
	attempts := job.Attempts + 1
	status := StatusPending
	if attempts >= job.MaxAttempts {
		status = StatusFailed
	}
	_, err := tx.Exec(ctx, `
		UPDATE scheduler_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, job.ID, attempts, status, nextRunAt.UTC(), lastError)
	return status == StatusFailed, err
}

// CancelPending cancels every pending job of kind for the aggregate.
func (r *Repository) CancelPending(ctx context.Context, tx pgx.Tx, kind, aggregateID string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE scheduler_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE kind = $1 AND aggregate_id = $2 AND status = 'pending'
	`, kind, aggregateID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Purge deletes finished jobs last touched before cutoff.
func (r *Repository) Purge(ctx context.Context, db Execer, cutoff time.Time) (int64, error) {
	tag, err := db.Exec(ctx, `
		DELETE FROM scheduler_jobs
		WHERE status <> 'pending' AND updated_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Backoff doubles base per attempt already made, capped at limit.
func Backoff(base, limit time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if attempts < 0 {
		attempts = 0
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempts)))
	if d <= 0 || (limit > 0 && d > limit) {
		return limit
	}
	return d
}
