// Package worker delivers due appointment reminders from scheduler_jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/medibook/libs/db"
	"github.com/md-rashed-zaman/medibook/libs/email"
	"github.com/md-rashed-zaman/medibook/libs/jobs"
	otelx "github.com/md-rashed-zaman/medibook/libs/otel"
	"github.com/md-rashed-zaman/medibook/libs/outbox"
	"github.com/md-rashed-zaman/medibook/services/reminder-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ReminderKind is the scheduler_jobs kind written by the booking service.
const ReminderKind = "appointment_reminder"

// Events written to the outbox.
const (
	EventReminderSent   = "reminder.sent.v1"
	EventReminderFailed = "reminder.failed.v1"
	EventReminderDLQ    = "reminder.dlq.v1"
)

const maxBackoff = time.Hour

type Config struct {
	Interval    time.Duration
	BatchSize   int
	Backoff     time.Duration
	SendTimeout time.Duration
}

type Worker struct {
	pool   *db.Pool
	jobs   *jobs.Repository
	outbox *outbox.Repository
	store  *storage.Repository
	sender email.Sender
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func New(pool *db.Pool, jobRepo *jobs.Repository, outboxRepo *outbox.Repository, store *storage.Repository, sender email.Sender, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Worker{
		pool:   pool,
		jobs:   jobRepo,
		outbox: outboxRepo,
		store:  store,
		sender: sender,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.ProcessBatch(ctx)
			if err != nil {
				w.logger.Error("reminder batch failed", "err", err)
				continue
			}
			if n > 0 {
				w.logger.Debug("reminder batch done", "jobs", n)
			}
		}
	}
}

// ProcessBatch leases up to BatchSize due reminders and handles each one on
// its own: mail goes out with no transaction open, and the outcome of every
// job commits separately, so one job's storage error never rolls back
// another's delivery record. It returns how many jobs were claimed.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	due, err := w.jobs.Claim(ctx, w.pool, ReminderKind, w.cfg.BatchSize, w.lease())
	if err != nil {
		return 0, err
	}
	for _, job := range due {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		if err := w.handle(jobCtx, job); err != nil {
			w.logger.Error("reminder job failed", "job_id", job.ID, "err", err)
		}
	}
	return len(due), nil
}

// lease must outlast one send plus recording its outcome.
func (w *Worker) lease() time.Duration {
	return w.cfg.SendTimeout + time.Minute
}

// handle runs one claimed job. A returned error is a storage failure; the job
// keeps its lease and comes due again when it expires.
func (w *Worker) handle(ctx context.Context, job jobs.Job) error {
	ctx, span := otel.Tracer("reminder").Start(ctx, "reminder.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("job.id", job.ID),
		attribute.String("appointment.id", job.AggregateID),
	)

	appointmentID, err := strconv.ParseInt(job.AggregateID, 10, 64)
	if err != nil {
		return w.pool.WithTx(ctx, func(tx pgx.Tx) error {
			return w.dead(ctx, tx, job, "invalid appointment id")
		})
	}
	state, found, err := w.store.AppointmentState(ctx, w.pool, appointmentID)
	if err != nil {
		return err
	}

	p := planDelivery(job, state, found, w.now())
	switch p.action {
	case actionSkip:
		w.logger.Info("reminder skipped", "job_id", job.ID, "appointment_id", appointmentID, "reason", p.reason)
		return w.pool.WithTx(ctx, func(tx pgx.Tx) error {
			return w.jobs.MarkSkipped(ctx, tx, job.ID, p.reason)
		})
	case actionDrop:
		w.logger.Error("reminder dropped", "job_id", job.ID, "appointment_id", appointmentID, "reason", p.reason)
		return w.pool.WithTx(ctx, func(tx pgx.Tx) error {
			return w.dead(ctx, tx, job, p.reason)
		})
	}

	sendErr := w.send(ctx, p.message)
	if sendErr != nil {
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, "send failed")
	}
	return w.pool.WithTx(ctx, func(tx pgx.Tx) error {
		return w.record(ctx, tx, job, appointmentID, p.message.Subject, sendErr)
	})
}

// record stores the outcome of one send attempt.
func (w *Worker) record(ctx context.Context, tx pgx.Tx, job jobs.Job, appointmentID int64, subject string, sendErr error) error {
	n := storage.Notification{
		JobID:         job.ID,
		AppointmentID: appointmentID,
		Channel:       job.Channel,
		Recipient:     job.Recipient,
		Subject:       subject,
		Status:        storage.DeliverySent,
	}
	if sendErr != nil {
		n.Status = storage.DeliveryFailed
		n.Error = sendErr.Error()
	}
	if err := w.store.InsertNotification(ctx, tx, n); err != nil {
		return err
	}

	if sendErr == nil {
		if err := w.jobs.MarkProcessed(ctx, tx, []int64{job.ID}); err != nil {
			return err
		}
		w.logger.Info("reminder sent", "job_id", job.ID, "appointment_id", appointmentID)
		return w.emit(ctx, tx, job, EventReminderSent, map[string]any{
			"sent_at": w.now().UTC().Format(time.RFC3339),
		})
	}

	nextRunAt := w.now().Add(jobs.Backoff(w.cfg.Backoff, maxBackoff, job.Attempts))
	exhausted, err := w.jobs.MarkFailed(ctx, tx, job, nextRunAt, sendErr.Error())
	if err != nil {
		return err
	}
	w.logger.Warn("reminder send failed", "job_id", job.ID, "appointment_id", appointmentID, "attempt", job.Attempts+1, "exhausted", exhausted, "err", sendErr)
	if exhausted {
		return w.emit(ctx, tx, job, EventReminderDLQ, map[string]any{
			"error_reason": sendErr.Error(),
			"failed_at":    w.now().UTC().Format(time.RFC3339),
		})
	}
	return w.emit(ctx, tx, job, EventReminderFailed, map[string]any{
		"error_reason": sendErr.Error(),
		"next_run_at":  nextRunAt.UTC().Format(time.RFC3339),
	})
}

func (w *Worker) send(ctx context.Context, msg email.Message) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()
	err := w.sender.Send(ctx, msg)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("send timed out after %s", w.cfg.SendTimeout)
	}
	return err
}

func (w *Worker) dead(ctx context.Context, tx pgx.Tx, job jobs.Job, reason string) error {
	if err := w.jobs.MarkDead(ctx, tx, job.ID, reason); err != nil {
		return err
	}
	return w.emit(ctx, tx, job, EventReminderDLQ, map[string]any{
		"error_reason": reason,
		"failed_at":    w.now().UTC().Format(time.RFC3339),
	})
}

func (w *Worker) emit(ctx context.Context, tx pgx.Tx, job jobs.Job, eventType string, extra map[string]any) error {
	payload, err := json.Marshal(eventPayload(job, extra))
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   job.AggregateID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func eventPayload(job jobs.Job, extra map[string]any) map[string]any {
	out := map[string]any{
		"job_id":         job.ID,
		"appointment_id": job.AggregateID,
		"channel":        job.Channel,
		"recipient":      job.Recipient,
		"run_at":         job.RunAt.UTC().Format(time.RFC3339),
		"attempts":       job.Attempts + 1,
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
