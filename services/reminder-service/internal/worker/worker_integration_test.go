package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/medibook/libs/db"
	"github.com/md-rashed-zaman/medibook/libs/email"
	"github.com/md-rashed-zaman/medibook/libs/jobs"
	"github.com/md-rashed-zaman/medibook/libs/outbox"
	"github.com/md-rashed-zaman/medibook/libs/schema"
	"github.com/md-rashed-zaman/medibook/services/reminder-service/internal/storage"
)

// These tests need a scratch database.
func openTestPool(t *testing.T) *db.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url, db.Options{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := db.NewMigrator(pool, schema.Migrations()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, err = pool.Exec(ctx, `TRUNCATE notifications, scheduler_jobs, outbox_events, appointments, refresh_tokens, users, doctors RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

type recordingSender struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func newTestWorker(pool *db.Pool, sender email.Sender, at time.Time) *Worker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := New(pool, jobs.NewRepository(), outbox.NewRepository(), storage.NewRepository(), sender, logger, Config{Backoff: time.Minute})
	w.now = func() time.Time { return at }
	return w
}

// seedReminder inserts a confirmed appointment two hours out and its due
// reminder job, and returns the job id.
func seedReminder(t *testing.T, pool *db.Pool, attempts int) int64 {
	t.Helper()
	ctx := context.Background()
	appointmentAt := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)

	var doctorID, patientID, appointmentID int64
	if err := pool.QueryRow(ctx, `
		INSERT INTO doctors (name, specialty, image_url, bio, location, latitude, longitude, available_hours, city, state, experience)
		VALUES ('Dr. Sarah Johnson', 'Cardiology', '', '', 'City Hospital, Delhi', 28.6139, 77.2090, ARRAY['09:00'], 'Delhi', 'Delhi', 12)
		RETURNING id`).Scan(&doctorID); err != nil {
		t.Fatalf("insert doctor: %v", err)
	}
	if err := pool.QueryRow(ctx, `
		INSERT INTO users (password_hash, full_name, email) VALUES ('x', 'Asha', 'asha@example.com')
		RETURNING id`).Scan(&patientID); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := pool.QueryRow(ctx, `
		INSERT INTO appointments (doctor_id, patient_id, date, status) VALUES ($1, $2, $3, 'confirmed')
		RETURNING id`, doctorID, patientID, appointmentAt).Scan(&appointmentID); err != nil {
		t.Fatalf("insert appointment: %v", err)
	}

	repo := jobs.NewRepository()
	err := pool.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := repo.Insert(ctx, tx, jobs.Job{
			IdempotencyKey: "appointment:" + strconv.FormatInt(appointmentID, 10) + ":reminder:60m",
			Kind:           ReminderKind,
			AggregateID:    strconv.FormatInt(appointmentID, 10),
			Recipient:      "asha@example.com",
			RunAt:          time.Now().UTC().Add(-time.Minute),
			Payload: email.Details{
				PatientName: "Asha",
				DoctorName:  "Dr. Sarah Johnson",
				Specialty:   "Cardiology",
				Location:    "City Hospital, Delhi",
				Date:        appointmentAt,
			}.Fields(),
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert job: %v", err)
	}

	var jobID int64
	if err := pool.QueryRow(ctx, `
		UPDATE scheduler_jobs SET attempts = $2 WHERE aggregate_id = $1 RETURNING id`,
		strconv.FormatInt(appointmentID, 10), attempts).Scan(&jobID); err != nil {
		t.Fatalf("set attempts: %v", err)
	}
	return jobID
}

type jobRow struct {
	Status    string
	Attempts  int
	NextRunAt time.Time
}

func loadJob(t *testing.T, pool *db.Pool, id int64) jobRow {
	t.Helper()
	var r jobRow
	if err := pool.QueryRow(context.Background(),
		`SELECT status, attempts, next_run_at FROM scheduler_jobs WHERE id = $1`, id).
		Scan(&r.Status, &r.Attempts, &r.NextRunAt); err != nil {
		t.Fatalf("load job: %v", err)
	}
	return r
}

func countEvents(t *testing.T, pool *db.Pool, eventType string) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(),
		`SELECT count(*) FROM outbox_events WHERE event_type = $1`, eventType).Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func notificationStatuses(t *testing.T, pool *db.Pool, jobID int64) []string {
	t.Helper()
	rows, err := pool.Query(context.Background(), `SELECT status FROM notifications WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		t.Fatalf("query notifications: %v", err)
	}
	statuses, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		t.Fatalf("collect notifications: %v", err)
	}
	return statuses
}

func TestProcessBatchSendsReminder(t *testing.T) {
	pool := openTestPool(t)
	jobID := seedReminder(t, pool, 0)
	sender := &recordingSender{}
	w := newTestWorker(pool, sender, time.Now().UTC())

	n, err := w.ProcessBatch(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("ProcessBatch = %d, %v", n, err)
	}
	if len(sender.sent) != 1 || sender.sent[0].Subject != email.ReminderSubject {
		t.Fatalf("unexpected sends %+v", sender.sent)
	}
	if got := loadJob(t, pool, jobID); got.Status != jobs.StatusProcessed {
		t.Fatalf("expected processed, got %+v", got)
	}
	if got := notificationStatuses(t, pool, jobID); len(got) != 1 || got[0] != storage.DeliverySent {
		t.Fatalf("unexpected notifications %v", got)
	}
	if countEvents(t, pool, EventReminderSent) != 1 {
		t.Fatal("expected a reminder.sent.v1 event")
	}
}

func TestProcessBatchRetriesWithBackoff(t *testing.T) {
	pool := openTestPool(t)
	jobID := seedReminder(t, pool, 0)
	at := time.Now().UTC().Truncate(time.Second)
	w := newTestWorker(pool, &recordingSender{err: errors.New("421 try later")}, at)

	if _, err := w.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	got := loadJob(t, pool, jobID)
	if got.Status != jobs.StatusPending || got.Attempts != 1 {
		t.Fatalf("expected pending after one attempt, got %+v", got)
	}
	if want := at.Add(time.Minute); !got.NextRunAt.Equal(want) {
		t.Fatalf("next_run_at = %s, want %s", got.NextRunAt, want)
	}
	if statuses := notificationStatuses(t, pool, jobID); len(statuses) != 1 || statuses[0] != storage.DeliveryFailed {
		t.Fatalf("unexpected notifications %v", statuses)
	}
	if countEvents(t, pool, EventReminderFailed) != 1 || countEvents(t, pool, EventReminderDLQ) != 0 {
		t.Fatal("expected one reminder.failed.v1 and no dlq event")
	}

	// Not due again until the backoff passes.
	if n, err := w.ProcessBatch(context.Background()); err != nil || n != 0 {
		t.Fatalf("second batch = %d, %v; expected nothing due", n, err)
	}
}

func TestProcessBatchDeadLettersExhaustedJob(t *testing.T) {
	pool := openTestPool(t)
	jobID := seedReminder(t, pool, jobs.DefaultMaxAttempts-1)
	w := newTestWorker(pool, &recordingSender{err: errors.New("550 mailbox unavailable")}, time.Now().UTC())

	if _, err := w.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	got := loadJob(t, pool, jobID)
	if got.Status != jobs.StatusFailed || got.Attempts != jobs.DefaultMaxAttempts {
		t.Fatalf("expected failed after max attempts, got %+v", got)
	}
	if countEvents(t, pool, EventReminderDLQ) != 1 {
		t.Fatal("expected a reminder.dlq.v1 event")
	}
}

func TestClaimLeasesJobs(t *testing.T) {
	pool := openTestPool(t)
	seedReminder(t, pool, 0)
	repo := jobs.NewRepository()
	ctx := context.Background()

	first, err := repo.Claim(ctx, pool, ReminderKind, 10, time.Minute)
	if err != nil || len(first) != 1 {
		t.Fatalf("first claim = %d, %v", len(first), err)
	}
	second, err := repo.Claim(ctx, pool, ReminderKind, 10, time.Minute)
	if err != nil || len(second) != 0 {
		t.Fatalf("leased job claimed twice: %d, %v", len(second), err)
	}
}
