// Package storage holds the reminder worker's reads of appointment state and
// its delivery log.
package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/medibook/libs/db"
	"github.com/md-rashed-zaman/medibook/libs/jobs"
)

// Delivery statuses recorded in notifications.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// AppointmentCancelled mirrors the booking service's cancelled status.
const AppointmentCancelled = "cancelled"

type Notification struct {
	JobID         int64
	AppointmentID int64
	Channel       string
	Recipient     string
	Subject       string
	Status        string
	Error         string
}

// AppointmentState is what the worker checks before sending a reminder.
type AppointmentState struct {
	Status string
	Date   time.Time
}

// RowQuerier is satisfied by pgx.Tx and *db.Pool.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// InsertNotification records one delivery attempt.
func (r *Repository) InsertNotification(ctx context.Context, tx pgx.Tx, n Notification) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO notifications (job_id, appointment_id, channel, recipient, subject, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, n.JobID, n.AppointmentID, n.Channel, n.Recipient, n.Subject, n.Status, n.Error)
	return err
}

// AppointmentState reports ok=false when the appointment row is gone.
func (r *Repository) AppointmentState(ctx context.Context, q RowQuerier, id int64) (AppointmentState, bool, error) {
	var s AppointmentState
	err := q.QueryRow(ctx, `SELECT status, date FROM appointments WHERE id = $1`, id).Scan(&s.Status, &s.Date)
	if db.IsNotFound(err) {
		return AppointmentState{}, false, nil
	}
	if err != nil {
		return AppointmentState{}, false, err
	}
	return s, true, nil
}

// PurgeNotifications deletes delivery records created before cutoff.
func (r *Repository) PurgeNotifications(ctx context.Context, exec jobs.Execer, cutoff time.Time) (int64, error) {
	tag, err := exec.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
