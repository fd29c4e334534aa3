package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/medibook/libs/db"
	"github.com/md-rashed-zaman/medibook/libs/jobs"
	"github.com/md-rashed-zaman/medibook/libs/outbox"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
)

const (
	EventAppointmentBooked    = "booking.appointment.booked.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
)

// Advisory lock namespaces. The high 16 bits select the namespace so doctor
// and patient ids never share a lock.
const (
	lockDoctor  int64 = 1
	lockPatient int64 = 2
)

func advisoryKey(kind, id int64) int64 {
	return kind<<48 | (id & (1<<48 - 1))
}

const appointmentColumns = `id, doctor_id, patient_id, date, status, created_at, updated_at`

type AppointmentRepository struct {
	pool   *db.Pool
	jobs   *jobs.Repository
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, jobRepo *jobs.Repository, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, jobs: jobRepo, outbox: outboxRepo}
}

type appointmentEvent struct {
	AppointmentID int64  `json:"appointment_id"`
	DoctorID      int64  `json:"doctor_id"`
	PatientID     int64  `json:"patient_id"`
	Date          string `json:"date"`
	Status        string `json:"status"`
	ReminderAt    string `json:"reminder_at,omitempty"`
}

func newAppointmentEvent(appt model.Appointment) appointmentEvent {
	return appointmentEvent{
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		Date:          appt.Date.UTC().Format(time.RFC3339),
		Status:        appt.Status,
	}
}

// Book checks the conflict window and inserts the appointment, its reminder
// job and the booked event in one transaction. Advisory locks on the doctor
// and then the patient serialise concurrent bookings that could collide; the
// exclusion constraints back this up.
func (r *AppointmentRepository) Book(ctx context.Context, b booking.Booking) (model.Appointment, error) {
	var appt model.Appointment
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		for _, key := range []int64{advisoryKey(lockDoctor, b.DoctorID), advisoryKey(lockPatient, b.PatientID)} {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
				return err
			}
		}

		from, to := booking.Window(b.Date)
		var conflict bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE status <> 'cancelled'
				  AND (doctor_id = $1 OR patient_id = $2)
				  AND date BETWEEN $3 AND $4
			)
		`, b.DoctorID, b.PatientID, from, to).Scan(&conflict); err != nil {
			return err
		}
		if conflict {
			return booking.ErrSlotConflict
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO appointments (doctor_id, patient_id, date, status)
			VALUES ($1, $2, $3, $4)
			RETURNING `+appointmentColumns,
			b.DoctorID, b.PatientID, b.Date.UTC(), model.StatusConfirmed)
		var err error
		if appt, err = scanAppointment(row); err != nil {
			return err
		}

		evt := newAppointmentEvent(appt)
		if b.Reminder != nil {
			if _, err := r.jobs.Insert(ctx, tx, jobs.Job{
				IdempotencyKey: booking.ReminderKey(appt.ID),
				Kind:           booking.ReminderKind,
				AggregateID:    strconv.FormatInt(appt.ID, 10),
				Channel:        "email",
				Recipient:      b.Reminder.Recipient,
				RunAt:          b.Reminder.RunAt,
				Payload:        b.Reminder.Details.Fields(),
			}); err != nil {
				return err
			}
			evt.ReminderAt = b.Reminder.RunAt.UTC().Format(time.RFC3339)
		}

		return r.writeEvent(ctx, tx, appt.ID, EventAppointmentBooked, evt)
	})
	if db.IsConflict(err) {
		return model.Appointment{}, booking.ErrSlotConflict
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Cancel cancels the patient's appointment and its pending reminder.
// Cancelling twice returns the cancelled appointment unchanged.
func (r *AppointmentRepository) Cancel(ctx context.Context, patientID, appointmentID int64) (model.Appointment, error) {
	var appt model.Appointment
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE id = $1 AND patient_id = $2
			FOR UPDATE
		`, appointmentID, patientID)
		var err error
		if appt, err = scanAppointment(row); err != nil {
			if db.IsNotFound(err) {
				return model.ErrNotFound
			}
			return err
		}
		if appt.Status == model.StatusCancelled {
			return nil
		}

		row = tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'cancelled', updated_at = now()
			WHERE id = $1
			RETURNING `+appointmentColumns, appointmentID)
		if appt, err = scanAppointment(row); err != nil {
			return err
		}
		if _, err := r.jobs.CancelPending(ctx, tx, booking.ReminderKind, strconv.FormatInt(appt.ID, 10)); err != nil {
			return err
		}
		return r.writeEvent(ctx, tx, appt.ID, EventAppointmentCancelled, newAppointmentEvent(appt))
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) ListForPatient(ctx context.Context, patientID int64) ([]model.AppointmentWithDoctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.doctor_id, a.patient_id, a.date, a.status, a.created_at, a.updated_at,
			d.name, d.specialty, d.location
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		WHERE a.patient_id = $1
		ORDER BY a.date ASC, a.id ASC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.AppointmentWithDoctor{}
	for rows.Next() {
		var item model.AppointmentWithDoctor
		if err := rows.Scan(&item.ID, &item.DoctorID, &item.PatientID, &item.Date, &item.Status, &item.CreatedAt, &item.UpdatedAt,
			&item.Doctor.Name, &item.Doctor.Specialty, &item.Doctor.Location); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *AppointmentRepository) writeEvent(ctx context.Context, tx pgx.Tx, appointmentID int64, eventType string, payload any) error {
	evt, err := outbox.NewEvent("appointment", strconv.FormatInt(appointmentID, 10), eventType, payload)
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, evt)
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.Date, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// BookingStore is the booking.Store backed by Postgres.
type BookingStore struct {
	*DoctorRepository
	*AppointmentRepository
}

var _ booking.Store = BookingStore{}
