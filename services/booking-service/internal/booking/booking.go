// Package booking owns the appointment rules: the inclusive ±30 minute
// conflict window shared by doctor and patient, the booking flow with its
// best-effort confirmation email, reminder planning and cancellation.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/md-rashed-zaman/medibook/libs/email"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrSlotConflict        = errors.New("time slot conflict")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

const (
	// ConflictWindow is the minimum spacing between two appointments of the
	// same doctor or the same patient. Exactly 30 minutes apart still conflicts.
	ConflictWindow = 30 * time.Minute
	// ReminderLead is how long before the appointment the reminder goes out.
	ReminderLead = time.Hour
	ReminderKind = "appointment_reminder"
)

var timeOfDayRe = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// Window returns the inclusive range of instants that conflict with t.
func Window(t time.Time) (from, to time.Time) {
	return t.Add(-ConflictWindow), t.Add(ConflictWindow)
}

// Conflicts reports whether appointments at a and b are too close together.
func Conflicts(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= ConflictWindow
}

// ReminderKey is the idempotency key of an appointment's reminder job.
func ReminderKey(appointmentID int64) string {
	return fmt.Sprintf("appointment:%d:reminder:%dm", appointmentID, int(ReminderLead.Minutes()))
}

type Request struct {
	DoctorID int64
	Date     string
	Time     string
}

type Patient struct {
	ID       int64
	Email    string
	FullName string
}

type Reminder struct {
	RunAt     time.Time
	Recipient string
	Details   email.Details
}

// Booking is what the store persists atomically: the appointment, its
// optional reminder job and the booked event.
type Booking struct {
	DoctorID  int64
	PatientID int64
	Date      time.Time
	Reminder  *Reminder
}

type Store interface {
	GetDoctor(ctx context.Context, id int64) (model.Doctor, error)
	// Book must return ErrSlotConflict when another live appointment of the
	// doctor or the patient lies within the conflict window.
	Book(ctx context.Context, b Booking) (model.Appointment, error)
	Cancel(ctx context.Context, patientID, appointmentID int64) (model.Appointment, error)
	ListForPatient(ctx context.Context, patientID int64) ([]model.AppointmentWithDoctor, error)
}

type Result struct {
	Appointment model.Appointment
	Doctor      model.Doctor
	EmailSent   bool
}

type Config struct {
	EmailTimeout time.Duration
}

type Service struct {
	store        Store
	mailer       email.Sender
	logger       *slog.Logger
	emailTimeout time.Duration
	now          func() time.Time
}

func NewService(store Store, mailer email.Sender, logger *slog.Logger, cfg Config) *Service {
	if cfg.EmailTimeout <= 0 {
		cfg.EmailTimeout = 10 * time.Second
	}
	if mailer == nil {
		mailer = email.DisabledSender{}
	}
	return &Service{
		store:        store,
		mailer:       mailer,
		logger:       logger,
		emailTimeout: cfg.EmailTimeout,
		now:          time.Now,
	}
}

func validate(req Request) (time.Time, error) {
	if req.DoctorID <= 0 {
		return time.Time{}, fmt.Errorf("%w: doctorId must be a positive integer", ErrInvalidInput)
	}
	at, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be an ISO-8601 datetime", ErrInvalidInput)
	}
	if !timeOfDayRe.MatchString(req.Time) {
		return time.Time{}, fmt.Errorf("%w: Invalid time format. Use HH:mm", ErrInvalidInput)
	}
	return at.UTC(), nil
}

// Book validates req, persists the appointment and then sends the
// confirmation email. An email failure is reported in Result, never as an error.
func (s *Service) Book(ctx context.Context, patient Patient, req Request) (Result, error) {
	ctx, span := otel.Tracer("booking").Start(ctx, "booking.book",
		trace.WithAttributes(
			attribute.Int64("doctor.id", req.DoctorID),
			attribute.Int64("patient.id", patient.ID),
		),
	)
	defer span.End()

	at, err := validate(req)
	if err != nil {
		return Result{}, err
	}

	doctor, err := s.store.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return Result{}, ErrDoctorNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "load doctor")
		return Result{}, err
	}

	details := email.Details{
		PatientName: patient.FullName,
		DoctorName:  doctor.Name,
		Specialty:   doctor.Specialty,
		Location:    doctor.Location,
		Date:        at,
	}

	appt, err := s.store.Book(ctx, Booking{
		DoctorID:  doctor.ID,
		PatientID: patient.ID,
		Date:      at,
		Reminder:  s.planReminder(patient, details),
	})
	if err != nil {
		if !errors.Is(err, ErrSlotConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist appointment")
		}
		return Result{}, err
	}

	sent := s.sendConfirmation(ctx, appt, patient.Email, details)
	span.SetAttributes(attribute.Int64("appointment.id", appt.ID), attribute.Bool("email.sent", sent))
	return Result{Appointment: appt, Doctor: doctor, EmailSent: sent}, nil
}

// planReminder returns nil when the reminder instant is not in the future or
// the patient has no deliverable address.
func (s *Service) planReminder(patient Patient, d email.Details) *Reminder {
	runAt := d.Date.Add(-ReminderLead)
	if !runAt.After(s.now()) {
		s.logger.Info("appointment is less than an hour away, skipping reminder", "patient_id", patient.ID)
		return nil
	}
	if !email.ValidAddress(patient.Email) {
		s.logger.Warn("patient email invalid, skipping reminder", "patient_id", patient.ID)
		return nil
	}
	return &Reminder{RunAt: runAt, Recipient: patient.Email, Details: d}
}

func (s *Service) sendConfirmation(ctx context.Context, appt model.Appointment, to string, d email.Details) bool {
	msg, err := email.Confirmation(to, d)
	if err != nil {
		s.logger.Error("render confirmation failed", "err", err, "appointment_id", appt.ID)
		return false
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.emailTimeout)
	defer cancel()
	if err := s.mailer.Send(sendCtx, msg); err != nil {
		s.logger.Warn("confirmation email not sent", "err", err, "appointment_id", appt.ID)
		return false
	}
	s.logger.Info("confirmation email sent", "appointment_id", appt.ID)
	return true
}

func (s *Service) Cancel(ctx context.Context, patientID, appointmentID int64) (model.Appointment, error) {
	appt, err := s.store.Cancel(ctx, patientID, appointmentID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Appointment{}, ErrAppointmentNotFound
	}
	return appt, err
}

func (s *Service) List(ctx context.Context, patientID int64) ([]model.AppointmentWithDoctor, error) {
	return s.store.ListForPatient(ctx, patientID)
}
