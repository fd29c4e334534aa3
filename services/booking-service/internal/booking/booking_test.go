package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/medibook/libs/email"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
)

// memStore applies the same conflict rule the Postgres store enforces.
type memStore struct {
	mu        sync.Mutex
	doctors   map[int64]model.Doctor
	appts     []model.Appointment
	reminders []Reminder
}

func newMemStore() *memStore {
	return &memStore{doctors: map[int64]model.Doctor{
		1: {ID: 1, Name: "Dr. Priya Sharma", Specialty: "Cardiologist", Location: "Fortis Hospital, Bannerghatta Road"},
		2: {ID: 2, Name: "Dr. Rajesh Kumar", Specialty: "Orthopedic Surgeon", Location: "Apollo Hospitals, Greams Road"},
	}}
}

func (m *memStore) GetDoctor(_ context.Context, id int64) (model.Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return model.Doctor{}, model.ErrNotFound
	}
	return d, nil
}

func (m *memStore) Book(_ context.Context, b Booking) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.Status == model.StatusCancelled {
			continue
		}
		if (a.DoctorID == b.DoctorID || a.PatientID == b.PatientID) && Conflicts(a.Date, b.Date) {
			return model.Appointment{}, ErrSlotConflict
		}
	}
	appt := model.Appointment{
		ID:        int64(len(m.appts) + 1),
		DoctorID:  b.DoctorID,
		PatientID: b.PatientID,
		Date:      b.Date,
		Status:    model.StatusConfirmed,
	}
	m.appts = append(m.appts, appt)
	if b.Reminder != nil {
		m.reminders = append(m.reminders, *b.Reminder)
	}
	return appt, nil
}

func (m *memStore) Cancel(_ context.Context, patientID, id int64) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.appts {
		if m.appts[i].ID == id && m.appts[i].PatientID == patientID {
			m.appts[i].Status = model.StatusCancelled
			return m.appts[i], nil
		}
	}
	return model.Appointment{}, model.ErrNotFound
}

func (m *memStore) ListForPatient(context.Context, int64) ([]model.AppointmentWithDoctor, error) {
	return nil, nil
}

type recordingSender struct {
	err  error
	sent []email.Message
}

func (r *recordingSender) Send(_ context.Context, msg email.Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

var now = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestService(store Store, mailer email.Sender) *Service {
	svc := NewService(store, mailer, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	svc.now = func() time.Time { return now }
	return svc
}

func req(doctorID int64, at time.Time) Request {
	return Request{DoctorID: doctorID, Date: at.Format(time.RFC3339), Time: at.Format("15:04")}
}

var (
	asha  = Patient{ID: 10, Email: "asha@example.com", FullName: "Asha Rao"}
	vikas = Patient{ID: 11, Email: "vikas@example.com", FullName: "Vikas Jain"}
)

func TestConflicts(t *testing.T) {
	base := now.Add(48 * time.Hour)
	cases := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{29 * time.Minute, true},
		{30 * time.Minute, true},
		{-30 * time.Minute, true},
		{31 * time.Minute, false},
		{-31 * time.Minute, false},
	}
	for _, tc := range cases {
		if got := Conflicts(base, base.Add(tc.offset)); got != tc.want {
			t.Fatalf("Conflicts at %v = %v, want %v", tc.offset, got, tc.want)
		}
	}
	from, to := Window(base)
	if to.Sub(from) != time.Hour {
		t.Fatalf("window should span an hour, got %v", to.Sub(from))
	}
}

func TestBookSameDoctorWithinWindow(t *testing.T) {
	svc := newTestService(newMemStore(), &recordingSender{})
	at := now.Add(48 * time.Hour)

	if _, err := svc.Book(context.Background(), asha, req(1, at)); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}
	_, err := svc.Book(context.Background(), vikas, req(1, at.Add(20*time.Minute)))
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected slot conflict, got %v", err)
	}
}

func TestBookSamePatientDifferentDoctor(t *testing.T) {
	svc := newTestService(newMemStore(), &recordingSender{})
	at := now.Add(48 * time.Hour)

	if _, err := svc.Book(context.Background(), asha, req(1, at)); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}
	if _, err := svc.Book(context.Background(), asha, req(2, at.Add(30*time.Minute))); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected slot conflict at exactly 30 minutes, got %v", err)
	}
	if _, err := svc.Book(context.Background(), asha, req(2, at.Add(31*time.Minute))); err != nil {
		t.Fatalf("31 minutes apart should book, got %v", err)
	}
}

func TestBookAfterCancellationFreesSlot(t *testing.T) {
	svc := newTestService(newMemStore(), &recordingSender{})
	at := now.Add(48 * time.Hour)

	res, err := svc.Book(context.Background(), asha, req(1, at))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), asha.ID, res.Appointment.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := svc.Book(context.Background(), vikas, req(1, at)); err != nil {
		t.Fatalf("cancelled slot should be free, got %v", err)
	}
}

func TestBookEmailFailureStillSucceeds(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &recordingSender{err: errors.New("smtp down")})

	res, err := svc.Book(context.Background(), asha, req(1, now.Add(48*time.Hour)))
	if err != nil {
		t.Fatalf("booking must not fail on email error: %v", err)
	}
	if res.EmailSent {
		t.Fatal("expected EmailSent=false")
	}
	if res.Appointment.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %q", res.Appointment.Status)
	}
}

func TestBookSendsConfirmationAndPlansReminder(t *testing.T) {
	store := newMemStore()
	mailer := &recordingSender{}
	svc := newTestService(store, mailer)
	at := now.Add(48 * time.Hour)

	res, err := svc.Book(context.Background(), asha, req(1, at))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if !res.EmailSent || len(mailer.sent) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(mailer.sent))
	}
	if mailer.sent[0].Subject != email.ConfirmationSubject || mailer.sent[0].To != asha.Email {
		t.Fatalf("unexpected message %+v", mailer.sent[0])
	}
	if len(store.reminders) != 1 {
		t.Fatalf("expected one reminder, got %d", len(store.reminders))
	}
	if rem := store.reminders[0]; !rem.RunAt.Equal(at.Add(-time.Hour)) || rem.Details.DoctorName != "Dr. Priya Sharma" {
		t.Fatalf("unexpected reminder %+v", rem)
	}
}

func TestBookSoonSkipsReminder(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &recordingSender{})

	if _, err := svc.Book(context.Background(), asha, req(1, now.Add(45*time.Minute))); err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if len(store.reminders) != 0 {
		t.Fatalf("expected no reminder, got %d", len(store.reminders))
	}
}

func TestBookValidation(t *testing.T) {
	svc := newTestService(newMemStore(), &recordingSender{})
	at := now.Add(48 * time.Hour)
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"zero doctor", Request{DoctorID: 0, Date: at.Format(time.RFC3339), Time: "10:00"}, ErrInvalidInput},
		{"bad date", Request{DoctorID: 1, Date: "tomorrow", Time: "10:00"}, ErrInvalidInput},
		{"bad time", Request{DoctorID: 1, Date: at.Format(time.RFC3339), Time: "24:00"}, ErrInvalidInput},
		{"unknown doctor", req(99, at), ErrDoctorNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Book(context.Background(), asha, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCancelNotOwned(t *testing.T) {
	svc := newTestService(newMemStore(), &recordingSender{})
	res, err := svc.Book(context.Background(), asha, req(1, now.Add(48*time.Hour)))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), vikas.ID, res.Appointment.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestReminderKey(t *testing.T) {
	if got := ReminderKey(42); got != "appointment:42:reminder:60m" {
		t.Fatalf("unexpected key %q", got)
	}
}
