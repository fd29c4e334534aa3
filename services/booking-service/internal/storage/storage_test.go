package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/medibook/libs/db"
	"github.com/md-rashed-zaman/medibook/libs/email"
	"github.com/md-rashed-zaman/medibook/libs/jobs"
	"github.com/md-rashed-zaman/medibook/libs/outbox"
	"github.com/md-rashed-zaman/medibook/libs/schema"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
)

func TestAdvisoryKeysDoNotCollide(t *testing.T) {
	if advisoryKey(lockDoctor, 7) == advisoryKey(lockPatient, 7) {
		t.Fatal("doctor and patient keys must differ")
	}
	if advisoryKey(lockDoctor, 7) == advisoryKey(lockDoctor, 8) {
		t.Fatal("keys must differ per id")
	}
}

func TestSeedDoctors(t *testing.T) {
	if len(SeedDoctors) != 11 {
		t.Fatalf("expected 11 doctors, got %d", len(SeedDoctors))
	}
	for _, d := range SeedDoctors {
		if !strings.HasPrefix(d.Name, "Dr. ") || d.Specialty == "" || len(d.AvailableHours) == 0 {
			t.Fatalf("incomplete seed entry %+v", d)
		}
	}
}

func TestNilDoctorCacheIsNoop(t *testing.T) {
	var c *DoctorCache
	if _, ok := c.getList(context.Background(), c.key("all")); ok {
		t.Fatal("nil cache must miss")
	}
	c.set(context.Background(), "k", []model.Doctor{})
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("nil flush: %v", err)
	}
}

// Integration tests below need a scratch database.
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

func newTestStore(t *testing.T) (BookingStore, *UserRepository, *db.Pool) {
	pool := openTestPool(t)
	doctors := NewDoctorRepository(pool, nil)
	if _, err := doctors.SeedIfEmpty(context.Background(), SeedDoctors); err != nil {
		t.Fatalf("seed: %v", err)
	}
	appts := NewAppointmentRepository(pool, jobs.NewRepository(), outbox.NewRepository())
	return BookingStore{DoctorRepository: doctors, AppointmentRepository: appts}, NewUserRepository(pool), pool
}

func createPatient(t *testing.T, users *UserRepository, addr string) model.User {
	t.Helper()
	u, err := users.Create(context.Background(), model.User{PasswordHash: "x", FullName: "Test Patient", Email: addr})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestBookConflictInPostgres(t *testing.T) {
	store, users, pool := newTestStore(t)
	ctx := context.Background()
	p1 := createPatient(t, users, "p1@example.com")
	p2 := createPatient(t, users, "p2@example.com")
	at := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute)

	appt, err := store.Book(ctx, booking.Booking{
		DoctorID: 1, PatientID: p1.ID, Date: at,
		Reminder: &booking.Reminder{RunAt: at.Add(-time.Hour), Recipient: p1.Email, Details: email.Details{Date: at}},
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", appt.Status)
	}

	if _, err := store.Book(ctx, booking.Booking{DoctorID: 1, PatientID: p2.ID, Date: at.Add(30 * time.Minute)}); !errors.Is(err, booking.ErrSlotConflict) {
		t.Fatalf("expected conflict on same doctor, got %v", err)
	}
	if _, err := store.Book(ctx, booking.Booking{DoctorID: 2, PatientID: p1.ID, Date: at.Add(-10 * time.Minute)}); !errors.Is(err, booking.ErrSlotConflict) {
		t.Fatalf("expected conflict on same patient, got %v", err)
	}
	if _, err := store.Book(ctx, booking.Booking{DoctorID: 1, PatientID: p2.ID, Date: at.Add(31 * time.Minute)}); err != nil {
		t.Fatalf("31 minutes apart should book: %v", err)
	}

	var pendingJobs, events int
	_ = pool.QueryRow(ctx, `SELECT count(*) FROM scheduler_jobs WHERE status = 'pending'`).Scan(&pendingJobs)
	_ = pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events WHERE event_type = $1`, EventAppointmentBooked).Scan(&events)
	if pendingJobs != 1 || events != 2 {
		t.Fatalf("expected 1 job and 2 events, got %d and %d", pendingJobs, events)
	}

	if _, err := store.Cancel(ctx, p1.ID, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_ = pool.QueryRow(ctx, `SELECT count(*) FROM scheduler_jobs WHERE status = 'pending'`).Scan(&pendingJobs)
	if pendingJobs != 0 {
		t.Fatalf("reminder should be cancelled, %d pending", pendingJobs)
	}
	if _, err := store.Cancel(ctx, p2.ID, appt.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found for another patient, got %v", err)
	}
}

func TestConcurrentBookingsOneWins(t *testing.T) {
	store, users, _ := newTestStore(t)
	at := time.Now().UTC().Add(96 * time.Hour).Truncate(time.Minute)

	var patients []model.User
	for _, addr := range []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"} {
		patients = append(patients, createPatient(t, users, addr))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(patients))
	for i, p := range patients {
		wg.Add(1)
		go func(i int, p model.User) {
			defer wg.Done()
			_, err := store.Book(context.Background(), booking.Booking{DoctorID: 3, PatientID: p.ID, Date: at.Add(time.Duration(i) * 5 * time.Minute)})
			errs <- err
		}(i, p)
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, booking.ErrSlotConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one booking, got %d", ok)
	}
}

func TestListForPatientOrderedByDate(t *testing.T) {
	store, users, _ := newTestStore(t)
	ctx := context.Background()
	p := createPatient(t, users, "order@example.com")
	base := time.Now().UTC().Add(120 * time.Hour).Truncate(time.Minute)

	for _, offset := range []time.Duration{3 * time.Hour, time.Hour} {
		if _, err := store.Book(ctx, booking.Booking{DoctorID: 4, PatientID: p.ID, Date: base.Add(offset)}); err != nil {
			t.Fatalf("book: %v", err)
		}
	}
	list, err := store.ListForPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || !list[0].Date.Before(list[1].Date) {
		t.Fatalf("unexpected order %+v", list)
	}
	if list[0].Doctor.Name != "Dr. Vikram Reddy" {
		t.Fatalf("doctor not joined: %+v", list[0].Doctor)
	}
}

func TestUserEmailUnique(t *testing.T) {
	_, users, _ := newTestStore(t)
	createPatient(t, users, "dup@example.com")
	_, err := users.Create(context.Background(), model.User{PasswordHash: "x", FullName: "Again", Email: "dup@example.com"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestUserEmailUniqueIgnoresCase(t *testing.T) {
	_, users, _ := newTestStore(t)
	ctx := context.Background()
	first := createPatient(t, users, "Asha@Example.com")
	if first.Email != "asha@example.com" {
		t.Fatalf("expected lowercased email, got %q", first.Email)
	}
	_, err := users.Create(ctx, model.User{PasswordHash: "x", FullName: "Again", Email: "asha@example.com"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	got, err := users.GetByEmail(ctx, "ASHA@example.com")
	if err != nil || got.ID != first.ID {
		t.Fatalf("lookup by other case: %+v %v", got, err)
	}
}

func TestUsernameTakenIsDistinct(t *testing.T) {
	_, users, _ := newTestStore(t)
	ctx := context.Background()
	name := "asha"
	if _, err := users.Create(ctx, model.User{Username: &name, PasswordHash: "x", FullName: "One", Email: "one@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	other := "ASHA"
	_, err := users.Create(ctx, model.User{Username: &other, PasswordHash: "x", FullName: "Two", Email: "two@example.com"})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}
