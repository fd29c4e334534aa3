package model

import (
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("not found")

// Appointment statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

type Appointment struct {
	ID        int64     `json:"id"`
	DoctorID  int64     `json:"doctorId"`
	PatientID int64     `json:"patientId"`
	Date      time.Time `json:"date"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AppointmentWithDoctor is a patient's appointment joined with its doctor.
type AppointmentWithDoctor struct {
	Appointment
	Doctor DoctorSummary `json:"doctor"`
}

type DoctorSummary struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Location  string `json:"location"`
}
