package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/md-rashed-zaman/medibook/libs/httpx"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
)

const (
	msgBookedWithEmail = "Appointment booked successfully and confirmation email sent. You will receive a reminder 1 hour before your appointment."
	msgBookedNoEmail   = "Appointment booked successfully but confirmation email could not be sent."
)

type Booker interface {
	Book(ctx context.Context, patient booking.Patient, req booking.Request) (booking.Result, error)
	Cancel(ctx context.Context, patientID, appointmentID int64) (model.Appointment, error)
	List(ctx context.Context, patientID int64) ([]model.AppointmentWithDoctor, error)
}

type AppointmentHandler struct {
	booker Booker
	logger *slog.Logger
}

func NewAppointmentHandler(booker Booker, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{booker: booker, logger: logger}
}

type createAppointmentRequest struct {
	DoctorID int64  `json:"doctorId"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

type createAppointmentResponse struct {
	Appointment model.Appointment   `json:"appointment"`
	Doctor      model.DoctorSummary `json:"doctor"`
	EmailStatus string              `json:"emailStatus"`
	Message     string              `json:"message"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var req createAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid appointment request", err.Error())
		return
	}

	res, err := h.booker.Book(r.Context(), booking.Patient{ID: user.ID, Email: user.Email, FullName: user.FullName},
		booking.Request{DoctorID: req.DoctorID, Date: req.Date, Time: req.Time})
	switch {
	case err == nil:
	case errors.Is(err, booking.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, "Invalid appointment request", err.Error())
		return
	case errors.Is(err, booking.ErrDoctorNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Doctor not found", "")
		return
	case errors.Is(err, booking.ErrSlotConflict):
		httpx.WriteError(w, http.StatusConflict, "Time slot conflict", "The selected time slot conflicts with an existing appointment.")
		return
	default:
		h.logger.Error("create appointment failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "Failed to create appointment", "There was an error booking your appointment. Please try again.")
		return
	}

	resp := createAppointmentResponse{
		Appointment: res.Appointment,
		Doctor:      res.Doctor.Summary(),
		EmailStatus: "failed",
		Message:     msgBookedNoEmail,
	}
	if res.EmailSent {
		resp.EmailStatus = "sent"
		resp.Message = msgBookedWithEmail
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	items, err := h.booker.List(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("list appointments failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "Failed to fetch appointments", "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid appointment ID", "")
		return
	}
	appt, err := h.booker.Cancel(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, booking.ErrAppointmentNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "Appointment not found", "")
			return
		}
		h.logger.Error("cancel appointment failed", "err", err, "appointment_id", id)
		httpx.WriteError(w, http.StatusInternalServerError, "Failed to cancel appointment", "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}
