package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/md-rashed-zaman/medibook/libs/httpx"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/directory"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
)

type Directory interface {
	Search(ctx context.Context, q directory.Query) ([]model.Doctor, error)
	BySpecialty(ctx context.Context, specialty string) ([]model.Doctor, error)
	Get(ctx context.Context, id int64) (model.Doctor, error)
}

type DoctorHandler struct {
	dir    Directory
	logger *slog.Logger
}

func NewDoctorHandler(dir Directory, logger *slog.Logger) *DoctorHandler {
	return &DoctorHandler{dir: dir, logger: logger}
}

// List serves GET /api/doctors?lat=&lng=&specialty=.
func (h *DoctorHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doctors, err := h.dir.Search(r.Context(), directory.Query{
		Specialty: q.Get("specialty"),
		Origin:    directory.ParseOrigin(q.Get("lat"), q.Get("lng")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doctors)
}

func (h *DoctorHandler) BySpecialty(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.dir.BySpecialty(r.Context(), r.PathValue("specialty"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doctors)
}

func (h *DoctorHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid doctor ID", "")
		return
	}
	doctor, err := h.dir.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "Doctor not found", "")
			return
		}
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doctor)
}

func (h *DoctorHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("fetch doctors failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
	httpx.WriteError(w, http.StatusInternalServerError, "Failed to fetch doctors", "")
}
