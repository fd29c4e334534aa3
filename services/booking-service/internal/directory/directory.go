// Package directory answers doctor searches: optional exact specialty filter
// and, when the requester's position is known, ascending distance order.
package directory

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/geo"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
)

type Source interface {
	ListDoctors(ctx context.Context) ([]model.Doctor, error)
	ListDoctorsBySpecialty(ctx context.Context, specialty string) ([]model.Doctor, error)
	GetDoctor(ctx context.Context, id int64) (model.Doctor, error)
}

type Query struct {
	Specialty string
	Origin    *geo.Point
}

// ParseOrigin turns the lat/lng query values into a point. Anything missing,
// unparsable or out of range yields nil, which disables distance ordering.
func ParseOrigin(lat, lng string) *geo.Point {
	lat, lng = strings.TrimSpace(lat), strings.TrimSpace(lng)
	if lat == "" || lng == "" {
		return nil
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return nil
	}
	p := geo.Point{Lat: la, Lng: ln}
	if !p.Valid() {
		return nil
	}
	return &p
}

type Service struct {
	src Source
}

func NewService(src Source) *Service {
	return &Service{src: src}
}

func (s *Service) Search(ctx context.Context, q Query) ([]model.Doctor, error) {
	var (
		doctors []model.Doctor
		err     error
	)
	if q.Specialty != "" {
		doctors, err = s.src.ListDoctorsBySpecialty(ctx, q.Specialty)
	} else {
		doctors, err = s.src.ListDoctors(ctx)
	}
	if err != nil {
		return nil, err
	}
	if q.Origin == nil {
		return doctors, nil
	}
	return Rank(doctors, *q.Origin), nil
}

func (s *Service) BySpecialty(ctx context.Context, specialty string) ([]model.Doctor, error) {
	return s.src.ListDoctorsBySpecialty(ctx, specialty)
}

// Get returns model.ErrNotFound for unknown ids.
func (s *Service) Get(ctx context.Context, id int64) (model.Doctor, error) {
	return s.src.GetDoctor(ctx, id)
}

// Rank returns a copy of doctors annotated with their distance from origin,
// nearest first. Equal distances keep their input order.
func Rank(doctors []model.Doctor, origin geo.Point) []model.Doctor {
	ranked := make([]model.Doctor, len(doctors))
	copy(ranked, doctors)
	for i := range ranked {
		d := geo.Distance(origin, geo.Point{Lat: ranked[i].Latitude, Lng: ranked[i].Longitude})
		ranked[i].Distance = &d
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].Distance < *ranked[j].Distance
	})
	return ranked
}
