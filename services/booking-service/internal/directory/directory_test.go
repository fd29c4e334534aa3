package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/geo"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
)

type fakeSource struct {
	doctors []model.Doctor
}

func (f *fakeSource) ListDoctors(context.Context) ([]model.Doctor, error) {
	return f.doctors, nil
}

func (f *fakeSource) ListDoctorsBySpecialty(_ context.Context, specialty string) ([]model.Doctor, error) {
	var out []model.Doctor
	for _, d := range f.doctors {
		if d.Specialty == specialty {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeSource) GetDoctor(_ context.Context, id int64) (model.Doctor, error) {
	for _, d := range f.doctors {
		if d.ID == id {
			return d, nil
		}
	}
	return model.Doctor{}, model.ErrNotFound
}

func sampleSource() *fakeSource {
	return &fakeSource{doctors: []model.Doctor{
		{ID: 1, Name: "Dr. Priya Sharma", Specialty: "Cardiologist", Latitude: 12.8916, Longitude: 77.5967},
		{ID: 3, Name: "Dr. Anjali Desai", Specialty: "Dermatologist", Latitude: 28.5274, Longitude: 77.2159},
		{ID: 6, Name: "Dr. Arun Mehta", Specialty: "Cardiologist", Latitude: 23.0225, Longitude: 72.5714},
	}}
}

func TestSearchSortsByDistance(t *testing.T) {
	svc := NewService(sampleSource())
	delhi := geo.Point{Lat: 28.6139, Lng: 77.2090}

	got, err := svc.Search(context.Background(), Query{Origin: &delhi})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	want := []int64{3, 6, 1}
	for i, d := range got {
		if d.ID != want[i] {
			t.Fatalf("position %d: expected doctor %d, got %d", i, want[i], d.ID)
		}
		if d.Distance == nil {
			t.Fatalf("doctor %d has no distance", d.ID)
		}
		if i > 0 && *got[i-1].Distance > *d.Distance {
			t.Fatal("distances not ascending")
		}
	}
}

func TestSearchSpecialtyFilterIsExact(t *testing.T) {
	svc := NewService(sampleSource())

	got, err := svc.Search(context.Background(), Query{Specialty: "Cardiologist"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 6 {
		t.Fatalf("unexpected result %+v", got)
	}
	if got[0].Distance != nil {
		t.Fatal("distance must not be set without an origin")
	}

	got, _ = svc.Search(context.Background(), Query{Specialty: "cardiologist"})
	if len(got) != 0 {
		t.Fatalf("specialty match must be case-sensitive, got %d", len(got))
	}
}

func TestRankKeepsOrderOnTies(t *testing.T) {
	same := []model.Doctor{{ID: 9, Latitude: 10, Longitude: 10}, {ID: 4, Latitude: 10, Longitude: 10}}
	got := Rank(same, geo.Point{Lat: 0, Lng: 0})
	if got[0].ID != 9 || got[1].ID != 4 {
		t.Fatalf("tie order changed: %d, %d", got[0].ID, got[1].ID)
	}
	if same[0].Distance != nil {
		t.Fatal("Rank must not mutate its input")
	}
}

func TestParseOrigin(t *testing.T) {
	cases := []struct {
		lat, lng string
		ok       bool
	}{
		{"28.6139", "77.2090", true},
		{"", "77.2", false},
		{"abc", "77.2", false},
		{"NaN", "77.2", false},
		{"95", "10", false},
	}
	for _, tc := range cases {
		if got := ParseOrigin(tc.lat, tc.lng); (got != nil) != tc.ok {
			t.Fatalf("ParseOrigin(%q, %q) = %v, want ok=%v", tc.lat, tc.lng, got, tc.ok)
		}
	}
}

func TestGetUnknownDoctor(t *testing.T) {
	_, err := NewService(sampleSource()).Get(context.Background(), 42)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
