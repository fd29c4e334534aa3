package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/medibook/libs/db"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
)

const doctorColumns = `id, name, specialty, image_url, bio, location, latitude::float8, longitude::float8,
	available_hours, city, state, ratings::float8, experience`

// DoctorRepository reads the doctor directory, through the cache when one is
// configured.
type DoctorRepository struct {
	pool  *db.Pool
	cache *DoctorCache
}

func NewDoctorRepository(pool *db.Pool, cache *DoctorCache) *DoctorRepository {
	return &DoctorRepository{pool: pool, cache: cache}
}

func (r *DoctorRepository) ListDoctors(ctx context.Context) ([]model.Doctor, error) {
	key := r.cache.key("all")
	if doctors, ok := r.cache.getList(ctx, key); ok {
		return doctors, nil
	}
	doctors, err := r.query(ctx, `SELECT `+doctorColumns+` FROM doctors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	r.cache.set(ctx, key, doctors)
	return doctors, nil
}

func (r *DoctorRepository) ListDoctorsBySpecialty(ctx context.Context, specialty string) ([]model.Doctor, error) {
	key := r.cache.key("specialty", specialty)
	if doctors, ok := r.cache.getList(ctx, key); ok {
		return doctors, nil
	}
	doctors, err := r.query(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE specialty = $1 ORDER BY id`, specialty)
	if err != nil {
		return nil, err
	}
	r.cache.set(ctx, key, doctors)
	return doctors, nil
}

func (r *DoctorRepository) GetDoctor(ctx context.Context, id int64) (model.Doctor, error) {
	key := r.cache.key("id", id)
	if doctor, ok := r.cache.getOne(ctx, key); ok {
		return doctor, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id)
	doctor, err := scanDoctor(row)
	if err != nil {
		if db.IsNotFound(err) {
			return model.Doctor{}, model.ErrNotFound
		}
		return model.Doctor{}, err
	}
	r.cache.set(ctx, key, doctor)
	return doctor, nil
}

func (r *DoctorRepository) query(ctx context.Context, sql string, args ...any) ([]model.Doctor, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	doctors := []model.Doctor{}
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return doctors, nil
}

func scanDoctor(row pgx.Row) (model.Doctor, error) {
	var d model.Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.ImageURL, &d.Bio, &d.Location, &d.Latitude, &d.Longitude,
		&d.AvailableHours, &d.City, &d.State, &d.Ratings, &d.Experience)
	return d, err
}
