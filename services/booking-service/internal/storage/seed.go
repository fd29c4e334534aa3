package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
)

var (
	morningHours = []string{"09:00", "10:00", "11:00", "14:00", "15:00", "16:00"}
	earlyHours   = []string{"08:00", "09:00", "10:00", "14:00", "15:00", "16:00"}
	lateHours    = []string{"10:00", "11:00", "12:00", "15:00", "16:00", "17:00"}
)

func seedDoctor(name, specialty, city, state string, lat, lng float64, hours []string, experience int, rating float64, location, imageURL, bio string) model.Doctor {
	return model.Doctor{
		Name:           name,
		Specialty:      specialty,
		ImageURL:       imageURL,
		Bio:            bio,
		Location:       location,
		Latitude:       lat,
		Longitude:      lng,
		AvailableHours: hours,
		City:           city,
		State:          state,
		Ratings:        rating,
		Experience:     experience,
	}
}

// SeedDoctors is the initial doctor directory.
var SeedDoctors = []model.Doctor{
	seedDoctor("Dr. Priya Sharma", "Cardiologist", "Bangalore", "Karnataka", 12.8916, 77.5967, morningHours, 15, 4.8,
		"Fortis Hospital, Bannerghatta Road",
		"https://images.unsplash.com/photo-1559839734-2b71ea197ec2",
		"MBBS, MD (Cardiology) from AIIMS Delhi with 15 years of experience in treating cardiac conditions. Specializes in interventional cardiology."),
	seedDoctor("Dr. Rajesh Kumar", "Orthopedic Surgeon", "Chennai", "Tamil Nadu", 13.0569, 80.2425, earlyHours, 12, 4.7,
		"Apollo Hospitals, Greams Road",
		"https://images.unsplash.com/photo-1537368910025-700350fe46c7",
		"MBBS, MS (Ortho) from KEM Hospital Mumbai. 12 years of experience in joint replacement surgery and sports medicine."),
	seedDoctor("Dr. Anjali Desai", "Dermatologist", "Delhi", "Delhi", 28.5274, 77.2159, lateHours, 8, 4.9,
		"Max Hospital, Saket",
		"https://images.unsplash.com/photo-1594824476967-48c8b964273f",
		"MBBS, MD (Dermatology) from Manipal University. Expert in cosmetic dermatology and skin disorders with 8 years of experience."),
	seedDoctor("Dr. Vikram Reddy", "Neurologist", "Hyderabad", "Telangana", 17.4123, 78.5270, morningHours, 14, 4.8,
		"Care Hospitals",
		"https://images.unsplash.com/photo-1612349317150-e413f6a5b16d",
		"MBBS, DM (Neurology) from PGIMER Chandigarh. Expert in stroke management with 14 years of experience."),
	seedDoctor("Dr. Sarah Khan", "Gynecologist", "Kolkata", "West Bengal", 22.5726, 88.3639, earlyHours, 16, 4.9,
		"Medica Superspecialty Hospital",
		"https://images.unsplash.com/photo-1585842378054-ee2e52f94ba2",
		"MBBS, MD (Obstetrics & Gynecology) from King George's Medical University. Expert in high-risk pregnancies with 16 years of experience."),
	seedDoctor("Dr. Arun Mehta", "Cardiologist", "Ahmedabad", "Gujarat", 23.0225, 72.5714, morningHours, 20, 4.9,
		"Sterling Hospital",
		"https://images.unsplash.com/photo-1622253692010-333f2da6031d",
		"MBBS, DM (Cardiology) from GB Pant Hospital. Specializes in interventional cardiology with 20 years of experience."),
	seedDoctor("Dr. Neha Gupta", "Pediatrician", "Indore", "Madhya Pradesh", 22.7196, 75.8577, morningHours, 12, 4.8,
		"Shalby Hospital",
		"https://images.unsplash.com/photo-1623854767648-e7bb8009f0db",
		"MBBS, MD (Pediatrics) from AIIMS Delhi. Specialized in pediatric neurology with 12 years of experience."),
	seedDoctor("Dr. Ravi Verma", "Orthopedic Surgeon", "Jaipur", "Rajasthan", 26.9124, 75.7873, earlyHours, 18, 4.9,
		"Narayana Hospital",
		"https://images.unsplash.com/photo-1612531386530-97286d97c2d2",
		"MBBS, MS (Ortho) from SMS Medical College. Expert in joint replacement and sports injuries with 18 years of experience."),
	seedDoctor("Dr. Maya Patel", "Dermatologist", "Pune", "Maharashtra", 18.5204, 73.8567, lateHours, 10, 4.8,
		"Sahyadri Hospital",
		"https://images.unsplash.com/photo-1651008376811-b90baee60c1f",
		"MBBS, MD (Dermatology) from GMC Nagpur. Specializes in cosmetic dermatology with 10 years of experience."),
	seedDoctor("Dr. Sanjay Kapoor", "Neurologist", "Bhubaneswar", "Odisha", 20.2961, 85.8245, morningHours, 22, 4.9,
		"KIMS Hospital",
		"https://images.unsplash.com/photo-1618498082410-b4aa22193b38",
		"MBBS, DM (Neurology) from SGPGI Lucknow. Expert in neuro-rehabilitation with 22 years of experience."),
	seedDoctor("Dr. Rakesh Kumar", "Gastroenterologist", "Lucknow", "Uttar Pradesh", 26.8467, 80.9462, morningHours, 15, 4.8,
		"Sahara Hospital",
		"https://images.unsplash.com/photo-1637059824899-a441006a6875",
		"MBBS, DM (Gastroenterology) from KGMU Lucknow. Specialized in advanced endoscopy and liver diseases with 15 years of experience."),
}

// SeedIfEmpty inserts doctors when the directory is empty and reports how
// many rows were written. The table lock makes concurrent starts safe.
func (r *DoctorRepository) SeedIfEmpty(ctx context.Context, doctors []model.Doctor) (int, error) {
	inserted := 0
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE doctors IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM doctors`).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, d := range doctors {
			batch.Queue(`
				INSERT INTO doctors (name, specialty, image_url, bio, location, latitude, longitude,
					available_hours, city, state, ratings, experience)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			`, d.Name, d.Specialty, d.ImageURL, d.Bio, d.Location, d.Latitude, d.Longitude,
				d.AvailableHours, d.City, d.State, d.Ratings, d.Experience)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		inserted = len(doctors)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if inserted > 0 {
		if err := r.cache.Flush(ctx); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}
