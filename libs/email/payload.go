package email

import (
	"errors"
	"fmt"
	"time"
)

// Fields flattens d into the JSON-friendly form stored with reminder jobs.
func (d Details) Fields() map[string]any {
	return map[string]any{
		"patient_name":   d.PatientName,
		"doctor_name":    d.DoctorName,
		"specialty":      d.Specialty,
		"location":       d.Location,
		"appointment_at": d.Date.UTC().Format(time.RFC3339),
	}
}

// DetailsFromFields is the inverse of Details.Fields.
func DetailsFromFields(fields map[string]any) (Details, error) {
	str := func(key string) string {
		v, _ := fields[key].(string)
		return v
	}
	raw := str("appointment_at")
	if raw == "" {
		return Details{}, errors.New("appointment_at missing")
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return Details{}, fmt.Errorf("appointment_at: %w", err)
	}
	return Details{
		PatientName: str("patient_name"),
		DoctorName:  str("doctor_name"),
		Specialty:   str("specialty"),
		Location:    str("location"),
		Date:        at,
	}, nil
}
