package model

// Doctor is a directory entry. Coordinates and rating are encoded as decimal
// strings, the way the numeric columns have always been served.
type Doctor struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Specialty      string   `json:"specialty"`
	ImageURL       string   `json:"imageUrl"`
	Bio            string   `json:"bio"`
	Location       string   `json:"location"`
	Latitude       float64  `json:"latitude,string"`
	Longitude      float64  `json:"longitude,string"`
	AvailableHours []string `json:"availableHours"`
	City           string   `json:"city"`
	State          string   `json:"state"`
	Ratings        float64  `json:"ratings,string"`
	Experience     int      `json:"experience"`

	// Distance in kilometres from the requester, set only by directory search.
	Distance *float64 `json:"distance,omitempty"`
}

func (d Doctor) Summary() DoctorSummary {
	return DoctorSummary{Name: d.Name, Specialty: d.Specialty, Location: d.Location}
}
