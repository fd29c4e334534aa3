package model

import "time"

const RolePatient = "patient"

type User struct {
	ID           int64     `json:"id"`
	Username     *string   `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}
