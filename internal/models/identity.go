package models

import "time"

// Identity is the externally owned user record. The pipeline only reads
// and writes ProfileID; the remaining fields are returned on a match.
type Identity struct {
	ID        string    `json:"id" db:"id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Email     string    `json:"email" db:"email"`
	ProfileID *int      `json:"profile_id,omitempty" db:"profile_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
