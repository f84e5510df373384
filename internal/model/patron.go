package model

import "time"

// Student is a record in the school's student directory. The library does
// not own these records, it only reads them when a student first borrows.
type Student struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email,omitempty"`
	Grade      string    `json:"grade,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// StudentProfile is the subset of a student record needed to register a patron.
type StudentProfile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// Patron is a library member, linked to a student by ExternalID.
type Patron struct {
	ID             int64     `json:"id"`
	ExternalID     string    `json:"external_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email,omitempty"`
	MembershipDate time.Time `json:"membership_date"`
	Status         string    `json:"status"`
}

// FullName returns "First Last".
func (p *Patron) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Patron statuses.
const (
	PatronStatusActive = "active"
)
