package models

import (
	"time"

	"github.com/google/uuid"
)

// Folder is a per-vehicle administrative folder owned by a user.
// Only the vehicle fields matter to retrieval jobs.
type Folder struct {
	ID           uuid.UUID `db:"id"           json:"id"`
	UserID       uuid.UUID `db:"user_id"      json:"user_id"`
	Name         string    `db:"name"         json:"name"`
	Plate        string    `db:"plate"        json:"plate"`
	Registration string    `db:"registration" json:"registration"`
	Department   string    `db:"department"   json:"department"`
	CreatedAt    time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"   json:"updated_at"`
}

// UserContext identifies the caller on whose behalf a job runs.
type UserContext struct {
	UserID uuid.UUID
}

// Requester document types accepted by the certificate request flow.
const (
	DocumentTypeCI  = "CI"
	DocumentTypeRUT = "RUT"
)

// RequesterData is the identity of whoever requests an official certificate.
type RequesterData struct {
	FullName       string `json:"fullName"`
	DocumentType   string `json:"documentType"`
	DocumentNumber string `json:"documentNumber"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
}
