package retrieval

import (
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

// Params are the caller-supplied inputs of one run. Which fields matter depends on the job type.
type Params struct {
	FolderID      uuid.UUID             `json:"folderId"`
	RequestNumber string                `json:"requestNumber,omitempty"`
	Requester     *models.RequesterData `json:"requesterData,omitempty"`
}

func requireFolder(p Params) error {
	if p.FolderID == uuid.Nil {
		return &ValidationError{Field: "folderId", Message: "is required"}
	}
	return nil
}

func requireRequester(p Params) error {
	if err := requireFolder(p); err != nil {
		return err
	}
	r := p.Requester
	if r == nil {
		return &ValidationError{Field: "requesterData", Message: "is required"}
	}

	required := []struct {
		field string
		value string
	}{
		{"requesterData.fullName", r.FullName},
		{"requesterData.documentType", r.DocumentType},
		{"requesterData.documentNumber", r.DocumentNumber},
		{"requesterData.email", r.Email},
		{"requesterData.phone", r.Phone},
		{"requesterData.address", r.Address},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.field, Message: "is required"}
		}
	}

	switch strings.TrimSpace(r.DocumentType) {
	case models.DocumentTypeCI, models.DocumentTypeRUT:
	default:
		return &ValidationError{Field: "requesterData.documentType", Message: "must be CI or RUT"}
	}
	if !strings.Contains(r.Email, "@") {
		return &ValidationError{Field: "requesterData.email", Message: "must be a valid email address"}
	}
	return nil
}

func requireRequestNumber(p Params) error {
	if err := requireFolder(p); err != nil {
		return err
	}
	if strings.TrimSpace(p.RequestNumber) == "" {
		return &ValidationError{Field: "requestNumber", Message: "is required"}
	}
	return nil
}
