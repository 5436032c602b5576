package retrieval

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid retrieval parameters")

	ErrUnknownJobType     = errors.New("unknown job type")
	ErrFolderNotFound     = errors.New("folder not found")
	ErrMissingVehicleData = errors.New("folder has no vehicle plate")
	ErrJobNotFound        = errors.New("retrieval job not found")

	// ErrDomainFailure is matched by every *DomainFailure.
	ErrDomainFailure = errors.New("automation service reported failure")

	// ErrPanic marks a run that panicked and was recovered into a failed job.
	ErrPanic = errors.New("retrieval panicked")
)

// ValidationError reports a malformed or missing request parameter.
// It is returned before any job record exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DomainFailure means the automation service ran but answered success=false.
type DomainFailure struct {
	JobType models.JobType
	Detail  string
}

func (e *DomainFailure) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.JobType, ErrDomainFailure)
	}
	return fmt.Sprintf("%s: %v: %s", e.JobType, ErrDomainFailure, e.Detail)
}

func (e *DomainFailure) Unwrap() error { return ErrDomainFailure }
