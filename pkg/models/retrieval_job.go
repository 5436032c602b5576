// Package models contains shared data models used across the service.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the category of data a retrieval job fetches.
type JobType string

const (
	JobTypeInfractions         JobType = "infractions"
	JobTypeDebt                JobType = "debt"
	JobTypeRegistrationStatus  JobType = "registration_status"
	JobTypePaymentAgreement    JobType = "payment_agreement"
	JobTypeCertificateRequest  JobType = "certificate_request"
	JobTypeCertificateIssuance JobType = "certificate_issuance"
)

var allJobTypes = []JobType{
	JobTypeInfractions,
	JobTypeDebt,
	JobTypeRegistrationStatus,
	JobTypePaymentAgreement,
	JobTypeCertificateRequest,
	JobTypeCertificateIssuance,
}

// AllJobTypes returns every known job type in a stable order.
func AllJobTypes() []JobType {
	out := make([]JobType, len(allJobTypes))
	copy(out, allJobTypes)
	return out
}

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	for _, jt := range allJobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a retrieval job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// MediaRefs holds the URLs produced by a completed job.
type MediaRefs struct {
	Images    []string `json:"image_urls"`
	Documents []string `json:"document_urls"`
	Videos    []string `json:"video_urls"`
}

// Empty reports whether no media references are present.
func (m MediaRefs) Empty() bool {
	return len(m.Images) == 0 && len(m.Documents) == 0 && len(m.Videos) == 0
}

// Normalize replaces nil slices with empty ones so JSON renders [] instead of null.
func (m MediaRefs) Normalize() MediaRefs {
	return MediaRefs{
		Images:    nonNil(m.Images),
		Documents: nonNil(m.Documents),
		Videos:    nonNil(m.Videos),
	}
}

// RetrievalJob is one attempt to fetch one category of vehicle data for a folder.
// History is append-only: a new attempt is always a new record.
type RetrievalJob struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	FolderID     uuid.UUID       `db:"folder_id"     json:"folder_id"`
	UserID       uuid.UUID       `db:"user_id"       json:"user_id"`
	JobType      JobType         `db:"job_type"      json:"job_type"`
	Status       JobStatus       `db:"status"        json:"status"`
	Params       json.RawMessage `db:"params"        json:"params,omitempty"`
	ResultData   json.RawMessage `db:"result_data"   json:"data,omitempty"`
	Media        MediaRefs       `json:"media"`
	Logs         []LogEntry      `db:"logs"          json:"logs"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time      `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}

// Clone returns a deep copy that shares no slices with j.
func (j *RetrievalJob) Clone() *RetrievalJob {
	if j == nil {
		return nil
	}
	c := *j
	c.Params = cloneBytes(j.Params)
	c.ResultData = cloneBytes(j.ResultData)
	c.Media = MediaRefs{
		Images:    cloneStrings(j.Media.Images),
		Documents: cloneStrings(j.Media.Documents),
		Videos:    cloneStrings(j.Media.Videos),
	}
	if j.Logs != nil {
		c.Logs = make([]LogEntry, len(j.Logs))
		for i, e := range j.Logs {
			e.Data = cloneBytes(e.Data)
			c.Logs[i] = e
		}
	}
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		c.ErrorMessage = &msg
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// RetrievalJobView is the presentation projection returned to API consumers.
type RetrievalJobView struct {
	ID           uuid.UUID       `json:"id"`
	FolderID     uuid.UUID       `json:"folder_id"`
	JobType      JobType         `json:"job_type"`
	Status       JobStatus       `json:"status"`
	Data         json.RawMessage `json:"data"`
	ImageURLs    []string        `json:"image_urls"`
	DocumentURLs []string        `json:"document_urls"`
	VideoURLs    []string        `json:"video_urls"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// View projects the job into its presentation shape.
func (j *RetrievalJob) View() RetrievalJobView {
	media := j.Media.Normalize()
	data := j.ResultData
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return RetrievalJobView{
		ID:           j.ID,
		FolderID:     j.FolderID,
		JobType:      j.JobType,
		Status:       j.Status,
		Data:         data,
		ImageURLs:    media.Images,
		DocumentURLs: media.Documents,
		VideoURLs:    media.Videos,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
