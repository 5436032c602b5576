package automation

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

// Endpoint names exposed by the automation service, one per job type.
const (
	EndpointInfractions         = "infracciones"
	EndpointDebt                = "deuda"
	EndpointRegistrationStatus  = "matricula"
	EndpointPaymentAgreement    = "convenio"
	EndpointCertificateRequest  = "solicitar-certificado"
	EndpointCertificateIssuance = "certificado-sucive"
)

// VehicleData identifies the vehicle in a request. Only the plate is always required.
type VehicleData struct {
	Plate        string `json:"matricula"`
	Registration string `json:"padron,omitempty"`
	Department   string `json:"departamento,omitempty"`
}

// Request is the envelope sent to every automation endpoint.
type Request struct {
	UserID        string                `json:"userId"`
	VehicleData   VehicleData           `json:"vehicleData"`
	RequestNumber string                `json:"requestNumber,omitempty"`
	RequesterData *models.RequesterData `json:"requesterData,omitempty"`

	// JobID is sent as X-Request-ID for correlation; it is not part of the body.
	JobID uuid.UUID `json:"-"`
}

// Response is the decoded envelope returned by the automation service.
// Success=false is a domain-level failure reported by a service that did run.
type Response struct {
	Data         json.RawMessage
	ImageURLs    []string
	DocumentURLs []string
	VideoURLs    []string
	Logs         []models.LogEntry
	Success      bool
	Error        string
}

// --- wire types ---

type wireResponse struct {
	Data         json.RawMessage `json:"data"`
	ImageURLs    []string        `json:"imageUrls"`
	DocumentURLs []string        `json:"documentUrls"`
	VideoURLs    []string        `json:"videoUrls"`
	Logs         []wireLog       `json:"logs"`
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	Message      string          `json:"message,omitempty"`
}

type wireLog struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (w wireResponse) toResponse() *Response {
	return &Response{
		Data:         w.Data,
		ImageURLs:    w.ImageURLs,
		DocumentURLs: w.DocumentURLs,
		VideoURLs:    w.VideoURLs,
		Logs:         convertLogs(w.Logs),
		Success:      w.Success,
		Error:        w.errorMessage(),
	}
}

// hasData reports whether the data field was present and not null.
func (w wireResponse) hasData() bool {
	d := bytes.TrimSpace(w.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

func (w wireResponse) errorMessage() string {
	if w.Error != "" {
		return w.Error
	}
	return w.Message
}

func convertLogs(in []wireLog) []models.LogEntry {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.LogEntry, 0, len(in))
	for _, l := range in {
		data := l.Data
		if string(data) == "null" {
			data = nil
		}
		out = append(out, models.LogEntry{
			Timestamp: parseTimestamp(l.Timestamp),
			Level:     normalizeLevel(l.Level),
			Message:   l.Message,
			Data:      data,
			Origin:    models.LogOriginExternalService,
		})
	}
	return out
}

// parseTimestamp accepts unix milliseconds (number or numeric string) or RFC3339.
// Unparseable values become 0 rather than being rewritten with a local time.
func parseTimestamp(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli()
	}
	return 0
}

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "warn", "warning":
		return models.LogLevelWarn
	case "error", "fatal":
		return models.LogLevelError
	default:
		return models.LogLevelInfo
	}
}
