package models

import "encoding/json"

// Log levels for execution log entries.
const (
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogOrigin tells whether an entry was written locally or reported by the automation service.
type LogOrigin string

const (
	LogOriginOrchestrator    LogOrigin = "orchestrator"
	LogOriginExternalService LogOrigin = "external_service"
)

// LogEntry is one immutable line of a job's execution log.
type LogEntry struct {
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Origin    LogOrigin       `json:"origin"`
}
