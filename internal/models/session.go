package models

// SessionStatus represents the status of a batch query session.
type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusError    SessionStatus = "error"
)

// BatchSession represents one bulk-query run over an uploaded spreadsheet.
type BatchSession struct {
	ID               string        `json:"id"`
	FileID           string        `json:"fileId,omitempty"`
	Service          string        `json:"service"`
	Status           SessionStatus `json:"status"`
	Progress         float64       `json:"progress"` // 0-100
	RowCount         int           `json:"rowCount"`
	OKCount          int           `json:"okCount"`
	ErrorCount       int           `json:"errorCount"`
	ProcessingTimeMs int64         `json:"processingTimeMs,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// NewBatchSession creates a BatchSession in pending status.
func NewBatchSession(id, fileID, service string) *BatchSession {
	return &BatchSession{
		ID:      id,
		FileID:  fileID,
		Service: service,
		Status:  SessionStatusPending,
	}
}
