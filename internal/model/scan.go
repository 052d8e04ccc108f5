package model

import "time"

// Scan status values.
const (
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
	ScanStatusStopped   = "stopped"
)

// Scan log severity levels.
const (
	ScanLogDebug = "debug"
	ScanLogInfo  = "info"
	ScanLogWarn  = "warn"
	ScanLogError = "error"
)

// Scan is one crawl attempt over a network. Created at scan start and
// mutated only by the orchestrator.
type Scan struct {
	ID           string     `json:"id"`
	NetworkID    string     `json:"network_id"`
	Status       string     `json:"status"`
	RootAddress  string     `json:"root_address"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DeviceCount  int        `json:"device_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ScanLog is one append-only log line tied to a scan.
type ScanLog struct {
	ID        int64     `json:"id"`
	ScanID    string    `json:"scan_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
