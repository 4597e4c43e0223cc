// Package domain holds the core types shared by detectors, the store and
// the monitor orchestrator.
package domain

import "time"

// Severity classifies how urgent an event is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Detector codes. Security detectors consume auth-log lines, health
// detectors consume periodic samples.
const (
	CodeSSHBruteForce    = "SEC-01"
	CodeSSHSuccessAfter  = "SEC-02"
	CodeSudoActivity     = "SEC-03"
	CodeNewListener      = "SEC-04"
	CodeFileIntegrity    = "SEC-05"
	CodeTempWarning      = "HEA-01"
	CodeTempCritical     = "HEA-02"
	CodeDiskUsage        = "HEA-03"
	CodeServiceHealth    = "HEA-04"
	CodeMemoryPressure   = "HEA-05"
)

// Event is an immutable, append-only classification result. IDs are
// assigned by the store and strictly increasing.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"ts"`
	Code      string    `json:"code"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Entity    string    `json:"entity"`
	Details   string    `json:"details,omitempty"`
}

// Finding is a detector's output before it is persisted. Details is an
// opaque detector-specific payload, serialized to JSON by the caller that
// stores it.
type Finding struct {
	Code     string
	Severity Severity
	Entity   string
	Message  string
	Details  map[string]any
}

// Downgrade lowers a severity by one step (CRITICAL -> WARNING -> INFO).
func (s Severity) Downgrade() Severity {
	switch s {
	case SeverityCritical:
		return SeverityWarning
	case SeverityWarning:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// FirstSeenRecord is a row in the dedup ledger.
type FirstSeenRecord struct {
	Key     string    `json:"key"`
	FirstTS time.Time `json:"first_ts"`
	LastTS  time.Time `json:"last_ts"`
	Count   int64     `json:"count"`
}
