package domain

// ClockLayout renders timestamps as local time of day.
const ClockLayout = "3:04:05 PM"

// Severity 控制台日志级别
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySystem  Severity = "system"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError, SeveritySystem:
		return true
	}
	return false
}

// LogEntry is one console line streamed to observers.
type LogEntry struct {
	Message   string   `json:"message"`
	Severity  Severity `json:"messageType"`
	Timestamp string   `json:"timestamp"`
}

// Event is a human-readable notification of a status-affecting change.
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}
