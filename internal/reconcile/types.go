package reconcile

import (
	"strings"
	"time"
)

// Session is one class meeting the operator is reconciling. A zero ID means
// no class is currently active.
type Session struct {
	ID         string `json:"classroom_id"`
	Name       string `json:"classroom,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Department string `json:"department,omitempty"`
	StartTime  string `json:"start_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
}

// Active reports whether s identifies a class session.
func (s Session) Active() bool {
	return strings.TrimSpace(s.ID) != ""
}

type Status string

const (
	StatusMatch    Status = "match"
	StatusMismatch Status = "mismatch"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Detection is the detector's answer for one image. Headcount is nil when the
// detector omitted the count.
type Detection struct {
	Headcount *int
	Boxes     int
	Artifact  string
}

// Result is the comparison of detected persons against scanned check-ins.
type Result struct {
	RunID      string    `json:"run_id"`
	SessionID  string    `json:"session_id"`
	Status     Status    `json:"status"`
	Scanned    int       `json:"scanned_count"`
	Detected   int       `json:"detected_count"`
	Difference int       `json:"difference"`
	Artifact   string    `json:"artifact,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Compare derives the match status and absolute difference of two counts.
func Compare(scanned, detected int) Result {
	diff := detected - scanned
	if diff < 0 {
		diff = -diff
	}
	status := StatusMatch
	if detected != scanned {
		status = StatusMismatch
	}
	return Result{
		Status:     status,
		Scanned:    scanned,
		Detected:   detected,
		Difference: diff,
	}
}

// Severity maps a result onto its display severity.
func (r Result) Severity() Severity {
	if r.Status == StatusMismatch {
		return SeverityError
	}
	return SeveritySuccess
}
