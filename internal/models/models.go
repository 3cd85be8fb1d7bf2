package models

import (
	"fmt"
	"time"
)

// Course is the parent of a set of modules. Owned by the course management system.
type Course struct {
	ID       string
	Title    string
	IsActive bool
}

// CourseModule is a single playable unit of a course.
type CourseModule struct {
	ID              string
	CourseID        string
	Title           string
	VideoKey        string
	DurationSeconds int
	IsActive        bool
}

// Enrollment grants a user time-bounded access to a course's content.
type Enrollment struct {
	UserID          string
	CourseID        string
	EnrolledAt      time.Time
	ExpiresAt       time.Time
	IsActive        bool
	ProgressPercent int
}

// SessionState is the lifecycle state of a StreamingSession.
type SessionState string

const (
	SessionActive  SessionState = "active"
	SessionEnded   SessionState = "ended"
	SessionExpired SessionState = "expired"
)

// Terminal reports whether the state can no longer transition.
func (s SessionState) Terminal() bool {
	return s == SessionEnded || s == SessionExpired
}

// StreamingSession is a server-tracked claim on one concurrent viewer slot.
type StreamingSession struct {
	ID              string
	UserID          string
	ModuleID        string
	State           SessionState
	StartedAt       time.Time
	LastHeartbeatAt time.Time
	EndedAt         *time.Time
}

// IdleSince reports whether the session has not heartbeated for longer than timeout at now.
func (s StreamingSession) IdleSince(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastHeartbeatAt) > timeout
}

// AccessLogEntry records one grant/deny decision. Entries are never modified once written.
type AccessLogEntry struct {
	ID        string
	UserID    string
	ModuleID  string
	Timestamp time.Time
	Granted   bool
	Reason    string
	IPAddress string
	UserAgent string
}

// IssuedCapability is a time-limited URL for fetching one video object.
type IssuedCapability struct {
	URL       string
	VideoKey  string
	IssuedTo  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidationError reports a caller fault in the supplied input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
