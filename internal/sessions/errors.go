package sessions

import "errors"

var (
	// ErrSessionLimit indicates the user already holds the maximum number of active sessions.
	ErrSessionLimit = errors.New("sessions: concurrent session limit reached")
	// ErrSessionNotFound indicates no session exists for the supplied id.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrSessionNotActive indicates the session has already ended or expired.
	ErrSessionNotActive = errors.New("sessions: session not active")
	// ErrSessionExists is returned by stores when inserting a duplicate session id.
	ErrSessionExists = errors.New("sessions: session already exists")
	// ErrSessionConflict indicates a session id was reused for a different user or module.
	ErrSessionConflict = errors.New("sessions: session id belongs to another stream")
)
