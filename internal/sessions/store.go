package sessions

import (
	"context"
	"time"

	"github.com/vidfriends/streamgate/internal/models"
)

// Store persists streaming sessions. Implementations must make Transition and
// Touch conditional on the session being active so terminal states never revert.
type Store interface {
	// Insert adds a new session, returning ErrSessionExists for a duplicate id.
	Insert(ctx context.Context, session models.StreamingSession) error
	// Find loads a session by id, returning ErrSessionNotFound when absent.
	Find(ctx context.Context, sessionID string) (models.StreamingSession, error)
	// ListActive returns the user's sessions currently in the active state.
	ListActive(ctx context.Context, userID string) ([]models.StreamingSession, error)
	// Transition moves an active session into a terminal state.
	Transition(ctx context.Context, sessionID string, to models.SessionState, at time.Time) error
	// Touch refreshes the heartbeat of an active session.
	Touch(ctx context.Context, sessionID string, at time.Time) error
	// ExpireIdle expires every active session whose last heartbeat is before cutoff.
	ExpireIdle(ctx context.Context, cutoff, at time.Time) (int, error)
}
