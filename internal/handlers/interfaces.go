package handlers

import (
	"context"

	"github.com/vidfriends/streamgate/internal/access"
)

// PlaybackService is satisfied by *access.Service.
type PlaybackService interface {
	RequestVideoAccess(ctx context.Context, req access.Request, ttlMinutes int) (access.Decision, error)
	ValidateAccess(ctx context.Context, req access.Request) (access.Decision, error)
	CanStartSession(ctx context.Context, userID, moduleID string) (bool, error)
	EndVideoSession(ctx context.Context, userID, sessionID string) error
	Heartbeat(ctx context.Context, userID, sessionID string) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
