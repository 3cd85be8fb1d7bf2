package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/vidfriends/streamgate/internal/logging"
	"github.com/vidfriends/streamgate/internal/models"
	"github.com/vidfriends/streamgate/internal/sessions"
	"github.com/vidfriends/streamgate/internal/storage"
)

// SessionRegistry is satisfied by *sessions.Registry.
type SessionRegistry interface {
	CanStartSession(ctx context.Context, userID, moduleID string) (bool, error)
	StartSession(ctx context.Context, userID, moduleID, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
	Heartbeat(ctx context.Context, sessionID string) error
	Lookup(ctx context.Context, sessionID string) (models.StreamingSession, error)
}

// URLIssuer is satisfied by *storage.URLIssuer.
type URLIssuer interface {
	IssueURL(ctx context.Context, videoKey, userID string, ttlMinutes int) (models.IssuedCapability, error)
}

// Service exposes the playback operations consumed by the transport layer.
type Service struct {
	evaluator *Evaluator
	sessions  SessionRegistry
	issuer    URLIssuer
	newID     func() string
}

// NewService wires the evaluator to session reservation and URL issuance.
func NewService(evaluator *Evaluator, registry SessionRegistry, issuer URLIssuer) *Service {
	if evaluator == nil || registry == nil || issuer == nil {
		panic("access: evaluator, session registry and url issuer are required")
	}
	return &Service{
		evaluator: evaluator,
		sessions:  registry,
		issuer:    issuer,
		newID:     uuid.NewString,
	}
}

// RequestVideoAccess evaluates entitlement and, on a grant, reserves a viewer
// slot and mints a streaming URL valid for ttlMinutes.
func (s *Service) RequestVideoAccess(ctx context.Context, req Request, ttlMinutes int) (decision Decision, err error) {
	ctx, span := logging.StartSpan(ctx, "access.request_video_access",
		slog.String("user_id", req.UserID),
		slog.String("module_id", req.ModuleID),
	)
	defer func() { span.End(err) }()

	if err := storage.ValidateTTL(ttlMinutes); err != nil {
		return Decision{}, err
	}

	decision, err = s.evaluator.Evaluate(ctx, req, s.reserveSession, s.mintURL(ttlMinutes))
	if err != nil {
		return Decision{}, err
	}
	if !decision.Granted() {
		logging.FromContext(ctx).Info("video access denied", slog.String("reason", decision.Reason))
	}
	return decision, nil
}

// ValidateAccess reports whether the user could stream the module right now
// without reserving a session or minting a URL.
func (s *Service) ValidateAccess(ctx context.Context, req Request) (decision Decision, err error) {
	ctx, span := logging.StartSpan(ctx, "access.validate_access",
		slog.String("user_id", req.UserID),
		slog.String("module_id", req.ModuleID),
	)
	defer func() { span.End(err) }()

	return s.evaluator.Evaluate(ctx, req)
}

// CanStartSession reports whether the user has a free viewer slot for the module.
func (s *Service) CanStartSession(ctx context.Context, userID, moduleID string) (ok bool, err error) {
	ctx, span := logging.StartSpan(ctx, "access.can_start_session",
		slog.String("user_id", userID),
		slog.String("module_id", moduleID),
	)
	defer func() { span.End(err) }()

	return s.sessions.CanStartSession(ctx, userID, moduleID)
}

// EndVideoSession releases the caller's session. Unknown sessions, sessions
// already ended, and sessions owned by someone else all succeed silently.
func (s *Service) EndVideoSession(ctx context.Context, userID, sessionID string) (err error) {
	ctx, span := logging.StartSpan(ctx, "access.end_video_session",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
	defer func() { span.End(err) }()

	if err := validateSessionCall(userID, sessionID); err != nil {
		return err
	}

	session, err := s.sessions.Lookup(ctx, sessionID)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if session.UserID != userID {
		logging.FromContext(ctx).Warn("end requested for foreign session")
		return nil
	}
	return s.sessions.EndSession(ctx, sessionID)
}

// Heartbeat keeps the caller's session alive. Another user's session is
// reported as not found.
func (s *Service) Heartbeat(ctx context.Context, userID, sessionID string) (err error) {
	ctx, span := logging.StartSpan(ctx, "access.heartbeat",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
	defer func() {
		if errors.Is(err, sessions.ErrSessionNotActive) || errors.Is(err, sessions.ErrSessionNotFound) {
			span.End(nil)
			return
		}
		span.End(err)
	}()

	if err := validateSessionCall(userID, sessionID); err != nil {
		return err
	}

	session, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return sessions.ErrSessionNotFound
	}
	return s.sessions.Heartbeat(ctx, sessionID)
}

func (s *Service) reserveSession(ctx context.Context, d *Decision) error {
	sessionID := s.newID()
	err := s.sessions.StartSession(ctx, d.UserID, d.ModuleID, sessionID)
	if errors.Is(err, sessions.ErrSessionLimit) {
		d.Deny(ReasonSessionLimit)
		return nil
	}
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	d.SessionID = sessionID
	return nil
}

func (s *Service) mintURL(ttlMinutes int) GrantStep {
	return func(ctx context.Context, d *Decision) error {
		capability, err := s.issuer.IssueURL(ctx, d.VideoKey, d.UserID, ttlMinutes)
		if err != nil {
			if d.SessionID != "" {
				if endErr := s.sessions.EndSession(context.WithoutCancel(ctx), d.SessionID); endErr != nil {
					logging.FromContext(ctx).Error("release session after issue failure",
						slog.String("session_id", d.SessionID),
						slog.Any("error", endErr),
					)
				}
			}
			return fmt.Errorf("issue url: %w", err)
		}
		d.StreamingURL = capability.URL
		d.URLExpiresAt = capability.ExpiresAt
		return nil
	}
}

func validateSessionCall(userID, sessionID string) error {
	if strings.TrimSpace(userID) == "" {
		return &models.ValidationError{Field: "userId", Message: "must not be empty"}
	}
	if strings.TrimSpace(sessionID) == "" {
		return &models.ValidationError{Field: "sessionId", Message: "must not be empty"}
	}
	return nil
}
