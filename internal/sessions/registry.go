package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vidfriends/streamgate/internal/models"
)

// Scope selects what the active-session cap is counted over.
type Scope string

const (
	// ScopeUser counts every active session a user holds, across modules.
	ScopeUser Scope = "user"
	// ScopeModule counts a user's active sessions for the requested module only.
	ScopeModule Scope = "module"
)

// Options configure the registry's policy.
type Options struct {
	MaxActive   int
	IdleTimeout time.Duration
	Scope       Scope
}

// Registry tracks streaming sessions and enforces the per-user concurrency cap.
// Every check-then-act sequence for a user runs under that user's lock.
type Registry struct {
	store  Store
	locker Locker
	opts   Options
	now    func() time.Time
}

// NewRegistry constructs a Registry. A nil locker falls back to an in-process KeyedMutex.
func NewRegistry(store Store, locker Locker, opts Options) *Registry {
	if store == nil {
		panic("sessions: store must not be nil")
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if opts.MaxActive < 1 {
		opts.MaxActive = 1
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 2 * time.Minute
	}
	if opts.Scope == "" {
		opts.Scope = ScopeUser
	}
	return &Registry{store: store, locker: locker, opts: opts, now: time.Now}
}

// WithNowFunc allows tests to override the time source.
func (r *Registry) WithNowFunc(now func() time.Time) *Registry {
	r.now = now
	return r
}

// CanStartSession expires the user's idle sessions and reports whether another
// session for moduleID would fit under the cap. It is advisory: StartSession
// re-checks under the same lock.
func (r *Registry) CanStartSession(ctx context.Context, userID, moduleID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, &models.ValidationError{Field: "userId", Message: "must not be empty"}
	}

	unlock, err := r.lockUser(ctx, userID)
	if err != nil {
		return false, err
	}
	defer unlock()

	active, err := r.sweepUserLocked(ctx, userID, r.now().UTC())
	if err != nil {
		return false, err
	}
	return r.countInScope(active, moduleID) < r.opts.MaxActive, nil
}

// StartSession records a new active session. Reusing an existing session id for
// the same user and module is a no-op. Returns ErrSessionLimit when the cap is reached.
func (r *Registry) StartSession(ctx context.Context, userID, moduleID, sessionID string) error {
	switch {
	case strings.TrimSpace(userID) == "":
		return &models.ValidationError{Field: "userId", Message: "must not be empty"}
	case strings.TrimSpace(moduleID) == "":
		return &models.ValidationError{Field: "moduleId", Message: "must not be empty"}
	case strings.TrimSpace(sessionID) == "":
		return &models.ValidationError{Field: "sessionId", Message: "must not be empty"}
	}

	unlock, err := r.lockUser(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := r.store.Find(ctx, sessionID)
	switch {
	case err == nil:
		if existing.UserID != userID || existing.ModuleID != moduleID {
			return ErrSessionConflict
		}
		return nil
	case !errors.Is(err, ErrSessionNotFound):
		return fmt.Errorf("find session %s: %w", sessionID, err)
	}

	now := r.now().UTC()
	active, err := r.sweepUserLocked(ctx, userID, now)
	if err != nil {
		return err
	}
	if r.countInScope(active, moduleID) >= r.opts.MaxActive {
		return ErrSessionLimit
	}

	err = r.store.Insert(ctx, models.StreamingSession{
		ID:              sessionID,
		UserID:          userID,
		ModuleID:        moduleID,
		State:           models.SessionActive,
		StartedAt:       now,
		LastHeartbeatAt: now,
	})
	if errors.Is(err, ErrSessionExists) {
		return ErrSessionConflict
	}
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sessionID, err)
	}
	return nil
}

// EndSession moves an active session to Ended. Unknown and already-terminal
// sessions succeed silently.
func (r *Registry) EndSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return &models.ValidationError{Field: "sessionId", Message: "must not be empty"}
	}

	err := r.store.Transition(ctx, sessionID, models.SessionEnded, r.now().UTC())
	if err == nil || errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionNotActive) {
		return nil
	}
	return fmt.Errorf("end session %s: %w", sessionID, err)
}

// Heartbeat defers idle expiry of an active session. A session already past its
// idle timeout is expired instead and ErrSessionNotActive is returned.
func (r *Registry) Heartbeat(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return &models.ValidationError{Field: "sessionId", Message: "must not be empty"}
	}

	session, err := r.store.Find(ctx, sessionID)
	if err != nil {
		return err
	}

	unlock, err := r.lockUser(ctx, session.UserID)
	if err != nil {
		return err
	}
	defer unlock()

	session, err = r.store.Find(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.State != models.SessionActive {
		return ErrSessionNotActive
	}

	now := r.now().UTC()
	if session.IdleSince(now, r.opts.IdleTimeout) {
		if err := r.store.Transition(ctx, sessionID, models.SessionExpired, now); err != nil && !errors.Is(err, ErrSessionNotActive) {
			return fmt.Errorf("expire session %s: %w", sessionID, err)
		}
		return ErrSessionNotActive
	}

	return r.store.Touch(ctx, sessionID, now)
}

// Lookup returns the session with the given id.
func (r *Registry) Lookup(ctx context.Context, sessionID string) (models.StreamingSession, error) {
	return r.store.Find(ctx, sessionID)
}

// SweepIdle expires idle sessions for every user and reports how many changed.
func (r *Registry) SweepIdle(ctx context.Context) (int, error) {
	now := r.now().UTC()
	return r.store.ExpireIdle(ctx, now.Add(-r.opts.IdleTimeout), now)
}

// Options returns the effective policy after defaults were applied.
func (r *Registry) Options() Options {
	return r.opts
}

func (r *Registry) lockUser(ctx context.Context, userID string) (func(), error) {
	unlock, err := r.locker.Lock(ctx, "user:"+userID)
	if err != nil {
		return nil, fmt.Errorf("lock sessions for %s: %w", userID, err)
	}
	return unlock, nil
}

// sweepUserLocked expires the user's idle sessions and returns the ones still active.
func (r *Registry) sweepUserLocked(ctx context.Context, userID string, now time.Time) ([]models.StreamingSession, error) {
	sessions, err := r.store.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list active sessions for %s: %w", userID, err)
	}

	live := sessions[:0]
	for _, session := range sessions {
		if !session.IdleSince(now, r.opts.IdleTimeout) {
			live = append(live, session)
			continue
		}
		err := r.store.Transition(ctx, session.ID, models.SessionExpired, now)
		if err != nil && !errors.Is(err, ErrSessionNotActive) && !errors.Is(err, ErrSessionNotFound) {
			return nil, fmt.Errorf("expire session %s: %w", session.ID, err)
		}
	}
	return live, nil
}

func (r *Registry) countInScope(active []models.StreamingSession, moduleID string) int {
	if r.opts.Scope != ScopeModule {
		return len(active)
	}
	count := 0
	for _, session := range active {
		if session.ModuleID == moduleID {
			count++
		}
	}
	return count
}
