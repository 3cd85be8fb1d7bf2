package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vidfriends/streamgate/internal/models"
)

// MemoryStore implements Store for tests and single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.StreamingSession
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.StreamingSession)}
}

func (s *MemoryStore) Insert(_ context.Context, session models.StreamingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return ErrSessionExists
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryStore) Find(_ context.Context, sessionID string) (models.StreamingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return models.StreamingSession{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *MemoryStore) ListActive(_ context.Context, userID string) ([]models.StreamingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []models.StreamingSession
	for _, session := range s.sessions {
		if session.UserID == userID && session.State == models.SessionActive {
			active = append(active, session)
		}
	}
	return active, nil
}

func (s *MemoryStore) Transition(_ context.Context, sessionID string, to models.SessionState, at time.Time) error {
	if !to.Terminal() {
		return fmt.Errorf("sessions: cannot transition to %q", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if session.State != models.SessionActive {
		return ErrSessionNotActive
	}
	ended := at
	session.State = to
	session.EndedAt = &ended
	s.sessions[sessionID] = session
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if session.State != models.SessionActive {
		return ErrSessionNotActive
	}
	session.LastHeartbeatAt = at
	s.sessions[sessionID] = session
	return nil
}

func (s *MemoryStore) ExpireIdle(_ context.Context, cutoff, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for id, session := range s.sessions {
		if session.State != models.SessionActive || !session.LastHeartbeatAt.Before(cutoff) {
			continue
		}
		ended := at
		session.State = models.SessionExpired
		session.EndedAt = &ended
		s.sessions[id] = session
		expired++
	}
	return expired, nil
}

var _ Store = (*MemoryStore)(nil)
