package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/vidfriends/streamgate/internal/access"
	"github.com/vidfriends/streamgate/internal/auth"
	"github.com/vidfriends/streamgate/internal/logging"
	"github.com/vidfriends/streamgate/internal/middleware"
)

// PlaybackHandler exposes the playback service over HTTP. Every route expects
// an identity placed on the context by middleware.Authenticate.
type PlaybackHandler struct {
	Playback PlaybackService
}

type accessRequest struct {
	ModuleID   string `json:"moduleId"`
	TTLMinutes int    `json:"ttlMinutes"`
}

type accessResponse struct {
	Granted       bool       `json:"granted"`
	StreamingURL  string     `json:"streamingUrl,omitempty"`
	SessionID     string     `json:"sessionId,omitempty"`
	URLExpiresAt  *time.Time `json:"urlExpiresAt,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	DaysRemaining int        `json:"daysRemaining,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type validateResponse struct {
	HasAccess     bool   `json:"hasAccess"`
	Reason        string `json:"reason"`
	DaysRemaining int    `json:"daysRemaining"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// RequestAccess handles POST /api/v1/playback/access.
func (h PlaybackHandler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var body accessRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(ctx, w, err)
		return
	}

	decision, err := h.Playback.RequestVideoAccess(ctx, h.accessRequest(r, identity, body.ModuleID), body.TTLMinutes)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	if !decision.Granted() {
		respondJSON(ctx, w, statusForDenial(decision), accessResponse{Reason: decision.Reason, Error: "access denied"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, accessResponse{
		Granted:       true,
		StreamingURL:  decision.StreamingURL,
		SessionID:     decision.SessionID,
		URLExpiresAt:  timePtr(decision.URLExpiresAt),
		ExpiresAt:     timePtr(decision.ExpiresAt),
		DaysRemaining: decision.DaysRemaining,
	})
}

// ValidateAccess handles GET /api/v1/playback/access/validate?moduleId=.
func (h PlaybackHandler) ValidateAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	decision, err := h.Playback.ValidateAccess(ctx, h.accessRequest(r, identity, r.URL.Query().Get("moduleId")))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, validateResponse{
		HasAccess:     decision.Granted(),
		Reason:        decision.Reason,
		DaysRemaining: decision.DaysRemaining,
	})
}

// SessionAvailability handles GET /api/v1/playback/sessions/available?moduleId=.
func (h PlaybackHandler) SessionAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	available, err := h.Playback.CanStartSession(ctx, identity.UserID, strings.TrimSpace(r.URL.Query().Get("moduleId")))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, availabilityResponse{Available: available})
}

// EndSession handles POST /api/v1/playback/sessions/end.
func (h PlaybackHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var body sessionRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(ctx, w, err)
		return
	}

	if err := h.Playback.EndVideoSession(ctx, identity.UserID, strings.TrimSpace(body.SessionID)); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

// Heartbeat handles POST /api/v1/playback/sessions/heartbeat.
func (h PlaybackHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var body sessionRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(ctx, w, err)
		return
	}

	if err := h.Playback.Heartbeat(ctx, identity.UserID, strings.TrimSpace(body.SessionID)); err != nil {
		respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h PlaybackHandler) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	ctx := r.Context()
	if h.Playback == nil {
		logging.FromContext(ctx).Error("playback service unavailable")
		respondJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "service temporarily unavailable"})
		return auth.Identity{}, false
	}

	identity, err := auth.IdentityFromContext(ctx)
	if err != nil {
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return auth.Identity{}, false
	}
	return identity, true
}

func (h PlaybackHandler) accessRequest(r *http.Request, identity auth.Identity, moduleID string) access.Request {
	return access.Request{
		UserID:    identity.UserID,
		ModuleID:  strings.TrimSpace(moduleID),
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

var _ PlaybackService = (*access.Service)(nil)
