package handlers

import (
	"net/http"

	"github.com/vidfriends/streamgate/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{DB: deps.DB}
	playback := PlaybackHandler{Playback: deps.Playback}

	protect := func(h http.HandlerFunc) http.Handler {
		return middleware.Throttle(deps.Limiter, "playback")(middleware.Authenticate(deps.Tokens)(h))
	}

	mux.HandleFunc("/healthz", health.Handle)
	mux.Handle("/api/v1/playback/access", protect(playback.RequestAccess))
	mux.Handle("/api/v1/playback/access/validate", protect(playback.ValidateAccess))
	mux.Handle("/api/v1/playback/sessions/available", protect(playback.SessionAvailability))
	mux.Handle("/api/v1/playback/sessions/end", protect(playback.EndSession))
	mux.Handle("/api/v1/playback/sessions/heartbeat", protect(playback.Heartbeat))
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	DB       Pinger
	Playback PlaybackService
	Tokens   middleware.TokenVerifier
	Limiter  middleware.RateLimiter
}
