package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vidfriends/streamgate/internal/access"
	"github.com/vidfriends/streamgate/internal/auth"
	"github.com/vidfriends/streamgate/internal/models"
	"github.com/vidfriends/streamgate/internal/sessions"
)

var expiresAt = time.Date(2024, time.June, 3, 12, 0, 0, 0, time.UTC)

type playbackStub struct {
	decision  access.Decision
	err       error
	available bool

	lastRequest access.Request
	lastTTL     int
	lastUser    string
	lastSession string
}

func (s *playbackStub) RequestVideoAccess(ctx context.Context, req access.Request, ttlMinutes int) (access.Decision, error) {
	_ = ctx
	s.lastRequest = req
	s.lastTTL = ttlMinutes
	return s.decision, s.err
}

func (s *playbackStub) ValidateAccess(ctx context.Context, req access.Request) (access.Decision, error) {
	_ = ctx
	s.lastRequest = req
	return s.decision, s.err
}

func (s *playbackStub) CanStartSession(ctx context.Context, userID, moduleID string) (bool, error) {
	_ = ctx
	s.lastUser = userID
	return s.available, s.err
}

func (s *playbackStub) EndVideoSession(ctx context.Context, userID, sessionID string) error {
	_ = ctx
	s.lastUser = userID
	s.lastSession = sessionID
	return s.err
}

func (s *playbackStub) Heartbeat(ctx context.Context, userID, sessionID string) error {
	_ = ctx
	s.lastUser = userID
	s.lastSession = sessionID
	return s.err
}

type pingerStub struct{ err error }

func (p pingerStub) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, stub *playbackStub) (http.Handler, string) {
	t.Helper()
	tokens := auth.NewTokens("test-secret", "streamgate", time.Hour)
	token, _, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{DB: pingerStub{}, Playback: stub, Tokens: tokens})
	return mux, token
}

func doRequest(t *testing.T, handler http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "203.0.113.7:4000"
	req.Header.Set("User-Agent", "player/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequestAccessGranted(t *testing.T) {
	stub := &playbackStub{decision: access.Decision{
		Outcome:       access.OutcomeGranted,
		Reason:        access.ReasonGranted,
		StreamingURL:  "https://videos.example.com/mod-1",
		SessionID:     "session-1",
		ExpiresAt:     expiresAt,
		DaysRemaining: 2,
		URLExpiresAt:  expiresAt.Add(-47 * time.Hour),
	}}
	handler, token := newTestServer(t, stub)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/playback/access", token, accessRequest{ModuleID: " mod-1 ", TTLMinutes: 30})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp accessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Granted || resp.SessionID != "session-1" || resp.DaysRemaining != 2 || resp.StreamingURL == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if stub.lastRequest.UserID != "user-1" || stub.lastRequest.ModuleID != "mod-1" {
		t.Fatalf("identity not passed through: %+v", stub.lastRequest)
	}
	if stub.lastRequest.IPAddress != "203.0.113.7" || stub.lastRequest.UserAgent != "player/1.0" {
		t.Fatalf("client metadata not passed through: %+v", stub.lastRequest)
	}
	if stub.lastTTL != 30 {
		t.Fatalf("expected ttl 30, got %d", stub.lastTTL)
	}
}

func TestRequestAccessDenials(t *testing.T) {
	cases := []struct {
		reason string
		want   int
	}{
		{reason: "expired", want: http.StatusForbidden},
		{reason: access.ReasonRateLimited, want: http.StatusForbidden},
		{reason: access.ReasonSessionLimit, want: http.StatusConflict},
		{reason: "not_found", want: http.StatusNotFound},
		{reason: "not_enrolled", want: http.StatusNotFound},
		{reason: access.ReasonThrottleUnavailable, want: http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		stub := &playbackStub{decision: access.Decision{Outcome: access.OutcomeDenied, Reason: tc.reason}}
		handler, token := newTestServer(t, stub)

		rec := doRequest(t, handler, http.MethodPost, "/api/v1/playback/access", token, accessRequest{ModuleID: "mod-1", TTLMinutes: 10})
		if rec.Code != tc.want {
			t.Fatalf("reason %s: expected %d, got %d", tc.reason, tc.want, rec.Code)
		}
		var resp accessResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Granted || resp.Reason != tc.reason || resp.Error != "access denied" {
			t.Fatalf("reason %s: unexpected body %+v", tc.reason, resp)
		}
	}
}

func TestRequestAccessErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: &models.ValidationError{Field: "ttlMinutes", Message: "must be between 1 and 120"}, want: http.StatusBadRequest},
		{name: "infrastructure", err: errors.New("database down"), want: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		stub := &playbackStub{err: tc.err}
		handler, token := newTestServer(t, stub)

		rec := doRequest(t, handler, http.MethodPost, "/api/v1/playback/access", token, accessRequest{ModuleID: "mod-1", TTLMinutes: 500})
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
		if tc.name == "infrastructure" && strings.Contains(rec.Body.String(), "database") {
			t.Fatal("infrastructure details leaked to client")
		}
	}
}

func TestRequestAccessRejectsMalformedBody(t *testing.T) {
	handler, token := newTestServer(t, &playbackStub{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/playback/access", strings.NewReader(`{"moduleId":`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/playback/access", strings.NewReader(`{"moduleId":"m","userId":"someone-else"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestPlaybackRoutesRequireToken(t *testing.T) {
	handler, _ := newTestServer(t, &playbackStub{})
	for _, target := range []string{
		"/api/v1/playback/access",
		"/api/v1/playback/access/validate?moduleId=mod-1",
		"/api/v1/playback/sessions/available?moduleId=mod-1",
		"/api/v1/playback/sessions/end",
		"/api/v1/playback/sessions/heartbeat",
	} {
		rec := doRequest(t, handler, http.MethodPost, target, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", target, rec.Code)
		}
	}
}

func TestValidateAccess(t *testing.T) {
	stub := &playbackStub{decision: access.Decision{Outcome: access.OutcomeDenied, Reason: "expired"}}
	handler, token := newTestServer(t, stub)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/playback/access/validate?moduleId=mod-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp validateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.HasAccess || resp.Reason != "expired" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if stub.lastRequest.ModuleID != "mod-1" {
		t.Fatalf("module not forwarded: %+v", stub.lastRequest)
	}
}

func TestSessionAvailability(t *testing.T) {
	stub := &playbackStub{available: true}
	handler, token := newTestServer(t, stub)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/playback/sessions/available?moduleId=mod-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp availabilityResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Available || stub.lastUser != "user-1" {
		t.Fatalf("unexpected response %+v user=%s", resp, stub.lastUser)
	}
}

func TestEndSessionAndHeartbeat(t *testing.T) {
	stub := &playbackStub{}
	handler, token := newTestServer(t, stub)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/playback/sessions/end", token, sessionRequest{SessionID: "session-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d", rec.Code)
	}
	if stub.lastUser != "user-1" || stub.lastSession != "session-1" {
		t.Fatalf("unexpected call user=%s session=%s", stub.lastUser, stub.lastSession)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/playback/sessions/heartbeat", token, sessionRequest{SessionID: "session-1"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("heartbeat: expected 204, got %d", rec.Code)
	}

	stub.err = sessions.ErrSessionNotActive
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/playback/sessions/heartbeat", token, sessionRequest{SessionID: "session-1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expired heartbeat: expected 403, got %d", rec.Code)
	}

	stub.err = sessions.ErrSessionNotFound
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/playback/sessions/heartbeat", token, sessionRequest{SessionID: "other"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown heartbeat: expected 404, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, token := newTestServer(t, &playbackStub{})
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/playback/access", token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
