package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler(t *testing.T) {
	cases := []struct {
		name   string
		db     Pinger
		method string
		want   int
	}{
		{name: "ok", db: pingerStub{}, method: http.MethodGet, want: http.StatusOK},
		{name: "no db", method: http.MethodGet, want: http.StatusOK},
		{name: "db down", db: pingerStub{err: errors.New("refused")}, method: http.MethodGet, want: http.StatusServiceUnavailable},
		{name: "wrong method", db: pingerStub{}, method: http.MethodPost, want: http.StatusMethodNotAllowed},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		HealthHandler{DB: tc.db}.Handle(rec, httptest.NewRequest(tc.method, "/healthz", nil))
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}
