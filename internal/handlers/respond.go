package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vidfriends/streamgate/internal/access"
	"github.com/vidfriends/streamgate/internal/logging"
	"github.com/vidfriends/streamgate/internal/models"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
	}
}

// respondError maps an error from the access service onto a status code. Only
// validation messages are echoed back; everything else is generic.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logging.FromContext(ctx)

	switch access.Classify(err) {
	case access.KindValidation:
		var vErr *models.ValidationError
		message := "invalid request"
		if errors.As(err, &vErr) {
			message = vErr.Error()
		}
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: message})
	case access.KindNotFound:
		respondJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "not found"})
	case access.KindSessionLimit:
		respondJSON(ctx, w, http.StatusConflict, errorResponse{Error: "access denied", Reason: access.ReasonSessionLimit})
	case access.KindEntitlementDenied:
		respondJSON(ctx, w, http.StatusForbidden, errorResponse{Error: "access denied"})
	default:
		logger.Error("playback request failed", "error", err)
		respondJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "service temporarily unavailable"})
	}
}

// statusForDenial picks the status code for a denied decision.
func statusForDenial(d access.Decision) int {
	switch d.Kind() {
	case access.KindNotFound:
		return http.StatusNotFound
	case access.KindSessionLimit:
		return http.StatusConflict
	case access.KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &models.ValidationError{Field: "body", Message: describeDecodeError(err)}
	}
	if dec.More() {
		return &models.ValidationError{Field: "body", Message: "must contain a single JSON object"}
	}
	return nil
}

func describeDecodeError(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return "must not be empty"
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	case errors.As(err, &maxErr):
		return "too large"
	default:
		return "malformed JSON"
	}
}
