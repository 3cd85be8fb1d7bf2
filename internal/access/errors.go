package access

import (
	"errors"

	"github.com/vidfriends/streamgate/internal/enrollment"
	"github.com/vidfriends/streamgate/internal/models"
	"github.com/vidfriends/streamgate/internal/sessions"
)

// Kind groups errors and denials by how callers should react to them.
type Kind string

const (
	KindNone              Kind = ""
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindEntitlementDenied Kind = "entitlement_denied"
	KindSessionLimit      Kind = "session_limit"
	KindInfrastructure    Kind = "infrastructure"
)

// Retryable reports whether the caller may retry with backoff.
func (k Kind) Retryable() bool {
	return k == KindInfrastructure
}

// Classify maps an error returned by this package to its Kind. Anything not
// recognised is an infrastructure fault.
func Classify(err error) Kind {
	var vErr *models.ValidationError
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &vErr):
		return KindValidation
	case errors.Is(err, enrollment.ErrNotFound), errors.Is(err, sessions.ErrSessionNotFound):
		return KindNotFound
	case errors.Is(err, sessions.ErrSessionLimit):
		return KindSessionLimit
	case errors.Is(err, sessions.ErrSessionNotActive), errors.Is(err, sessions.ErrSessionConflict):
		return KindEntitlementDenied
	default:
		return KindInfrastructure
	}
}
