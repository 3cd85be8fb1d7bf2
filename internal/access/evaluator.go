package access

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/vidfriends/streamgate/internal/audit"
	"github.com/vidfriends/streamgate/internal/enrollment"
	"github.com/vidfriends/streamgate/internal/logging"
	"github.com/vidfriends/streamgate/internal/models"
)

// Outcome is the discriminant of a Decision.
type Outcome string

const (
	OutcomeGranted Outcome = "granted"
	OutcomeDenied  Outcome = "denied"
)

// Reason codes beyond the enrollment statuses.
const (
	ReasonGranted             = "granted"
	ReasonRateLimited         = "rate_limited"
	ReasonSessionLimit        = "session_limit"
	ReasonThrottleUnavailable = "throttle_unavailable"
)

// auditWriteTimeout bounds the audit insert, which outlives the caller's context.
const auditWriteTimeout = 5 * time.Second

// Request identifies who is asking for what. Identity is supplied by the caller
// on every call.
type Request struct {
	UserID    string
	ModuleID  string
	IPAddress string
	UserAgent string
}

// Decision is the result of an access evaluation. Denials are values, not errors.
type Decision struct {
	Outcome       Outcome
	Reason        string
	UserID        string
	ModuleID      string
	CourseID      string
	VideoKey      string
	ExpiresAt     time.Time
	DaysRemaining int

	SessionID    string
	StreamingURL string
	URLExpiresAt time.Time
}

// Granted reports whether access was granted.
func (d Decision) Granted() bool {
	return d.Outcome == OutcomeGranted
}

// Deny turns the decision into a denial and drops any grant-only fields.
func (d *Decision) Deny(reason string) {
	d.Outcome = OutcomeDenied
	d.Reason = reason
	d.ExpiresAt = time.Time{}
	d.DaysRemaining = 0
	d.SessionID = ""
	d.StreamingURL = ""
	d.URLExpiresAt = time.Time{}
}

// Kind classifies a denial for transport mapping.
func (d Decision) Kind() Kind {
	if d.Granted() {
		return KindNone
	}
	switch d.Reason {
	case string(enrollment.StatusNotFound), string(enrollment.StatusNotEnrolled):
		return KindNotFound
	case ReasonSessionLimit:
		return KindSessionLimit
	case ReasonThrottleUnavailable:
		return KindInfrastructure
	default:
		return KindEntitlementDenied
	}
}

// GrantStep runs after the entitlement checks pass and before the decision is
// audited. A step may deny the decision; a returned error is a fault and
// aborts the evaluation without an audit entry.
type GrantStep func(ctx context.Context, d *Decision) error

// EntitlementChecker is satisfied by *enrollment.Gate.
type EntitlementChecker interface {
	CheckEnrollment(ctx context.Context, userID, moduleID string) (enrollment.Result, error)
}

// Policy holds the abuse throttling knobs.
type Policy struct {
	FailedAttemptThreshold int
	FailedAttemptWindow    time.Duration
	// FailClosedOnAuditError denies with throttle_unavailable when failures
	// cannot be counted. When false the throttle is skipped instead.
	FailClosedOnAuditError bool
}

// DefaultPolicy allows ten denials per trailing hour and fails closed.
func DefaultPolicy() Policy {
	return Policy{
		FailedAttemptThreshold: 10,
		FailedAttemptWindow:    time.Hour,
		FailClosedOnAuditError: true,
	}
}

// Evaluator combines the entitlement check, abuse throttle, and audit trail into
// a single decision.
type Evaluator struct {
	gate   EntitlementChecker
	log    audit.Log
	policy Policy
	now    func() time.Time
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(gate EntitlementChecker, log audit.Log, policy Policy) *Evaluator {
	if gate == nil || log == nil {
		panic("access: gate and audit log are required")
	}
	if policy.FailedAttemptWindow <= 0 {
		policy.FailedAttemptWindow = time.Hour
	}
	return &Evaluator{gate: gate, log: log, policy: policy, now: time.Now}
}

// WithNowFunc allows tests to override the time source.
func (e *Evaluator) WithNowFunc(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate decides whether req may stream. Exactly one audit entry is written
// for every decision returned, reflecting the outcome after all steps ran.
// Validation and infrastructure faults are returned as errors and not audited.
func (e *Evaluator) Evaluate(ctx context.Context, req Request, steps ...GrantStep) (Decision, error) {
	if err := validateRequest(req); err != nil {
		return Decision{}, err
	}

	decision, err := e.decide(ctx, req)
	if err != nil {
		return Decision{}, err
	}

	if decision.Granted() {
		for _, step := range steps {
			if err := step(ctx, &decision); err != nil {
				return Decision{}, err
			}
			if !decision.Granted() {
				break
			}
		}
	}

	e.record(ctx, req, decision)
	return decision, nil
}

func (e *Evaluator) decide(ctx context.Context, req Request) (Decision, error) {
	decision := Decision{UserID: req.UserID, ModuleID: req.ModuleID}

	result, err := e.gate.CheckEnrollment(ctx, req.UserID, req.ModuleID)
	if err != nil {
		return Decision{}, fmt.Errorf("check enrollment: %w", err)
	}
	decision.CourseID = result.Module.CourseID
	decision.VideoKey = result.Module.VideoKey
	if !result.Active() {
		decision.Deny(string(result.Status))
		return decision, nil
	}

	failures, err := e.log.CountFailedAttempts(ctx, req.UserID, e.policy.FailedAttemptWindow)
	switch {
	case err != nil && e.policy.FailClosedOnAuditError:
		logging.FromContext(ctx).Error("count failed attempts", slog.String("user_id", req.UserID), slog.Any("error", err))
		decision.Deny(ReasonThrottleUnavailable)
		return decision, nil
	case err != nil:
		logging.FromContext(ctx).Warn("count failed attempts, skipping throttle", slog.String("user_id", req.UserID), slog.Any("error", err))
	case failures > e.policy.FailedAttemptThreshold:
		decision.Deny(ReasonRateLimited)
		return decision, nil
	}

	decision.Outcome = OutcomeGranted
	decision.Reason = ReasonGranted
	decision.ExpiresAt = result.Enrollment.ExpiresAt
	decision.DaysRemaining = daysRemaining(result.Enrollment.ExpiresAt, e.now())
	return decision, nil
}

func (e *Evaluator) record(ctx context.Context, req Request, decision Decision) {
	entry := models.AccessLogEntry{
		UserID:    req.UserID,
		ModuleID:  req.ModuleID,
		Timestamp: e.now().UTC(),
		Granted:   decision.Granted(),
		Reason:    decision.Reason,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	}
	// A client hanging up must not keep its denials out of the throttle count.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := e.log.Record(writeCtx, entry); err != nil {
		logging.FromContext(ctx).Error("record access decision",
			slog.String("user_id", req.UserID),
			slog.String("module_id", req.ModuleID),
			slog.Bool("granted", entry.Granted),
			slog.Any("error", err),
		)
	}
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.UserID) == "" {
		return &models.ValidationError{Field: "userId", Message: "must not be empty"}
	}
	if strings.TrimSpace(req.ModuleID) == "" {
		return &models.ValidationError{Field: "moduleId", Message: "must not be empty"}
	}
	return nil
}

// daysRemaining rounds any partial day up.
func daysRemaining(expiresAt, now time.Time) int {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}
