package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vidfriends/streamgate/internal/models"
)

// ErrNotFound indicates a module, course, or enrollment record does not exist.
var ErrNotFound = errors.New("enrollment: record not found")

// Status is the outcome of an entitlement check. Non-active values double as
// denial reason codes.
type Status string

const (
	StatusActive         Status = "active"
	StatusExpired        Status = "expired"
	StatusInactive       Status = "inactive"
	StatusNotEnrolled    Status = "not_enrolled"
	StatusCourseInactive Status = "course_inactive"
	StatusModuleInactive Status = "module_inactive"
	StatusNotFound       Status = "not_found"
)

// Catalog is the read-only view of course state owned by course management.
// Lookups for absent records return ErrNotFound.
type Catalog interface {
	FindModule(ctx context.Context, moduleID string) (models.CourseModule, error)
	FindCourse(ctx context.Context, courseID string) (models.Course, error)
	FindEnrollment(ctx context.Context, userID, courseID string) (models.Enrollment, error)
}

// Result carries the status along with the records consulted to reach it.
// Module and Enrollment are populated as far as the checks progressed.
type Result struct {
	Status     Status
	Module     models.CourseModule
	Enrollment models.Enrollment
}

// Active reports whether the user may stream the module right now.
func (r Result) Active() bool {
	return r.Status == StatusActive
}

// Gate answers whether a user is currently entitled to a module's course content.
type Gate struct {
	catalog Catalog
	now     func() time.Time
}

// NewGate constructs a Gate over the provided catalog.
func NewGate(catalog Catalog) *Gate {
	if catalog == nil {
		panic("enrollment: catalog must not be nil")
	}
	return &Gate{catalog: catalog, now: time.Now}
}

// WithNowFunc allows tests to override the time source.
func (g *Gate) WithNowFunc(now func() time.Time) *Gate {
	g.now = now
	return g
}

// CheckEnrollment runs the entitlement checks in a fixed order and reports the
// first one that fails: module exists, module active, course active, enrollment
// exists, enrollment unexpired, enrollment active. Catalog faults other than
// ErrNotFound are returned as errors.
func (g *Gate) CheckEnrollment(ctx context.Context, userID, moduleID string) (Result, error) {
	module, err := g.catalog.FindModule(ctx, moduleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{Status: StatusNotFound}, nil
		}
		return Result{}, fmt.Errorf("find module %s: %w", moduleID, err)
	}

	res := Result{Module: module}
	if !module.IsActive {
		res.Status = StatusModuleInactive
		return res, nil
	}

	course, err := g.catalog.FindCourse(ctx, module.CourseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			res.Status = StatusNotFound
			return res, nil
		}
		return Result{}, fmt.Errorf("find course %s: %w", module.CourseID, err)
	}
	if !course.IsActive {
		res.Status = StatusCourseInactive
		return res, nil
	}

	enrollment, err := g.catalog.FindEnrollment(ctx, userID, module.CourseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			res.Status = StatusNotEnrolled
			return res, nil
		}
		return Result{}, fmt.Errorf("find enrollment %s/%s: %w", userID, module.CourseID, err)
	}
	res.Enrollment = enrollment

	switch {
	case !g.now().Before(enrollment.ExpiresAt):
		res.Status = StatusExpired
	case !enrollment.IsActive:
		res.Status = StatusInactive
	default:
		res.Status = StatusActive
	}
	return res, nil
}
