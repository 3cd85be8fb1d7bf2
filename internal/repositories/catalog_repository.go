package repositories

import (
	"context"
	"fmt"

	"github.com/vidfriends/streamgate/internal/db"
	"github.com/vidfriends/streamgate/internal/enrollment"
	"github.com/vidfriends/streamgate/internal/models"
)

// PostgresCatalog reads course, module, and enrollment state owned by the
// course management system. It never writes.
type PostgresCatalog struct {
	pool db.Pool
}

// NewPostgresCatalog constructs a catalog backed by PostgreSQL.
func NewPostgresCatalog(pool db.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

// FindModule loads a course module by id.
func (r *PostgresCatalog) FindModule(ctx context.Context, moduleID string) (models.CourseModule, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.CourseModule{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, course_id, title, video_key, duration_seconds, is_active
        FROM course_modules
        WHERE id = $1
    `, moduleID)

	var module models.CourseModule
	if err := row.Scan(&module.ID, &module.CourseID, &module.Title, &module.VideoKey, &module.DurationSeconds, &module.IsActive); err != nil {
		if isNoRows(err) {
			return models.CourseModule{}, enrollment.ErrNotFound
		}
		return models.CourseModule{}, fmt.Errorf("select module: %w", err)
	}
	return module, nil
}

// FindCourse loads a course by id.
func (r *PostgresCatalog) FindCourse(ctx context.Context, courseID string) (models.Course, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Course{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, title, is_active
        FROM courses
        WHERE id = $1
    `, courseID)

	var course models.Course
	if err := row.Scan(&course.ID, &course.Title, &course.IsActive); err != nil {
		if isNoRows(err) {
			return models.Course{}, enrollment.ErrNotFound
		}
		return models.Course{}, fmt.Errorf("select course: %w", err)
	}
	return course, nil
}

// FindEnrollment loads the user's enrollment in a course.
func (r *PostgresCatalog) FindEnrollment(ctx context.Context, userID, courseID string) (models.Enrollment, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Enrollment{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT user_id, course_id, enrolled_at, expires_at, is_active, progress_percent
        FROM enrollments
        WHERE user_id = $1 AND course_id = $2
    `, userID, courseID)

	var e models.Enrollment
	if err := row.Scan(&e.UserID, &e.CourseID, &e.EnrolledAt, &e.ExpiresAt, &e.IsActive, &e.ProgressPercent); err != nil {
		if isNoRows(err) {
			return models.Enrollment{}, enrollment.ErrNotFound
		}
		return models.Enrollment{}, fmt.Errorf("select enrollment: %w", err)
	}
	e.EnrolledAt = e.EnrolledAt.UTC()
	e.ExpiresAt = e.ExpiresAt.UTC()
	return e, nil
}

var _ enrollment.Catalog = (*PostgresCatalog)(nil)
