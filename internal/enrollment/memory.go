package enrollment

import (
	"context"
	"sync"

	"github.com/vidfriends/streamgate/internal/models"
)

// MemoryCatalog implements Catalog for tests and local development.
type MemoryCatalog struct {
	mu          sync.RWMutex
	modules     map[string]models.CourseModule
	courses     map[string]models.Course
	enrollments map[string]models.Enrollment
}

// NewMemoryCatalog returns an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		modules:     make(map[string]models.CourseModule),
		courses:     make(map[string]models.Course),
		enrollments: make(map[string]models.Enrollment),
	}
}

// PutCourse stores or replaces a course.
func (c *MemoryCatalog) PutCourse(course models.Course) {
	c.mu.Lock()
	c.courses[course.ID] = course
	c.mu.Unlock()
}

// PutModule stores or replaces a module.
func (c *MemoryCatalog) PutModule(module models.CourseModule) {
	c.mu.Lock()
	c.modules[module.ID] = module
	c.mu.Unlock()
}

// PutEnrollment stores or replaces the enrollment for (UserID, CourseID).
func (c *MemoryCatalog) PutEnrollment(e models.Enrollment) {
	c.mu.Lock()
	c.enrollments[enrollmentKey(e.UserID, e.CourseID)] = e
	c.mu.Unlock()
}

func (c *MemoryCatalog) FindModule(_ context.Context, moduleID string) (models.CourseModule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	module, ok := c.modules[moduleID]
	if !ok {
		return models.CourseModule{}, ErrNotFound
	}
	return module, nil
}

func (c *MemoryCatalog) FindCourse(_ context.Context, courseID string) (models.Course, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	course, ok := c.courses[courseID]
	if !ok {
		return models.Course{}, ErrNotFound
	}
	return course, nil
}

func (c *MemoryCatalog) FindEnrollment(_ context.Context, userID, courseID string) (models.Enrollment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.enrollments[enrollmentKey(userID, courseID)]
	if !ok {
		return models.Enrollment{}, ErrNotFound
	}
	return e, nil
}

func enrollmentKey(userID, courseID string) string {
	return userID + "\x00" + courseID
}

var _ Catalog = (*MemoryCatalog)(nil)
