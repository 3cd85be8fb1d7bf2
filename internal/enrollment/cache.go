package enrollment

import (
	"context"
	"sync"
	"time"

	"github.com/vidfriends/streamgate/internal/models"
)

type cacheEntry[T any] struct {
	value   T
	expires time.Time
}

// CachingCatalog wraps another Catalog with a TTL cache for module and course
// lookups. Enrollments are always read through so extensions and revocations
// apply immediately.
type CachingCatalog struct {
	base Catalog
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	modules map[string]cacheEntry[models.CourseModule]
	courses map[string]cacheEntry[models.Course]
}

// NewCachingCatalog returns a Catalog that caches module and course lookups for ttl.
func NewCachingCatalog(base Catalog, ttl time.Duration) *CachingCatalog {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachingCatalog{
		base:    base,
		ttl:     ttl,
		now:     time.Now,
		modules: make(map[string]cacheEntry[models.CourseModule]),
		courses: make(map[string]cacheEntry[models.Course]),
	}
}

// FindModule returns a cached module when fresh, otherwise delegates and stores the result.
func (c *CachingCatalog) FindModule(ctx context.Context, moduleID string) (models.CourseModule, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.modules[moduleID]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.value, nil
	}

	module, err := c.base.FindModule(ctx, moduleID)
	if err != nil {
		return models.CourseModule{}, err
	}

	c.mu.Lock()
	c.modules[moduleID] = cacheEntry[models.CourseModule]{value: module, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return module, nil
}

// FindCourse returns a cached course when fresh, otherwise delegates and stores the result.
func (c *CachingCatalog) FindCourse(ctx context.Context, courseID string) (models.Course, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.courses[courseID]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.value, nil
	}

	course, err := c.base.FindCourse(ctx, courseID)
	if err != nil {
		return models.Course{}, err
	}

	c.mu.Lock()
	c.courses[courseID] = cacheEntry[models.Course]{value: course, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return course, nil
}

// FindEnrollment always delegates to the underlying catalog.
func (c *CachingCatalog) FindEnrollment(ctx context.Context, userID, courseID string) (models.Enrollment, error) {
	return c.base.FindEnrollment(ctx, userID, courseID)
}

var _ Catalog = (*CachingCatalog)(nil)
