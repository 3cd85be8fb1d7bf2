package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vidfriends/streamgate/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(opts Options) (*Registry, *MemoryStore, *fakeClock) {
	store := NewMemoryStore()
	clock := newFakeClock()
	registry := NewRegistry(store, NewKeyedMutex(), opts).WithNowFunc(clock.Now)
	return registry, store, clock
}

func TestStartSessionEnforcesCap(t *testing.T) {
	registry, _, _ := newTestRegistry(Options{MaxActive: 1, IdleTimeout: time.Minute})
	ctx := context.Background()

	if err := registry.StartSession(ctx, "u1", "m1", "s1"); err != nil {
		t.Fatalf("start first session: %v", err)
	}
	if err := registry.StartSession(ctx, "u1", "m2", "s2"); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("expected ErrSessionLimit, got %v", err)
	}
	if err := registry.StartSession(ctx, "u2", "m1", "s3"); err != nil {
		t.Fatalf("other user should not be capped: %v", err)
	}
}

func TestStartSessionReusedIDIsIdempotent(t *testing.T) {
	registry, _, _ := newTestRegistry(Options{MaxActive: 1})
	ctx := context.Background()

	if err := registry.StartSession(ctx, "u1", "m1", "s1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := registry.StartSession(ctx, "u1", "m1", "s1"); err != nil {
		t.Fatalf("expected repeat start to succeed, got %v", err)
	}
	if err := registry.StartSession(ctx, "u2", "m1", "s1"); !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict for foreign reuse, got %v", err)
	}
}

func TestStartSessionRejectsEmptyInput(t *testing.T) {
	registry, _, _ := newTestRegistry(Options{})
	var vErr *models.ValidationError
	if err := registry.StartSession(context.Background(), "", "m1", "s1"); !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if vErr.Field != "userId" {
		t.Fatalf("unexpected field %q", vErr.Field)
	}
}

func TestModuleScopeCountsPerModule(t *testing.T) {
	registry, _, _ := newTestRegistry(Options{MaxActive: 1, Scope: ScopeModule})
	ctx := context.Background()

	if err := registry.StartSession(ctx, "u1", "m1", "s1"); err != nil {
		t.Fatalf("start m1: %v", err)
	}
	if err := registry.StartSession(ctx, "u1", "m2", "s2"); err != nil {
		t.Fatalf("module scope should allow a second module: %v", err)
	}
	if err := registry.StartSession(ctx, "u1", "m1", "s3"); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("expected ErrSessionLimit on same module, got %v", err)
	}
}

func TestCanStartSessionReflectsCap(t *testing.T) {
	registry, _, _ := newTestRegistry(Options{MaxActive: 2})
	ctx := context.Background()

	for i, id := range []string{"s1", "s2"} {
		ok, err := registry.CanStartSession(ctx, "u1", "m1")
		if err != nil {
			t.Fatalf("can start %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("expected capacity before session %d", i)
		}
		if err := registry.StartSession(ctx, "u1", "m1", id); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}

	ok, err := registry.CanStartSession(ctx, "u1", "m1")
	if err != nil {
		t.Fatalf("can start at cap: %v", err)
	}
	if ok {
		t.Fatal("expected no capacity at cap")
	}
}

func TestEndSessionFreesSlotAndIsIdempotent(t *testing.T) {
	registry, store, _ := newTestRegistry(Options{MaxActive: 1})
	ctx := context.Background()

	if err := registry.StartSession(ctx, "u1", "m1", "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := registry.EndSession(ctx, "s1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := registry.EndSession(ctx, "s1"); err != nil {
		t.Fatalf("second end should succeed, got %v", err)
	}
	if err := registry.EndSession(ctx, "missing"); err != nil {
		t.Fatalf("ending unknown session should succeed, got %v", err)
	}

	session, err := store.Find(ctx, "s1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if session.State != models.SessionEnded || session.EndedAt == nil {
		t.Fatalf("expected ended session with timestamp, got %+v", session)
	}

	if err := registry.StartSession(ctx, "u1", "m1", "s2"); err != nil {
		t.Fatalf("slot should be free after end: %v", err)
	}
}

func TestIdleSessionsAreSweptOnStart(t *testing.T) {
	registry, store, clock := newTestRegistry(Options{MaxActive: 1, IdleTimeout: time.Minute})
	ctx := context.Background()

	if err := registry.StartSession(ctx, "u1", "m1", "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(2 * time.Minute)

	if err := registry.StartSession(ctx, "u1", "m1", "s2"); err != nil {
		t.Fatalf("idle session should not hold the slot: %v", err)
	}
	session, _ := store.Find(ctx, "s1")
	if session.State != models.SessionExpired {
		t.Fatalf("expected s1 expired, got %s", session.State)
	}
}

func TestHeartbeatKeepsSessionAlive(t *testing.T) {
	registry, _, clock := newTestRegistry(Options{MaxActive: 1, IdleTimeout: time.Minute})
	ctx := context.Background()

	if err := registry.StartSession(ctx, "u1", "m1", "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		clock.Advance(45 * time.Second)
		if err := registry.Heartbeat(ctx, "s1"); err != nil {
			t.Fatalf("heartbeat %d: %v", i, err)
		}
	}
	if err := registry.StartSession(ctx, "u1", "m2", "s2"); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("heartbeating session should still hold the slot, got %v", err)
	}
}

func TestHeartbeatAfterIdleExpires(t *testing.T) {
	registry, store, clock := newTestRegistry(Options{IdleTimeout: time.Minute})
	ctx := context.Background()

	if err := registry.StartSession(ctx, "u1", "m1", "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(90 * time.Second)

	if err := registry.Heartbeat(ctx, "s1"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	session, _ := store.Find(ctx, "s1")
	if session.State != models.SessionExpired {
		t.Fatalf("expected expired state, got %s", session.State)
	}
	if err := registry.Heartbeat(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSweepIdleExpiresAcrossUsers(t *testing.T) {
	registry, _, clock := newTestRegistry(Options{MaxActive: 2, IdleTimeout: time.Minute})
	ctx := context.Background()

	for _, s := range []struct{ user, id string }{{"u1", "s1"}, {"u2", "s2"}} {
		if err := registry.StartSession(ctx, s.user, "m1", s.id); err != nil {
			t.Fatalf("start %s: %v", s.id, err)
		}
	}
	clock.Advance(30 * time.Second)
	if err := registry.StartSession(ctx, "u1", "m1", "s3"); err != nil {
		t.Fatalf("start s3: %v", err)
	}
	clock.Advance(45 * time.Second)

	expired, err := registry.SweepIdle(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 2 {
		t.Fatalf("expected 2 expired sessions, got %d", expired)
	}
}

func TestConcurrentStartSessionAdmitsOnlyCap(t *testing.T) {
	registry, store, _ := newTestRegistry(Options{MaxActive: 1})
	ctx := context.Background()

	const attempts = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		limited int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			moduleID := []string{"m1", "m2"}[i%2]
			err := registry.StartSession(ctx, "u1", moduleID, "s"+string(rune('a'+i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, ErrSessionLimit):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if granted != 1 || limited != attempts-1 {
		t.Fatalf("expected 1 grant and %d limits, got %d and %d", attempts-1, granted, limited)
	}
	active, _ := store.ListActive(ctx, "u1")
	if len(active) != 1 {
		t.Fatalf("expected exactly one active session, got %d", len(active))
	}
}
