package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper expires idle sessions in bulk.
type Sweeper interface {
	SweepIdle(ctx context.Context) (int, error)
}

// Reaper periodically sweeps idle sessions so slots are released even for users
// who never start another session.
type Reaper struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewReaper starts a background sweep loop. An interval <= 0 returns a Reaper
// that never sweeps, leaving expiry to the lazy per-user sweep.
func NewReaper(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reaper{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	if interval > 0 && sweeper != nil {
		r.wg.Add(1)
		go r.loop()
	}
	return r
}

// Shutdown stops the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Shutdown(ctx context.Context) error {
	r.once.Do(r.cancel)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(r.ctx, maxDuration(r.interval, 5*time.Second))
	defer cancel()

	expired, err := r.sweeper.SweepIdle(ctx)
	if err != nil {
		r.logger.Error("sweep idle sessions", "error", err)
		return
	}
	if expired > 0 {
		r.logger.Info("expired idle sessions", "count", expired)
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a >= b {
		return a
	}
	return b
}
