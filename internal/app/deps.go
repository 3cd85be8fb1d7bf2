package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/vidfriends/streamgate/internal/access"
	"github.com/vidfriends/streamgate/internal/auth"
	"github.com/vidfriends/streamgate/internal/config"
	"github.com/vidfriends/streamgate/internal/db"
	"github.com/vidfriends/streamgate/internal/enrollment"
	"github.com/vidfriends/streamgate/internal/handlers"
	"github.com/vidfriends/streamgate/internal/middleware"
	"github.com/vidfriends/streamgate/internal/repositories"
	"github.com/vidfriends/streamgate/internal/sessions"
	"github.com/vidfriends/streamgate/internal/storage"
)

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. The returned cleanup stops background work and closes clients.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config) (handlers.Dependencies, func(context.Context) error, error) {
	logger := slog.Default()

	var catalog enrollment.Catalog = repositories.NewPostgresCatalog(pool)
	if cfg.Playback.CatalogCacheTTL > 0 {
		catalog = enrollment.NewCachingCatalog(catalog, cfg.Playback.CatalogCacheTTL)
	}

	evaluator := access.NewEvaluator(enrollment.NewGate(catalog), repositories.NewPostgresAccessLog(pool), access.Policy{
		FailedAttemptThreshold: cfg.Playback.FailedAttemptThreshold,
		FailedAttemptWindow:    cfg.Playback.FailedAttemptWindow,
		FailClosedOnAuditError: cfg.Playback.AuditReadPolicy != config.AuditReadFailOpen,
	})

	locker, redisClient, err := buildLocker(ctx, cfg)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}

	registry := sessions.NewRegistry(repositories.NewPostgresSessionStore(pool), locker, sessions.Options{
		MaxActive:   cfg.Playback.MaxActiveSessions,
		IdleTimeout: cfg.Playback.IdleTimeout,
		Scope:       sessions.Scope(cfg.Playback.SessionScope),
	})

	s3Client, err := storage.NewS3Client(ctx, cfg.ObjectStore)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return handlers.Dependencies{}, nil, fmt.Errorf("configure object store: %w", err)
	}
	issuer := storage.NewURLIssuer(s3.NewPresignClient(s3Client), cfg.ObjectStore.Bucket)

	reaper := sessions.NewReaper(registry, cfg.Playback.SweepInterval, logger)

	cleanup := func(ctx context.Context) error {
		var errs []error
		if err := reaper.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown session reaper: %w", err))
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close redis client: %w", err))
			}
		}
		return errors.Join(errs...)
	}

	return handlers.Dependencies{
		DB:       pool,
		Playback: access.NewService(evaluator, registry, issuer),
		Tokens:   auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Limiter:  middleware.NewKeyedLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, 10*time.Minute),
	}, cleanup, nil
}

// buildLocker returns a Redis-backed locker when a Redis URL is configured so
// the session cap holds across replicas. Otherwise locks are process-local and
// the cap only holds for a single replica.
func buildLocker(ctx context.Context, cfg config.Config) (sessions.Locker, *redis.Client, error) {
	if cfg.RedisURL == "" {
		slog.Default().Warn("STREAMGATE_REDIS_URL not set, session cap is enforced per process only")
		return sessions.NewKeyedMutex(), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	return sessions.NewRedisLocker(client, "streamgate:lock", cfg.Playback.LockTTL), client, nil
}
