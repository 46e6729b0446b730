package app

import (
	"errors"
	"fmt"
	"time"

	"multillm/internal/config"
	"multillm/internal/ratelimit"
	"multillm/pkg/catalog"
	"multillm/pkg/queue"
	"multillm/pkg/store"
)

// Resources owns the backends an App built by Open talks to.
type Resources struct {
	Store   *store.GormStore
	Cache   store.SessionCache
	Queue   *queue.UsageQueue
	closers []func() error
}

// Close releases every backend.
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds an App from file configuration. Redis-backed session cache,
// login limiter and usage queue are used when redisAddr is set; in-process
// equivalents otherwise.
func Open(cfg config.FileConfig) (*App, *Resources, error) {
	res := &Resources{}
	fail := func(err error) (*App, *Resources, error) {
		_ = res.Close()
		return nil, nil, err
	}

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		return fail(err)
	}
	leeway, err := config.ParseTokenLeeway(cfg.TokenLeeway)
	if err != nil {
		return fail(err)
	}
	tokens, err := store.NewTokenSigner(cfg.SessionSecret, store.TokenOptions{
		Issuer: cfg.TokenIssuer,
		Leeway: leeway,
	})
	if err != nil {
		return fail(fmt.Errorf("init token signer: %w", err))
	}
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fail(err)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("init store: %w", err))
	}
	res.Store = db
	res.closers = append(res.closers, db.Close)

	var (
		limiter ratelimit.Limiter
		usage   UsageQueue
	)
	if cfg.RedisAddr != "" {
		cache := store.NewRedisSessionCache(cfg.RedisAddr, cfg.RedisPassword)
		res.Cache = cache
		res.closers = append(res.closers, cache.Close)

		if cfg.LoginRateLimitPerMinute > 0 {
			rl, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "multillm:login", cfg.LoginRateLimitPerMinute, time.Minute)
			if err != nil {
				return fail(fmt.Errorf("init login limiter: %w", err))
			}
			res.closers = append(res.closers, rl.Close)
			limiter = rl
		}

		q, err := queue.NewUsageQueue(queue.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.UsageStream,
		})
		if err != nil {
			return fail(fmt.Errorf("init usage queue: %w", err))
		}
		res.Queue = q
		res.closers = append(res.closers, q.Close)
		usage = q
	} else {
		res.Cache = store.NewMemorySessionCache()
		if cfg.LoginRateLimitPerMinute > 0 {
			rl, err := ratelimit.NewMemoryLimiter(cfg.LoginRateLimitPerMinute, time.Minute)
			if err != nil {
				return fail(fmt.Errorf("init login limiter: %w", err))
			}
			limiter = rl
		}
	}

	a, err := New(Config{
		Store:          db,
		Tokens:         tokens,
		Sessions:       res.Cache,
		Catalog:        cat,
		LoginLimiter:   limiter,
		Usage:          usage,
		SessionTTL:     sessionTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		UploadDir:      cfg.UploadDir,
	})
	if err != nil {
		return fail(err)
	}
	return a, res, nil
}
