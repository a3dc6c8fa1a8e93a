package multi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Warmer is the part of the cache a warmup strategy works against.
type Warmer interface {
	Set(ctx context.Context, namespace, key string, value any, ttl ...time.Duration) error
	Refresh(ctx context.Context, namespace, key string) (bool, error)
	HotKeys(namespace string, threshold int64, limit int) []string
	Namespaces() []string
}

// WarmupStrategy preloads or refreshes entries during a warmup pass.
type WarmupStrategy interface {
	Name() string
	Warm(ctx context.Context, w Warmer) error
}

// LoaderFunc fetches the value for key from the system of record.
type LoaderFunc func(ctx context.Context, namespace, key string) (any, error)

// KeyLoader loads a fixed or computed key set of one namespace through Load.
type KeyLoader struct {
	Namespace string
	// Keys is consulted on every pass, e.g. to list recently active users.
	Keys        func(ctx context.Context) ([]string, error)
	Load        LoaderFunc
	Concurrency int
	Logger      *zap.Logger
}

// StaticKeys returns a key source that always yields keys.
func StaticKeys(keys ...string) func(context.Context) ([]string, error) {
	return func(context.Context) ([]string, error) {
		return keys, nil
	}
}

func (l *KeyLoader) Name() string {
	return "key-loader:" + l.Namespace
}

// Warm loads every key and stores it with the namespace TTL. Failed keys are
// logged and counted; the pass continues.
func (l *KeyLoader) Warm(ctx context.Context, w Warmer) error {
	if l.Keys == nil || l.Load == nil {
		return errors.New("key loader requires Keys and Load")
	}

	keys, err := l.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list warmup keys for %s: %w", l.Namespace, err)
	}

	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency(l.Concurrency))
	for _, key := range keys {
		g.Go(func() error {
			value, err := l.Load(gctx, l.Namespace, key)
			if err == nil {
				err = w.Set(gctx, l.Namespace, key, value)
			}
			if err != nil {
				failed.Inc()
				logger.Warn("Failed to warm up key",
					zap.String("namespace", l.Namespace), zap.String("key", key), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d keys failed to load", n, len(keys))
	}
	return ctx.Err()
}

// PopularKeys refreshes the most accessed local entries from the distributed tier.
type PopularKeys struct {
	Threshold   int64
	Limit       int
	Concurrency int
}

func (p *PopularKeys) Name() string {
	return "popular-keys"
}

func (p *PopularKeys) Warm(ctx context.Context, w Warmer) error {
	var errs []error
	for _, namespace := range w.Namespaces() {
		if err := ctx.Err(); err != nil {
			return err
		}

		keys := w.HotKeys(namespace, p.Threshold, p.Limit)
		if len(keys) == 0 {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency(p.Concurrency))
		for _, key := range keys {
			g.Go(func() error {
				if _, err := w.Refresh(gctx, namespace, key); err != nil {
					return fmt.Errorf("refresh %s/%s: %w", namespace, key, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func concurrency(n int) int {
	if n <= 0 {
		return 8
	}
	return n
}
