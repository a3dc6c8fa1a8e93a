package multi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"goflare.io/graphcache/internal/config"
)

// Task is one maintenance cycle.
type Task func(ctx context.Context)

// Scheduler runs the cleanup and warmup loops.
type Scheduler struct {
	cleanupInterval time.Duration
	warmupInterval  time.Duration
	warmupEnabled   bool

	cleanup Task
	warmup  Task
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewScheduler creates a scheduler. It does nothing until Start.
func NewScheduler(cfg config.MaintenanceConfig, logger *zap.Logger, cleanup, warmup Task) *Scheduler {
	return &Scheduler{
		cleanupInterval: cfg.CleanupInterval,
		warmupInterval:  cfg.WarmupInterval,
		warmupEnabled:   cfg.WarmupEnabled,
		cleanup:         cleanup,
		warmup:          warmup,
		logger:          logger,
		done:            make(chan struct{}),
	}
}

// Start launches the loops. They keep ctx's values but not its cancellation, so a
// short-lived start context does not stop maintenance.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.wg.Add(1)
	go s.loop(ctx, "cleanup", s.cleanupInterval, s.cleanup)

	if s.warmupEnabled {
		s.wg.Add(1)
		go s.loop(ctx, "warmup", s.warmupInterval, s.warmup)
	}

	go func() {
		s.wg.Wait()
		close(s.done)
	}()
}

// Stop cancels the loops and returns a channel closed once every loop has returned.
func (s *Scheduler) Stop() <-chan struct{} {
	if s.cancel == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	s.cancel()
	return s.done
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// 停止後不再開始新的週期
			if ctx.Err() != nil {
				return
			}
			s.run(ctx, name, task)
		case <-ctx.Done():
			s.logger.Debug("Maintenance task stopped", zap.String("task", name))
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Maintenance task panicked", zap.String("task", name), zap.Any("panic", r))
		}
	}()
	task(ctx)
}
