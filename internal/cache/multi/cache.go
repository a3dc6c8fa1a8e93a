// Package multi implements the two-tier cache manager: a per-namespace local LRU in
// front of a shared Redis tier, with background maintenance.
package multi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/graphcache/internal/cache/distributed"
	"goflare.io/graphcache/internal/cache/limited"
	"goflare.io/graphcache/internal/config"
	"goflare.io/graphcache/internal/models"
	"goflare.io/graphcache/internal/utils"
	"goflare.io/graphcache/pkg/codec"
	"goflare.io/graphcache/pkg/compression"
	"goflare.io/graphcache/pkg/serialization"
)

var (
	ErrUnknownNamespace = limited.ErrUnknownNamespace
	ErrInvalidTTL       = errors.New("ttl must be positive")
	ErrNotRunning       = errors.New("cache manager is not running")
	ErrAlreadyStarted   = errors.New("cache manager already started")
)

// go-redis applies this when no socket timeout is configured
const defaultSocketTimeout = 3 * time.Second

const (
	stateNew int32 = iota
	stateRunning
	stateStopped
)

// Cache is the cache manager. It is safe for concurrent use once started.
type Cache struct {
	config  *config.Config
	logger  *zap.Logger
	clock   utils.Clock
	tracer  trace.Tracer
	metrics *models.Metrics

	codec  *codec.Codec
	local  *limited.Cache
	remote *distributed.Tier
	filter *BloomFilter
	sf     singleflight.Group
	// bounds a shared remote read, independent of the caller that started it
	flightTimeout time.Duration

	client     redis.UniversalClient
	strategies []WarmupStrategy
	scheduler  *Scheduler

	lifecycle sync.Mutex
	state     atomic.Int32
}

// NewCache creates a manager around a copy of cfg. Nothing is validated or dialed until
// Start. client may be nil, in which case a client is built from cfg.Distributed.
func NewCache(cfg *config.Config, client redis.UniversalClient, strategies ...WarmupStrategy) *Cache {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg = cfg.Clone()
	cfg.Normalize()

	return &Cache{
		config:     cfg,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		tracer:     otel.Tracer("graphcache"),
		metrics:    models.NewMetrics(),
		client:     client,
		strategies: strategies,
	}
}

// Start validates the configuration, builds both tiers and launches maintenance.
func (c *Cache) Start(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "Cache.Start")
	defer span.End()

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.state.Load() != stateNew {
		return ErrAlreadyStarted
	}

	if err := c.config.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := c.build(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.scheduler = NewScheduler(c.config.Maintenance, c.logger, c.cleanup, c.Warm)
	c.scheduler.Start(ctx)

	c.state.Store(stateRunning)
	c.logger.Info("Cache manager started",
		zap.Strings("namespaces", c.config.NamespaceNames()),
		zap.Bool("distributed", c.remote != nil))
	return nil
}

func (c *Cache) build(ctx context.Context) error {
	serializer, err := serialization.New(c.config.Serialization)
	if err != nil {
		return fmt.Errorf("failed to create serializer: %w", err)
	}

	var compressor compression.Compressor
	if c.config.Compression.Enabled {
		if compressor, err = compression.New(c.config.Compression.Algorithm); err != nil {
			return fmt.Errorf("failed to create compressor: %w", err)
		}
	}
	c.codec = codec.New(serializer, compressor, c.config.Compression.ThresholdBytes)

	capacities := make(map[string]int, len(c.config.Namespaces))
	for name, ns := range c.config.Namespaces {
		capacities[name] = ns.MaxLocalEntries
	}
	if c.local, err = limited.New(capacities, c.clock, c.metrics, c.logger); err != nil {
		return fmt.Errorf("failed to create local tier: %w", err)
	}

	if !c.config.Distributed.Enabled {
		return nil
	}

	client := c.client
	if client == nil {
		client = distributed.NewClient(c.config.Distributed)
	}
	if c.remote, err = distributed.New(client, c.config); err != nil {
		return fmt.Errorf("failed to create distributed tier: %w", err)
	}
	c.flightTimeout = flightTimeout(c.config)

	pingCtx, cancel := context.WithTimeout(ctx, c.config.Distributed.ConnectTimeout)
	defer cancel()
	if err := c.remote.Ping(pingCtx); err != nil {
		c.logger.Warn("Distributed tier unreachable at startup, continuing degraded",
			zap.String("host", c.config.Distributed.Host),
			zap.Int("port", c.config.Distributed.Port),
			zap.Error(err))
	}

	if c.config.Filter.Enabled {
		c.filter = NewBloomFilter(c.remote, c.config, c.logger)
		if err := c.filter.Rebuild(ctx); err != nil {
			c.logger.Warn("Failed to load remote key filter", zap.Error(err))
		}
	}
	return nil
}

// Stop halts maintenance and closes the Redis pool. The pool is closed only after both
// loops have returned; if ctx expires first, Stop returns and the pool is closed once
// the loops finish.
func (c *Cache) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.state.Load() != stateRunning {
		return nil
	}
	c.state.Store(stateStopped)

	done := c.scheduler.Stop()
	select {
	case <-done:
		c.logger.Info("Cache manager stopped")
		return c.closeRemote()
	case <-ctx.Done():
		go func() {
			<-done
			if err := c.closeRemote(); err != nil {
				c.logger.Warn("Failed to close distributed tier", zap.Error(err))
			}
		}()
		return fmt.Errorf("timed out waiting for maintenance tasks: %w", ctx.Err())
	}
}

func (c *Cache) closeRemote() error {
	if c.remote == nil {
		return nil
	}
	if err := c.remote.Close(); err != nil {
		return fmt.Errorf("failed to close distributed tier: %w", err)
	}
	return nil
}

func (c *Cache) running() bool {
	return c.state.Load() == stateRunning
}

// Get looks key up in the local tier, then the distributed tier, and decodes the value
// into value. Backend failures are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, namespace, key string, value any) bool {
	ctx, span := c.tracer.Start(ctx, "Cache.Get", trace.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("key", key),
	))
	defer span.End()

	if !c.running() {
		return false
	}

	ns, ok := c.config.Namespace(namespace)
	if !ok {
		c.logger.Warn("Get on undeclared namespace", zap.String("namespace", namespace))
		c.metrics.Misses.Inc()
		return false
	}

	entry, status := c.local.Get(namespace, key)
	if status == limited.Hit {
		err := c.codec.Decode(entry.Data, value)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("tier", "local"))
			c.metrics.Hits.Inc()
			return true
		case errors.Is(err, codec.ErrTypeMismatch):
			// the record is intact, only this caller's destination is wrong
			c.logger.Warn("Cached value does not fit destination type",
				zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
			c.metrics.Misses.Inc()
			return false
		default:
			c.logger.Warn("Discarding corrupt local entry",
				zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
			c.local.Delete(namespace, key)
		}
	}

	if c.remote != nil && c.getRemote(ctx, namespace, ns, key, value) {
		span.SetAttributes(attribute.String("tier", "distributed"))
		c.metrics.Hits.Inc()
		return true
	}

	c.metrics.Misses.Inc()
	return false
}

func (c *Cache) getRemote(ctx context.Context, namespace string, ns config.NamespaceConfig, key string, value any) bool {
	if c.filter != nil && !c.filter.Test(namespace, key) {
		c.logger.Debug("Remote key filter negative", zap.String("namespace", namespace), zap.String("key", key))
		return false
	}

	rawKey := distributed.Key(ns.KeyPrefix, key)
	v, err := c.flight(ctx, rawKey, func(ctx context.Context) (any, error) {
		return c.remote.Get(ctx, rawKey)
	})
	if err != nil {
		if !errors.Is(err, distributed.ErrNotFound) {
			c.logger.Warn("Distributed lookup failed, serving local only",
				zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
		}
		return false
	}

	data := v.([]byte)
	if err := c.codec.Decode(data, value); err != nil {
		if errors.Is(err, codec.ErrTypeMismatch) {
			c.logger.Warn("Distributed value does not fit destination type",
				zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
			return false
		}
		c.logger.Warn("Discarding undecodable distributed record",
			zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
		c.local.Delete(namespace, key)
		if err := c.remote.Delete(ctx, rawKey); err != nil {
			c.logger.Warn("Failed to delete undecodable record", zap.String("key", rawKey), zap.Error(err))
		}
		return false
	}

	entry := models.NewEntry(data, codec.IsCompressed(data), ns.TTL, c.clock.Now())
	entry.Replicated.Store(true)
	if err := c.local.Set(namespace, key, entry); err != nil {
		c.logger.Warn("Failed to repopulate local tier", zap.String("namespace", namespace), zap.Error(err))
	}
	return true
}

// flight collapses concurrent remote reads of key into one call. The shared call is
// detached from the caller that started it, so one cancelled caller does not fail the
// others; each caller still stops waiting when its own ctx is done.
func (c *Cache) flight(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.sf.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()
		return fn(shared)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flightTimeout covers every retry attempt of one remote call plus its backoff.
func flightTimeout(cfg *config.Config) time.Duration {
	attempts := 1
	if cfg.Distributed.RetryOnTimeout {
		attempts = max(cfg.Resilience.MaxRetries, 1)
	}
	socket := cfg.Distributed.SocketTimeout
	if socket <= 0 {
		socket = defaultSocketTimeout
	}
	return time.Duration(attempts) * (socket + cfg.Resilience.MaxInterval)
}

// Set stores value under key in both tiers. ttl defaults to the namespace TTL.
func (c *Cache) Set(ctx context.Context, namespace, key string, value any, ttl ...time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "Cache.Set", trace.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("key", key),
	))
	defer span.End()

	if !c.running() {
		return ErrNotRunning
	}

	ns, ok := c.config.Namespace(namespace)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}

	expiration := utils.GetExpirationTime(ns.TTL, ttl...)
	if expiration <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTTL, expiration)
	}

	payload, err := c.codec.Encode(value)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to encode value for %s/%s: %w", namespace, key, err)
	}

	entry := models.NewEntry(payload.Data, payload.Compressed, expiration, c.clock.Now())
	if err := c.local.Set(namespace, key, entry); err != nil {
		return err
	}
	c.metrics.Sets.Inc()

	if c.remote == nil {
		return nil
	}

	if c.filter != nil {
		c.filter.Add(namespace, key)
	}
	rawKey := distributed.Key(ns.KeyPrefix, key)
	if err := c.remote.SetWithExpiry(ctx, rawKey, payload.Data, expiration); err != nil {
		c.logger.Warn("Failed to write distributed tier",
			zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
		return nil
	}
	entry.Replicated.Store(true)
	return nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, namespace, key string) error {
	ctx, span := c.tracer.Start(ctx, "Cache.Delete", trace.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("key", key),
	))
	defer span.End()

	if !c.running() {
		return ErrNotRunning
	}

	ns, ok := c.config.Namespace(namespace)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}

	c.local.Delete(namespace, key)
	if c.remote != nil {
		if err := c.remote.Delete(ctx, distributed.Key(ns.KeyPrefix, key)); err != nil {
			c.logger.Warn("Failed to delete from distributed tier",
				zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
		}
	}
	c.metrics.Deletes.Inc()
	return nil
}

// ClearNamespace drops every entry of namespace from both tiers.
func (c *Cache) ClearNamespace(ctx context.Context, namespace string) error {
	ctx, span := c.tracer.Start(ctx, "Cache.ClearNamespace", trace.WithAttributes(
		attribute.String("namespace", namespace),
	))
	defer span.End()

	if !c.running() {
		return ErrNotRunning
	}

	ns, ok := c.config.Namespace(namespace)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}

	cleared, err := c.local.Clear(namespace)
	if err != nil {
		return err
	}

	var removed int64
	if c.remote != nil {
		prefix := ns.KeyPrefix
		if prefix == "" {
			prefix = config.DefaultKeyPrefix
		}
		if removed, err = c.remote.DeleteByPrefix(ctx, prefix); err != nil {
			c.logger.Warn("Failed to clear distributed namespace",
				zap.String("namespace", namespace), zap.Int64("removed", removed), zap.Error(err))
		}
		if c.filter != nil {
			c.filter.Reset(namespace)
		}
	}

	c.logger.Info("Namespace cleared",
		zap.String("namespace", namespace), zap.Int("local", cleared), zap.Int64("distributed", removed))
	return nil
}

// Exists reports whether key is present in either tier. It does not count as a lookup.
func (c *Cache) Exists(ctx context.Context, namespace, key string) bool {
	ctx, span := c.tracer.Start(ctx, "Cache.Exists", trace.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("key", key),
	))
	defer span.End()

	if !c.running() {
		return false
	}
	ns, ok := c.config.Namespace(namespace)
	if !ok {
		return false
	}

	if _, found := c.local.Peek(namespace, key); found {
		return true
	}
	if c.remote == nil {
		return false
	}

	exists, err := c.remote.Exists(ctx, distributed.Key(ns.KeyPrefix, key))
	if err != nil {
		c.logger.Warn("Distributed exists check failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return exists
}

// GetTTL returns the remaining lifetime of key, preferring the local entry.
func (c *Cache) GetTTL(ctx context.Context, namespace, key string) (time.Duration, bool) {
	ctx, span := c.tracer.Start(ctx, "Cache.GetTTL", trace.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("key", key),
	))
	defer span.End()

	if !c.running() {
		return 0, false
	}
	ns, ok := c.config.Namespace(namespace)
	if !ok {
		return 0, false
	}

	if entry, found := c.local.Peek(namespace, key); found {
		return entry.Remaining(c.clock.Now()), true
	}
	if c.remote == nil {
		return 0, false
	}

	ttl, err := c.remote.TTL(ctx, distributed.Key(ns.KeyPrefix, key))
	if err != nil {
		if !errors.Is(err, distributed.ErrNotFound) {
			c.logger.Warn("Distributed ttl lookup failed", zap.String("key", key), zap.Error(err))
		}
		return 0, false
	}
	return ttl, true
}

// Refresh re-reads key from the distributed tier into the local tier. The refreshed
// entry keeps the backend's remaining expiry and the local access count. A key that
// has disappeared from the distributed tier is dropped locally as well, unless the
// local entry never made it there (its write failed); that entry lives out its own TTL.
func (c *Cache) Refresh(ctx context.Context, namespace, key string) (bool, error) {
	if !c.running() {
		return false, ErrNotRunning
	}
	ns, ok := c.config.Namespace(namespace)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}
	if c.remote == nil {
		return false, nil
	}

	rawKey := distributed.Key(ns.KeyPrefix, key)
	v, err := c.flight(ctx, refreshFlightPrefix+rawKey, func(ctx context.Context) (any, error) {
		data, ttl, err := c.remote.GetWithTTL(ctx, rawKey)
		if err != nil {
			return nil, err
		}
		return remoteRecord{data: data, ttl: ttl}, nil
	})

	current, found := c.local.Peek(namespace, key)
	switch {
	case errors.Is(err, distributed.ErrNotFound):
		if found && !current.Replicated.Load() {
			return false, nil
		}
		c.local.Delete(namespace, key)
		return false, nil
	case err != nil:
		return false, err
	}

	record := v.(remoteRecord)
	if _, _, err := codec.Unframe(record.data); err != nil {
		return false, err
	}

	ttl := record.ttl
	if ttl <= 0 {
		// no backend expiry, fall back to the namespace policy
		ttl = ns.TTL
	}
	entry := models.NewEntry(record.data, codec.IsCompressed(record.data), ttl, c.clock.Now())
	entry.Replicated.Store(true)
	if found {
		entry.AccessCount.Store(current.AccessCount.Load())
		entry.LastAccessTime.Store(current.LastAccessTime.Load())
	}
	if err := c.local.Set(namespace, key, entry); err != nil {
		return false, err
	}
	return true, nil
}

const refreshFlightPrefix = "refresh\x00"

type remoteRecord struct {
	data []byte
	ttl  time.Duration
}

// HotKeys returns the most accessed local keys of namespace.
func (c *Cache) HotKeys(namespace string, threshold int64, limit int) []string {
	if c.local == nil {
		return nil
	}
	return c.local.HotKeys(namespace, threshold, limit)
}

// Namespaces returns the declared namespace names in sorted order.
func (c *Cache) Namespaces() []string {
	return c.config.NamespaceNames()
}

// Stats returns a point-in-time snapshot of counters and local tier occupancy.
func (c *Cache) Stats() models.Snapshot {
	snapshot := c.metrics.Snapshot()
	if c.local != nil {
		snapshot.Namespaces = c.local.Namespaces()
		return snapshot
	}

	snapshot.Namespaces = make(map[string]models.NamespaceSnapshot, len(c.config.Namespaces))
	for name, ns := range c.config.Namespaces {
		snapshot.Namespaces[name] = models.NamespaceSnapshot{MaxSize: ns.MaxLocalEntries}
	}
	return snapshot
}

// Warm runs every registered warmup strategy once. A failing or panicking strategy does
// not prevent the others from running.
func (c *Cache) Warm(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "Cache.Warm")
	defer span.End()

	if !c.running() {
		return
	}

	for _, strategy := range c.strategies {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := runStrategy(ctx, strategy, c); err != nil {
			c.logger.Warn("Warmup strategy failed", zap.String("strategy", strategy.Name()), zap.Error(err))
			continue
		}
		c.logger.Debug("Warmup strategy finished",
			zap.String("strategy", strategy.Name()), zap.Duration("took", time.Since(start)))
	}
}

func runStrategy(ctx context.Context, strategy WarmupStrategy, w Warmer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("warmup strategy panicked: %v", r)
		}
	}()
	return strategy.Warm(ctx, w)
}

func (c *Cache) cleanup(ctx context.Context) {
	removed := c.local.Sweep(ctx)
	if removed > 0 {
		c.logger.Debug("Swept expired entries", zap.Int("removed", removed))
	}

	if c.filter != nil {
		if err := c.filter.Rebuild(ctx); err != nil {
			c.logger.Warn("Failed to rebuild remote key filter", zap.Error(err))
		}
	}
}

// BreakerState reports the distributed tier circuit breaker state, or "disabled".
func (c *Cache) BreakerState() string {
	if c.remote == nil {
		return "disabled"
	}
	return c.remote.State().String()
}
