// Package limited implements the process-local cache tier: one bounded
// LRU partition per namespace.
package limited

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"goflare.io/graphcache/internal/models"
	"goflare.io/graphcache/internal/utils"
)

// ErrUnknownNamespace is returned for a namespace that has no partition.
var ErrUnknownNamespace = errors.New("unknown cache namespace")

// Status is the outcome of a local lookup.
type Status int

const (
	Miss Status = iota
	Hit
	Expired
)

// Cache is the local tier. Partitions are fixed at construction, so the
// partition map itself is read without locking.
type Cache struct {
	partitions map[string]*partition
	clock      utils.Clock
	metrics    *models.Metrics
	logger     *zap.Logger
}

// New creates one partition per namespace, sized by capacities.
func New(capacities map[string]int, clock utils.Clock, metrics *models.Metrics, logger *zap.Logger) (*Cache, error) {
	partitions := make(map[string]*partition, len(capacities))
	for name, capacity := range capacities {
		p, err := newPartition(capacity)
		if err != nil {
			return nil, fmt.Errorf("namespace %s: %w", name, err)
		}
		partitions[name] = p
	}

	return &Cache{
		partitions: partitions,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

func (c *Cache) partition(namespace string) (*partition, error) {
	p, ok := c.partitions[namespace]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}
	return p, nil
}

// Get returns a live entry and touches it. An expired entry is removed,
// counted as an eviction, and reported as Expired.
func (c *Cache) Get(namespace, key string) (*models.Entry, Status) {
	p, err := c.partition(namespace)
	if err != nil {
		return nil, Miss
	}

	entry, found, expired := p.get(key, c.clock.Now())
	switch {
	case found:
		return entry, Hit
	case expired:
		c.metrics.Evictions.Inc()
		return nil, Expired
	default:
		return nil, Miss
	}
}

// Peek returns a live entry without touching it or changing its recency.
func (c *Cache) Peek(namespace, key string) (*models.Entry, bool) {
	p, err := c.partition(namespace)
	if err != nil {
		return nil, false
	}
	return p.peek(key, c.clock.Now())
}

// Set stores entry, replacing any previous value for key. Overflow evicts
// the least recently used entry of the same namespace.
func (c *Cache) Set(namespace, key string, entry *models.Entry) error {
	p, err := c.partition(namespace)
	if err != nil {
		return err
	}
	if p.set(key, entry) {
		c.metrics.Evictions.Inc()
		c.logger.Debug("Evicted least recently used entry", zap.String("namespace", namespace))
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(namespace, key string) bool {
	p, err := c.partition(namespace)
	if err != nil {
		return false
	}
	return p.remove(key)
}

// Clear empties one namespace and returns the number of entries dropped.
func (c *Cache) Clear(namespace string) (int, error) {
	p, err := c.partition(namespace)
	if err != nil {
		return 0, err
	}
	return p.clear(), nil
}

// Sweep evicts expired entries namespace by namespace. Each partition is
// locked only while it is being swept.
func (c *Cache) Sweep(ctx context.Context) int {
	total := 0
	for name, p := range c.partitions {
		select {
		case <-ctx.Done():
			return total
		default:
		}

		removed := p.sweep(c.clock.Now())
		if removed > 0 {
			c.metrics.Evictions.Add(int64(removed))
			c.logger.Debug("Swept expired entries", zap.String("namespace", name), zap.Int("removed", removed))
		}
		total += removed
	}
	return total
}

// Len returns the number of entries held for namespace.
func (c *Cache) Len(namespace string) int {
	p, err := c.partition(namespace)
	if err != nil {
		return 0
	}
	return p.len()
}

// Capacity returns the entry bound of namespace.
func (c *Cache) Capacity(namespace string) int {
	p, err := c.partition(namespace)
	if err != nil {
		return 0
	}
	return p.capacity
}

// HotKeys lists live keys of namespace accessed at least threshold times.
func (c *Cache) HotKeys(namespace string, threshold int64, limit int) []string {
	p, err := c.partition(namespace)
	if err != nil {
		return nil
	}
	return p.hot(threshold, limit, c.clock.Now())
}

// Namespaces reports occupancy per namespace.
func (c *Cache) Namespaces() map[string]models.NamespaceSnapshot {
	out := make(map[string]models.NamespaceSnapshot, len(c.partitions))
	for name, p := range c.partitions {
		out[name] = models.NamespaceSnapshot{Size: p.len(), MaxSize: p.capacity}
	}
	return out
}
