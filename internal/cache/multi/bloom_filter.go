package multi

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"goflare.io/graphcache/internal/cache/distributed"
	"goflare.io/graphcache/internal/config"
)

// BloomFilter tracks, per namespace, which keys may exist in the distributed tier so
// that lookups for keys never written skip the round trip.
type BloomFilter struct {
	remote *distributed.Tier
	config *config.Config
	logger *zap.Logger

	rebuildMu sync.Mutex
	mutex     sync.RWMutex
	filters   map[string]*bloom.BloomFilter
	// filters under construction; Add writes to both so a key set mid-rebuild is kept
	pending map[string]*bloom.BloomFilter
}

// NewBloomFilter creates an empty filter for every declared namespace.
func NewBloomFilter(remote *distributed.Tier, cfg *config.Config, logger *zap.Logger) *BloomFilter {
	bf := &BloomFilter{
		remote:  remote,
		config:  cfg,
		logger:  logger,
		filters: make(map[string]*bloom.BloomFilter, len(cfg.Namespaces)),
		pending: make(map[string]*bloom.BloomFilter),
	}
	for name := range cfg.Namespaces {
		bf.filters[name] = bf.newFilter()
	}
	return bf
}

func (bf *BloomFilter) newFilter() *bloom.BloomFilter {
	return bloom.NewWithEstimates(bf.config.Filter.ExpectedItems, bf.config.Filter.FalsePositiveRate)
}

// Add records key as present in namespace.
func (bf *BloomFilter) Add(namespace, key string) {
	bf.mutex.Lock()
	defer bf.mutex.Unlock()

	if f, ok := bf.filters[namespace]; ok {
		f.AddString(key)
	}
	if f, ok := bf.pending[namespace]; ok {
		f.AddString(key)
	}
}

// Test reports whether key may be present. Unknown namespaces always pass.
func (bf *BloomFilter) Test(namespace, key string) bool {
	bf.mutex.RLock()
	defer bf.mutex.RUnlock()

	f, ok := bf.filters[namespace]
	if !ok {
		return true
	}
	return f.TestString(key)
}

// Reset empties the filter of namespace.
func (bf *BloomFilter) Reset(namespace string) {
	bf.mutex.Lock()
	defer bf.mutex.Unlock()

	if _, ok := bf.filters[namespace]; ok {
		bf.filters[namespace] = bf.newFilter()
	}
}

// Rebuild reconstructs every namespace filter from the keys currently in the
// distributed tier. A namespace whose scan fails keeps its previous filter.
func (bf *BloomFilter) Rebuild(ctx context.Context) error {
	bf.rebuildMu.Lock()
	defer bf.rebuildMu.Unlock()

	var failed []string
	for _, name := range bf.config.NamespaceNames() {
		if err := bf.rebuildNamespace(ctx, name); err != nil {
			bf.logger.Warn("Failed to rebuild namespace filter", zap.String("namespace", name), zap.Error(err))
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("filter rebuild failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

func (bf *BloomFilter) rebuildNamespace(ctx context.Context, name string) error {
	prefix := bf.config.Namespaces[name].KeyPrefix
	if prefix == "" {
		prefix = config.DefaultKeyPrefix
	}

	next := bf.newFilter()
	bf.mutex.Lock()
	bf.pending[name] = next
	bf.mutex.Unlock()

	var count int
	err := bf.remote.ScanPrefix(ctx, prefix, func(keys []string) error {
		bf.mutex.Lock()
		defer bf.mutex.Unlock()
		for _, rawKey := range keys {
			next.AddString(strings.TrimPrefix(rawKey, prefix))
		}
		count += len(keys)
		return nil
	})

	bf.mutex.Lock()
	defer bf.mutex.Unlock()
	delete(bf.pending, name)
	if err != nil {
		return err
	}
	bf.filters[name] = next

	bf.logger.Debug("Namespace filter rebuilt", zap.String("namespace", name), zap.Int("keys", count))
	return nil
}
