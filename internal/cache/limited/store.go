package limited

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"goflare.io/graphcache/internal/models"
)

// partition is the bounded LRU store of one namespace. Every access,
// foreground or sweep, goes through mu.
type partition struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *models.Entry]
	capacity int
}

func newPartition(capacity int) (*partition, error) {
	lru, err := simplelru.NewLRU[string, *models.Entry](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru of size %d: %w", capacity, err)
	}
	return &partition{lru: lru, capacity: capacity}, nil
}

// get returns the entry and whether it was found expired (and removed).
func (p *partition) get(key string, now time.Time) (*models.Entry, bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.lru.Get(key)
	if !ok {
		return nil, false, false
	}
	if entry.IsExpired(now) {
		p.lru.Remove(key)
		return nil, false, true
	}
	entry.Touch(now)
	return entry, true, false
}

func (p *partition) peek(key string, now time.Time) (*models.Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.lru.Peek(key)
	if !ok || entry.IsExpired(now) {
		return nil, false
	}
	return entry, true
}

// set stores the entry and reports whether the least recently used one was evicted.
func (p *partition) set(key string, entry *models.Entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Add(key, entry)
}

func (p *partition) remove(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Remove(key)
}

func (p *partition) clear() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.lru.Len()
	p.lru.Purge()
	return n
}

// sweep removes every expired entry and returns how many were removed.
func (p *partition) sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for _, key := range p.lru.Keys() {
		entry, ok := p.lru.Peek(key)
		if ok && entry.IsExpired(now) {
			p.lru.Remove(key)
			removed++
		}
	}
	return removed
}

func (p *partition) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}

type keyCount struct {
	key   string
	count int64
}

// hot returns up to limit live keys whose access count reaches threshold, hottest first.
func (p *partition) hot(threshold int64, limit int, now time.Time) []string {
	p.mu.Lock()
	candidates := make([]keyCount, 0)
	for _, key := range p.lru.Keys() {
		entry, ok := p.lru.Peek(key)
		if !ok || entry.IsExpired(now) {
			continue
		}
		if c := entry.AccessCount.Load(); c >= threshold {
			candidates = append(candidates, keyCount{key: key, count: c})
		}
	}
	p.mu.Unlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].count > candidates[j].count
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return keys
}
