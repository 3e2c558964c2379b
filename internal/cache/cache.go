// Package cache memoizes generated text keyed by the prompt that produced it.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
	"unicode/utf16"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/narrator-core/internal/config"
)

// Cache maps a prompt key to previously returned response text.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) (string, bool)
	Put(key, value string)
}

// Key derives the cache key for a prompt. It is a 32-bit rolling hash
// (h = h*31 + c) over the UTF-16 code units of the prompt, rendered in
// decimal. Collisions are possible and tolerated.
func Key(prompt string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(prompt)) {
		h = (h << 5) - h + int32(c)
	}
	return strconv.FormatInt(int64(h), 10)
}

// Map is the unbounded cache: entries are never evicted.
type Map struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMap() *Map {
	return &Map{entries: make(map[string]string)}
}

func (m *Map) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *Map) Put(key, value string) {
	m.mu.Lock()
	m.entries[key] = value
	m.mu.Unlock()
}

func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

type lruCache struct {
	c *lru.Cache[string, string]
}

// NewLRU returns a cache holding at most size entries, evicting the least
// recently used one on overflow.
func NewLRU(size int) (Cache, error) {
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &lruCache{c: c}, nil
}

func (l *lruCache) Get(key string) (string, bool) { return l.c.Get(key) }
func (l *lruCache) Put(key, value string)        { l.c.Add(key, value) }

type ttlCache struct {
	c *expirable.LRU[string, string]
}

// NewTTL returns a size-bounded cache whose entries expire after ttl.
func NewTTL(size int, ttl time.Duration) Cache {
	return &ttlCache{c: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (t *ttlCache) Get(key string) (string, bool) { return t.c.Get(key) }
func (t *ttlCache) Put(key, value string)        { t.c.Add(key, value) }

// New builds the cache selected by configuration.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Mode {
	case "", "unbounded":
		return NewMap(), nil
	case "lru":
		return NewLRU(cfg.MaxEntries)
	case "ttl":
		return NewTTL(cfg.MaxEntries, time.Duration(cfg.TTLSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown cache mode %q", cfg.Mode)
	}
}

type instrumented struct {
	next   Cache
	hits   metric.Int64Counter
	misses metric.Int64Counter
	writes metric.Int64Counter
}

// Instrument wraps c with hit/miss/write counters on the global meter provider.
func Instrument(c Cache) (Cache, error) {
	meter := otel.Meter("github.com/loqalabs/narrator-core/cache")
	hits, err := meter.Int64Counter("narrator.cache.hits", metric.WithDescription("Prompt cache hits"))
	if err != nil {
		return c, err
	}
	misses, err := meter.Int64Counter("narrator.cache.misses", metric.WithDescription("Prompt cache misses"))
	if err != nil {
		return c, err
	}
	writes, err := meter.Int64Counter("narrator.cache.writes", metric.WithDescription("Prompt cache writes"))
	if err != nil {
		return c, err
	}
	return &instrumented{next: c, hits: hits, misses: misses, writes: writes}, nil
}

func (i *instrumented) Get(key string) (string, bool) {
	v, ok := i.next.Get(key)
	if ok {
		i.hits.Add(context.Background(), 1)
	} else {
		i.misses.Add(context.Background(), 1)
	}
	return v, ok
}

func (i *instrumented) Put(key, value string) {
	i.next.Put(key, value)
	i.writes.Add(context.Background(), 1)
}
