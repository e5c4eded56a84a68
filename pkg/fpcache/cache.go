package fpcache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultMaxSize   = 100
	defaultTTL       = 5 * time.Minute
	sampleKeysLimit  = 5
	defaultCacheName = "cache"
)

// LookupResult classifies the outcome of one Get.
type LookupResult string

const (
	// LookupHit means a live entry was returned.
	LookupHit LookupResult = "hit"
	// LookupMiss means no entry existed for the key.
	LookupMiss LookupResult = "miss"
	// LookupExpired means an entry existed but had outlived the TTL and was removed.
	LookupExpired LookupResult = "expired"
)

// Recorder receives cache activity for metrics.
type Recorder interface {
	RecordCacheLookup(cache string, result LookupResult)
	RecordCacheEviction(cache string)
}

// Stats is a point-in-time view of a cache.
type Stats struct {
	Name    string
	Size    int
	MaxSize int
	TTL     time.Duration
	// SampleKeys lists up to five keys, most recently used first.
	SampleKeys []string
}

// Option mutates cache configuration.
type Option func(*config)

type config struct {
	name     string
	maxSize  int
	ttl      time.Duration
	logger   *slog.Logger
	recorder Recorder
	clock    func() time.Time
}

// WithName labels the cache in logs, metrics and stats.
func WithName(name string) Option {
	return func(cfg *config) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithMaxSize sets the entry capacity.
func WithMaxSize(maxSize int) Option {
	return func(cfg *config) {
		if maxSize > 0 {
			cfg.maxSize = maxSize
		}
	}
}

// WithTTL sets how long an entry can be returned after it was set.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *config) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger sets the logger used for debug traces.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithRecorder reports lookups and evictions to recorder.
func WithRecorder(recorder Recorder) Option {
	return func(cfg *config) {
		cfg.recorder = recorder
	}
}

// WithClock sets the time source used for entry ages.
func WithClock(clock func() time.Time) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Cache is a TTL and capacity bounded LRU cache.
type Cache[V any] struct {
	cfg config

	mu    sync.Mutex
	lru   *list.List
	index map[string]*list.Element
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// New creates an empty cache.
func New[V any](options ...Option) *Cache[V] {
	cfg := config{
		name:    defaultCacheName,
		maxSize: defaultMaxSize,
		ttl:     defaultTTL,
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Cache[V]{
		cfg:   cfg,
		lru:   list.New(),
		index: make(map[string]*list.Element),
	}
}

// Get returns the live value stored under key and marks it most recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	element, exists := c.index[key]
	if !exists {
		c.mu.Unlock()
		c.recordLookup(key, LookupMiss)
		return zero, false
	}
	stored := element.Value.(*entry[V])
	if c.isExpired(stored, c.cfg.clock()) {
		c.removeLocked(element)
		c.mu.Unlock()
		c.recordLookup(key, LookupExpired)
		return zero, false
	}
	c.lru.MoveToFront(element)
	value := stored.value
	c.mu.Unlock()

	c.recordLookup(key, LookupHit)

	return value, true
}

// Set stores value under key, resetting its age, then evicts least recently
// used entries until the cache fits its capacity.
func (c *Cache[V]) Set(key string, value V) {
	now := c.cfg.clock()

	c.mu.Lock()
	if element, exists := c.index[key]; exists {
		stored := element.Value.(*entry[V])
		stored.value = value
		stored.insertedAt = now
		c.lru.MoveToFront(element)
	} else {
		c.index[key] = c.lru.PushFront(&entry[V]{key: key, value: value, insertedAt: now})
	}
	evicted := c.trimToCapacityLocked()
	c.mu.Unlock()

	c.cfg.logger.Debug("cache set", "cache", c.cfg.name, "key", key)
	for _, evictedKey := range evicted {
		c.cfg.logger.Debug("cache evicted", "cache", c.cfg.name, "key", evictedKey)
		if c.cfg.recorder != nil {
			c.cfg.recorder.RecordCacheEviction(c.cfg.name)
		}
	}
}

// Delete removes key. Deleting an absent key is a no-op.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	element, exists := c.index[key]
	if exists {
		c.removeLocked(element)
	}
	c.mu.Unlock()

	if exists {
		c.cfg.logger.Debug("cache deleted", "cache", c.cfg.name, "key", key)
	}
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.lru.Init()
	c.index = make(map[string]*list.Element)
	c.mu.Unlock()

	c.cfg.logger.Info("cache cleared", "cache", c.cfg.name)
}

// Len returns the number of stored entries, including expired ones not yet observed.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// Stats returns a snapshot of size, limits and a sample of keys.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	sample := make([]string, 0, min(sampleKeysLimit, c.lru.Len()))
	for element := c.lru.Front(); element != nil && len(sample) < sampleKeysLimit; element = element.Next() {
		sample = append(sample, element.Value.(*entry[V]).key)
	}

	return Stats{
		Name:       c.cfg.name,
		Size:       c.lru.Len(),
		MaxSize:    c.cfg.maxSize,
		TTL:        c.cfg.ttl,
		SampleKeys: sample,
	}
}

func (c *Cache[V]) trimToCapacityLocked() []string {
	var evicted []string
	for c.lru.Len() > c.cfg.maxSize {
		back := c.lru.Back()
		if back == nil {
			break
		}
		evicted = append(evicted, back.Value.(*entry[V]).key)
		c.removeLocked(back)
	}

	return evicted
}

func (c *Cache[V]) removeLocked(element *list.Element) {
	stored := element.Value.(*entry[V])
	c.lru.Remove(element)
	delete(c.index, stored.key)
}

// isExpired treats an entry whose age equals the TTL as expired.
func (c *Cache[V]) isExpired(stored *entry[V], now time.Time) bool {
	return !now.Before(stored.insertedAt.Add(c.cfg.ttl))
}

func (c *Cache[V]) recordLookup(key string, result LookupResult) {
	c.cfg.logger.Debug("cache lookup", "cache", c.cfg.name, "key", key, "result", string(result))
	if c.cfg.recorder != nil {
		c.cfg.recorder.RecordCacheLookup(c.cfg.name, result)
	}
}
