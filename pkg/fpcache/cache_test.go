package fpcache

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_000, 0).UTC()}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) Advance(delta time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(delta)
	c.mu.Unlock()
}

type countingRecorder struct {
	mu        sync.Mutex
	lookups   map[LookupResult]int
	evictions int
}

func (r *countingRecorder) RecordCacheLookup(_ string, result LookupResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookups == nil {
		r.lookups = make(map[LookupResult]int)
	}
	r.lookups[result]++
}

func (r *countingRecorder) RecordCacheEviction(string) {
	r.mu.Lock()
	r.evictions++
	r.mu.Unlock()
}

func newTestCache(clock *manualClock, options ...Option) *Cache[string] {
	base := []Option{
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}

	return New[string](append(base, options...)...)
}

func TestCacheTTLBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		age     time.Duration
		wantHit bool
	}{
		{name: "fresh entry", age: 0, wantHit: true},
		{name: "one second before ttl", age: 59 * time.Second, wantHit: true},
		{name: "age equal to ttl is expired", age: 60 * time.Second, wantHit: false},
		{name: "one second after ttl", age: 61 * time.Second, wantHit: false},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			clock := newManualClock()
			cache := newTestCache(clock, WithTTL(60*time.Second))
			cache.Set("k", "v")
			clock.Advance(testCase.age)

			got, ok := cache.Get("k")
			if ok != testCase.wantHit {
				t.Fatalf("Get() ok = %v, want %v", ok, testCase.wantHit)
			}
			if ok && got != "v" {
				t.Fatalf("Get() = %q, want v", got)
			}
			if !testCase.wantHit && cache.Len() != 0 {
				t.Fatalf("Len() = %d, want expired entry removed", cache.Len())
			}
		})
	}
}

func TestCacheSetResetsAge(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cache := newTestCache(clock, WithTTL(time.Minute))

	cache.Set("k", "old")
	clock.Advance(50 * time.Second)
	cache.Set("k", "new")
	clock.Advance(50 * time.Second)

	got, ok := cache.Get("k")
	if !ok || got != "new" {
		t.Fatalf("Get() = (%q, %v), want (new, true)", got, ok)
	}
}

func TestCacheReadDoesNotExtendTTL(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cache := newTestCache(clock, WithTTL(time.Minute))

	cache.Set("k", "v")
	clock.Advance(40 * time.Second)
	if _, ok := cache.Get("k"); !ok {
		t.Fatal("Get() at 40s missed")
	}
	clock.Advance(20 * time.Second)
	if _, ok := cache.Get("k"); ok {
		t.Fatal("Get() at 60s hit, want expiry measured from Set")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cache := newTestCache(clock, WithMaxSize(2), WithTTL(time.Hour))

	cache.Set("a", "1")
	cache.Set("b", "2")
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("Get(a) missed")
	}
	cache.Set("c", "3")

	if _, ok := cache.Get("b"); ok {
		t.Fatal("b survived, want b evicted as least recently used")
	}
	for _, key := range []string{"a", "c"} {
		if _, ok := cache.Get(key); !ok {
			t.Fatalf("Get(%s) missed", key)
		}
	}
	if cache.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cache.Len())
	}
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cache := newTestCache(clock, WithMaxSize(2))

	cache.Set("a", "1")
	cache.Set("b", "2")
	cache.Set("a", "3")

	if cache.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cache.Len())
	}
	if got, _ := cache.Get("a"); got != "3" {
		t.Fatalf("Get(a) = %q, want 3", got)
	}
}

func TestCacheDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cache := newTestCache(clock)

	cache.Set("k", "v")
	cache.Delete("k")
	cache.Delete("k")
	cache.Delete("never-set")

	if _, ok := cache.Get("k"); ok {
		t.Fatal("Get() after Delete hit")
	}
	if cache.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", cache.Len())
	}
}

func TestCacheClearAndStats(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cache := newTestCache(clock, WithName("filings"), WithMaxSize(50), WithTTL(10*time.Hour))

	for index := 0; index < 7; index++ {
		cache.Set(fmt.Sprintf("k%d", index), "v")
	}
	cache.Get("k2")

	stats := cache.Stats()
	if stats.Name != "filings" || stats.Size != 7 || stats.MaxSize != 50 || stats.TTL != 10*time.Hour {
		t.Fatalf("stats = %+v", stats)
	}
	wantSample := []string{"k2", "k6", "k5", "k4", "k3"}
	if !reflect.DeepEqual(stats.SampleKeys, wantSample) {
		t.Fatalf("sample keys = %v, want %v", stats.SampleKeys, wantSample)
	}

	cache.Clear()
	if stats := cache.Stats(); stats.Size != 0 || len(stats.SampleKeys) != 0 {
		t.Fatalf("stats after Clear = %+v, want empty", stats)
	}
}

func TestCacheRecordsActivity(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	recorder := &countingRecorder{}
	cache := newTestCache(clock, WithMaxSize(1), WithTTL(time.Minute), WithRecorder(recorder))

	cache.Get("a")
	cache.Set("a", "1")
	cache.Get("a")
	cache.Set("b", "2")
	clock.Advance(time.Minute)
	cache.Get("b")

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.lookups[LookupMiss] != 1 || recorder.lookups[LookupHit] != 1 || recorder.lookups[LookupExpired] != 1 {
		t.Fatalf("lookups = %v, want one of each", recorder.lookups)
	}
	if recorder.evictions != 1 {
		t.Fatalf("evictions = %d, want 1", recorder.evictions)
	}
}

func TestCacheConcurrentAccessKeepsCapacity(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cache := newTestCache(clock, WithMaxSize(16))

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for index := 0; index < 200; index++ {
				key := fmt.Sprintf("w%d-%d", worker, index%32)
				cache.Set(key, "v")
				cache.Get(key)
				if index%10 == 0 {
					cache.Delete(key)
				}
			}
		}(worker)
	}
	wg.Wait()

	if size := cache.Len(); size > 16 {
		t.Fatalf("Len() = %d, want <= 16", size)
	}
}
