package npa

import (
	"context"
	"time"
)

// CacheStats is a point-in-time view of one cache instance.
type CacheStats struct {
	Name       string
	Size       int
	MaxSize    int
	TTL        time.Duration
	SampleKeys []string
}

// FilingCatalog serves classified filings and subscriptions through caches.
//
// A false result means the upstream stayed unavailable after every retry.
// It is never an error: callers render a "try again later" screen.
type FilingCatalog interface {
	// Current returns the full listing, refreshed at most hourly.
	Current(ctx context.Context) ([]Filing, bool)
	// Latest returns the first listing pages, refreshed at most hourly.
	Latest(ctx context.Context) ([]Filing, bool)
	// Daily returns the listing used by the digest for day.
	Daily(ctx context.Context, day time.Time) ([]Filing, bool)
	// Archive returns topic filings from the last 30 days, newest first.
	Archive(ctx context.Context, topic TopicTag) ([]Filing, bool)
	// Subscriptions returns the user's topics through the subscription cache.
	Subscriptions(ctx context.Context, userID int64) []TopicTag
	// InvalidateSubscriptions drops the cached topics of one user.
	InvalidateSubscriptions(userID int64)
	// CacheStats describes every cache owned by the catalog.
	CacheStats() []CacheStats
	// Reset clears every cache owned by the catalog.
	Reset()
}
