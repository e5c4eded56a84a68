// Package catalog is the application context for filing data: it owns the
// caches, drives fetches through the retry orchestrator and classifies every
// fetched filing once.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"npa-monitor/internal/retry"
	"npa-monitor/pkg/fpcache"
	"npa-monitor/pkg/npa"
)

const (
	// DefaultCurrentPages bounds the full listing fetch.
	DefaultCurrentPages = 500
	// DefaultLatestPages bounds the "last updates" fetch.
	DefaultLatestPages = 10
	// DefaultDailyPages bounds the digest fetch.
	DefaultDailyPages = 20
	// DefaultArchiveDays is the archive window.
	DefaultArchiveDays = 30

	hourBucketLayout = "2006-01-02T15"
)

// Fetcher loads the deduplicated listing.
type Fetcher interface {
	FetchAll(ctx context.Context, maxPages int) ([]npa.Filing, error)
}

// SubscriptionSource reads stored subscriptions.
type SubscriptionSource interface {
	Subscriptions(ctx context.Context, userID int64) ([]npa.TopicTag, error)
}

// Archiver records fetched filings.
type Archiver interface {
	SaveFilings(ctx context.Context, filings []npa.Filing) error
}

// CacheLimits sizes one cache.
type CacheLimits struct {
	MaxSize int
	TTL     time.Duration
}

// Limits sizes every cache owned by the catalog.
type Limits struct {
	Filings       CacheLimits
	Archive       CacheLimits
	Subscriptions CacheLimits
}

// DefaultLimits returns the production cache sizes.
func DefaultLimits() Limits {
	return Limits{
		Filings:       CacheLimits{MaxSize: 50, TTL: 10 * time.Hour},
		Archive:       CacheLimits{MaxSize: 30, TTL: 10 * time.Hour},
		Subscriptions: CacheLimits{MaxSize: 200, TTL: 60 * time.Second},
	}
}

// Option mutates catalog configuration.
type Option func(*config)

type config struct {
	limits       Limits
	logger       *slog.Logger
	recorder     fpcache.Recorder
	archiver     Archiver
	location     *time.Location
	maxRetries   int
	initialDelay time.Duration
	onAttempt    func(attempt int, result retry.AttemptResult, elapsed time.Duration)
	currentPages int
	latestPages  int
	dailyPages   int
	archiveDays  int
	clock        func() time.Time
}

// WithLimits overrides cache sizes.
func WithLimits(limits Limits) Option {
	return func(cfg *config) {
		cfg.limits = limits
	}
}

// WithLogger sets the catalog logger, which the caches share.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithCacheRecorder reports cache activity to recorder.
func WithCacheRecorder(recorder fpcache.Recorder) Option {
	return func(cfg *config) {
		cfg.recorder = recorder
	}
}

// WithArchiver records every fetched listing.
func WithArchiver(archiver Archiver) Option {
	return func(cfg *config) {
		cfg.archiver = archiver
	}
}

// WithLocation sets the zone of day and hour cache generations.
func WithLocation(location *time.Location) Option {
	return func(cfg *config) {
		if location != nil {
			cfg.location = location
		}
	}
}

// WithRetry sets the attempt count and linear backoff unit of fetches.
func WithRetry(maxRetries int, initialDelay time.Duration) Option {
	return func(cfg *config) {
		if maxRetries > 0 {
			cfg.maxRetries = maxRetries
		}
		if initialDelay >= 0 {
			cfg.initialDelay = initialDelay
		}
	}
}

// WithAttemptObserver observes every fetch attempt.
func WithAttemptObserver(observer func(attempt int, result retry.AttemptResult, elapsed time.Duration)) Option {
	return func(cfg *config) {
		cfg.onAttempt = observer
	}
}

// WithPages overrides the page ceilings of current, latest and daily fetches.
func WithPages(current int, latest int, daily int) Option {
	return func(cfg *config) {
		if current > 0 {
			cfg.currentPages = current
		}
		if latest > 0 {
			cfg.latestPages = latest
		}
		if daily > 0 {
			cfg.dailyPages = daily
		}
	}
}

func withClock(clock func() time.Time) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Catalog serves cached, classified filings and subscriptions.
//
// It is safe for concurrent use; concurrent requests for the same listing
// share one fetch.
type Catalog struct {
	cfg           config
	fetcher       Fetcher
	classifier    npa.Classifier
	subscriptions SubscriptionSource

	filingCache       *fpcache.Cache[[]npa.Filing]
	archiveCache      *fpcache.Cache[[]npa.Filing]
	subscriptionCache *fpcache.Cache[[]npa.TopicTag]

	group singleflight.Group
}

// New creates a catalog with empty caches.
func New(fetcher Fetcher, classifier npa.Classifier, subscriptions SubscriptionSource, options ...Option) (*Catalog, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("new catalog: nil fetcher")
	}
	if classifier == nil {
		return nil, fmt.Errorf("new catalog: nil classifier")
	}
	if subscriptions == nil {
		return nil, fmt.Errorf("new catalog: nil subscription source")
	}

	cfg := config{
		limits:       DefaultLimits(),
		logger:       slog.Default(),
		location:     npa.PublicationZone,
		maxRetries:   retry.DefaultMaxRetries,
		initialDelay: retry.DefaultInitialDelay,
		currentPages: DefaultCurrentPages,
		latestPages:  DefaultLatestPages,
		dailyPages:   DefaultDailyPages,
		archiveDays:  DefaultArchiveDays,
		clock:        time.Now,
	}
	for _, option := range options {
		option(&cfg)
	}

	catalog := &Catalog{
		cfg:           cfg,
		fetcher:       fetcher,
		classifier:    classifier,
		subscriptions: subscriptions,
	}
	catalog.filingCache = fpcache.New[[]npa.Filing](catalog.cacheOptions("filings", cfg.limits.Filings)...)
	catalog.archiveCache = fpcache.New[[]npa.Filing](catalog.cacheOptions("archive", cfg.limits.Archive)...)
	catalog.subscriptionCache = fpcache.New[[]npa.TopicTag](catalog.cacheOptions("subscriptions", cfg.limits.Subscriptions)...)

	return catalog, nil
}

func (c *Catalog) cacheOptions(name string, limits CacheLimits) []fpcache.Option {
	return []fpcache.Option{
		fpcache.WithName(name),
		fpcache.WithMaxSize(limits.MaxSize),
		fpcache.WithTTL(limits.TTL),
		fpcache.WithLogger(c.cfg.logger),
		fpcache.WithRecorder(c.cfg.recorder),
		fpcache.WithClock(c.cfg.clock),
	}
}

// Current returns the full listing. Results are cached per hour.
//
// Returned slices are shared with the cache and must not be modified.
func (c *Catalog) Current(ctx context.Context) ([]npa.Filing, bool) {
	return c.listing(ctx, "current", c.hourBucket(), c.cfg.currentPages)
}

// Latest returns the first listing pages. Results are cached per hour.
func (c *Catalog) Latest(ctx context.Context) ([]npa.Filing, bool) {
	return c.listing(ctx, "latest", c.hourBucket(), c.cfg.latestPages)
}

// Daily returns the listing used to build the digest of day.
func (c *Catalog) Daily(ctx context.Context, day time.Time) ([]npa.Filing, bool) {
	return c.listing(ctx, "daily", day.In(c.cfg.location).Format(time.DateOnly), c.cfg.dailyPages)
}

// Archive returns topic filings dated within the archive window, newest first.
// The full listing is cached per day and every topic view per topic and day.
func (c *Catalog) Archive(ctx context.Context, topic npa.TopicTag) ([]npa.Filing, bool) {
	if !topic.Valid() {
		c.cfg.logger.WarnContext(ctx, "archive for unknown topic", "topic", string(topic))
		return nil, false
	}

	day := c.today()
	key := fpcache.MustFingerprint("archive", map[string]any{
		"topic": string(topic),
		"day":   day,
		"days":  c.cfg.archiveDays,
	})
	if cached, ok := c.archiveCache.Get(key); ok {
		return cached, true
	}

	all, ok := c.listing(ctx, "all", day, c.cfg.currentPages)
	if !ok {
		return nil, false
	}

	since := c.now().AddDate(0, 0, -c.cfg.archiveDays)
	filtered := make([]npa.Filing, 0)
	for _, filing := range all {
		if !filing.HasDate() || filing.EffectiveDate().Before(since) {
			continue
		}
		if filing.Topics.Has(topic) {
			filtered = append(filtered, filing)
		}
	}
	npa.SortNewestFirst(filtered)

	c.archiveCache.Set(key, filtered)
	c.cfg.logger.InfoContext(ctx, "archive cached",
		"topic", string(topic),
		"filings", len(filtered),
	)

	return filtered, true
}

// Subscriptions returns the user's topics. Store failures read as no topics
// and are not cached.
func (c *Catalog) Subscriptions(ctx context.Context, userID int64) []npa.TopicTag {
	key := subscriptionKey(userID)
	if cached, ok := c.subscriptionCache.Get(key); ok {
		return cached
	}

	topics, err := c.subscriptions.Subscriptions(ctx, userID)
	if err != nil {
		c.cfg.logger.ErrorContext(ctx, "load subscriptions failed",
			"user_id", userID,
			"error", err,
		)
		return nil
	}
	c.subscriptionCache.Set(key, topics)

	return topics
}

// InvalidateSubscriptions drops the cached topics of one user.
func (c *Catalog) InvalidateSubscriptions(userID int64) {
	c.subscriptionCache.Delete(subscriptionKey(userID))
}

// CacheStats describes every owned cache.
func (c *Catalog) CacheStats() []npa.CacheStats {
	snapshots := []fpcache.Stats{
		c.filingCache.Stats(),
		c.archiveCache.Stats(),
		c.subscriptionCache.Stats(),
	}

	stats := make([]npa.CacheStats, 0, len(snapshots))
	for _, snapshot := range snapshots {
		stats = append(stats, npa.CacheStats{
			Name:       snapshot.Name,
			Size:       snapshot.Size,
			MaxSize:    snapshot.MaxSize,
			TTL:        snapshot.TTL,
			SampleKeys: snapshot.SampleKeys,
		})
	}

	return stats
}

// Reset clears every owned cache.
func (c *Catalog) Reset() {
	c.filingCache.Clear()
	c.archiveCache.Clear()
	c.subscriptionCache.Clear()
}

func (c *Catalog) listing(ctx context.Context, scope string, bucket string, pages int) ([]npa.Filing, bool) {
	key := fpcache.MustFingerprint("filings", map[string]any{
		"scope":  scope,
		"bucket": bucket,
		"pages":  pages,
	})
	if cached, ok := c.filingCache.Get(key); ok {
		return cached, true
	}

	// The shared fetch runs detached from every caller and caches its result
	// when it lands. ctx only bounds how long this caller waits.
	fetchCtx := context.WithoutCancel(ctx)
	results := c.group.DoChan(key, func() (any, error) {
		if cached, ok := c.filingCache.Get(key); ok {
			return cached, nil
		}

		filings, ok := retry.FetchSlice(fetchCtx, func(ctx context.Context) ([]npa.Filing, error) {
			return c.fetcher.FetchAll(ctx, pages)
		}, retry.Config[[]npa.Filing]{
			MaxRetries:   c.cfg.maxRetries,
			InitialDelay: c.cfg.initialDelay,
			Name:         scope,
			Logger:       c.cfg.logger,
			OnAttempt:    c.cfg.onAttempt,
		})
		if !ok {
			return []npa.Filing(nil), nil
		}

		classified := c.classify(filings)
		c.filingCache.Set(key, classified)
		c.archive(fetchCtx, classified)
		c.cfg.logger.InfoContext(fetchCtx, "listing cached",
			"scope", scope,
			"bucket", bucket,
			"filings", len(classified),
		)

		return classified, nil
	})

	var result singleflight.Result
	select {
	case result = <-results:
	case <-ctx.Done():
		c.cfg.logger.WarnContext(ctx, "listing wait abandoned",
			"scope", scope,
			"bucket", bucket,
			"error", ctx.Err(),
		)
		return nil, false
	}

	filings, _ := result.Val.([]npa.Filing)
	if len(filings) == 0 {
		return nil, false
	}

	return filings, true
}

func (c *Catalog) classify(filings []npa.Filing) []npa.Filing {
	classified := make([]npa.Filing, len(filings))
	for index, filing := range filings {
		filing.Topics = c.classifier.Classify(filing.Title)
		classified[index] = filing
	}

	return classified
}

func (c *Catalog) archive(ctx context.Context, filings []npa.Filing) {
	if c.cfg.archiver == nil {
		return
	}
	if err := c.cfg.archiver.SaveFilings(ctx, filings); err != nil {
		c.cfg.logger.WarnContext(ctx, "save filings failed", "error", err)
	}
}

func (c *Catalog) now() time.Time {
	return c.cfg.clock().In(c.cfg.location)
}

func (c *Catalog) today() string {
	return c.now().Format(time.DateOnly)
}

func (c *Catalog) hourBucket() string {
	return c.now().Format(hourBucketLayout)
}

func subscriptionKey(userID int64) string {
	return fpcache.MustFingerprint("subscriptions", map[string]any{"user": userID})
}
