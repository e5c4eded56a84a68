// Package observe exposes bot activity as OpenTelemetry metrics.
package observe

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"npa-monitor/internal/regulation"
	"npa-monitor/internal/retry"
	"npa-monitor/pkg/delivery"
	"npa-monitor/pkg/fpcache"
	"npa-monitor/pkg/npa"
)

// Metrics records cache, fetch and delivery activity.
//
// It satisfies fpcache.Recorder, regulation.Recorder and delivery.Recorder and
// is safe for concurrent use.
type Metrics struct {
	cacheRequests  metric.Int64Counter
	cacheEvictions metric.Int64Counter
	fetchAttempts  metric.Int64Counter
	fetchPages     metric.Int64Counter
	fetchDuration  metric.Float64Histogram
	deliveries     metric.Int64Counter
}

// NewMetrics registers every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, fmt.Errorf("new metrics: nil meter")
	}

	cacheRequests, err := meter.Int64Counter(
		"npa.cache.requests",
		metric.WithDescription("Cache lookups by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("new metrics: cache requests: %w", err)
	}

	cacheEvictions, err := meter.Int64Counter(
		"npa.cache.evictions",
		metric.WithDescription("Entries evicted by capacity pressure"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("new metrics: cache evictions: %w", err)
	}

	fetchAttempts, err := meter.Int64Counter(
		"npa.fetch.attempts",
		metric.WithDescription("Bulk fetch attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("new metrics: fetch attempts: %w", err)
	}

	fetchPages, err := meter.Int64Counter(
		"npa.fetch.pages",
		metric.WithDescription("Listing pages requested by outcome"),
		metric.WithUnit("{page}"),
	)
	if err != nil {
		return nil, fmt.Errorf("new metrics: fetch pages: %w", err)
	}

	fetchDuration, err := meter.Float64Histogram(
		"npa.fetch.duration_ms",
		metric.WithDescription("Bulk fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("new metrics: fetch duration: %w", err)
	}

	deliveries, err := meter.Int64Counter(
		"npa.digest.deliveries",
		metric.WithDescription("Outbound deliveries by outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("new metrics: deliveries: %w", err)
	}

	return &Metrics{
		cacheRequests:  cacheRequests,
		cacheEvictions: cacheEvictions,
		fetchAttempts:  fetchAttempts,
		fetchPages:     fetchPages,
		fetchDuration:  fetchDuration,
		deliveries:     deliveries,
	}, nil
}

// RecordCacheLookup counts one cache lookup.
func (m *Metrics) RecordCacheLookup(cache string, result fpcache.LookupResult) {
	m.cacheRequests.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.String("result", string(result)),
	))
}

// RecordCacheEviction counts one capacity eviction.
func (m *Metrics) RecordCacheEviction(cache string) {
	m.cacheEvictions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("cache", cache),
	))
}

// RecordFetchAttempt counts one orchestrated fetch attempt. Its signature
// matches retry.Config.OnAttempt.
func (m *Metrics) RecordFetchAttempt(_ int, result retry.AttemptResult, _ time.Duration) {
	m.fetchAttempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("result", string(result)),
	))
}

// RecordFetchPage counts one listing page request.
func (m *Metrics) RecordFetchPage(result regulation.PageResult) {
	m.fetchPages.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("result", string(result)),
	))
}

// RecordFetchDuration records the duration of one bulk fetch.
func (m *Metrics) RecordFetchDuration(elapsed time.Duration) {
	m.fetchDuration.Record(context.Background(), float64(elapsed.Milliseconds()))
}

// RecordDelivery counts one outbound delivery outcome.
func (m *Metrics) RecordDelivery(result delivery.Result) {
	m.deliveries.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("result", string(result)),
	))
}

// SubscriberSource lists the users subscribed to one topic.
type SubscriberSource interface {
	UsersByTopic(ctx context.Context, topic npa.TopicTag) ([]int64, error)
}

// ObserveSubscribers reports the subscriber count of every topic as a gauge
// read from source on each collection.
func ObserveSubscribers(meter metric.Meter, source SubscriberSource) (metric.Registration, error) {
	if meter == nil || source == nil {
		return nil, fmt.Errorf("observe subscribers: nil meter or source")
	}

	subscribers, err := meter.Int64ObservableGauge(
		"npa.subscribers",
		metric.WithDescription("Users subscribed per topic"),
		metric.WithUnit("{user}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observe subscribers: gauge: %w", err)
	}

	registration, err := meter.RegisterCallback(func(ctx context.Context, observer metric.Observer) error {
		for _, topic := range npa.AllTopics() {
			users, err := source.UsersByTopic(ctx, topic)
			if err != nil {
				return fmt.Errorf("observe subscribers of %s: %w", topic, err)
			}
			observer.ObserveInt64(subscribers, int64(len(users)), metric.WithAttributes(
				attribute.String("topic", string(topic)),
			))
		}

		return nil
	}, subscribers)
	if err != nil {
		return nil, fmt.Errorf("observe subscribers: register callback: %w", err)
	}

	return registration, nil
}
