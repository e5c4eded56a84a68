package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	meterName                = "npa-monitor"
	metricsShutdownTimeout   = 5 * time.Second
	metricsReadHeaderTimeout = 5 * time.Second
)

// Provider owns the meter provider and, when enabled, the Prometheus registry
// scraped over HTTP.
type Provider struct {
	meterProvider metric.MeterProvider
	sdkProvider   *sdkmetric.MeterProvider
	registry      *prometheus.Registry
	logger        *slog.Logger
}

// NewPrometheusProvider creates a provider exporting through a dedicated
// Prometheus registry.
func NewPrometheusProvider(logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("new prometheus provider: %w", err)
	}
	sdkProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	return &Provider{
		meterProvider: sdkProvider,
		sdkProvider:   sdkProvider,
		registry:      registry,
		logger:        logger,
	}, nil
}

// NewNoopProvider creates a provider whose instruments discard everything.
func NewNoopProvider() *Provider {
	return &Provider{
		meterProvider: noop.NewMeterProvider(),
		logger:        slog.Default(),
	}
}

// Meter returns the meter used for bot instruments.
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter(meterName)
}

// Handler serves the Prometheus text format. It is nil for noop providers.
func (p *Provider) Handler() http.Handler {
	if p.registry == nil {
		return nil
	}

	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (p *Provider) Serve(ctx context.Context, addr string) error {
	handler := p.Handler()
	if handler == nil {
		return fmt.Errorf("serve metrics: provider has no exporter")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	p.logger.Info("metrics endpoint listening", "addr", addr)

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		<-serveErr
		return nil
	}
}

// Shutdown flushes and stops the SDK provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdkProvider == nil {
		return nil
	}
	if err := p.sdkProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}

	return nil
}
