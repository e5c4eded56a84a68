package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"npa-monitor/internal/catalog"
	"npa-monitor/internal/classify"
	"npa-monitor/internal/driver/telegram"
	"npa-monitor/internal/kernel"
	"npa-monitor/internal/observe"
	"npa-monitor/internal/regulation"
	"npa-monitor/internal/store"
	"npa-monitor/modules/digest"
	"npa-monitor/modules/help"
	"npa-monitor/modules/menu"
	"npa-monitor/pkg/npa"
)

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func runBot(cfg appConfig) error {
	logger := newLogger(cfg.logLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, metrics, err := buildMetrics(logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown metrics provider failed", "error", err)
		}
	}()

	subscriptionStore, err := store.Open(ctx, cfg.storePath, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open subscription store: %w", err)
	}
	defer func() {
		if err := subscriptionStore.Close(); err != nil {
			logger.Error("close subscription store failed", "error", err)
		}
	}()

	subscriberGauge, err := observe.ObserveSubscribers(provider.Meter(), subscriptionStore)
	if err != nil {
		return fmt.Errorf("observe subscribers: %w", err)
	}
	defer func() {
		if err := subscriberGauge.Unregister(); err != nil {
			logger.Error("unregister subscriber gauge failed", "error", err)
		}
	}()

	filingCatalog, err := buildCatalog(logger, cfg, metrics, subscriptionStore)
	if err != nil {
		return err
	}

	kernelRuntime := buildKernelRuntime(logger, cfg)
	telegramDriver, sinkDispatcher, err := telegram.BuildRuntime(cfg.telegramConfig(), logger)
	if err != nil {
		return fmt.Errorf("build telegram runtime: %w", err)
	}
	if err := kernelRuntime.RegisterDriver(telegramDriver); err != nil {
		return fmt.Errorf("register driver %s: %w", telegramDriver.Name(), err)
	}
	if err := registerRuntimeServices(kernelRuntime, logger, sinkDispatcher, filingCatalog, subscriptionStore); err != nil {
		return err
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, logger, cfg, metrics); err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		defer cancelRun()
		if err := kernelRuntime.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run kernel: %w", err)
		}
		return nil
	})
	if cfg.metricsListen != "" {
		group.Go(func() error {
			return provider.Serve(groupCtx, cfg.metricsListen)
		})
	}

	return group.Wait()
}

func buildMetrics(logger *slog.Logger, cfg appConfig) (*observe.Provider, *observe.Metrics, error) {
	provider := observe.NewNoopProvider()
	if cfg.metricsListen != "" {
		prometheusProvider, err := observe.NewPrometheusProvider(logger)
		if err != nil {
			return nil, nil, fmt.Errorf("build metrics provider: %w", err)
		}
		provider = prometheusProvider
	}

	metrics, err := observe.NewMetrics(provider.Meter())
	if err != nil {
		return nil, nil, fmt.Errorf("build metrics: %w", err)
	}

	return provider, metrics, nil
}

func newRegulationClient(logger *slog.Logger, cfg appConfig, recorder regulation.Recorder) *regulation.Client {
	return regulation.NewClient(
		regulation.WithEndpoint(cfg.regulationEndpoint),
		regulation.WithPageSize(cfg.regulationPageSize),
		regulation.WithRequestTimeout(cfg.regulationRequestTimeout),
		regulation.WithUserAgent(cfg.regulationUserAgent),
		regulation.WithLogger(logger),
		regulation.WithRecorder(recorder),
	)
}

func buildCatalog(
	logger *slog.Logger,
	cfg appConfig,
	metrics *observe.Metrics,
	subscriptionStore *store.Store,
) (*catalog.Catalog, error) {
	filingCatalog, err := catalog.New(
		newRegulationClient(logger, cfg, metrics),
		classify.New(),
		subscriptionStore,
		catalog.WithLimits(cfg.cacheLimits),
		catalog.WithLogger(logger),
		catalog.WithCacheRecorder(metrics),
		catalog.WithArchiver(subscriptionStore),
		catalog.WithLocation(cfg.digestLocation),
		catalog.WithRetry(cfg.fetchMaxRetries, cfg.fetchInitialDelay),
		catalog.WithAttemptObserver(metrics.RecordFetchAttempt),
		catalog.WithPages(0, 0, cfg.digestMaxPages),
	)
	if err != nil {
		return nil, fmt.Errorf("build filing catalog: %w", err)
	}

	return filingCatalog, nil
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout),
	)
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	sinkDispatcher npa.SinkDispatcher,
	filingCatalog npa.FilingCatalog,
	subscriptionStore npa.SubscriptionStore,
) error {
	if sinkDispatcher == nil {
		return fmt.Errorf("register sink dispatcher service: nil dispatcher")
	}

	services := []struct {
		name    string
		service any
	}{
		{name: npa.ServiceLogger, service: logger},
		{name: npa.ServiceSinkDispatcher, service: sinkDispatcher},
		{name: npa.ServiceFilingCatalog, service: filingCatalog},
		{name: npa.ServiceSubscriptionStore, service: subscriptionStore},
	}
	for _, entry := range services {
		if err := kernelRuntime.RegisterService(entry.name, entry.service); err != nil {
			return fmt.Errorf("register service %s: %w", entry.name, err)
		}
	}

	return nil
}

func registerRuntimeModules(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	cfg appConfig,
	metrics *observe.Metrics,
) error {
	modules := []npa.Module{
		menu.New(
			menu.WithLogger(logger),
			menu.WithDeliveryRecorder(metrics),
			menu.WithLocation(cfg.digestLocation),
			menu.WithHandlerTimeout(cfg.fetchHandlerTimeout),
		),
		digest.New(
			digest.WithLogger(logger),
			digest.WithDeliveryRecorder(metrics),
			digest.WithSchedule(cfg.digestSchedule),
			digest.WithLocation(cfg.digestLocation),
			digest.WithSendInterval(cfg.digestSendInterval),
			digest.WithHandlerTimeout(cfg.fetchHandlerTimeout),
		),
		help.New(
			help.WithLogger(logger),
			help.WithDeliveryRecorder(metrics),
		),
	}
	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return nil
}
