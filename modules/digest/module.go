// Package digest sends the daily per-user digest of yesterday's filings and
// serves the /test_notify preview.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"npa-monitor/pkg/delivery"
	"npa-monitor/pkg/npa"
)

const (
	// DefaultSchedule runs the digest every day at 07:00.
	DefaultSchedule = "0 7 * * *"
	// DefaultSendInterval is the pause between two recipients.
	DefaultSendInterval = 500 * time.Millisecond
	// DefaultHandlerTimeout bounds one /test_notify preview.
	DefaultHandlerTimeout = 5 * time.Minute

	previewCommandName = "test_notify"
)

// Option mutates module configuration.
type Option func(*Module)

// WithLogger sets the module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithDeliveryRecorder reports digest delivery outcomes to recorder.
func WithDeliveryRecorder(recorder delivery.Recorder) Option {
	return func(module *Module) {
		module.recorder = recorder
	}
}

// WithSchedule sets the five-field cron expression of the daily run.
func WithSchedule(schedule string) Option {
	return func(module *Module) {
		if schedule != "" {
			module.schedule = schedule
		}
	}
}

// WithLocation sets the zone of the schedule and of "yesterday".
func WithLocation(location *time.Location) Option {
	return func(module *Module) {
		if location != nil {
			module.location = location
		}
	}
}

// WithSendInterval sets the pause between two recipients.
func WithSendInterval(interval time.Duration) Option {
	return func(module *Module) {
		if interval >= 0 {
			module.sendInterval = interval
		}
	}
}

// WithHandlerTimeout bounds one /test_notify preview.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(module *Module) {
		if timeout > 0 {
			module.handlerTimeout = timeout
		}
	}
}

func withClock(clock func() time.Time) Option {
	return func(module *Module) {
		if clock != nil {
			module.clock = clock
		}
	}
}

func withSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(module *Module) {
		if sleep != nil {
			module.sleep = sleep
		}
	}
}

// Module schedules the daily digest.
type Module struct {
	logger       *slog.Logger
	recorder     delivery.Recorder
	schedule     string
	location     *time.Location
	sendInterval time.Duration
	clock        func() time.Time
	sleep        func(context.Context, time.Duration) error

	handlerTimeout time.Duration

	presenter *delivery.Presenter
	catalog   npa.FilingCatalog
	store     npa.SubscriptionStore
	log       npa.NotificationLog

	mu      sync.Mutex
	cron    *cron.Cron
	stopRun context.CancelFunc
}

// New creates a digest module.
func New(options ...Option) *Module {
	module := &Module{
		logger:       slog.Default(),
		schedule:     DefaultSchedule,
		location:     npa.PublicationZone,
		sendInterval: DefaultSendInterval,
		clock:        time.Now,
		sleep:        sleepWithContext,

		handlerTimeout: DefaultHandlerTimeout,
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "digest"
}

// Spec declares the /test_notify preview command.
func (m *Module) Spec() npa.ModuleSpec {
	return npa.ModuleSpec{
		Handlers: []npa.ModuleHandler{
			{
				Capability: npa.Capability{
					Name:        "digest-preview",
					Description: "renders the caller's digest for yesterday on demand",
					Interest: npa.InterestSet{
						Kinds:          []npa.EventKind{npa.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{previewCommandName},
					},
					RequiredServices: []string{
						npa.ServiceSinkDispatcher,
						npa.ServiceFilingCatalog,
						npa.ServiceSubscriptionStore,
					},
				},
				Subscription: npa.SubscriptionSpec{
					Name:           "digest-preview",
					HandlerTimeout: m.handlerTimeout,
				},
				Handler:      m.handlePreview,
			},
		},
		Commands: []npa.CommandSpec{
			{
				Name:        previewCommandName,
				Description: "прислать дайджест за вчера сейчас",
			},
		},
	}
}

// OnRegister resolves dependencies and validates the schedule.
func (m *Module) OnRegister(_ context.Context, runtime npa.ModuleRuntime) error {
	if _, err := cron.ParseStandard(m.schedule); err != nil {
		return fmt.Errorf("digest parse schedule %q: %w", m.schedule, err)
	}
	dispatcher, err := npa.ResolveAs[npa.SinkDispatcher](runtime.Services(), npa.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("digest resolve outbound dispatcher: %w", err)
	}
	catalog, err := npa.ResolveAs[npa.FilingCatalog](runtime.Services(), npa.ServiceFilingCatalog)
	if err != nil {
		return fmt.Errorf("digest resolve filing catalog: %w", err)
	}
	store, err := npa.ResolveAs[npa.SubscriptionStore](runtime.Services(), npa.ServiceSubscriptionStore)
	if err != nil {
		return fmt.Errorf("digest resolve subscription store: %w", err)
	}

	m.presenter = delivery.NewPresenter(dispatcher,
		delivery.WithLogger(m.logger),
		delivery.WithRecorder(m.recorder),
	)
	m.catalog = catalog
	m.store = store
	if notificationLog, ok := store.(npa.NotificationLog); ok {
		m.log = notificationLog
	} else {
		m.logger.Warn("subscription store keeps no notification log, re-runs will resend digests")
	}

	return nil
}

// OnStart schedules the daily run.
func (m *Module) OnStart(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return fmt.Errorf("digest start: already started")
	}

	cronLog := cronLogger{logger: m.logger}
	scheduler := cron.New(
		cron.WithLocation(m.location),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	runCtx, stopRun := context.WithCancel(context.Background())
	if _, err := scheduler.AddFunc(m.schedule, func() {
		if _, err := m.run(runCtx); err != nil {
			m.logger.ErrorContext(runCtx, "digest run failed", "error", err)
		}
	}); err != nil {
		stopRun()
		return fmt.Errorf("digest schedule %q: %w", m.schedule, err)
	}
	scheduler.Start()

	m.cron = scheduler
	m.stopRun = stopRun

	entries := scheduler.Entries()
	if len(entries) > 0 {
		m.logger.Info("digest scheduled",
			"schedule", m.schedule,
			"location", m.location.String(),
			"next_run", entries[0].Next,
		)
	}

	return nil
}

// OnShutdown cancels a running digest and waits for it to stop.
func (m *Module) OnShutdown(ctx context.Context) error {
	m.mu.Lock()
	scheduler := m.cron
	stopRun := m.stopRun
	m.cron = nil
	m.stopRun = nil
	m.mu.Unlock()

	if scheduler == nil {
		return nil
	}

	stopRun()
	select {
	case <-scheduler.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("digest shutdown: %w", ctx.Err())
	}
}

func (m *Module) handlePreview(ctx context.Context, event *npa.Event) error {
	if event == nil || event.Command == nil || event.Command.Name != previewCommandName {
		return nil
	}
	if err := m.ready(); err != nil {
		return fmt.Errorf("digest handle preview: %w", err)
	}
	userID, err := strconv.ParseInt(event.Actor.ID, 10, 64)
	if err != nil || userID <= 0 {
		return fmt.Errorf("digest handle preview: invalid actor id %q", event.Actor.ID)
	}
	target, err := npa.SendTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("digest derive send target: %w", err)
	}

	if err := m.presenter.Present(ctx, target, delivery.PlainScreen("🔍 Проверяю проекты за вчера...", nil)); err != nil {
		return fmt.Errorf("digest present progress: %w", err)
	}

	topics := m.catalog.Subscriptions(ctx, userID)
	if len(topics) == 0 {
		return m.present(ctx, target, noSubscriptionsScreen())
	}

	day := m.yesterday()
	filings, ok := m.catalog.Daily(ctx, day)
	if !ok {
		return m.present(ctx, target, fetchFailedScreen())
	}

	role, err := m.store.UserRole(ctx, userID)
	if err != nil {
		m.logger.WarnContext(ctx, "load user role failed",
			"user_id", userID,
			"error", err,
		)
		role = npa.DefaultRole
	}
	matched := npa.FilterByTopics(classifiedOnDay(filings, day), topics)

	return m.present(ctx, target, render(role, day, topics, matched))
}

func (m *Module) present(ctx context.Context, target npa.SendTarget, screen delivery.Screen) error {
	ctx, cancel := delivery.ReplyContext(ctx, delivery.DefaultReplyTimeout)
	defer cancel()

	if err := m.presenter.Present(ctx, target, screen); err != nil {
		return fmt.Errorf("digest present to %s: %w", target.Destination().Conversation.ID, err)
	}

	return nil
}

func (m *Module) ready() error {
	if m.presenter == nil {
		return fmt.Errorf("outbound dispatcher not configured")
	}
	if m.catalog == nil {
		return fmt.Errorf("filing catalog not configured")
	}
	if m.store == nil {
		return fmt.Errorf("subscription store not configured")
	}

	return nil
}

func (m *Module) yesterday() time.Time {
	return m.clock().In(m.location).AddDate(0, 0, -1)
}

// cronLogger routes scheduler diagnostics into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron "+msg, append(keysAndValues, "error", err)...)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep with context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

var (
	_ npa.Module          = (*Module)(nil)
	_ npa.ModuleRegistrar = (*Module)(nil)
)
