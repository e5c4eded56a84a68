// Package menu implements the interactive inline-keyboard menu: registration,
// topic subscriptions, filing lists, the archive and settings.
package menu

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"npa-monitor/pkg/delivery"
	"npa-monitor/pkg/npa"
)

const (
	// DefaultHandlerTimeout bounds one menu press, including listing fetches.
	DefaultHandlerTimeout = 5 * time.Minute

	startCommandName = "start"
)

// Callback data understood by the menu. Parameterized buttons append a topic
// or role code to the prefix.
const (
	dataCurrent       = "menu_current"
	dataSearch        = "menu_search"
	dataSubscriptions = "menu_subs"
	dataArchive       = "menu_archive"
	dataSettings      = "menu_settings"
	dataHelp          = "menu_help"
	dataLast          = "menu_last"
	dataRole          = "menu_role"
	dataBackToMain    = "back_to_main"
	dataClearCache    = "clear_cache"

	prefixArchive     = "archive_"
	prefixSubscribe   = "sub_"
	prefixUnsubscribe = "unsub_"
	prefixRole        = "role_"
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

// WithDeliveryRecorder reports screen delivery outcomes to recorder.
func WithDeliveryRecorder(recorder delivery.Recorder) Option {
	return func(module *Module) {
		module.recorder = recorder
	}
}

// WithLocation sets the zone that decides which calendar day is "yesterday".
func WithLocation(location *time.Location) Option {
	return func(module *Module) {
		if location != nil {
			module.location = location
		}
	}
}

// WithHandlerTimeout bounds one menu press.
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

// Module serves /start and every menu button.
type Module struct {
	logger         *slog.Logger
	recorder       delivery.Recorder
	location       *time.Location
	handlerTimeout time.Duration
	clock          func() time.Time

	presenter *delivery.Presenter
	catalog   npa.FilingCatalog
	store     npa.SubscriptionStore
}

// New creates a menu module.
func New(options ...Option) *Module {
	module := &Module{
		logger:         slog.Default(),
		location:       npa.PublicationZone,
		handlerTimeout: DefaultHandlerTimeout,
		clock:          time.Now,
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "menu"
}

// Spec declares the /start command and the menu callback handlers.
func (m *Module) Spec() npa.ModuleSpec {
	required := []string{
		npa.ServiceSinkDispatcher,
		npa.ServiceFilingCatalog,
		npa.ServiceSubscriptionStore,
	}

	return npa.ModuleSpec{
		Handlers: []npa.ModuleHandler{
			{
				Capability: npa.Capability{
					Name:        "menu-start",
					Description: "registers the user and shows the main menu",
					Interest: npa.InterestSet{
						Kinds:          []npa.EventKind{npa.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{startCommandName},
					},
					RequiredServices: required,
				},
				Subscription: npa.NewDefaultSubscriptionSpec("menu-start"),
				Handler:      m.handleStart,
			},
			{
				Capability: npa.Capability{
					Name:        "menu-buttons",
					Description: "renders menu screens for inline keyboard presses",
					Interest: npa.InterestSet{
						Kinds:           []npa.EventKind{npa.EventKindCallbackReceived},
						RequireCallback: true,
						CallbackPrefixes: []string{
							"menu_",
							dataBackToMain,
							dataClearCache,
							prefixArchive,
							prefixSubscribe,
							prefixUnsubscribe,
							prefixRole,
						},
					},
					RequiredServices: required,
				},
				Subscription: npa.SubscriptionSpec{
					Name:           "menu-buttons",
					HandlerTimeout: m.handlerTimeout,
				},
				Handler:      m.handleCallback,
			},
		},
		Commands: []npa.CommandSpec{
			{
				Name:        startCommandName,
				Description: "🚀 Запустить бота",
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime npa.ModuleRuntime) error {
	dispatcher, err := npa.ResolveAs[npa.SinkDispatcher](runtime.Services(), npa.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("menu resolve outbound dispatcher: %w", err)
	}
	catalog, err := npa.ResolveAs[npa.FilingCatalog](runtime.Services(), npa.ServiceFilingCatalog)
	if err != nil {
		return fmt.Errorf("menu resolve filing catalog: %w", err)
	}
	store, err := npa.ResolveAs[npa.SubscriptionStore](runtime.Services(), npa.ServiceSubscriptionStore)
	if err != nil {
		return fmt.Errorf("menu resolve subscription store: %w", err)
	}

	m.presenter = delivery.NewPresenter(dispatcher,
		delivery.WithLogger(m.logger),
		delivery.WithRecorder(m.recorder),
	)
	m.catalog = catalog
	m.store = store

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleStart(ctx context.Context, event *npa.Event) error {
	if event == nil || event.Command == nil || event.Command.Name != startCommandName {
		return nil
	}
	if err := m.ready(); err != nil {
		return fmt.Errorf("menu handle start: %w", err)
	}
	userID, err := actorUserID(event)
	if err != nil {
		return fmt.Errorf("menu handle start: %w", err)
	}
	target, err := npa.SendTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("menu derive send target: %w", err)
	}

	firstName := strings.TrimSpace(event.Actor.DisplayName)
	if err := m.store.AddUser(ctx, npa.User{
		ID:        userID,
		Username:  event.Actor.Username,
		FirstName: firstName,
		Role:      npa.DefaultRole,
		PeerToken: event.Actor.PeerToken,
	}); err != nil {
		m.logger.ErrorContext(ctx, "register user failed",
			"user_id", userID,
			"error", err,
		)
	} else {
		m.logger.InfoContext(ctx, "user registered",
			"user_id", userID,
			"username", event.Actor.Username,
		)
	}
	m.catalog.InvalidateSubscriptions(userID)

	return m.present(ctx, target, welcomeScreen(firstName))
}

func (m *Module) handleCallback(ctx context.Context, event *npa.Event) error {
	if event == nil || event.Callback == nil {
		return nil
	}
	if err := m.ready(); err != nil {
		return fmt.Errorf("menu handle callback: %w", err)
	}
	userID, err := actorUserID(event)
	if err != nil {
		return fmt.Errorf("menu handle callback: %w", err)
	}
	target, err := npa.SendTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("menu derive send target: %w", err)
	}

	data := event.Callback.Data
	m.logger.InfoContext(ctx, "menu button pressed",
		"user_id", userID,
		"data", data,
	)

	screen, ok := m.route(ctx, &target, userID, data)
	if !ok {
		query, isQuery := target.(npa.CallbackQuery)
		if !isQuery {
			return nil
		}
		if err := m.presenter.Notify(ctx, query, "Неизвестная кнопка"); err != nil {
			return fmt.Errorf("menu answer unknown button %q: %w", data, err)
		}
		return nil
	}

	return m.present(ctx, target, screen)
}

// route renders the screen for one button. Slow screens replace target with
// an already-answered query after showing a loading notice.
func (m *Module) route(ctx context.Context, target *npa.SendTarget, userID int64, data string) (delivery.Screen, bool) {
	switch data {
	case dataCurrent:
		return m.currentScreen(ctx, target, userID), true
	case dataSearch:
		return searchScreen(), true
	case dataSubscriptions:
		return subscriptionsScreen(m.catalog.Subscriptions(ctx, userID)), true
	case dataArchive:
		return archiveTopicsScreen(), true
	case dataSettings:
		return settingsScreen(m.userRole(ctx, userID), m.catalog.CacheStats()), true
	case dataHelp:
		return helpScreen(), true
	case dataLast:
		return m.lastScreen(ctx, target), true
	case dataRole:
		return roleScreen(m.userRole(ctx, userID)), true
	case dataBackToMain:
		return mainMenuScreen(), true
	case dataClearCache:
		m.catalog.Reset()
		m.logger.InfoContext(ctx, "caches cleared", "user_id", userID)
		return cacheClearedScreen(), true
	}

	switch {
	case strings.HasPrefix(data, prefixArchive):
		topic, err := npa.ParseTopic(strings.TrimPrefix(data, prefixArchive))
		if err != nil {
			return delivery.Screen{}, false
		}
		return m.archiveScreen(ctx, target, topic), true
	case strings.HasPrefix(data, prefixSubscribe):
		return m.subscribe(ctx, userID, strings.TrimPrefix(data, prefixSubscribe)), true
	case strings.HasPrefix(data, prefixUnsubscribe):
		return m.unsubscribe(ctx, userID, strings.TrimPrefix(data, prefixUnsubscribe)), true
	case strings.HasPrefix(data, prefixRole):
		return m.changeRole(ctx, userID, strings.TrimPrefix(data, prefixRole)), true
	default:
		return delivery.Screen{}, false
	}
}

func (m *Module) currentScreen(ctx context.Context, target *npa.SendTarget, userID int64) delivery.Screen {
	topics := m.catalog.Subscriptions(ctx, userID)
	if len(topics) == 0 {
		return noSubscriptionsScreen()
	}

	m.showLoading(ctx, target, "🔍 Загружаю проекты по вашим подпискам...")
	filings, ok := m.catalog.Current(ctx)
	if !ok {
		return fetchFailedScreen(dataBackToMain, "◀️ Назад в меню")
	}

	return currentScreen(npa.FilterByTopics(filings, topics))
}

func (m *Module) lastScreen(ctx context.Context, target *npa.SendTarget) delivery.Screen {
	m.showLoading(ctx, target, "🔍 Загружаю последние проекты...")
	filings, ok := m.catalog.Latest(ctx)
	if !ok {
		return fetchFailedScreen(dataBackToMain, "◀️ Назад в меню")
	}

	return lastScreen(npa.FilterOnDay(filings, m.yesterday()))
}

func (m *Module) archiveScreen(ctx context.Context, target *npa.SendTarget, topic npa.TopicTag) delivery.Screen {
	m.showLoading(ctx, target, fmt.Sprintf("🔍 Загружаю архив проектов по теме %s...", topic.ShortLabel()))
	filings, ok := m.catalog.Archive(ctx, topic)
	if !ok {
		return fetchFailedScreen(dataArchive, "◀️ Назад к темам")
	}

	return archiveScreen(topic, filings, m.now())
}

func (m *Module) subscribe(ctx context.Context, userID int64, code string) delivery.Screen {
	topic, err := npa.ParseTopic(code)
	if err == nil {
		var added bool
		added, err = m.store.Subscribe(ctx, userID, topic)
		if err == nil && added {
			m.catalog.InvalidateSubscriptions(userID)
			m.logger.InfoContext(ctx, "user subscribed",
				"user_id", userID,
				"topic", string(topic),
			)
			return subscribedScreen(topic)
		}
	}
	if err != nil {
		m.logger.WarnContext(ctx, "subscribe failed",
			"user_id", userID,
			"topic", code,
			"error", err,
		)
	}

	return subscribeFailedScreen()
}

func (m *Module) unsubscribe(ctx context.Context, userID int64, code string) delivery.Screen {
	topic, err := npa.ParseTopic(code)
	if err == nil {
		var removed bool
		removed, err = m.store.Unsubscribe(ctx, userID, topic)
		if err == nil && removed {
			m.catalog.InvalidateSubscriptions(userID)
			m.logger.InfoContext(ctx, "user unsubscribed",
				"user_id", userID,
				"topic", string(topic),
			)
			return unsubscribedScreen(topic)
		}
	}
	if err != nil {
		m.logger.WarnContext(ctx, "unsubscribe failed",
			"user_id", userID,
			"topic", code,
			"error", err,
		)
	}

	return unsubscribeFailedScreen()
}

func (m *Module) changeRole(ctx context.Context, userID int64, code string) delivery.Screen {
	role, err := npa.ParseRole(code)
	if err == nil {
		var changed bool
		changed, err = m.store.SetUserRole(ctx, userID, role)
		if err == nil && changed {
			m.logger.InfoContext(ctx, "user role changed",
				"user_id", userID,
				"role", string(role),
			)
			return roleChangedScreen(role)
		}
	}
	if err != nil {
		m.logger.WarnContext(ctx, "change role failed",
			"user_id", userID,
			"role", code,
			"error", err,
		)
	}

	return roleFailedScreen()
}

func (m *Module) userRole(ctx context.Context, userID int64) npa.Role {
	role, err := m.store.UserRole(ctx, userID)
	if err != nil {
		m.logger.WarnContext(ctx, "load user role failed",
			"user_id", userID,
			"error", err,
		)
		return npa.DefaultRole
	}

	return role
}

// showLoading edits the pressed message into a notice and swaps target for an
// answered query so the final screen does not answer the press twice.
func (m *Module) showLoading(ctx context.Context, target *npa.SendTarget, notice string) {
	query, ok := (*target).(npa.CallbackQuery)
	if !ok || query.QueryID == "" {
		return
	}
	if err := m.presenter.Present(ctx, query, delivery.PlainScreen(notice, nil)); err != nil {
		m.logger.WarnContext(ctx, "show loading notice failed",
			"message_id", query.MessageID,
			"error", err,
		)
		return
	}

	query.QueryID = ""
	*target = query
}

// present delivers screen on a fresh bounded context when ctx has expired
// during a slow fetch.
func (m *Module) present(ctx context.Context, target npa.SendTarget, screen delivery.Screen) error {
	ctx, cancel := delivery.ReplyContext(ctx, delivery.DefaultReplyTimeout)
	defer cancel()

	if err := m.presenter.Present(ctx, target, screen); err != nil {
		return fmt.Errorf("menu present to %s: %w", target.Destination().Conversation.ID, err)
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

func (m *Module) now() time.Time {
	return m.clock().In(m.location)
}

func (m *Module) yesterday() time.Time {
	return m.now().AddDate(0, 0, -1)
}

func actorUserID(event *npa.Event) (int64, error) {
	userID, err := strconv.ParseInt(event.Actor.ID, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("invalid actor id %q", event.Actor.ID)
	}

	return userID, nil
}

var (
	_ npa.Module          = (*Module)(nil)
	_ npa.ModuleRegistrar = (*Module)(nil)
)
