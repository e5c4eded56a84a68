package menu

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"npa-monitor/pkg/delivery"
	"npa-monitor/pkg/npa"
)

var testNow = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

func TestModuleHandleStart(t *testing.T) {
	t.Parallel()

	dispatcher := &captureDispatcher{}
	catalog := &stubCatalog{}
	store := &stubStore{}
	module := newTestModule(dispatcher, catalog, store)

	event := newCommandEvent("/start")
	if err := module.handleStart(context.Background(), event); err != nil {
		t.Fatalf("handleStart() error = %v", err)
	}

	if len(store.added) != 1 {
		t.Fatalf("added users = %d, want 1", len(store.added))
	}
	user := store.added[0]
	if user.ID != 42 || user.Role != npa.RoleAnalyst || user.PeerToken != "user:42:777" || user.FirstName != "Анна" {
		t.Fatalf("added user = %+v", user)
	}
	if len(catalog.invalidated) != 1 || catalog.invalidated[0] != 42 {
		t.Fatalf("invalidated = %v, want [42]", catalog.invalidated)
	}
	if len(dispatcher.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(dispatcher.sent))
	}
	sent := dispatcher.sent[0]
	if !strings.Contains(sent.Text, "Привет, Анна!") {
		t.Fatalf("text = %q, want greeting", sent.Text)
	}
	if sent.Keyboard == nil || len(sent.Keyboard.Rows) != 7 {
		t.Fatalf("keyboard = %+v, want main menu", sent.Keyboard)
	}
}

func TestModuleHandleStartSurvivesStoreFailure(t *testing.T) {
	t.Parallel()

	dispatcher := &captureDispatcher{}
	module := newTestModule(dispatcher, &stubCatalog{}, &stubStore{addErr: errors.New("disk full")})

	if err := module.handleStart(context.Background(), newCommandEvent("/start")); err != nil {
		t.Fatalf("handleStart() error = %v", err)
	}
	if len(dispatcher.sent) != 1 {
		t.Fatalf("sent = %d, want menu despite store failure", len(dispatcher.sent))
	}
}

func TestModuleHandleCallback(t *testing.T) {
	yesterday := testNow.AddDate(0, 0, -1)
	kedo := npa.Filing{
		ID:              "1001",
		Title:           "О кадровом электронном документообороте",
		Department:      "Минтруд России",
		PublicationDate: yesterday,
		Topics:          npa.NewTopicSet(npa.TopicKEDO),
	}
	ofd := npa.Filing{
		ID:              "1002",
		Title:           "Об операторах фискальных данных",
		Department:      "ФНС России",
		PublicationDate: testNow.AddDate(0, 0, -5),
		Topics:          npa.NewTopicSet(npa.TopicOFD),
	}
	archive := make([]npa.Filing, 0, 31)
	for index := 0; index < 31; index++ {
		filing := kedo
		filing.ID = "a" + strings.Repeat("1", index+1)
		archive = append(archive, filing)
	}

	tests := []struct {
		name            string
		data            string
		catalog         *stubCatalog
		store           *stubStore
		wantContains    []string
		wantMissing     []string
		wantEdits       int
		wantToast       string
		wantInvalidated int
		wantReset       bool
		wantRole        npa.Role
	}{
		{
			name:         "back to main shows menu",
			data:         dataBackToMain,
			catalog:      &stubCatalog{},
			store:        &stubStore{},
			wantContains: []string{"Выберите пункт меню:"},
			wantEdits:    1,
		},
		{
			name:         "current without subscriptions offers subscribing",
			data:         dataCurrent,
			catalog:      &stubCatalog{},
			store:        &stubStore{},
			wantContains: []string{"У вас нет активных подписок"},
			wantEdits:    1,
		},
		{
			name: "current filters by subscriptions",
			data: dataCurrent,
			catalog: &stubCatalog{
				topics:  []npa.TopicTag{npa.TopicKEDO},
				current: []npa.Filing{kedo, ofd},
				ok:      true,
			},
			store:        &stubStore{},
			wantContains: []string{"Загружаю проекты", "Текущие проекты", "Минтруд России", "npa=1001"},
			wantMissing:  []string{"ФНС России"},
			wantEdits:    2,
		},
		{
			name: "current fetch failure apologizes",
			data: dataCurrent,
			catalog: &stubCatalog{
				topics: []npa.TopicTag{npa.TopicKEDO},
			},
			store:        &stubStore{},
			wantContains: []string{"Не удалось загрузить проекты", "Попробуйте позже"},
			wantEdits:    2,
		},
		{
			name:         "last keeps yesterday only",
			data:         dataLast,
			catalog:      &stubCatalog{latest: []npa.Filing{kedo, ofd}, ok: true},
			store:        &stubStore{},
			wantContains: []string{"Последние проекты", "npa=1001"},
			wantMissing:  []string{"npa=1002"},
			wantEdits:    2,
		},
		{
			name:         "archive caps the list",
			data:         "archive_kedo",
			catalog:      &stubCatalog{archive: archive, ok: true},
			store:        &stubStore{},
			wantContains: []string{"Архив 👥 КЭДО за 30 дней", "Найдено проектов: 31", "... и еще 1 проектов", "13.02.2025 - 15.03.2025"},
			wantEdits:    2,
		},
		{
			name:         "empty archive",
			data:         "archive_ofd",
			catalog:      &stubCatalog{ok: true},
			store:        &stubStore{},
			wantContains: []string{"Нет проектов по теме 🧾 ОФД"},
			wantEdits:    2,
		},
		{
			name:            "subscribe invalidates cached topics",
			data:            "sub_kedo",
			catalog:         &stubCatalog{},
			store:           &stubStore{subscribeResult: true},
			wantContains:    []string{"Вы подписались на тему 👥 КЭДО"},
			wantEdits:       1,
			wantToast:       "Подписка оформлена",
			wantInvalidated: 1,
		},
		{
			name:         "repeated subscribe fails softly",
			data:         "sub_kedo",
			catalog:      &stubCatalog{},
			store:        &stubStore{},
			wantContains: []string{"Ошибка подписки"},
			wantEdits:    1,
		},
		{
			name:         "unknown topic subscribe fails softly",
			data:         "sub_crypto",
			catalog:      &stubCatalog{},
			store:        &stubStore{subscribeResult: true},
			wantContains: []string{"Ошибка подписки"},
			wantEdits:    1,
		},
		{
			name:            "unsubscribe",
			data:            "unsub_ofd",
			catalog:         &stubCatalog{},
			store:           &stubStore{unsubscribeResult: true},
			wantContains:    []string{"Вы отписались от темы 🧾 ОФД"},
			wantEdits:       1,
			wantToast:       "Подписка отменена",
			wantInvalidated: 1,
		},
		{
			name:         "subscriptions list unsubscribe buttons",
			data:         dataSubscriptions,
			catalog:      &stubCatalog{topics: []npa.TopicTag{npa.TopicEP}},
			store:        &stubStore{},
			wantContains: []string{"Ваши подписки:", "• ✍️ ЭП"},
			wantEdits:    1,
		},
		{
			name: "settings show role and cache stats",
			data: dataSettings,
			catalog: &stubCatalog{stats: []npa.CacheStats{
				{Name: "filings", Size: 3, MaxSize: 50},
				{Name: "subscriptions", Size: 1, MaxSize: 200},
			}},
			store:        &stubStore{role: npa.RoleLawyer},
			wantContains: []string{"⚖️ Юрист", "Проекты: 3/50", "Подписки: 1/200"},
			wantEdits:    1,
		},
		{
			name:         "clear cache resets catalog",
			data:         dataClearCache,
			catalog:      &stubCatalog{},
			store:        &stubStore{},
			wantContains: []string{"Кеш успешно очищен"},
			wantEdits:    1,
			wantToast:    "Кеш очищен",
			wantReset:    true,
		},
		{
			name:         "role change",
			data:         "role_product",
			catalog:      &stubCatalog{},
			store:        &stubStore{setRoleResult: true},
			wantContains: []string{"Роль изменена", "📈 Product-менеджер"},
			wantEdits:    1,
			wantToast:    "Роль изменена",
			wantRole:     npa.RoleProduct,
		},
		{
			name:         "role change for unknown user",
			data:         "role_lawyer",
			catalog:      &stubCatalog{},
			store:        &stubStore{},
			wantContains: []string{"Не удалось сменить роль"},
			wantEdits:    1,
			wantRole:     npa.RoleLawyer,
		},
		{
			name:         "help lists topics",
			data:         dataHelp,
			catalog:      &stubCatalog{},
			store:        &stubStore{},
			wantContains: []string{"СПРАВКА", "🌐 Экосистема / 152-ФЗ", "Discussion - 💬 Обсуждение"},
			wantEdits:    1,
		},
		{
			name:      "unknown button only answers",
			data:      "menu_bogus",
			catalog:   &stubCatalog{},
			store:     &stubStore{},
			wantEdits: 0,
			wantToast: "Неизвестная кнопка",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			dispatcher := &captureDispatcher{}
			module := newTestModule(dispatcher, testCase.catalog, testCase.store)

			if err := module.handleCallback(context.Background(), newCallbackEvent(testCase.data)); err != nil {
				t.Fatalf("handleCallback() error = %v", err)
			}

			if len(dispatcher.edits) != testCase.wantEdits {
				t.Fatalf("edits = %d, want %d", len(dispatcher.edits), testCase.wantEdits)
			}
			if len(dispatcher.answers) != 1 {
				t.Fatalf("answers = %d, want 1", len(dispatcher.answers))
			}
			if dispatcher.answers[0].Text != testCase.wantToast {
				t.Fatalf("toast = %q, want %q", dispatcher.answers[0].Text, testCase.wantToast)
			}

			rendered := dispatcher.allText()
			for _, want := range testCase.wantContains {
				if !strings.Contains(rendered, want) {
					t.Fatalf("rendered = %q, missing %q", rendered, want)
				}
			}
			for _, unwanted := range testCase.wantMissing {
				if strings.Contains(rendered, unwanted) {
					t.Fatalf("rendered = %q, unexpected %q", rendered, unwanted)
				}
			}
			if len(testCase.catalog.invalidated) != testCase.wantInvalidated {
				t.Fatalf("invalidated = %v, want %d entries", testCase.catalog.invalidated, testCase.wantInvalidated)
			}
			if testCase.catalog.reset != testCase.wantReset {
				t.Fatalf("reset = %v, want %v", testCase.catalog.reset, testCase.wantReset)
			}
			if testCase.store.roleSet != testCase.wantRole {
				t.Fatalf("role set = %q, want %q", testCase.store.roleSet, testCase.wantRole)
			}
		})
	}
}

func TestModuleOnRegister(t *testing.T) {
	tests := []struct {
		name             string
		services         map[string]any
		wantErrSubstring string
	}{
		{
			name: "resolve dependencies succeeds",
			services: map[string]any{
				npa.ServiceSinkDispatcher:    &captureDispatcher{},
				npa.ServiceFilingCatalog:     &stubCatalog{},
				npa.ServiceSubscriptionStore: &stubStore{},
			},
		},
		{
			name: "missing dispatcher fails",
			services: map[string]any{
				npa.ServiceFilingCatalog:     &stubCatalog{},
				npa.ServiceSubscriptionStore: &stubStore{},
			},
			wantErrSubstring: "menu resolve outbound dispatcher",
		},
		{
			name: "missing catalog fails",
			services: map[string]any{
				npa.ServiceSinkDispatcher:    &captureDispatcher{},
				npa.ServiceSubscriptionStore: &stubStore{},
			},
			wantErrSubstring: "menu resolve filing catalog",
		},
		{
			name: "wrong store type fails",
			services: map[string]any{
				npa.ServiceSinkDispatcher:    &captureDispatcher{},
				npa.ServiceFilingCatalog:     &stubCatalog{},
				npa.ServiceSubscriptionStore: "sqlite",
			},
			wantErrSubstring: "menu resolve subscription store",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			module := New()
			err := module.OnRegister(context.Background(), moduleRuntimeStub{
				registry: serviceRegistryStub{values: testCase.services},
			})
			if testCase.wantErrSubstring == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstring) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
			}
		})
	}
}

func TestModuleSpecRoutesMenuCallbacks(t *testing.T) {
	t.Parallel()

	spec := New().Spec()
	if len(spec.Handlers) != 2 {
		t.Fatalf("handler count = %d, want 2", len(spec.Handlers))
	}
	if len(spec.Commands) != 1 || spec.Commands[0].Name != startCommandName {
		t.Fatalf("commands = %+v, want [start]", spec.Commands)
	}

	callbacks := spec.Handlers[1].Capability.Interest
	for _, data := range []string{dataCurrent, dataBackToMain, dataClearCache, "archive_kedo", "sub_ep", "unsub_ep", "role_lawyer"} {
		if !callbacks.Matches(newCallbackEvent(data)) {
			t.Fatalf("callback %q not routed to menu", data)
		}
	}
	if callbacks.Matches(newCallbackEvent("digest_preview")) {
		t.Fatal("foreign callback routed to menu")
	}
}

func TestModuleRepliesAfterHandlerDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := &captureDispatcher{rejectExpired: true}
	catalog := &stubCatalog{
		topics:  []npa.TopicTag{npa.TopicKEDO},
		onFetch: cancel,
	}
	module := newTestModule(dispatcher, catalog, &stubStore{})

	if err := module.handleCallback(ctx, newCallbackEvent(dataCurrent)); err != nil {
		t.Fatalf("handleCallback() error = %v", err)
	}
	if len(dispatcher.edits) != 2 {
		t.Fatalf("edits = %d, want loading notice and failure screen", len(dispatcher.edits))
	}
	if got := dispatcher.edits[1].Text; !strings.Contains(got, "Попробуйте позже") {
		t.Fatalf("final text = %q, want failure screen", got)
	}
}

func TestModuleSpecHandlerTimeouts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		options []Option
		want    time.Duration
	}{
		{name: "default", want: DefaultHandlerTimeout},
		{name: "override", options: []Option{WithHandlerTimeout(time.Minute)}, want: time.Minute},
		{name: "non-positive keeps default", options: []Option{WithHandlerTimeout(0)}, want: DefaultHandlerTimeout},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			spec := New(testCase.options...).Spec()
			if got := spec.Handlers[1].Subscription.HandlerTimeout; got != testCase.want {
				t.Fatalf("menu-buttons timeout = %s, want %s", got, testCase.want)
			}
			if got := spec.Handlers[0].Subscription.HandlerTimeout; got != 0 {
				t.Fatalf("menu-start timeout = %s, want kernel default", got)
			}
		})
	}
}

func TestTopicKeyboardLayout(t *testing.T) {
	t.Parallel()

	layout := topicKeyboard(prefixSubscribe)
	if len(layout.Rows) != 5 {
		t.Fatalf("rows = %d, want 4 topic rows and a back row", len(layout.Rows))
	}
	if got := layout.Rows[0][1].Data; got != "sub_mchd" {
		t.Fatalf("row 0 button 1 data = %q, want sub_mchd", got)
	}
	if err := layout.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func newTestModule(dispatcher npa.SinkDispatcher, catalog *stubCatalog, store *stubStore) *Module {
	module := New(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithLocation(time.UTC),
		withClock(func() time.Time { return testNow }),
	)
	module.presenter = delivery.NewPresenter(dispatcher, delivery.WithLogger(module.logger))
	module.catalog = catalog
	module.store = store

	return module
}

func newCommandEvent(text string) *npa.Event {
	candidate, matched, err := npa.ParseCommandCandidate(text)
	if err != nil || !matched {
		panic("newCommandEvent expects command text")
	}

	event := newBaseEvent(npa.EventKindCommandReceived)
	event.Message = &npa.Message{ID: "10", Text: text}
	event.Command = &npa.CommandInvocation{
		Name:            candidate.Name,
		SourceEventID:   "source-event-1",
		SourceEventKind: npa.EventKindMessageCreated,
		RawInput:        text,
	}

	return event
}

func newCallbackEvent(data string) *npa.Event {
	event := newBaseEvent(npa.EventKindCallbackReceived)
	event.Callback = &npa.Callback{QueryID: "q-1", MessageID: "77", Data: data}

	return event
}

func newBaseEvent(kind npa.EventKind) *npa.Event {
	return &npa.Event{
		ID:         "event-1",
		Kind:       kind,
		OccurredAt: testNow,
		Platform:   npa.PlatformTelegram,
		Conversation: npa.Conversation{
			ID:   "42",
			Type: npa.ConversationTypePrivate,
		},
		Actor: npa.Actor{
			ID:          "42",
			Username:    "anna",
			DisplayName: "Анна",
			PeerToken:   "user:42:777",
		},
	}
}

type captureDispatcher struct {
	mu      sync.Mutex
	sent    []npa.SendMessageRequest
	edits   []npa.EditMessageRequest
	answers []npa.AnswerCallbackRequest
	// rejectExpired fails outbound calls made on a done context.
	rejectExpired bool
}

func (d *captureDispatcher) SendMessage(ctx context.Context, request npa.SendMessageRequest) (*npa.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rejectExpired && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	d.sent = append(d.sent, request)

	return &npa.OutboundMessage{ID: "sent", Target: request.Target}, nil
}

func (d *captureDispatcher) EditMessage(ctx context.Context, request npa.EditMessageRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rejectExpired && ctx.Err() != nil {
		return ctx.Err()
	}
	d.edits = append(d.edits, request)

	return nil
}

func (d *captureDispatcher) AnswerCallback(_ context.Context, request npa.AnswerCallbackRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.answers = append(d.answers, request)

	return nil
}

func (d *captureDispatcher) allText() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	parts := make([]string, 0, len(d.edits)+len(d.sent))
	for _, edit := range d.edits {
		parts = append(parts, edit.Text)
	}
	for _, sent := range d.sent {
		parts = append(parts, sent.Text)
	}

	return strings.Join(parts, "\n")
}

type stubCatalog struct {
	mu          sync.Mutex
	topics      []npa.TopicTag
	current     []npa.Filing
	latest      []npa.Filing
	archive     []npa.Filing
	ok          bool
	stats       []npa.CacheStats
	invalidated []int64
	reset       bool
	onFetch     func()
}

func (c *stubCatalog) Current(context.Context) ([]npa.Filing, bool) {
	if c.onFetch != nil {
		c.onFetch()
	}

	return c.current, c.ok
}

func (c *stubCatalog) Latest(context.Context) ([]npa.Filing, bool) {
	return c.latest, c.ok
}

func (c *stubCatalog) Daily(context.Context, time.Time) ([]npa.Filing, bool) {
	return c.current, c.ok
}

func (c *stubCatalog) Archive(context.Context, npa.TopicTag) ([]npa.Filing, bool) {
	return c.archive, c.ok
}

func (c *stubCatalog) Subscriptions(context.Context, int64) []npa.TopicTag {
	return c.topics
}

func (c *stubCatalog) InvalidateSubscriptions(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidated = append(c.invalidated, userID)
}

func (c *stubCatalog) CacheStats() []npa.CacheStats {
	return c.stats
}

func (c *stubCatalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset = true
}

type stubStore struct {
	mu                sync.Mutex
	addErr            error
	added             []npa.User
	subscribeResult   bool
	unsubscribeResult bool
	setRoleResult     bool
	role              npa.Role
	roleSet           npa.Role
}

func (s *stubStore) AddUser(_ context.Context, user npa.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.addErr != nil {
		return s.addErr
	}
	s.added = append(s.added, user)

	return nil
}

func (s *stubStore) Subscriptions(context.Context, int64) ([]npa.TopicTag, error) {
	return nil, nil
}

func (s *stubStore) Subscribe(context.Context, int64, npa.TopicTag) (bool, error) {
	return s.subscribeResult, nil
}

func (s *stubStore) Unsubscribe(context.Context, int64, npa.TopicTag) (bool, error) {
	return s.unsubscribeResult, nil
}

func (s *stubStore) Users(context.Context) ([]npa.User, error) {
	return nil, nil
}

func (s *stubStore) UserRole(context.Context, int64) (npa.Role, error) {
	if s.role == "" {
		return npa.DefaultRole, nil
	}

	return s.role, nil
}

func (s *stubStore) SetUserRole(_ context.Context, _ int64, role npa.Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roleSet = role

	return s.setRoleResult, nil
}

type moduleRuntimeStub struct {
	registry npa.ServiceRegistry
}

func (s moduleRuntimeStub) Services() npa.ServiceRegistry {
	return s.registry
}

func (moduleRuntimeStub) Subscribe(
	context.Context,
	npa.InterestSet,
	npa.SubscriptionSpec,
	npa.EventHandler,
) (npa.Subscription, error) {
	return nil, nil
}

type serviceRegistryStub struct {
	values map[string]any
}

func (s serviceRegistryStub) Register(string, any) error {
	return nil
}

func (s serviceRegistryStub) Resolve(name string) (any, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, npa.ErrServiceNotFound
	}

	return value, nil
}
