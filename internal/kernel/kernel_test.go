package kernel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"npa-monitor/pkg/npa"
)

func TestRegisterModuleDependencyValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		registerFeed bool
		wantErr      bool
	}{
		{name: "missing required service fails", wantErr: true},
		{name: "present required service succeeds", registerFeed: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			if testCase.registerFeed {
				if err := kernelRuntime.RegisterService(npa.ServiceFilingCatalog, struct{}{}); err != nil {
					t.Fatalf("register service failed: %v", err)
				}
			}

			module := &stubModule{
				name: "cap-module",
				spec: npa.ModuleSpec{
					AdditionalCapabilities: []npa.Capability{
						{Name: "needs-catalog", RequiredServices: []string{npa.ServiceFilingCatalog}},
					},
				},
			}
			err := kernelRuntime.RegisterModule(context.Background(), module)
			if testCase.wantErr && !errors.Is(err, npa.ErrServiceNotFound) {
				t.Fatalf("register error = %v, want %v", err, npa.ErrServiceNotFound)
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected module registration error: %v", err)
			}
		})
	}
}

func TestKernelRunCallsModuleLifecycle(t *testing.T) {
	t.Parallel()

	kernelRuntime := New(WithShutdownTimeout(time.Second))
	module := &stubModule{name: "lifecycle"}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	driver := &stubDriver{name: "stub-driver"}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	eventually(t, 2*time.Second, func() bool {
		return driver.started.Load() == 1
	})
	if err := kernelRuntime.Run(runCtx); err == nil {
		t.Fatal("expected concurrent Run to fail")
	}
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("kernel run failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit")
	}

	counts := map[string]int32{
		"OnRegister":      module.registered.Load(),
		"OnStart":         module.started.Load(),
		"OnShutdown":      module.shutdown.Load(),
		"driver Shutdown": driver.stopped.Load(),
	}
	for hook, count := range counts {
		if count != 1 {
			t.Fatalf("%s calls = %d, want 1", hook, count)
		}
	}
}

func TestKernelRunReturnsFatalDriverError(t *testing.T) {
	t.Parallel()

	kernelRuntime := New(WithShutdownTimeout(time.Second))
	failure := errors.New("auth failed")
	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "broken", startErr: failure}); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	err := kernelRuntime.Run(context.Background())
	if !errors.Is(err, failure) {
		t.Fatalf("run error = %v, want %v", err, failure)
	}
}

func TestKernelRunLogsRegisteredServices(t *testing.T) {
	t.Parallel()

	var output lockedBuffer
	logger := slog.New(slog.NewJSONHandler(&output, nil))
	kernelRuntime := New(WithLogger(logger), WithShutdownTimeout(time.Second))
	if err := kernelRuntime.RegisterService(npa.ServiceFilingCatalog, struct{}{}); err != nil {
		t.Fatalf("register service failed: %v", err)
	}
	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "once", startErr: errors.New("stop")}); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	_ = kernelRuntime.Run(context.Background())

	logged := output.String()
	want := `"services":["` + npa.ServiceCommandCatalog + `","` + npa.ServiceFilingCatalog + `"]`
	if !strings.Contains(logged, `"msg":"kernel running"`) || !strings.Contains(logged, want) {
		t.Fatalf("log = %s, want kernel running with %s", logged, want)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestKernelDriverMessagesReachCommandHandlers(t *testing.T) {
	t.Parallel()

	kernelRuntime := New(WithShutdownTimeout(time.Second))
	handled := make(chan *npa.Event, 1)
	module := &stubModule{
		name: "starter",
		spec: npa.ModuleSpec{
			Handlers: []npa.ModuleHandler{
				{
					Capability: npa.Capability{
						Name: "start",
						Interest: npa.InterestSet{
							Kinds:        []npa.EventKind{npa.EventKindCommandReceived},
							CommandNames: []string{"start"},
						},
					},
					Handler: func(_ context.Context, event *npa.Event) error {
						handled <- event
						return nil
					},
				},
			},
			Commands: []npa.CommandSpec{{Name: "start", Description: "main menu"}},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	driver := &stubDriver{name: "publisher", publish: []*npa.Event{publishedMessage("m1", "/start")}}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	event := waitEvent(t, handled)
	if event.Command == nil || event.Command.Name != "start" {
		t.Fatalf("handled command = %+v, want start", event.Command)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("kernel run failed: %v", err)
	}
}

func TestRegisterModuleImperativeSubscriptionCapabilityGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spec    npa.ModuleSpec
		wantErr bool
	}{
		{
			name:    "missing capability fails",
			wantErr: true,
		},
		{
			name: "narrower capability fails",
			spec: npa.ModuleSpec{
				AdditionalCapabilities: []npa.Capability{{
					Name: "menu-only",
					Interest: npa.InterestSet{
						Kinds:            []npa.EventKind{npa.EventKindCallbackReceived},
						CallbackPrefixes: []string{"menu_"},
					},
				}},
			},
			wantErr: true,
		},
		{
			name: "covering capability allows subscribe",
			spec: npa.ModuleSpec{
				AdditionalCapabilities: []npa.Capability{{
					Name: "callbacks",
					Interest: npa.InterestSet{
						Kinds: []npa.EventKind{npa.EventKindCallbackReceived},
					},
				}},
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			t.Cleanup(func() {
				_ = kernelRuntime.EventBus().Close(context.Background())
			})

			module := &stubModule{
				name: "imperative",
				spec: testCase.spec,
				onRegister: func(ctx context.Context, runtime npa.ModuleRuntime) error {
					_, err := runtime.Subscribe(ctx, npa.InterestSet{
						Kinds:            []npa.EventKind{npa.EventKindCallbackReceived},
						CallbackPrefixes: []string{"sub_"},
					}, npa.SubscriptionSpec{Name: "imperative-handler"}, func(context.Context, *npa.Event) error {
						return nil
					})
					if err != nil {
						return fmt.Errorf("subscribe imperative handler: %w", err)
					}

					return nil
				},
			}

			err := kernelRuntime.RegisterModule(context.Background(), module)
			if testCase.wantErr && err == nil {
				t.Fatal("expected module registration error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected module registration error: %v", err)
			}
		})
	}
}

func TestRegisterModuleSpecValidation(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *npa.Event) error { return nil }
	callbacks := npa.InterestSet{Kinds: []npa.EventKind{npa.EventKindCallbackReceived}}

	tests := []struct {
		name       string
		spec       npa.ModuleSpec
		wantErrSub string
	}{
		{
			name: "empty handler capability name",
			spec: npa.ModuleSpec{
				Handlers: []npa.ModuleHandler{{Capability: npa.Capability{Interest: callbacks}, Handler: noop}},
			},
			wantErrSub: "empty capability name",
		},
		{
			name: "duplicate capability name",
			spec: npa.ModuleSpec{
				Handlers: []npa.ModuleHandler{
					{Capability: npa.Capability{Name: "dup", Interest: callbacks}, Handler: noop},
					{Capability: npa.Capability{Name: "dup", Interest: callbacks}, Handler: noop},
				},
			},
			wantErrSub: "duplicate capability name",
		},
		{
			name: "nil handler",
			spec: npa.ModuleSpec{
				Handlers: []npa.ModuleHandler{{Capability: npa.Capability{Name: "nil-handler", Interest: callbacks}}},
			},
			wantErrSub: "nil handler",
		},
		{
			name: "duplicate subscription name",
			spec: npa.ModuleSpec{
				Handlers: []npa.ModuleHandler{
					{Capability: npa.Capability{Name: "a", Interest: callbacks}, Subscription: npa.SubscriptionSpec{Name: "dup-sub"}, Handler: noop},
					{Capability: npa.Capability{Name: "b", Interest: callbacks}, Subscription: npa.SubscriptionSpec{Name: "dup-sub"}, Handler: noop},
				},
			},
			wantErrSub: "duplicate subscription name",
		},
		{
			name: "duplicate additional capability name",
			spec: npa.ModuleSpec{
				Handlers:               []npa.ModuleHandler{{Capability: npa.Capability{Name: "cap", Interest: callbacks}, Handler: noop}},
				AdditionalCapabilities: []npa.Capability{{Name: "cap"}},
			},
			wantErrSub: "duplicate capability name",
		},
		{
			name:       "invalid command spec",
			spec:       npa.ModuleSpec{Commands: []npa.CommandSpec{{Name: "two words"}}},
			wantErrSub: "module command 0",
		},
		{
			name:       "duplicate command declaration",
			spec:       npa.ModuleSpec{Commands: []npa.CommandSpec{{Name: "start"}, {Name: "START"}}},
			wantErrSub: "duplicate command /start",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "invalid", spec: testCase.spec})
			if err == nil {
				t.Fatal("expected module registration error")
			}
			if !strings.Contains(err.Error(), testCase.wantErrSub) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
			}
		})
	}
}

func TestRegisterModuleRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	failing := &stubModule{
		name: "menu",
		spec: npa.ModuleSpec{Commands: []npa.CommandSpec{{Name: "start"}}},
		onRegister: func(context.Context, npa.ModuleRuntime) error {
			return errors.New("store unavailable")
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), failing); err == nil {
		t.Fatal("expected failing OnRegister to fail registration")
	}

	retry := &stubModule{name: "menu", spec: npa.ModuleSpec{Commands: []npa.CommandSpec{{Name: "start"}}}}
	if err := kernelRuntime.RegisterModule(context.Background(), retry); err != nil {
		t.Fatalf("re-register after rollback failed: %v", err)
	}

	duplicate := &stubModule{name: "menu"}
	if err := kernelRuntime.RegisterModule(context.Background(), duplicate); !errors.Is(err, npa.ErrModuleAlreadyRegistered) {
		t.Fatalf("duplicate register error = %v, want %v", err, npa.ErrModuleAlreadyRegistered)
	}

	thief := &stubModule{name: "other", spec: npa.ModuleSpec{Commands: []npa.CommandSpec{{Name: "start"}}}}
	err := kernelRuntime.RegisterModule(context.Background(), thief)
	if err == nil || !strings.Contains(err.Error(), "already registered by module menu") {
		t.Fatalf("command conflict error = %v", err)
	}
}

func TestRegisterModuleRecoversPanics(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	module := &stubModule{
		name: "panicky",
		onRegister: func(context.Context, npa.ModuleRuntime) error {
			panic("nil map")
		},
	}

	err := kernelRuntime.RegisterModule(context.Background(), module)
	if err == nil || !strings.Contains(err.Error(), "panic recovered: nil map") {
		t.Fatalf("register error = %v, want recovered panic", err)
	}
}

func TestKernelProvidesCommandCatalogService(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	catalog, err := npa.ResolveAs[npa.CommandCatalog](kernelRuntime.Services(), npa.ServiceCommandCatalog)
	if err != nil {
		t.Fatalf("resolve command catalog failed: %v", err)
	}

	modules := []*stubModule{
		{name: "menu", spec: npa.ModuleSpec{Commands: []npa.CommandSpec{{Name: "Start", Description: "main menu"}}}},
		{name: "digest", spec: npa.ModuleSpec{Commands: []npa.CommandSpec{{Name: "test_notify", Hidden: true}}}},
		{name: "help", spec: npa.ModuleSpec{Commands: []npa.CommandSpec{{Name: "help"}}}},
	}
	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
			t.Fatalf("register module %s failed: %v", module.name, err)
		}
	}

	commands, err := catalog.ListCommands(context.Background())
	if err != nil {
		t.Fatalf("list commands failed: %v", err)
	}

	want := []string{"help/help", "menu/start", "digest/test_notify"}
	if len(commands) != len(want) {
		t.Fatalf("commands len = %d, want %d", len(commands), len(want))
	}
	for index, command := range commands {
		got := command.ModuleName + "/" + command.Command.Name
		if got != want[index] {
			t.Fatalf("commands[%d] = %s, want %s", index, got, want[index])
		}
	}
	if !commands[2].Command.Hidden {
		t.Fatal("hidden flag was not preserved")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := catalog.ListCommands(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("list with cancelled ctx error = %v, want %v", err, context.Canceled)
	}
}

type stubModule struct {
	name string
	spec npa.ModuleSpec

	onRegister func(ctx context.Context, runtime npa.ModuleRuntime) error

	registered atomic.Int32
	started    atomic.Int32
	shutdown   atomic.Int32
}

func (m *stubModule) Name() string {
	return m.name
}

func (m *stubModule) Spec() npa.ModuleSpec {
	return m.spec
}

func (m *stubModule) OnRegister(ctx context.Context, runtime npa.ModuleRuntime) error {
	m.registered.Add(1)
	if m.onRegister != nil {
		return m.onRegister(ctx, runtime)
	}

	return nil
}

func (m *stubModule) OnStart(context.Context) error {
	m.started.Add(1)
	return nil
}

func (m *stubModule) OnShutdown(context.Context) error {
	m.shutdown.Add(1)
	return nil
}

type stubDriver struct {
	name     string
	startErr error
	publish  []*npa.Event

	started atomic.Int32
	stopped atomic.Int32
}

func (d *stubDriver) Name() string {
	return d.name
}

func (d *stubDriver) Start(ctx context.Context, sink npa.EventSink) error {
	d.started.Add(1)
	if d.startErr != nil {
		return d.startErr
	}
	for _, event := range d.publish {
		if err := sink.Publish(ctx, event); err != nil {
			return err
		}
	}
	<-ctx.Done()

	return ctx.Err()
}

func (d *stubDriver) Shutdown(context.Context) error {
	d.stopped.Add(1)
	return nil
}

func publishedMessage(id string, text string) *npa.Event {
	event := newTestEvent(id, npa.EventKindMessageCreated)
	event.Message.Text = text

	return event
}
