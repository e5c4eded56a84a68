package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"npa-monitor/pkg/npa"
)

// Kernel owns the bot runtime: module lifecycle, drivers, the event bus and
// the service registry.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	mu          sync.RWMutex
	modules     map[string]*moduleRecord
	moduleOrder []string
	commands    map[string]commandRegistration
	drivers     map[string]npa.Driver
	driverOrder []string

	runMu   sync.Mutex
	running bool
}

// New creates a kernel with the command catalog already registered.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	kernelRuntime := &Kernel{
		cfg:      cfg,
		bus:      NewEventBus(cfg.subscriptionBuffer, cfg.subscriptionWorker, cfg.handlerTimeout, cfg.onAsyncError),
		services: NewServiceRegistry(),
		modules:  make(map[string]*moduleRecord),
		commands: make(map[string]commandRegistration),
		drivers:  make(map[string]npa.Driver),
	}
	if err := kernelRuntime.services.Register(
		npa.ServiceCommandCatalog,
		&commandCatalog{kernel: kernelRuntime},
	); err != nil {
		cfg.onAsyncError(context.Background(), "register command catalog service", err)
	}

	return kernelRuntime
}

// EventBus exposes the kernel event bus to integration code.
func (k *Kernel) EventBus() npa.EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() npa.ServiceRegistry {
	return k.services
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule validates the module spec, registers its commands, runs
// OnRegister and subscribes its declared handlers. Any failure rolls the
// module back completely.
func (k *Kernel) RegisterModule(ctx context.Context, module npa.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}
	moduleSpec := module.Spec()
	if err := validateModuleSpec(moduleSpec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	record := &moduleRecord{
		name:         name,
		module:       module,
		capabilities: moduleSpec.Capabilities(),
	}
	if err := k.validateCapabilityDependencies(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.mu.Lock()
	if _, exists := k.modules[name]; exists {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, npa.ErrModuleAlreadyRegistered)
	}
	k.modules[name] = record
	k.moduleOrder = append(k.moduleOrder, name)
	k.mu.Unlock()

	if err := k.registerModuleCommands(name, moduleSpec.Commands); err != nil {
		k.rollbackModuleRegistration(ctx, name, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	runtime := &moduleRuntime{
		moduleName: name,
		services:   k.services,
		bus:        k.bus,
		record:     record,
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	if registrar, ok := module.(npa.ModuleRegistrar); ok {
		if err := runSafely("module "+name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			k.rollbackModuleRegistration(ctx, name, record)
			return fmt.Errorf("register module %s: %w", name, err)
		}
	}

	if err := registerDeclaredHandlers(hookCtx, name, runtime, moduleSpec.Handlers); err != nil {
		k.rollbackModuleRegistration(ctx, name, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.cfg.logger.InfoContext(ctx, "module registered",
		"module", name,
		"handlers", len(moduleSpec.Handlers),
		"commands", len(moduleSpec.Commands),
	)

	return nil
}

// RegisterDriver registers a platform driver.
func (k *Kernel) RegisterDriver(driver npa.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.drivers[name]; exists {
		return fmt.Errorf("register driver %s: %w", name, npa.ErrDriverAlreadyRegistered)
	}
	k.drivers[name] = driver
	k.driverOrder = append(k.driverOrder, name)

	return nil
}

// Run starts modules and drivers, then blocks until ctx is cancelled or a
// driver fails. Shutdown always runs before Run returns.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.startRun(); err != nil {
		return err
	}
	defer k.finishRun()

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdownAll(ctx))
	}
	k.cfg.logger.InfoContext(ctx, "kernel running",
		"modules", len(k.moduleSnapshot()),
		"drivers", len(k.driverSnapshot()),
		"services", k.services.Names(),
	)

	runCtx, runCancel := context.WithCancel(ctx)
	driverErr, waitDrivers := k.startDrivers(runCtx)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-driverErr:
		runErr = err
	}

	runCancel()
	waitDrivers()

	shutdownErr := k.shutdownAll(ctx)
	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, shutdownErr)
}

func (k *Kernel) startRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

func (k *Kernel) finishRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// startModules invokes OnStart in registration order.
func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.moduleSnapshot() {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// startDrivers runs every driver on its own goroutine. The returned channel
// yields the first fatal driver error, or context.Canceled once all drivers
// have returned; wait blocks for driver exit up to the shutdown timeout.
func (k *Kernel) startDrivers(ctx context.Context) (<-chan error, func()) {
	errChannel := make(chan error, 1)
	done := make(chan struct{})
	var workers sync.WaitGroup

	sink := k.newDriverEventSink()
	for _, entry := range k.driverSnapshot() {
		workers.Add(1)
		go func(name string, driver npa.Driver) {
			defer workers.Done()
			err := runSafely("driver "+name+" Start", func() error {
				return driver.Start(ctx, sink)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case errChannel <- fmt.Errorf("run driver %s: %w", name, err):
			default:
			}
		}(entry.name, entry.driver)
	}

	go func() {
		workers.Wait()
		close(done)
		select {
		case errChannel <- context.Canceled:
		default:
		}
	}()

	wait := func() {
		timer := time.NewTimer(k.cfg.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			k.cfg.logger.Warn("drivers did not stop before shutdown timeout",
				"timeout", k.cfg.shutdownTimeout,
			)
		}
	}

	return errChannel, wait
}

// shutdownAll stops drivers, then modules, then the bus. Cleanup runs on a
// context detached from ctx so it still happens after cancellation.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	shutdownErr := errors.Join(
		k.shutdownDrivers(shutdownCtx),
		k.shutdownModules(shutdownCtx),
		k.bus.Close(shutdownCtx),
	)
	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

// shutdownDrivers calls Shutdown in reverse registration order.
func (k *Kernel) shutdownDrivers(ctx context.Context) error {
	entries := k.driverSnapshot()

	var shutdownErr error
	for idx := len(entries) - 1; idx >= 0; idx-- {
		entry := entries[idx]
		err := runSafely("driver "+entry.name+" Shutdown", func() error {
			return entry.driver.Shutdown(ctx)
		})
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown driver %s: %w", entry.name, err))
		}
	}

	return shutdownErr
}

// shutdownModules closes subscriptions and calls OnShutdown in reverse order.
func (k *Kernel) shutdownModules(ctx context.Context) error {
	records := k.moduleSnapshot()

	var shutdownErr error
	for idx := len(records) - 1; idx >= 0; idx-- {
		record := records[idx]
		if err := record.closeSubscriptions(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
		}
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		cancel()
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
	}

	return shutdownErr
}

func (k *Kernel) moduleSnapshot() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	records := make([]*moduleRecord, 0, len(k.moduleOrder))
	for _, name := range k.moduleOrder {
		if record := k.modules[name]; record != nil {
			records = append(records, record)
		}
	}

	return records
}

type driverEntry struct {
	name   string
	driver npa.Driver
}

func (k *Kernel) driverSnapshot() []driverEntry {
	k.mu.RLock()
	defer k.mu.RUnlock()

	entries := make([]driverEntry, 0, len(k.driverOrder))
	for _, name := range k.driverOrder {
		if driver := k.drivers[name]; driver != nil {
			entries = append(entries, driverEntry{name: name, driver: driver})
		}
	}

	return entries
}

// rollbackModuleRegistration removes a partially registered module.
func (k *Kernel) rollbackModuleRegistration(ctx context.Context, name string, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback_module_registration", err)
	}
	k.unregisterModuleCommands(name)

	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.modules, name)
	k.moduleOrder = removeOrderedName(k.moduleOrder, name)
}

// validateCapabilityDependencies checks that required services are registered.
func (k *Kernel) validateCapabilityDependencies(capabilities []npa.Capability) error {
	for _, capability := range capabilities {
		for _, serviceName := range capability.RequiredServices {
			if _, err := k.services.Resolve(serviceName); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, serviceName, err)
			}
		}
	}

	return nil
}

func registerDeclaredHandlers(
	ctx context.Context,
	moduleName string,
	runtime *moduleRuntime,
	handlers []npa.ModuleHandler,
) error {
	for idx, declared := range handlers {
		spec := declared.Subscription
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("%s-handler-%d", moduleName, idx+1)
		}
		if _, err := runtime.Subscribe(ctx, declared.Capability.Interest, spec, declared.Handler); err != nil {
			return fmt.Errorf("register handler %s for capability %s: %w", spec.Name, declared.Capability.Name, err)
		}
	}

	return nil
}

func validateModuleSpec(spec npa.ModuleSpec) error {
	seenCapabilities := make(map[string]struct{}, len(spec.Handlers)+len(spec.AdditionalCapabilities))
	seenSubscriptions := make(map[string]struct{}, len(spec.Handlers))

	for idx, handler := range spec.Handlers {
		if handler.Capability.Name == "" {
			return fmt.Errorf("module handler %d: empty capability name", idx)
		}
		if _, exists := seenCapabilities[handler.Capability.Name]; exists {
			return fmt.Errorf("module handler %d: duplicate capability name %s", idx, handler.Capability.Name)
		}
		seenCapabilities[handler.Capability.Name] = struct{}{}

		if handler.Handler == nil {
			return fmt.Errorf("module handler %s: nil handler", handler.Capability.Name)
		}
		if handler.Subscription.Name == "" {
			continue
		}
		if _, exists := seenSubscriptions[handler.Subscription.Name]; exists {
			return fmt.Errorf("module handler %s: duplicate subscription name %s", handler.Capability.Name, handler.Subscription.Name)
		}
		seenSubscriptions[handler.Subscription.Name] = struct{}{}
	}

	for idx, capability := range spec.AdditionalCapabilities {
		if capability.Name == "" {
			return fmt.Errorf("additional capability %d: empty capability name", idx)
		}
		if _, exists := seenCapabilities[capability.Name]; exists {
			return fmt.Errorf("additional capability %d: duplicate capability name %s", idx, capability.Name)
		}
		seenCapabilities[capability.Name] = struct{}{}
	}

	seenCommands := make(map[string]struct{}, len(spec.Commands))
	for idx, command := range spec.Commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("module command %d: %w", idx, err)
		}
		name := npa.NormalizeCommandName(command.Name)
		if _, exists := seenCommands[name]; exists {
			return fmt.Errorf("module command %d: duplicate command %s%s", idx, npa.CommandPrefix, name)
		}
		seenCommands[name] = struct{}{}
	}

	return nil
}

func removeOrderedName(ordered []string, target string) []string {
	filtered := make([]string, 0, len(ordered))
	for _, item := range ordered {
		if item != target {
			filtered = append(filtered, item)
		}
	}

	return filtered
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// runSafely runs fn and turns a panic into an error tagged with scope.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s: panic recovered: %v", scope, recovered)
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}
