package npa

import "context"

// EventHandler processes a single neutral event.
type EventHandler func(ctx context.Context, event *Event) error

// EventSink accepts neutral events for dispatching into the kernel.
type EventSink interface {
	// Publish submits an event to downstream subscribers.
	Publish(ctx context.Context, event *Event) error
}

// ModuleRuntime provides kernel facilities to modules during registration.
type ModuleRuntime interface {
	// Services exposes the service registry for dependency lookup.
	Services() ServiceRegistry
	// Subscribe registers an asynchronous event handler owned by the module.
	Subscribe(
		ctx context.Context,
		interest InterestSet,
		spec SubscriptionSpec,
		handler EventHandler,
	) (Subscription, error)
}

// ModuleHandler binds one capability to one subscription and handler.
type ModuleHandler struct {
	Capability   Capability
	Subscription SubscriptionSpec
	Handler      EventHandler
}

// ModuleSpec declares everything the kernel wires for a module at registration.
type ModuleSpec struct {
	// Handlers are subscribed by the kernel after OnRegister succeeds.
	Handlers []ModuleHandler
	// AdditionalCapabilities covers subscriptions the module creates itself.
	AdditionalCapabilities []Capability
	// Commands are added to the kernel command catalog.
	Commands []CommandSpec
}

// Capabilities returns every capability declared by s.
func (s ModuleSpec) Capabilities() []Capability {
	capabilities := make([]Capability, 0, len(s.Handlers)+len(s.AdditionalCapabilities))
	for _, handler := range s.Handlers {
		capabilities = append(capabilities, handler.Capability)
	}
	capabilities = append(capabilities, s.AdditionalCapabilities...)

	return capabilities
}

// Module is a lifecycle-aware plugin contract.
//
// Handlers can run on multiple workers, so modules must be concurrency-safe.
type Module interface {
	// Name returns a stable module identifier.
	Name() string
	// Spec returns declarative handler and command metadata.
	Spec() ModuleSpec
	// OnStart is called when the kernel begins runtime execution.
	OnStart(ctx context.Context) error
	// OnShutdown is called during orderly shutdown.
	OnShutdown(ctx context.Context) error
}

// ModuleRegistrar is implemented by modules that resolve services at registration.
type ModuleRegistrar interface {
	// OnRegister is called once when the module is registered.
	OnRegister(ctx context.Context, runtime ModuleRuntime) error
}

// Driver adapts external platforms into neutral events.
type Driver interface {
	// Name returns a stable driver identifier.
	Name() string
	// Start consumes external updates and publishes neutral events.
	// It returns only after context cancellation or fatal error.
	Start(ctx context.Context, sink EventSink) error
	// Shutdown stops external resources that are not tied to the Start context.
	Shutdown(ctx context.Context) error
}
