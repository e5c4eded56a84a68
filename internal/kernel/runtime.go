package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"npa-monitor/pkg/npa"
)

// moduleRecord tracks one registered module and the subscriptions it owns.
type moduleRecord struct {
	name          string
	module        npa.Module
	capabilities  []npa.Capability
	subMu         sync.Mutex
	subscriptions []npa.Subscription
}

func (m *moduleRecord) addSubscription(subscription npa.Subscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions closes every tracked subscription once.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the npa.ModuleRuntime handed to one module.
type moduleRuntime struct {
	moduleName string
	services   npa.ServiceRegistry
	bus        npa.EventBus
	record     *moduleRecord
}

func (r *moduleRuntime) Services() npa.ServiceRegistry {
	return r.services
}

// Subscribe registers a module-owned subscription. The interest must be
// covered by one of the module's declared capabilities.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest npa.InterestSet,
	spec npa.SubscriptionSpec,
	handler npa.EventHandler,
) (npa.Subscription, error) {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("%s-subscription", r.moduleName)
	}
	if err := assertSubscriptionAllowed(r.record.capabilities, spec.Name, interest); err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}
	r.record.addSubscription(subscription)

	return subscription, nil
}

func assertSubscriptionAllowed(capabilities []npa.Capability, subscriptionName string, interest npa.InterestSet) error {
	if len(capabilities) == 0 {
		return fmt.Errorf("subscription %s requires at least one declared capability", subscriptionName)
	}
	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return nil
		}
	}

	return fmt.Errorf("subscription does not match declared module capabilities")
}
