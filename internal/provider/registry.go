package provider

import (
	"github.com/vendora/payments-service/internal/domain"
)

// Registry resolves provider adapters by enum and asserts operation
// capabilities. A charge routed at a provider that lacks the capability is a
// validation error, never a panic.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	byProvider := make(map[domain.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		byProvider[a.Provider()] = a
	}
	return &Registry{adapters: byProvider}
}

func (r *Registry) lookup(p domain.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, domain.NewValidationError("provider", "unsupported provider "+string(p))
	}
	return a, nil
}

// Charger returns the one-click charge capability for p.
func (r *Registry) Charger(p domain.Provider) (Charger, error) {
	a, err := r.lookup(p)
	if err != nil {
		return nil, err
	}
	c, ok := a.(Charger)
	if !ok {
		return nil, domain.NewValidationError("provider", string(p)+" does not support one-click charges")
	}
	return c, nil
}

// MotoCharger returns the manual-entry charge capability for p.
func (r *Registry) MotoCharger(p domain.Provider) (MotoCharger, error) {
	a, err := r.lookup(p)
	if err != nil {
		return nil, err
	}
	c, ok := a.(MotoCharger)
	if !ok {
		return nil, domain.NewValidationError("provider", string(p)+" does not support manual-entry charges")
	}
	return c, nil
}

// RecurringCharger returns the recurring charge capability for p.
func (r *Registry) RecurringCharger(p domain.Provider) (RecurringCharger, error) {
	a, err := r.lookup(p)
	if err != nil {
		return nil, err
	}
	c, ok := a.(RecurringCharger)
	if !ok {
		return nil, domain.NewValidationError("provider", string(p)+" does not support recurring charges")
	}
	return c, nil
}

// Refunder returns the refund capability for p.
func (r *Registry) Refunder(p domain.Provider) (Refunder, error) {
	a, err := r.lookup(p)
	if err != nil {
		return nil, err
	}
	f, ok := a.(Refunder)
	if !ok {
		return nil, domain.NewValidationError("provider", string(p)+" does not support refunds")
	}
	return f, nil
}

// FeeQuoter returns the optional fee lookup capability for p, with ok=false
// when the provider does not expose fees.
func (r *Registry) FeeQuoter(p domain.Provider) (FeeQuoter, bool) {
	a, err := r.lookup(p)
	if err != nil {
		return nil, false
	}
	q, ok := a.(FeeQuoter)
	return q, ok
}

// WebhookDecoder returns the webhook normalization capability for p.
func (r *Registry) WebhookDecoder(p domain.Provider) (WebhookDecoder, error) {
	a, err := r.lookup(p)
	if err != nil {
		return nil, err
	}
	d, ok := a.(WebhookDecoder)
	if !ok {
		return nil, domain.NewValidationError("provider", string(p)+" does not deliver webhooks")
	}
	return d, nil
}
