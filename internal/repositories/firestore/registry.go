package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/shiptrack/api/internal/platform/firestore"
	"github.com/shiptrack/api/internal/repositories"
)

// Registry bundles the Firestore repository implementations behind the
// repositories.Registry contract so wiring only deals with one handle.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	customers *CustomerRepository
	rewards   *RewardRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository attaches a health repository to the registry. Readiness
// probes are optional, so the registry works without one.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: order repository: %w", err)
	}
	customers, err := NewCustomerRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: customer repository: %w", err)
	}
	rewards, err := NewRewardRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: reward repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: counter repository: %w", err)
	}

	registry := &Registry{
		provider:  provider,
		orders:    orders,
		customers: customers,
		rewards:   rewards,
		counters:  counters,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry, nil
}

func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }
func (r *Registry) Rewards() repositories.RewardRepository     { return r.rewards }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

// RunInTx executes fn as a logical unit. Order writes already carry
// update-time preconditions and the counter repository runs its own Firestore
// transaction, so the boundary here is sequential execution with the caller's
// context.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return fn(ctx)
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
