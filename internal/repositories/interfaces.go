package repositories

import (
	"context"
	"time"

	domain "github.com/shiptrack/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Customers() CustomerRepository
	Rewards() RewardRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates with optimistic concurrency.
//
// FindByID returns the order with its current Revision. Update enforces the
// Revision carried on the order and fails with a conflict error when the
// stored document has moved on since the read.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, merchantID, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// CustomerRepository stores merchant-scoped customer profiles and reward balances.
type CustomerRepository interface {
	FindByID(ctx context.Context, merchantID, customerID string) (domain.Customer, error)
	Upsert(ctx context.Context, customer domain.Customer) (domain.Customer, error)
}

// RewardRepository appends reward ledger entries and applies the balance delta
// atomically. Append is idempotent on (customer, payment reference, kind):
// replays return the stored entry with applied=false and leave the balance
// untouched. The balance never drops below zero; reversals larger than the
// current balance are clamped.
type RewardRepository interface {
	Append(ctx context.Context, merchantID string, entry domain.RewardEntry) (RewardAppendResult, error)
	List(ctx context.Context, merchantID, customerID string, pager domain.Pagination) (domain.CursorPage[domain.RewardEntry], error)
}

// RewardAppendResult reports the ledger entry and resulting balance after an append.
type RewardAppendResult struct {
	Entry   domain.RewardEntry
	Balance int64
	Applied bool
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	MerchantID    string
	CustomerID    string
	Status        []string
	PaymentStatus []string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
