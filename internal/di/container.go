package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shiptrack/api/internal/payments"
	"github.com/shiptrack/api/internal/platform/config"
	"github.com/shiptrack/api/internal/repositories"
	"github.com/shiptrack/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders    services.OrderService
	Payments  services.PaymentService
	Customers services.CustomerService
	Counters  services.CounterService
	System    services.SystemService
}

// Deps carries the externally constructed collaborators the container wires
// into services. Registry is mandatory; the rest degrade gracefully when nil.
type Deps struct {
	Registry      repositories.Registry
	Gateway       *payments.Manager
	Notifications services.NotificationPublisher
	Archive       services.InvoiceArchiver
	Build         services.BuildInfo
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients and background workers.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, _ config.Config, deps Deps) (Services, error) {
	var svc Services
	reg := deps.Registry

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	customerSvc, err := services.NewCustomerService(services.CustomerServiceDeps{
		Customers: reg.Customers(),
		Rewards:   reg.Rewards(),
		Clock:     clock,
		Logger:    deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build customer service: %w", err)
	}
	svc.Customers = customerSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Counters:      counterSvc,
		UnitOfWork:    reg,
		Clock:         clock,
		Notifications: deps.Notifications,
		Archive:       deps.Archive,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentDeps := services.PaymentServiceDeps{
		Orders:        reg.Orders(),
		Rewards:       customerSvc,
		Notifications: deps.Notifications,
		UnitOfWork:    reg,
		Clock:         clock,
		Logger:        deps.Logger,
	}
	if deps.Gateway != nil {
		paymentDeps.Gateway = deps.Gateway
	}
	paymentSvc, err := services.NewPaymentService(paymentDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
			Counters:         counterSvc,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
