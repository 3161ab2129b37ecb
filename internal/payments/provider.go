package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidSignature indicates webhook signature verification failed.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrEventIgnored indicates the webhook event type carries nothing to reconcile.
	ErrEventIgnored = errors.New("payments: event ignored")
)

// PaymentLinkRequest captures the payload required to create a hosted payment link.
type PaymentLinkRequest struct {
	OrderID        string
	MerchantID     string
	Amount         int64
	Currency       string
	Description    string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Locale         string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentLink is the gateway-hosted collection URL returned to the caller.
type PaymentLink struct {
	ID        string
	Provider  string
	URL       string
	Amount    int64
	Currency  string
	ExpiresAt time.Time
	Raw       map[string]any
}

// Event kinds normalised from provider webhook payloads.
const (
	EventCaptured = "captured"
	EventFailed   = "failed"
	EventRefunded = "refunded"
)

// WebhookEvent normalises a verified gateway callback for reconciliation.
// RefundID is set on refund events when the provider reports the individual
// refund object; left empty, Amount is the cumulative refunded figure.
type WebhookEvent struct {
	Provider         string
	Kind             string
	GatewayPaymentID string
	RefundID         string
	OrderReference   string
	MerchantID       string
	Amount           int64
	Currency         string
	EventDate        time.Time
	Raw              map[string]any
}

// RefundRequest defines a PSP refund attempt against a captured payment.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentDetails normalises PSP specific fields for storage.
type PaymentDetails struct {
	Provider   string
	IntentID   string
	RefundID   string
	Status     Status
	Amount     int64
	Currency   string
	RefundedAt *time.Time
	Raw        map[string]any
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (PaymentLink, error)
	ParseWebhook(ctx context.Context, payload []byte, headers map[string]string) (WebhookEvent, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreatePaymentLink delegates to the resolved provider.
func (m *Manager) CreatePaymentLink(ctx context.Context, paymentCtx PaymentContext, req PaymentLinkRequest) (PaymentLink, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentLink{}, err
	}
	link, err := provider.CreatePaymentLink(ctx, req)
	if err != nil {
		return PaymentLink{}, err
	}
	link.Provider = key
	return link, nil
}

// ParseWebhook verifies and normalises a callback addressed to a named provider.
// Webhooks are routed by path, so the lookup is strict rather than contextual.
func (m *Manager) ParseWebhook(ctx context.Context, providerKey string, payload []byte, headers map[string]string) (WebhookEvent, error) {
	if m == nil {
		return WebhookEvent{}, errors.New("payments: manager is nil")
	}
	key := strings.TrimSpace(strings.ToLower(providerKey))
	provider, ok := m.providers[key]
	if !ok {
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, providerKey)
	}
	event, err := provider.ParseWebhook(ctx, payload, headers)
	if err != nil {
		return WebhookEvent{}, err
	}
	event.Provider = key
	return event, nil
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.Refund(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}
