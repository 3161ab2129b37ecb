package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	refunds  stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider implements the Provider interface using Stripe APIs. Payment
// links are backed by single-item Checkout sessions so the hosted page can
// collect an arbitrary outstanding balance without pre-registered prices.
type StripeProvider struct {
	api           stripeClients
	account       string
	webhookSecret string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			refunds:  sc.Refunds,
		}
	}

	if clients.sessions == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreatePaymentLink creates a hosted collection page for the requested amount.
func (p *StripeProvider) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (PaymentLink, error) {
	if p == nil {
		return PaymentLink{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return PaymentLink{}, errors.New("stripe: payment link amount must be positive")
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	name := strings.TrimSpace(req.Description)
	if name == "" {
		name = "Order balance"
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
			},
		},
	}
	params.Context = ctx
	if req.SuccessURL != "" {
		params.SuccessURL = stripe.String(req.SuccessURL)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if req.Locale != "" {
		params.Locale = stripe.String(strings.ReplaceAll(strings.ToLower(req.Locale), "_", "-"))
	}

	metadata := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.OrderID != "" {
		metadata["orderId"] = req.OrderID
	}
	if req.MerchantID != "" {
		metadata["merchantId"] = req.MerchantID
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
		// The same metadata rides on the intent so webhook callbacks can
		// resolve the order without a session lookup.
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		}
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return PaymentLink{}, fmt.Errorf("stripe: create payment link: %w", err)
	}

	p.logger(ctx, "payments.stripe.link.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
		"amount":    req.Amount,
		"currency":  currency,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return PaymentLink{
		ID:        session.ID,
		Provider:  "stripe",
		URL:       session.URL,
		Amount:    req.Amount,
		Currency:  strings.ToUpper(currency),
		ExpiresAt: expiresAt,
		Raw:       stripeRawPayload(session),
	}, nil
}

// ParseWebhook verifies the Stripe signature and maps the event onto the
// normalised reconciliation kinds. Event types outside the reconciliation
// surface return ErrEventIgnored.
func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, headers map[string]string) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return WebhookEvent{}, errors.New("stripe: webhook secret is not configured")
	}

	signature := headerValue(headers, "Stripe-Signature")
	if signature == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing Stripe-Signature header", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	eventDate := time.Unix(event.Created, 0).UTC()

	switch string(event.Type) {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		amount := intent.AmountReceived
		if amount == 0 {
			amount = intent.Amount
		}
		return WebhookEvent{
			Provider:         "stripe",
			Kind:             EventCaptured,
			GatewayPaymentID: intent.ID,
			OrderReference:   intent.Metadata["orderId"],
			MerchantID:       intent.Metadata["merchantId"],
			Amount:           amount,
			Currency:         strings.ToUpper(string(intent.Currency)),
			EventDate:        eventDate,
			Raw:              stripeRawPayload(event),
		}, nil
	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		return WebhookEvent{
			Provider:         "stripe",
			Kind:             EventFailed,
			GatewayPaymentID: intent.ID,
			OrderReference:   intent.Metadata["orderId"],
			MerchantID:       intent.Metadata["merchantId"],
			Amount:           intent.Amount,
			Currency:         strings.ToUpper(string(intent.Currency)),
			EventDate:        eventDate,
			Raw:              stripeRawPayload(event),
		}, nil
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode charge: %w", err)
		}
		paymentID := charge.ID
		if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
			paymentID = charge.PaymentIntent.ID
		}
		// AmountRefunded on the charge is cumulative across all refunds.
		// Prefer the most recent refund object so each partial refund
		// reconciles under its own reference.
		refundID := ""
		amount := charge.AmountRefunded
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 {
			latest := charge.Refunds.Data[0]
			refundID = latest.ID
			amount = latest.Amount
		}
		return WebhookEvent{
			Provider:         "stripe",
			Kind:             EventRefunded,
			GatewayPaymentID: paymentID,
			RefundID:         refundID,
			OrderReference:   charge.Metadata["orderId"],
			MerchantID:       charge.Metadata["merchantId"],
			Amount:           amount,
			Currency:         strings.ToUpper(string(charge.Currency)),
			EventDate:        eventDate,
			Raw:              stripeRawPayload(event),
		}, nil
	default:
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrEventIgnored, event.Type)
	}
}

// Refund creates a refund for the provided Payment Intent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.IntentID,
		"refundId":      refund.ID,
		"amount":        refund.Amount,
	})

	refundedAt := time.Unix(refund.Created, 0).UTC()
	return PaymentDetails{
		Provider:   "stripe",
		IntentID:   req.IntentID,
		RefundID:   refund.ID,
		Status:     StatusRefunded,
		Amount:     refund.Amount,
		Currency:   strings.ToUpper(string(refund.Currency)),
		RefundedAt: &refundedAt,
		Raw:        stripeRawPayload(refund),
	}, nil
}

func stripeRawPayload(v any) map[string]any {
	raw := map[string]any{}
	if data, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	return raw
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
