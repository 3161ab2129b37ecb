package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	link    PaymentLink
	event   WebhookEvent
	payment PaymentDetails
	err     error
}

func (f *fakeProvider) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (PaymentLink, error) {
	f.lastOp = "link"
	return f.link, f.err
}

func (f *fakeProvider) ParseWebhook(ctx context.Context, payload []byte, headers map[string]string) (WebhookEvent, error) {
	f.lastOp = "webhook"
	return f.event, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	return f.payment, f.err
}

func TestManagerCreatePaymentLinkUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{link: PaymentLink{ID: "link_stripe"}}
	paypal := &fakeProvider{link: PaymentLink{ID: "link_paypal"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"paypal": paypal,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	link, err := mgr.CreatePaymentLink(ctx, PaymentContext{PreferredProvider: "paypal"}, PaymentLinkRequest{Amount: 1000, Currency: "USD"})
	if err != nil {
		t.Fatalf("create payment link: %v", err)
	}

	if link.Provider != "paypal" {
		t.Fatalf("expected provider 'paypal', got %q", link.Provider)
	}
	if paypal.lastOp != "link" {
		t.Fatalf("expected paypal provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{link: PaymentLink{ID: "link_stripe"}}
	paypal := &fakeProvider{link: PaymentLink{ID: "link_paypal"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe": stripe,
			"paypal": paypal,
		},
		WithCurrencyRoutes(map[string]string{"JPY": "paypal"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	link, err := mgr.CreatePaymentLink(ctx, PaymentContext{Currency: "JPY"}, PaymentLinkRequest{Amount: 1000, Currency: "JPY"})
	if err != nil {
		t.Fatalf("create payment link: %v", err)
	}
	if link.Provider != "paypal" {
		t.Fatalf("expected provider 'paypal', got %q", link.Provider)
	}
	if paypal.lastOp != "link" {
		t.Fatalf("expected paypal provider to handle call")
	}
}

func TestManagerRefundFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{IntentID: "pi_123", Status: StatusRefunded}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Refund(ctx, PaymentContext{}, RefundRequest{IntentID: "pi_123"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if stripe.lastOp != "refund" {
		t.Fatalf("expected refund to invoke default provider")
	}
	if details.Provider != "stripe" {
		t.Fatalf("unexpected provider in details: %q", details.Provider)
	}
}

func TestManagerParseWebhookStrictLookup(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{event: WebhookEvent{Kind: EventCaptured, GatewayPaymentID: "pi_123"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	event, err := mgr.ParseWebhook(ctx, "stripe", []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.Provider != "stripe" {
		t.Fatalf("expected provider 'stripe', got %q", event.Provider)
	}
	if event.GatewayPaymentID != "pi_123" {
		t.Fatalf("unexpected gateway payment id: %q", event.GatewayPaymentID)
	}

	// Webhooks never fall through to the default provider.
	if _, err := mgr.ParseWebhook(ctx, "paypal", []byte(`{}`), nil); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "paypal": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreatePaymentLink(ctx, PaymentContext{PreferredProvider: "unknown"}, PaymentLinkRequest{Amount: 500, Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
