package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeRefundAPI struct {
	refund *stripe.Refund
	err    error
}

func (f *fakeRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	return f.refund, f.err
}

type fakeSessionAPI struct{}

func (fakeSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: "cs_1"}, nil
}

func signedStripeHeaders(secret string, payload []byte, at time.Time) map[string]string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return map[string]string{
		"Stripe-Signature": fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))),
	}
}

func newTestStripeProvider(t *testing.T, refunds stripeRefundAPI) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		WebhookSecret: "whsec_test",
		Clients:       &stripeClients{sessions: fakeSessionAPI{}, refunds: refunds},
	})
	if err != nil {
		t.Fatalf("new stripe provider: %v", err)
	}
	return provider
}

func TestStripeParseWebhookChargeRefundedUsesRefundObject(t *testing.T) {
	ctx := context.Background()
	provider := newTestStripeProvider(t, &fakeRefundAPI{})

	// Stripe lists refunds most recent first and reports amount_refunded
	// cumulatively across the charge.
	payload := []byte(`{
		"id": "evt_1",
		"type": "charge.refunded",
		"api_version": "` + stripe.APIVersion + `",
		"created": 1736930000,
		"data": {
			"object": {
				"id": "ch_1",
				"object": "charge",
				"payment_intent": "pi_123",
				"amount_refunded": 500,
				"currency": "usd",
				"metadata": {"orderId": "ord_1", "merchantId": "mer_1"},
				"refunds": {
					"object": "list",
					"data": [
						{"id": "re_2", "amount": 300},
						{"id": "re_1", "amount": 200}
					]
				}
			}
		}
	}`)

	event, err := provider.ParseWebhook(ctx, payload, signedStripeHeaders("whsec_test", payload, time.Now()))
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}

	if event.Kind != EventRefunded {
		t.Fatalf("expected refunded kind, got %q", event.Kind)
	}
	if event.GatewayPaymentID != "pi_123" {
		t.Fatalf("expected payment intent id, got %q", event.GatewayPaymentID)
	}
	if event.RefundID != "re_2" {
		t.Fatalf("expected the latest refund object, got %q", event.RefundID)
	}
	if event.Amount != 300 {
		t.Fatalf("expected the refund's own amount, not the cumulative figure, got %d", event.Amount)
	}
	if event.OrderReference != "ord_1" || event.MerchantID != "mer_1" {
		t.Fatalf("metadata must resolve the order, got %q/%q", event.OrderReference, event.MerchantID)
	}
}

func TestStripeParseWebhookChargeRefundedWithoutRefundList(t *testing.T) {
	ctx := context.Background()
	provider := newTestStripeProvider(t, &fakeRefundAPI{})

	payload := []byte(`{
		"id": "evt_2",
		"type": "charge.refunded",
		"api_version": "` + stripe.APIVersion + `",
		"created": 1736930000,
		"data": {
			"object": {
				"id": "ch_1",
				"object": "charge",
				"payment_intent": "pi_123",
				"amount_refunded": 500,
				"currency": "usd",
				"metadata": {"orderId": "ord_1"}
			}
		}
	}`)

	event, err := provider.ParseWebhook(ctx, payload, signedStripeHeaders("whsec_test", payload, time.Now()))
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}

	if event.RefundID != "" {
		t.Fatalf("expected no refund id without the list, got %q", event.RefundID)
	}
	if event.Amount != 500 {
		t.Fatalf("expected the cumulative figure as fallback, got %d", event.Amount)
	}
}

func TestStripeRefundReturnsRefundObjectID(t *testing.T) {
	ctx := context.Background()
	provider := newTestStripeProvider(t, &fakeRefundAPI{
		refund: &stripe.Refund{ID: "re_9", Amount: 400, Currency: "usd", Created: 1736930000},
	})

	details, err := provider.Refund(ctx, RefundRequest{IntentID: "pi_123"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if details.RefundID != "re_9" {
		t.Fatalf("expected refund object id, got %q", details.RefundID)
	}
	if details.Status != StatusRefunded || details.Amount != 400 {
		t.Fatalf("unexpected details: %+v", details)
	}
}
