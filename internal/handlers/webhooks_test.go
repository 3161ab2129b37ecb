package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shiptrack/api/internal/payments"
	"github.com/shiptrack/api/internal/services"
)

func newWebhookRouter(paymentsSvc services.PaymentService, opts ...WebhookOption) chi.Router {
	r := chi.NewRouter()
	NewWebhookHandlers(paymentsSvc, opts...).Routes(r)
	return r
}

func TestPaymentWebhookAcceptsDelivery(t *testing.T) {
	var captured services.PaymentWebhookCommand
	paymentsSvc := &stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.PaymentWebhookCommand) error {
			captured = cmd
			return nil
		},
	}
	router := newWebhookRouter(paymentsSvc)

	req := httptest.NewRequest(http.MethodPost, "/payments/Stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Provider != "stripe" {
		t.Fatalf("expected lowercased provider, got %q", captured.Provider)
	}
	if string(captured.Payload) != `{"id":"evt_1"}` {
		t.Fatalf("unexpected payload: %s", captured.Payload)
	}
	if captured.Headers["Stripe-Signature"] != "t=1,v1=abc" {
		t.Fatalf("expected signature header forwarded, got %v", captured.Headers)
	}
}

func TestPaymentWebhookRejectsEmptyBody(t *testing.T) {
	router := newWebhookRouter(&stubPaymentService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/stripe", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rr.Code)
	}
}

func TestPaymentWebhookMapsInvalidSignature(t *testing.T) {
	paymentsSvc := &stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.PaymentWebhookCommand) error {
			return payments.ErrInvalidSignature
		},
	}
	router := newWebhookRouter(paymentsSvc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{}`)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rr.Code)
	}
}

func TestPaymentWebhookMapsUnsupportedProvider(t *testing.T) {
	paymentsSvc := &stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.PaymentWebhookCommand) error {
			return payments.ErrUnsupportedProvider
		},
	}
	router := newWebhookRouter(paymentsSvc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/unknown", strings.NewReader(`{}`)))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", rr.Code)
	}
}

func TestPaymentWebhookMapsConflictForRetry(t *testing.T) {
	paymentsSvc := &stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.PaymentWebhookCommand) error {
			return services.ErrPaymentConflict
		},
	}
	router := newWebhookRouter(paymentsSvc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{}`)))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for busy order, got %d", rr.Code)
	}
}

func TestPaymentWebhookRateLimitsProvider(t *testing.T) {
	router := newWebhookRouter(&stubPaymentService{}, WithWebhookRateLimit(2, time.Minute))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{}`)))
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{}`)))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/manual", strings.NewReader(`{}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected other providers unaffected, got %d", rr.Code)
	}
}
