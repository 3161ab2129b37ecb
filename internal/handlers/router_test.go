package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestNewRouterServesHealthEndpoints(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rr.Code)
	}
}

func TestNewRouterWritesJSONNotFound(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error envelope: %v", err)
	}
	if body["error"] != errorNotFoundCode {
		t.Fatalf("unexpected error code: %v", body["error"])
	}
}

func TestNewRouterRespondsNotImplementedForUnconfiguredGroups(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for unconfigured orders group, got %d", rr.Code)
	}
}

func TestNewRouterMountsOrderRoutes(t *testing.T) {
	orders := NewOrderHandlers(nil, &stubOrderService{}, &stubPaymentService{})
	router := NewRouter(WithOrderRoutes(orders.Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, merchantRequest(http.MethodGet, "/v1/orders", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from mounted orders routes, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestNewRouterMountsInternalRoutesOutsideVersionPrefix(t *testing.T) {
	notifications := NewNotificationHandlers(&stubOrderService{})
	router := NewRouter(WithInternalRoutes(notifications.Routes))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/notifications/delivery", nil)
	router.ServeHTTP(rr, req)

	if rr.Code == http.StatusNotFound {
		t.Fatalf("expected internal routes mounted at root, got 404")
	}
}

func TestNewRouterAppliesWebhookMiddleware(t *testing.T) {
	var sawHeader bool
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Signature") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			sawHeader = true
			next.ServeHTTP(w, r)
		})
	}

	webhooks := NewWebhookHandlers(&stubPaymentService{})
	router := NewRouter(
		WithWebhookRoutes(webhooks.Routes),
		WithWebhookMiddlewares(guard),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments/stripe", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected middleware rejection, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments/stripe", nil)
	req.Header.Set("X-Signature", "sig")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if !sawHeader {
		t.Fatal("expected middleware to pass request through")
	}
}

func TestNewRouterAdditionalRoutes(t *testing.T) {
	router := NewRouter(WithAdditionalRoutes(func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/version", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected additional route served, got %d", rr.Code)
	}
}
