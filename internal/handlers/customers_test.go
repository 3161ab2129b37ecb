package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shiptrack/api/internal/domain"
	"github.com/shiptrack/api/internal/services"
)

type stubCustomerService struct {
	getFn     func(context.Context, string, string) (services.Customer, error)
	upsertFn  func(context.Context, services.UpsertCustomerCommand) (services.Customer, error)
	rewardsFn func(context.Context, services.ListRewardEntriesCommand) (domain.CursorPage[services.RewardEntry], error)
	accrueFn  func(context.Context, services.RewardMovementCommand) (services.RewardMovementResult, error)
	reverseFn func(context.Context, services.RewardMovementCommand) (services.RewardMovementResult, error)
}

func (s *stubCustomerService) GetCustomer(ctx context.Context, merchantID, customerID string) (services.Customer, error) {
	if s.getFn != nil {
		return s.getFn(ctx, merchantID, customerID)
	}
	return services.Customer{}, nil
}

func (s *stubCustomerService) UpsertCustomer(ctx context.Context, cmd services.UpsertCustomerCommand) (services.Customer, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cmd)
	}
	return services.Customer{}, nil
}

func (s *stubCustomerService) ListRewardEntries(ctx context.Context, cmd services.ListRewardEntriesCommand) (domain.CursorPage[services.RewardEntry], error) {
	if s.rewardsFn != nil {
		return s.rewardsFn(ctx, cmd)
	}
	return domain.CursorPage[services.RewardEntry]{}, nil
}

func (s *stubCustomerService) AccrueReward(ctx context.Context, cmd services.RewardMovementCommand) (services.RewardMovementResult, error) {
	if s.accrueFn != nil {
		return s.accrueFn(ctx, cmd)
	}
	return services.RewardMovementResult{}, nil
}

func (s *stubCustomerService) ReverseReward(ctx context.Context, cmd services.RewardMovementCommand) (services.RewardMovementResult, error) {
	if s.reverseFn != nil {
		return s.reverseFn(ctx, cmd)
	}
	return services.RewardMovementResult{}, nil
}

func newCustomerRouter(customers services.CustomerService) chi.Router {
	r := chi.NewRouter()
	NewCustomerHandlers(nil, customers).Routes(r)
	return r
}

func TestGetCustomerReturnsProfile(t *testing.T) {
	customers := &stubCustomerService{
		getFn: func(ctx context.Context, merchantID, customerID string) (services.Customer, error) {
			if merchantID != "mer_1" || customerID != "cus_1" {
				t.Fatalf("unexpected scope: %s/%s", merchantID, customerID)
			}
			return services.Customer{
				ID:            "cus_1",
				MerchantID:    "mer_1",
				DisplayName:   "Ana",
				RewardBalance: 120,
			}, nil
		},
	}
	router := newCustomerRouter(customers)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, merchantRequest(http.MethodGet, "/cus_1", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp customerResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Customer.ID != "cus_1" || resp.Customer.RewardBalance != 120 {
		t.Fatalf("unexpected payload: %+v", resp.Customer)
	}
}

func TestGetCustomerMapsNotFound(t *testing.T) {
	customers := &stubCustomerService{
		getFn: func(ctx context.Context, merchantID, customerID string) (services.Customer, error) {
			return services.Customer{}, services.ErrCustomerNotFound
		},
	}
	router := newCustomerRouter(customers)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, merchantRequest(http.MethodGet, "/cus_missing", ""))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestUpsertCustomerSanitisesDisplayName(t *testing.T) {
	var captured services.UpsertCustomerCommand
	customers := &stubCustomerService{
		upsertFn: func(ctx context.Context, cmd services.UpsertCustomerCommand) (services.Customer, error) {
			captured = cmd
			return services.Customer{ID: cmd.CustomerID, MerchantID: cmd.MerchantID, DisplayName: cmd.DisplayName}, nil
		},
	}
	router := newCustomerRouter(customers)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, merchantRequest(http.MethodPut, "/cus_1",
		`{"display_name":"<script>x</script>Ana","email":" ana@example.com ","preferred_language":"pt-BR"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.DisplayName != "Ana" {
		t.Fatalf("expected sanitised display name, got %q", captured.DisplayName)
	}
	if captured.Email != "ana@example.com" {
		t.Fatalf("expected trimmed email, got %q", captured.Email)
	}
	if captured.PreferredLanguage != "pt-BR" {
		t.Fatalf("unexpected preferred language: %q", captured.PreferredLanguage)
	}
}

func TestListRewardsClampsPageSize(t *testing.T) {
	var captured services.ListRewardEntriesCommand
	customers := &stubCustomerService{
		rewardsFn: func(ctx context.Context, cmd services.ListRewardEntriesCommand) (domain.CursorPage[services.RewardEntry], error) {
			captured = cmd
			return domain.CursorPage[services.RewardEntry]{
				Items: []services.RewardEntry{{
					ID:               "rwd_1",
					OrderID:          "ord_1",
					PaymentReference: "pay_a",
					Kind:             "accrual",
					Points:           6,
					OccurredAt:       time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC),
				}},
				NextPageToken: "tok",
			}, nil
		},
	}
	router := newCustomerRouter(customers)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, merchantRequest(http.MethodGet, "/cus_1/rewards?page_size=9999", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.Pagination.PageSize != maxRewardPageSize {
		t.Fatalf("expected clamped page size %d, got %d", maxRewardPageSize, captured.Pagination.PageSize)
	}

	var resp rewardListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Points != 6 || resp.Items[0].Kind != "accrual" {
		t.Fatalf("unexpected reward items: %+v", resp.Items)
	}
	if resp.NextPageToken != "tok" {
		t.Fatalf("expected next page token, got %q", resp.NextPageToken)
	}
}

func TestCustomerEndpointsRequireMerchantScope(t *testing.T) {
	router := newCustomerRouter(&stubCustomerService{})

	req := httptest.NewRequest(http.MethodGet, "/cus_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}
}
