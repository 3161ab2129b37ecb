package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shiptrack/api/internal/platform/auth"
	"github.com/shiptrack/api/internal/platform/httpx"
	"github.com/shiptrack/api/internal/services"
)

const (
	defaultRewardPageSize = 50
	maxRewardPageSize     = 200
)

// CustomerHandlers exposes merchant-scoped customer profile and reward endpoints.
type CustomerHandlers struct {
	authn     *auth.Authenticator
	customers services.CustomerService
}

// NewCustomerHandlers constructs a new CustomerHandlers instance.
func NewCustomerHandlers(authn *auth.Authenticator, customers services.CustomerService) *CustomerHandlers {
	return &CustomerHandlers{
		authn:     authn,
		customers: customers,
	}
}

// Routes registers the /customers endpoints.
func (h *CustomerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleMerchant, auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/{customerID}", h.getCustomer)
	r.Put("/{customerID}", h.upsertCustomer)
	r.Get("/{customerID}/rewards", h.listRewards)
}

func (h *CustomerHandlers) getCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID, customerID, ok := h.requireScope(ctx, w, r)
	if !ok {
		return
	}

	customer, err := h.customers.GetCustomer(ctx, merchantID, customerID)
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, customerResponse{Customer: buildCustomerPayload(customer)})
}

type upsertCustomerRequest struct {
	DisplayName       string `json:"display_name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	PreferredLanguage string `json:"preferred_language"`
}

func (h *CustomerHandlers) upsertCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID, customerID, ok := h.requireScope(ctx, w, r)
	if !ok {
		return
	}

	var req upsertCustomerRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	customer, err := h.customers.UpsertCustomer(ctx, services.UpsertCustomerCommand{
		MerchantID:        merchantID,
		CustomerID:        customerID,
		DisplayName:       sanitizeText(req.DisplayName),
		Email:             strings.TrimSpace(req.Email),
		Phone:             strings.TrimSpace(req.Phone),
		PreferredLanguage: strings.TrimSpace(req.PreferredLanguage),
	})
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, customerResponse{Customer: buildCustomerPayload(customer)})
}

func (h *CustomerHandlers) listRewards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID, customerID, ok := h.requireScope(ctx, w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	pageSize := defaultRewardPageSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultRewardPageSize
		case size > maxRewardPageSize:
			pageSize = maxRewardPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.customers.ListRewardEntries(ctx, services.ListRewardEntriesCommand{
		MerchantID: merchantID,
		CustomerID: customerID,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}

	items := make([]rewardEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, rewardEntryPayload{
			ID:               entry.ID,
			OrderID:          entry.OrderID,
			PaymentReference: entry.PaymentReference,
			Kind:             entry.Kind,
			Points:           entry.Points,
			OccurredAt:       formatTime(entry.OccurredAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, rewardListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *CustomerHandlers) requireScope(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if h.customers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("customer_service_unavailable", "customer service unavailable", http.StatusServiceUnavailable))
		return "", "", false
	}

	_, merchantID, ok := merchantFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", "", false
	}
	if merchantID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("merchant_scope_missing", "merchant scope missing on credentials", http.StatusForbidden))
		return "", "", false
	}

	customerID := strings.TrimSpace(chi.URLParam(r, "customerID"))
	if customerID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "customer id is required", http.StatusBadRequest))
		return "", "", false
	}
	return merchantID, customerID, true
}

type customerResponse struct {
	Customer customerPayload `json:"customer"`
}

type customerPayload struct {
	ID                string `json:"id"`
	MerchantID        string `json:"merchant_id"`
	DisplayName       string `json:"display_name,omitempty"`
	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone,omitempty"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
	RewardBalance     int64  `json:"reward_balance"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

type rewardListResponse struct {
	Items         []rewardEntryPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

type rewardEntryPayload struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id,omitempty"`
	PaymentReference string `json:"payment_reference"`
	Kind             string `json:"kind"`
	Points           int64  `json:"points"`
	OccurredAt       string `json:"occurred_at"`
}

func buildCustomerPayload(customer services.Customer) customerPayload {
	return customerPayload{
		ID:                customer.ID,
		MerchantID:        customer.MerchantID,
		DisplayName:       customer.DisplayName,
		Email:             customer.Email,
		Phone:             customer.Phone,
		PreferredLanguage: customer.PreferredLanguage,
		RewardBalance:     customer.RewardBalance,
		CreatedAt:         formatTime(customer.CreatedAt),
		UpdatedAt:         formatTime(customer.UpdatedAt),
	}
}

func writeCustomerError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCustomerInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCustomerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("customer_not_found", "customer not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCustomerConflict):
		httpx.WriteError(ctx, w, httpx.NewError("customer_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("customer_error", "failed to process customer request", http.StatusInternalServerError))
	}
}
