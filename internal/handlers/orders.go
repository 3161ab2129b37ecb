package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	domain "github.com/shiptrack/api/internal/domain"
	"github.com/shiptrack/api/internal/platform/auth"
	"github.com/shiptrack/api/internal/platform/httpx"
	"github.com/shiptrack/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

// Merchant-entered free text is stripped of any markup before it reaches
// storage or notification templates.
var textPolicy = bluemonday.StrictPolicy()

var validFulfilmentStatuses = map[domain.FulfilmentStatus]struct{}{
	domain.FulfilmentStatusPending:    {},
	domain.FulfilmentStatusProcessing: {},
	domain.FulfilmentStatusShipped:    {},
	domain.FulfilmentStatusDelivered:  {},
	domain.FulfilmentStatusCancelled:  {},
}

// OrderHandlers exposes the merchant-facing order lifecycle endpoints.
type OrderHandlers struct {
	authn         *auth.Authenticator
	orders        services.OrderService
	payments      services.PaymentService
	invoiceLinks  InvoiceLinkSigner
	invoiceBucket string
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleMerchant, auth.RoleStaff, auth.RoleAdmin))
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/transitions", h.transitionOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/payments", h.recordPayment)
	r.Post("/{orderID}/refunds", h.recordRefund)
	r.Post("/{orderID}/payment-link", h.createPaymentLink)
	r.Post("/{orderID}/payment-reminder", h.sendPaymentReminder)
	r.Post("/{orderID}/invoice", h.issueInvoice)
	r.Get("/{orderID}/invoice", h.invoiceDownloadLink)
}

type orderLineItemRequest struct {
	SKU       string         `json:"sku"`
	Name      string         `json:"name"`
	Quantity  int            `json:"quantity"`
	UnitPrice int64          `json:"unit_price"`
	Metadata  map[string]any `json:"metadata"`
}

type orderCustomerRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Locale string `json:"locale"`
}

type createOrderRequest struct {
	CustomerID       string                 `json:"customer_id"`
	Currency         string                 `json:"currency"`
	Items            []orderLineItemRequest `json:"items"`
	GrandTotal       int64                  `json:"grand_total"`
	RewardPercentage int64                  `json:"reward_percentage"`
	PayOnDelivery    bool                   `json:"pay_on_delivery"`
	Customer         orderCustomerRequest   `json:"customer"`
	ShippingAddress  *addressRequest        `json:"shipping_address"`
	Notes            string                 `json:"notes"`
	Metadata         map[string]any         `json:"metadata"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, merchantID, ok := h.requireMerchant(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	items := make([]services.OrderLineItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderLineItem{
			SKU:       strings.TrimSpace(item.SKU),
			Name:      sanitizeText(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Metadata:  cloneMap(item.Metadata),
		})
	}

	cmd := services.CreateOrderCommand{
		MerchantID:       merchantID,
		CustomerID:       strings.TrimSpace(req.CustomerID),
		Currency:         req.Currency,
		Items:            items,
		GrandTotal:       req.GrandTotal,
		RewardPercentage: req.RewardPercentage,
		PayOnDelivery:    req.PayOnDelivery,
		Customer: services.OrderCustomer{
			Name:   sanitizeText(req.Customer.Name),
			Email:  strings.TrimSpace(req.Customer.Email),
			Phone:  strings.TrimSpace(req.Customer.Phone),
			Locale: strings.TrimSpace(req.Customer.Locale),
		},
		ShippingAddress: req.ShippingAddress.toDomain(),
		Notes:           sanitizeText(req.Notes),
		Metadata:        cloneMap(req.Metadata),
		ActorID:         identity.UID,
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, merchantID, ok := h.requireMerchant(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	filter := services.OrderListFilter{
		MerchantID:    merchantID,
		CustomerID:    strings.TrimSpace(query.Get("customer_id")),
		Status:        parseFilterValues(query["status"]),
		PaymentStatus: parseFilterValues(query["payment_status"]),
		DateRange:     dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, merchantID, ok := h.requireMerchant(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, merchantID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type transitionOrderRequest struct {
	TargetStatus      string         `json:"target_status"`
	Reason            string         `json:"reason"`
	TrackingReference string         `json:"tracking_reference"`
	ExpectedStatus    string         `json:"expected_status"`
	Metadata          map[string]any `json:"metadata"`
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, merchantID, ok := h.requireMerchant(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req transitionOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	target, ok := parseFulfilmentStatus(req.TargetStatus)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target_status must be a valid fulfilment status", http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		MerchantID:        merchantID,
		OrderID:           orderID,
		TargetStatus:      target,
		ActorID:           identity.UID,
		Reason:            sanitizeText(req.Reason),
		TrackingReference: strings.TrimSpace(req.TrackingReference),
		Metadata:          cloneMap(req.Metadata),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseFulfilmentStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid fulfilment status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason         string         `json:"reason"`
	ExpectedStatus string         `json:"expected_status"`
	Metadata       map[string]any `json:"metadata"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, merchantID, ok := h.requireMerchant(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	cmd := services.CancelOrderCommand{
		MerchantID: merchantID,
		OrderID:    orderID,
		ActorID:    identity.UID,
		Reason:     sanitizeText(req.Reason),
		Metadata:   cloneMap(req.Metadata),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseFulfilmentStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid fulfilment status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.Cancel(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type recordPaymentRequest struct {
	Reference string         `json:"reference"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	EventDate string         `json:"event_date"`
	Metadata  map[string]any `json:"metadata"`
}

func (h *OrderHandlers) recordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, merchantID, ok := h.requireMerchant(ctx, w)
	if !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req recordPaymentRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	cmd := services.RecordPaymentCommand{
		MerchantID: merchantID,
		OrderID:    orderID,
		Reference:  strings.TrimSpace(req.Reference),
		Amount:     req.Amount,
		Currency:   req.Currency,
		ActorID:    identity.UID,
		Metadata:   cloneMap(req.Metadata),
	}
	if raw := strings.TrimSpace(req.EventDate); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "event_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.EventDate = ts
	}

	order, err := h.payments.RecordManualPayment(ctx, cmd)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type recordRefundRequest struct {
	Reference        string `json:"reference"`
	PaymentReference string `json:"payment_reference"`
	Amount           int64  `json:"amount"`
	Reason           string `json:"reason"`
}

func (h *OrderHandlers) recordRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, merchantID, ok := h.requireMerchant(ctx, w)
	if !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req recordRefundRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.payments.RecordRefund(ctx, services.RecordRefundCommand{
		MerchantID:       merchantID,
		OrderID:          orderID,
		Reference:        strings.TrimSpace(req.Reference),
		PaymentReference: strings.TrimSpace(req.PaymentReference),
		Amount:           req.Amount,
		Reason:           sanitizeText(req.Reason),
		ActorID:          identity.UID,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) createPaymentLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, merchantID, ok := h.requireMerchant(ctx, w)
	if !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	link, err := h.payments.CreatePaymentLink(ctx, services.CreatePaymentLinkCommand{
		MerchantID: merchantID,
		OrderID:    orderID,
		ActorID:    identity.UID,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, paymentLinkResponse{
		Provider:  link.Provider,
		LinkID:    link.LinkID,
		URL:       link.URL,
		Amount:    link.Amount,
		Currency:  link.Currency,
		ExpiresAt: formatTime(link.ExpiresAt),
	})
}

type paymentReminderRequest struct {
	Message string `json:"message"`
}

func (h *OrderHandlers) sendPaymentReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, merchantID, ok := h.requireMerchant(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req paymentReminderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.SendPaymentReminder(ctx, services.PaymentReminderCommand{
		MerchantID: merchantID,
		OrderID:    orderID,
		ActorID:    identity.UID,
		Message:    sanitizeText(req.Message),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// requireMerchant extracts the authenticated identity and its merchant scope.
func (h *OrderHandlers) requireMerchant(ctx context.Context, w http.ResponseWriter) (*auth.Identity, string, bool) {
	identity, merchantID, ok := merchantFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, "", false
	}
	if merchantID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("merchant_scope_missing", "merchant scope missing on credentials", http.StatusForbidden))
		return nil, "", false
	}
	return identity, merchantID, true
}

func merchantFromContext(ctx context.Context) (*auth.Identity, string, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return nil, "", false
	}
	return identity, strings.TrimSpace(identity.MerchantID), true
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		} else {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func sanitizeText(value string) string {
	return strings.TrimSpace(textPolicy.Sanitize(value))
}

func parseFulfilmentStatus(raw string) (domain.FulfilmentStatus, bool) {
	status := domain.FulfilmentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validFulfilmentStatuses[status]; !ok {
		return "", false
	}
	return status, true
}

// Response payloads -----------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	CustomerID    string `json:"customer_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Currency      string `json:"currency"`
	GrandTotal    int64  `json:"grand_total"`
	AmountPaid    int64  `json:"amount_paid"`
	Outstanding   int64  `json:"outstanding"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID               string                `json:"id"`
	MerchantID       string                `json:"merchant_id"`
	CustomerID       string                `json:"customer_id"`
	Status           string                `json:"status"`
	PaymentStatus    string                `json:"payment_status"`
	Currency         string                `json:"currency"`
	GrandTotal       int64                 `json:"grand_total"`
	AmountPaid       int64                 `json:"amount_paid"`
	AmountRefunded   int64                 `json:"amount_refunded"`
	Outstanding      int64                 `json:"outstanding"`
	RewardPercentage int64                 `json:"reward_percentage,omitempty"`
	PayOnDelivery    bool                  `json:"pay_on_delivery,omitempty"`
	Customer         orderContactPayload   `json:"customer"`
	Items            []orderItemPayload    `json:"items"`
	ShippingAddress  *addressPayload       `json:"shipping_address,omitempty"`
	Payments         []paymentEntryPayload `json:"payments,omitempty"`
	Refunds          []refundEntryPayload  `json:"refunds,omitempty"`
	Timeline         []timelineEntryData   `json:"timeline,omitempty"`
	InvoiceNumber    *string               `json:"invoice_number,omitempty"`
	InvoicedAt       string                `json:"invoiced_at,omitempty"`
	Notes            string                `json:"notes,omitempty"`
	Metadata         map[string]any        `json:"metadata,omitempty"`
	CreatedAt        string                `json:"created_at"`
	UpdatedAt        string                `json:"updated_at,omitempty"`
	ShippedAt        string                `json:"shipped_at,omitempty"`
	DeliveredAt      string                `json:"delivered_at,omitempty"`
	CancelledAt      string                `json:"cancelled_at,omitempty"`
	CancelReason     *string               `json:"cancel_reason,omitempty"`
}

type orderContactPayload struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Locale string `json:"locale,omitempty"`
}

type orderItemPayload struct {
	SKU       string         `json:"sku"`
	Name      string         `json:"name,omitempty"`
	Quantity  int            `json:"quantity"`
	UnitPrice int64          `json:"unit_price"`
	Total     int64          `json:"total"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type paymentEntryPayload struct {
	Reference    string `json:"reference"`
	Provider     string `json:"provider"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	RewardPoints int64  `json:"reward_points"`
	EventDate    string `json:"event_date,omitempty"`
	RecordedAt   string `json:"recorded_at"`
}

type refundEntryPayload struct {
	Reference        string `json:"reference"`
	PaymentReference string `json:"payment_reference"`
	Amount           int64  `json:"amount"`
	PointsReversed   int64  `json:"points_reversed"`
	Reason           string `json:"reason,omitempty"`
	RecordedAt       string `json:"recorded_at"`
}

type timelineEntryData struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	OccurredAt string         `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type paymentLinkResponse struct {
	Provider  string `json:"provider"`
	LinkID    string `json:"link_id"`
	URL       string `json:"url"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	totals := domain.PaymentTotals{
		GrandTotal:     order.GrandTotal,
		AmountPaid:     order.AmountPaid,
		AmountRefunded: order.AmountRefunded,
	}
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		CustomerID:    strings.TrimSpace(order.CustomerID),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		GrandTotal:    order.GrandTotal,
		AmountPaid:    order.AmountPaid,
		Outstanding:   domain.Outstanding(totals),
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	totals := domain.PaymentTotals{
		GrandTotal:     order.GrandTotal,
		AmountPaid:     order.AmountPaid,
		AmountRefunded: order.AmountRefunded,
	}

	payload := orderPayload{
		ID:               strings.TrimSpace(order.ID),
		MerchantID:       strings.TrimSpace(order.MerchantID),
		CustomerID:       strings.TrimSpace(order.CustomerID),
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		Currency:         strings.ToUpper(strings.TrimSpace(order.Currency)),
		GrandTotal:       order.GrandTotal,
		AmountPaid:       order.AmountPaid,
		AmountRefunded:   order.AmountRefunded,
		Outstanding:      domain.Outstanding(totals),
		RewardPercentage: order.RewardPercentage,
		PayOnDelivery:    order.PayOnDelivery,
		Customer: orderContactPayload{
			Name:   strings.TrimSpace(order.Customer.Name),
			Email:  strings.TrimSpace(order.Customer.Email),
			Phone:  strings.TrimSpace(order.Customer.Phone),
			Locale: strings.TrimSpace(order.Customer.Locale),
		},
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		InvoiceNumber: cloneStringPointer(order.InvoiceNumber),
		InvoicedAt:    formatTime(pointerTime(order.InvoicedAt)),
		Notes:         strings.TrimSpace(order.Notes),
		Metadata:      cloneMap(order.Metadata),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		ShippedAt:     formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:   formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:   formatTime(pointerTime(order.CancelledAt)),
		CancelReason:  cloneStringPointer(order.CancelReason),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			SKU:       strings.TrimSpace(item.SKU),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
			Metadata:  cloneMap(item.Metadata),
		})
	}

	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}

	for _, payment := range order.Payments {
		payload.Payments = append(payload.Payments, paymentEntryPayload{
			Reference:    payment.Reference,
			Provider:     payment.Provider,
			Amount:       payment.Amount,
			Currency:     strings.ToUpper(strings.TrimSpace(payment.Currency)),
			RewardPoints: payment.RewardPoints,
			EventDate:    formatTime(payment.EventDate),
			RecordedAt:   formatTime(payment.RecordedAt),
		})
	}

	for _, refund := range order.Refunds {
		payload.Refunds = append(payload.Refunds, refundEntryPayload{
			Reference:        refund.Reference,
			PaymentReference: refund.PaymentReference,
			Amount:           refund.Amount,
			PointsReversed:   refund.PointsReversed,
			Reason:           refund.Reason,
			RecordedAt:       formatTime(refund.RecordedAt),
		})
	}

	for _, entry := range order.Timeline {
		payload.Timeline = append(payload.Timeline, timelineEntryData{
			ID:         entry.ID,
			Type:       entry.Type,
			From:       entry.From,
			To:         entry.To,
			Actor:      entry.Actor,
			Reason:     entry.Reason,
			OccurredAt: formatTime(entry.OccurredAt),
			Metadata:   cloneMap(entry.Metadata),
		})
	}

	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCounterContended):
		httpx.WriteError(ctx, w, httpx.NewError("sequencer_contended", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var overpayment *domain.OverpaymentError
	var invalidRefund *domain.InvalidRefundError

	switch {
	case errors.As(err, &overpayment):
		httpx.WriteError(ctx, w, httpx.NewError("overpayment", err.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"attempted": overpayment.Attempted, "outstanding": overpayment.Outstanding}))
	case errors.As(err, &invalidRefund):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_refund", err.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"attempted": invalidRefund.Attempted, "refundable": invalidRefund.Refundable}))
	case errors.Is(err, domain.ErrInvalidAmount):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_amount", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentOrderCancelled):
		httpx.WriteError(ctx, w, httpx.NewError("order_cancelled", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCounterContended):
		httpx.WriteError(ctx, w, httpx.NewError("sequencer_contended", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
