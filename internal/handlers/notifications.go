package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shiptrack/api/internal/domain"
	"github.com/shiptrack/api/internal/platform/httpx"
	"github.com/shiptrack/api/internal/services"
)

// NotificationHandlers receives dispatcher callbacks that update the
// notification log on the order aggregate. The routes sit under /internal and
// are expected to be guarded by the OIDC push middleware.
type NotificationHandlers struct {
	orders services.OrderService
}

// NewNotificationHandlers constructs a new NotificationHandlers instance.
func NewNotificationHandlers(orders services.OrderService) *NotificationHandlers {
	return &NotificationHandlers{orders: orders}
}

// Routes registers the /internal notification endpoints.
func (h *NotificationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/notifications/delivery", h.recordDelivery)
}

type notificationDeliveryRequest struct {
	OrderID        string `json:"order_id"`
	NotificationID string `json:"notification_id"`
	Status         string `json:"status"`
	Detail         string `json:"detail"`
	DeliveredAt    string `json:"delivered_at"`
}

var validNotificationStatuses = map[string]struct{}{
	domain.NotificationStatusPublished: {},
	domain.NotificationStatusDelivered: {},
	domain.NotificationStatusFailed:    {},
}

func (h *NotificationHandlers) recordDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req notificationDeliveryRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	status := strings.ToLower(strings.TrimSpace(req.Status))
	if _, ok := validNotificationStatuses[status]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be published, delivered, or failed", http.StatusBadRequest))
		return
	}

	cmd := services.MarkNotificationCommand{
		OrderID:        strings.TrimSpace(req.OrderID),
		NotificationID: strings.TrimSpace(req.NotificationID),
		Status:         status,
		Detail:         strings.TrimSpace(req.Detail),
	}
	if raw := strings.TrimSpace(req.DeliveredAt); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivered_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.DeliveredAt = &ts
	} else if status == domain.NotificationStatusDelivered {
		now := time.Now().UTC()
		cmd.DeliveredAt = &now
	}

	if err := h.orders.MarkNotification(ctx, cmd); err != nil {
		writeNotificationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func writeNotificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("notification_not_found", "order or notification not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("notification_error", "failed to record delivery", http.StatusInternalServerError))
	}
}
