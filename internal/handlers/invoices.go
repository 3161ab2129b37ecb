package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shiptrack/api/internal/platform/httpx"
	"github.com/shiptrack/api/internal/platform/storage"
	"github.com/shiptrack/api/internal/services"
)

// InvoiceLinkSigner mints short-lived download URLs for archived invoice documents.
type InvoiceLinkSigner interface {
	SignedDownloadURL(ctx context.Context, bucket, object string, opts storage.DownloadOptions) (storage.SignedURLResult, error)
}

// OrderHandlersOption customises optional order handler capabilities.
type OrderHandlersOption func(*OrderHandlers)

// WithInvoiceDownloads enables signed download links for archived invoices.
func WithInvoiceDownloads(signer InvoiceLinkSigner, bucket string) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.invoiceLinks = signer
		h.invoiceBucket = bucket
	}
}

type invoiceResponse struct {
	OrderID       string `json:"order_id"`
	InvoiceNumber string `json:"invoice_number"`
	InvoicedAt    string `json:"invoiced_at,omitempty"`
}

type invoiceLinkResponse struct {
	InvoiceNumber string `json:"invoice_number"`
	URL           string `json:"url"`
	ExpiresAt     string `json:"expires_at"`
}

func (h *OrderHandlers) issueInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, merchantID, ok := h.requireMerchant(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.RequestInvoice(ctx, services.RequestInvoiceCommand{
		MerchantID: merchantID,
		OrderID:    chi.URLParam(r, "orderID"),
		ActorID:    identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := invoiceResponse{OrderID: order.ID}
	if order.InvoiceNumber != nil {
		resp.InvoiceNumber = *order.InvoiceNumber
	}
	if order.InvoicedAt != nil {
		resp.InvoicedAt = order.InvoicedAt.UTC().Format(time.RFC3339)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) invoiceDownloadLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, merchantID, ok := h.requireMerchant(ctx, w)
	if !ok {
		return
	}
	if h.invoiceLinks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_downloads_disabled", "invoice downloads are not configured", http.StatusNotImplemented))
		return
	}

	order, err := h.orders.GetOrder(ctx, merchantID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order.InvoiceNumber == nil || order.InvoicedAt == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_issued", "order has no issued invoice", http.StatusNotFound))
		return
	}

	objectPath, err := storage.InvoiceObjectPath(order.MerchantID, *order.InvoiceNumber, *order.InvoicedAt)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_link_error", "failed to locate archived invoice", http.StatusInternalServerError))
		return
	}

	res, err := h.invoiceLinks.SignedDownloadURL(ctx, h.invoiceBucket, objectPath, storage.DownloadOptions{
		MerchantID:  order.MerchantID,
		Identity:    identity,
		Disposition: `attachment; filename="` + *order.InvoiceNumber + `.pdf"`,
	})
	if err != nil {
		if errors.Is(err, storage.ErrPermissionDenied) {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "invoice belongs to another merchant", http.StatusForbidden))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invoice_link_error", "failed to sign invoice download", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, invoiceLinkResponse{
		InvoiceNumber: *order.InvoiceNumber,
		URL:           res.URL,
		ExpiresAt:     res.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
