package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/shiptrack/api/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller may not access the archived document.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeInvoiceDownload validates whether the identity may fetch invoices
// belonging to merchantID. Merchants only see their own archive; staff and
// admin identities may fetch across merchants.
func AuthorizeInvoiceDownload(identity *auth.Identity, merchantID string) error {
	if identity == nil {
		return ErrPermissionDenied
	}
	merchantID = strings.TrimSpace(merchantID)
	if merchantID != "" && strings.TrimSpace(identity.MerchantID) == merchantID {
		return nil
	}
	if identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin) {
		return nil
	}
	return ErrPermissionDenied
}

// AuthorizeInvoiceDownloadFromContext extracts the identity from context and validates access.
func AuthorizeInvoiceDownloadFromContext(ctx context.Context, merchantID string) (*auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	if err := AuthorizeInvoiceDownload(identity, merchantID); err != nil {
		return nil, err
	}
	return identity, nil
}
