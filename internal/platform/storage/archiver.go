package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/shiptrack/api/internal/services"
)

const invoiceContentType = "application/pdf"

// Archiver renders invoice documents and writes them to the archive bucket.
type Archiver struct {
	client *gcs.Client
	bucket string
	render func(services.InvoiceDocument) ([]byte, error)
	now    func() time.Time
}

// ArchiverOption customises archiver behaviour.
type ArchiverOption func(*Archiver)

// WithArchiverClock injects a custom clock (useful for tests).
func WithArchiverClock(clock func() time.Time) ArchiverOption {
	return func(a *Archiver) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewArchiver constructs an invoice archiver writing to the given bucket.
func NewArchiver(client *gcs.Client, bucket string, opts ...ArchiverOption) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("storage archiver: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage archiver: bucket is required")
	}

	archiver := &Archiver{
		client: client,
		bucket: bucket,
		render: RenderInvoicePDF,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(archiver)
		}
	}
	return archiver, nil
}

var _ services.InvoiceArchiver = (*Archiver)(nil)

// ArchiveInvoice renders the document and stores it under the merchant/period
// prefix. Writing the same invoice twice overwrites the previous object, so
// re-issuing after a partial failure is safe.
func (a *Archiver) ArchiveInvoice(ctx context.Context, doc services.InvoiceDocument) (string, error) {
	if a == nil || a.client == nil {
		return "", errors.New("storage archiver: not initialised")
	}

	issuedAt := doc.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = a.now().UTC()
	}

	objectPath, err := InvoiceObjectPath(doc.MerchantID, doc.InvoiceNumber, issuedAt)
	if err != nil {
		return "", err
	}

	rendered, err := a.render(doc)
	if err != nil {
		return "", fmt.Errorf("storage archiver: render invoice %s: %w", doc.InvoiceNumber, err)
	}

	writer := a.client.Bucket(a.bucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = invoiceContentType
	writer.Metadata = map[string]string{
		"merchantId":    doc.MerchantID,
		"orderId":       doc.OrderID,
		"invoiceNumber": doc.InvoiceNumber,
	}

	if _, err := writer.Write(rendered); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage archiver: write %s: %w", objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage archiver: commit %s: %w", objectPath, err)
	}

	return objectPath, nil
}
