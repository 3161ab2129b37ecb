package storage

import (
	"bytes"
	"testing"
	"time"

	"github.com/shiptrack/api/internal/services"
)

func TestRenderInvoicePDF(t *testing.T) {
	doc := services.InvoiceDocument{
		MerchantID:    "mer_1",
		OrderID:       "ord_1",
		InvoiceNumber: "INV-202501-0001",
		IssuedAt:      time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC),
		Currency:      "usd",
		GrandTotal:    2500,
		AmountPaid:    2500,
		CustomerName:  "Ana Souza",
		Lines: []services.InvoiceLine{
			{Description: "Widget (blue)", Quantity: 2, UnitPrice: 1250, Total: 2500},
		},
	}

	rendered, err := RenderInvoicePDF(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.HasPrefix(rendered, []byte("%PDF-1.4")) {
		t.Fatalf("expected PDF header, got %q", rendered[:16])
	}
	if !bytes.HasSuffix(bytes.TrimRight(rendered, "\n"), []byte("%%EOF")) {
		t.Fatal("expected trailing EOF marker")
	}
	if !bytes.Contains(rendered, []byte("(Invoice INV-202501-0001)")) {
		t.Fatal("expected invoice number in content stream")
	}
	if !bytes.Contains(rendered, []byte(`(2 x Widget \(blue\)`)) {
		t.Fatal("expected escaped line item in content stream")
	}
	if !bytes.Contains(rendered, []byte("(Total: USD 25.00)")) {
		t.Fatal("expected grand total line")
	}
}

func TestRenderInvoicePDFRequiresNumber(t *testing.T) {
	if _, err := RenderInvoicePDF(services.InvoiceDocument{MerchantID: "mer_1"}); err == nil {
		t.Fatal("expected error for missing invoice number")
	}
}

func TestFormatMinorUnits(t *testing.T) {
	cases := []struct {
		amount   int64
		currency string
		want     string
	}{
		{1234, "USD", "USD 12.34"},
		{5, "usd", "USD 0.05"},
		{-150, "EUR", "EUR -1.50"},
		{0, "brl", "BRL 0.00"},
	}
	for _, tc := range cases {
		if got := formatMinorUnits(tc.amount, tc.currency); got != tc.want {
			t.Errorf("formatMinorUnits(%d, %q) = %q, want %q", tc.amount, tc.currency, got, tc.want)
		}
	}
}
