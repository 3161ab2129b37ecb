package storage

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/shiptrack/api/internal/services"
)

// RenderInvoicePDF produces a minimal single-page PDF 1.4 document for the
// invoice. The archive only needs a durable, human-readable artefact; layout
// is a plain text column in a built-in font so no font embedding is required.
func RenderInvoicePDF(doc services.InvoiceDocument) ([]byte, error) {
	if strings.TrimSpace(doc.InvoiceNumber) == "" {
		return nil, fmt.Errorf("storage: invoice number is required")
	}

	lines := []string{
		fmt.Sprintf("Invoice %s", doc.InvoiceNumber),
		fmt.Sprintf("Merchant: %s", doc.MerchantID),
		fmt.Sprintf("Order: %s", doc.OrderID),
	}
	if !doc.IssuedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("Issued: %s", doc.IssuedAt.UTC().Format("2006-01-02")))
	}
	if name := strings.TrimSpace(doc.CustomerName); name != "" {
		lines = append(lines, fmt.Sprintf("Billed to: %s", name))
	}
	lines = append(lines, "")
	for _, item := range doc.Lines {
		lines = append(lines, fmt.Sprintf("%d x %s  %s  =  %s",
			item.Quantity,
			item.Description,
			formatMinorUnits(item.UnitPrice, doc.Currency),
			formatMinorUnits(item.Total, doc.Currency),
		))
	}
	lines = append(lines,
		"",
		fmt.Sprintf("Total: %s", formatMinorUnits(doc.GrandTotal, doc.Currency)),
		fmt.Sprintf("Paid: %s", formatMinorUnits(doc.AmountPaid, doc.Currency)),
	)

	var content bytes.Buffer
	content.WriteString("BT\n/F1 11 Tf\n14 TL\n50 792 Td\n")
	for _, line := range lines {
		fmt.Fprintf(&content, "(%s) Tj\nT*\n", escapePDFText(line))
	}
	content.WriteString("ET\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xrefOffset := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(objects)+1)
	out.WriteString("0000000000 65535 f \n")
	for _, offset := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOffset)

	return out.Bytes(), nil
}

func escapePDFText(text string) string {
	replacer := strings.NewReplacer("\\", "\\\\", "(", "\\(", ")", "\\)")
	return replacer.Replace(text)
}

// formatMinorUnits renders an int64 minor-unit amount as "CODE 12.34".
func formatMinorUnits(amount int64, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s %s%d.%02d", code, sign, amount/100, amount%100)
}
