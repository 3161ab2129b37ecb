package storage

import (
	"fmt"
	"strings"
	"time"
)

// InvoiceObjectPath composes the archive object key for an invoice document.
// Invoices are grouped per merchant and issuance period so retention and
// export tooling can operate on whole prefixes.
func InvoiceObjectPath(merchantID, invoiceNumber string, issuedAt time.Time) (string, error) {
	merchant, err := validateSegment("merchantID", merchantID)
	if err != nil {
		return "", err
	}
	number, err := validateSegment("invoiceNumber", invoiceNumber)
	if err != nil {
		return "", err
	}
	if issuedAt.IsZero() {
		return "", fmt.Errorf("storage: issuedAt is required")
	}
	period := issuedAt.UTC().Format("200601")
	return fmt.Sprintf("invoices/%s/%s/%s.pdf", merchant, period, number), nil
}

// MerchantPeriodPrefix returns the object prefix holding every invoice a
// merchant issued in the given period.
func MerchantPeriodPrefix(merchantID string, period time.Time) (string, error) {
	merchant, err := validateSegment("merchantID", merchantID)
	if err != nil {
		return "", err
	}
	if period.IsZero() {
		return "", fmt.Errorf("storage: period is required")
	}
	return fmt.Sprintf("invoices/%s/%s/", merchant, period.UTC().Format("200601")), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
