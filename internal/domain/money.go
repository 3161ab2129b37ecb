package domain

import (
	"errors"
	"fmt"
)

// All monetary amounts are integers in the smallest currency unit. The
// calculator never touches currency codes; callers are responsible for not
// mixing currencies within one order.

var (
	// ErrInvalidAmount signals a zero or negative amount where a positive one is required.
	ErrInvalidAmount = errors.New("money: amount must be positive")
	// ErrOverpayment signals a payment larger than the outstanding balance.
	ErrOverpayment = errors.New("money: payment exceeds outstanding balance")
	// ErrInvalidRefund signals a refund larger than the refundable amount.
	ErrInvalidRefund = errors.New("money: refund exceeds amount paid")
)

// OverpaymentError carries the attempted and outstanding amounts for reporting.
type OverpaymentError struct {
	Attempted   int64
	Outstanding int64
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("money: payment of %d exceeds outstanding balance of %d", e.Attempted, e.Outstanding)
}

// Unwrap lets callers match the sentinel with errors.Is.
func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// InvalidRefundError carries the attempted refund and the refundable remainder.
type InvalidRefundError struct {
	Attempted  int64
	Refundable int64
}

func (e *InvalidRefundError) Error() string {
	return fmt.Sprintf("money: refund of %d exceeds refundable amount of %d", e.Attempted, e.Refundable)
}

// Unwrap lets callers match the sentinel with errors.Is.
func (e *InvalidRefundError) Unwrap() error { return ErrInvalidRefund }

// PaymentTotals is the monetary projection of an order the calculator operates on.
// AmountPaid and AmountRefunded are gross running sums; they only ever grow.
type PaymentTotals struct {
	GrandTotal     int64
	AmountPaid     int64
	AmountRefunded int64
}

// Outstanding returns how much remains to be collected. Never negative.
func Outstanding(t PaymentTotals) int64 {
	out := t.GrandTotal - t.AmountPaid + t.AmountRefunded
	if out < 0 {
		return 0
	}
	return out
}

// NetPaid returns captured minus refunded money. Never negative.
func NetPaid(t PaymentTotals) int64 {
	net := t.AmountPaid - t.AmountRefunded
	if net < 0 {
		return 0
	}
	return net
}

// ApplyPayment validates and applies a payment, returning the updated totals.
// The amount must be positive and must not exceed the outstanding balance.
func ApplyPayment(t PaymentTotals, amount int64) (PaymentTotals, error) {
	if amount <= 0 {
		return t, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	if outstanding := Outstanding(t); amount > outstanding {
		return t, &OverpaymentError{Attempted: amount, Outstanding: outstanding}
	}
	t.AmountPaid += amount
	return t, nil
}

// ApplyRefund validates and applies a refund, returning the updated totals.
// The amount must be positive and must not exceed the net captured amount.
func ApplyRefund(t PaymentTotals, amount int64) (PaymentTotals, error) {
	if amount <= 0 {
		return t, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	if refundable := NetPaid(t); amount > refundable {
		return t, &InvalidRefundError{Attempted: amount, Refundable: refundable}
	}
	t.AmountRefunded += amount
	return t, nil
}

// RewardPoints computes loyalty points for a single payment: one point per
// full hundred units paid, scaled by the programme percentage. The floor is
// taken per payment, never on the running total.
func RewardPoints(amount, percentage int64) int64 {
	if amount <= 0 || percentage <= 0 {
		return 0
	}
	return (amount / 100) * percentage
}

// DerivePaymentStatus maps totals onto the payment sub-status. The refunded
// and failed states are set explicitly by reconciliation; this helper only
// derives the capture-driven states plus full refunds.
func DerivePaymentStatus(t PaymentTotals) PaymentStatus {
	if t.AmountRefunded > 0 && t.AmountRefunded >= t.AmountPaid {
		return PaymentStatusRefunded
	}
	net := NetPaid(t)
	switch {
	case net <= 0:
		return PaymentStatusPending
	case net < t.GrandTotal:
		return PaymentStatusPartiallyPaid
	default:
		return PaymentStatusPaid
	}
}
