package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// FulfilmentStatus enumerates valid lifecycle states for orders.
type FulfilmentStatus string

const (
	// FulfilmentStatusPending indicates the order has been accepted but work has not started.
	FulfilmentStatusPending FulfilmentStatus = "pending"
	// FulfilmentStatusProcessing indicates the order is being prepared.
	FulfilmentStatusProcessing FulfilmentStatus = "processing"
	// FulfilmentStatusShipped indicates the order has been handed to a carrier.
	FulfilmentStatusShipped FulfilmentStatus = "shipped"
	// FulfilmentStatusDelivered indicates the order reached the customer.
	FulfilmentStatusDelivered FulfilmentStatus = "delivered"
	// FulfilmentStatusCancelled indicates the order was cancelled before delivery.
	FulfilmentStatusCancelled FulfilmentStatus = "cancelled"
)

// PaymentStatus tracks the payment side of an order independently of fulfilment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no money has been received.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPartiallyPaid indicates some, but not all, of the total has been received.
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	// PaymentStatusPaid indicates the full total has been received.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusRefunded indicates every captured amount has been returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusFailed indicates the most recent gateway attempt failed before any capture.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Order captures the full order aggregate shared across services and handlers.
type Order struct {
	ID               string
	MerchantID       string
	CustomerID       string
	Currency         string
	GrandTotal       int64
	AmountPaid       int64
	AmountRefunded   int64
	RewardPercentage int64
	Status           FulfilmentStatus
	PaymentStatus    PaymentStatus
	PayOnDelivery    bool
	Customer         OrderCustomer
	Items            []OrderLineItem
	ShippingAddress  *Address
	Payments         []PaymentEntry
	Refunds          []RefundEntry
	Timeline         []TimelineEntry
	Notifications    []NotificationRecord
	InvoiceNumber    *string
	InvoicedAt       *time.Time
	Notes            string
	Metadata         map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ShippedAt        *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
	CancelReason     *string

	// Revision is the storage version observed when the order was read.
	// Writes that pass a stale revision fail with a conflict.
	Revision time.Time
}

// OrderCustomer snapshots the contact details used for notifications.
type OrderCustomer struct {
	Name   string
	Email  string
	Phone  string
	Locale string
}

// OrderLineItem stores a single SKU entry captured at order creation.
type OrderLineItem struct {
	SKU       string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
	Metadata  map[string]any
}

// PaymentEntry records a single applied payment in the smallest currency unit.
type PaymentEntry struct {
	Reference    string
	Provider     string
	Amount       int64
	Currency     string
	RewardPoints int64
	EventDate    time.Time
	RecordedAt   time.Time
	Metadata     map[string]any
}

// RefundEntry records a refund applied against a previously recorded payment.
type RefundEntry struct {
	Reference        string
	PaymentReference string
	Amount           int64
	PointsReversed   int64
	Reason           string
	RecordedAt       time.Time
}

// TimelineEntry stores an append-only audit record on the order aggregate.
type TimelineEntry struct {
	ID         string
	Type       string
	From       string
	To         string
	Actor      string
	Reason     string
	OccurredAt time.Time
	Metadata   map[string]any
}

// Timeline entry types appended by the order and payment services.
const (
	TimelineTypeStatusChange    = "status_change"
	TimelineTypePayment         = "payment"
	TimelineTypeRefund          = "refund"
	TimelineTypePaymentFailed   = "payment_failed"
	TimelineTypeInvoiceIssued   = "invoice_issued"
	TimelineTypePaymentReminder = "payment_reminder"
)

// NotificationIntent describes a message the dispatch gateway should send.
type NotificationIntent struct {
	Kind            string
	OrderID         string
	CustomerContact string
	TemplateParams  map[string]string
}

// Notification intent kinds emitted per lifecycle transition.
const (
	NotificationKindOrderConfirmed  = "order_confirmed"
	NotificationKindOrderProcessing = "order_processing"
	NotificationKindOrderShipped    = "order_shipped"
	NotificationKindOrderDelivered  = "order_delivered"
	NotificationKindOrderCancelled  = "order_cancelled"
	NotificationKindPaymentReceived = "payment_received"
	NotificationKindPaymentReminder = "payment_reminder"
	NotificationKindRefundIssued    = "refund_issued"
)

// NotificationRecord persists the dispatch state of an emitted intent.
type NotificationRecord struct {
	ID             string
	Kind           string
	Contact        string
	TemplateParams map[string]string
	Status         string
	QueuedAt       time.Time
	DeliveredAt    *time.Time
	Detail         string
}

// Notification dispatch states tracked on the order's notification log.
const (
	NotificationStatusQueued    = "queued"
	NotificationStatusPublished = "published"
	NotificationStatusDelivered = "delivered"
	NotificationStatusFailed    = "failed"
)

// Customer captures the merchant-scoped customer profile and reward balance.
type Customer struct {
	ID                string
	MerchantID        string
	DisplayName       string
	Email             string
	Phone             string
	PreferredLanguage string
	RewardBalance     int64
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Revision is the storage version observed when the customer was read.
	Revision time.Time
}

// RewardEntry is one append-only movement on a customer's reward balance.
type RewardEntry struct {
	ID               string
	CustomerID       string
	OrderID          string
	PaymentReference string
	Kind             string
	Points           int64
	OccurredAt       time.Time
}

// Reward ledger entry kinds.
const (
	RewardKindAccrual  = "accrual"
	RewardKindReversal = "reversal"
)

// PaymentEvent is the normalised gateway webhook payload handed to reconciliation.
// RefundID identifies the gateway refund object on refund events; when the
// provider only reports a cumulative refunded figure it is empty.
type PaymentEvent struct {
	GatewayPaymentID string
	RefundID         string
	OrderReference   string
	MerchantID       string
	Provider         string
	Type             string
	Amount           int64
	Currency         string
	EventDate        time.Time
	Raw              map[string]any
}

// Payment event types accepted from the gateway boundary.
const (
	PaymentEventCaptured = "payment_captured"
	PaymentEventFailed   = "payment_failed"
	PaymentEventRefunded = "payment_refunded"
)

// PaymentLink describes a gateway-hosted collection URL for an outstanding balance.
type PaymentLink struct {
	Provider  string
	LinkID    string
	URL       string
	Amount    int64
	Currency  string
	ExpiresAt time.Time
}

// Address represents postal address structures shared by customer and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
