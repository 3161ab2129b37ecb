package services

import (
	"context"
	"time"

	domain "github.com/shiptrack/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Order              = domain.Order
	OrderLineItem      = domain.OrderLineItem
	OrderCustomer      = domain.OrderCustomer
	FulfilmentStatus   = domain.FulfilmentStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentEntry       = domain.PaymentEntry
	RefundEntry        = domain.RefundEntry
	TimelineEntry      = domain.TimelineEntry
	NotificationIntent = domain.NotificationIntent
	NotificationRecord = domain.NotificationRecord
	PaymentEvent       = domain.PaymentEvent
	PaymentLink        = domain.PaymentLink
	Customer           = domain.Customer
	RewardEntry        = domain.RewardEntry
	Address            = domain.Address
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService encapsulates order lifecycle flows including cancellation and invoicing.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, merchantID, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	RequestInvoice(ctx context.Context, cmd RequestInvoiceCommand) (Order, error)
	SendPaymentReminder(ctx context.Context, cmd PaymentReminderCommand) (Order, error)
	MarkNotification(ctx context.Context, cmd MarkNotificationCommand) error
}

// PaymentService reconciles gateway events and manual entries against orders.
type PaymentService interface {
	RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error
	RecordManualPayment(ctx context.Context, cmd RecordPaymentCommand) (Order, error)
	RecordRefund(ctx context.Context, cmd RecordRefundCommand) (Order, error)
	CreatePaymentLink(ctx context.Context, cmd CreatePaymentLinkCommand) (PaymentLink, error)
}

// CustomerService manages merchant-scoped customer profiles and reward ledgers.
type CustomerService interface {
	GetCustomer(ctx context.Context, merchantID, customerID string) (Customer, error)
	UpsertCustomer(ctx context.Context, cmd UpsertCustomerCommand) (Customer, error)
	ListRewardEntries(ctx context.Context, cmd ListRewardEntriesCommand) (domain.CursorPage[RewardEntry], error)
	AccrueReward(ctx context.Context, cmd RewardMovementCommand) (RewardMovementResult, error)
	ReverseReward(ctx context.Context, cmd RewardMovementCommand) (RewardMovementResult, error)
}

// CounterService issues monotonic sequence values with optional formatting.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextInvoiceNumber(ctx context.Context, merchantID string) (string, error)
}

// NotificationPublisher accepts notification intents for asynchronous dispatch.
type NotificationPublisher interface {
	PublishIntent(ctx context.Context, intent NotificationIntent) error
}

// InvoiceArchiver persists rendered invoice documents in durable storage and
// returns the object path of the stored artefact.
type InvoiceArchiver interface {
	ArchiveInvoice(ctx context.Context, doc InvoiceDocument) (string, error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// Command and DTO definitions ------------------------------------------------

type CreateOrderCommand struct {
	MerchantID       string
	CustomerID       string
	Currency         string
	Items            []OrderLineItem
	GrandTotal       int64
	RewardPercentage int64
	PayOnDelivery    bool
	Customer         OrderCustomer
	ShippingAddress  *Address
	Notes            string
	Metadata         map[string]any
	ActorID          string
}

type OrderListFilter struct {
	MerchantID    string
	CustomerID    string
	Status        []string
	PaymentStatus []string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    Pagination
}

type OrderStatusTransitionCommand struct {
	MerchantID        string
	OrderID           string
	TargetStatus      FulfilmentStatus
	ActorID           string
	Reason            string
	TrackingReference string
	ExpectedStatus    *FulfilmentStatus
	Metadata          map[string]any
}

type CancelOrderCommand struct {
	MerchantID     string
	OrderID        string
	ActorID        string
	Reason         string
	ExpectedStatus *FulfilmentStatus
	Metadata       map[string]any
}

type RequestInvoiceCommand struct {
	MerchantID string
	OrderID    string
	ActorID    string
}

// PaymentReminderCommand asks for an outstanding-balance nudge to the customer.
type PaymentReminderCommand struct {
	MerchantID string
	OrderID    string
	ActorID    string
	Message    string
}

// MarkNotificationCommand updates a notification record on the order's dispatch log.
type MarkNotificationCommand struct {
	OrderID        string
	NotificationID string
	Status         string
	Detail         string
	DeliveredAt    *time.Time
}

type PaymentWebhookCommand struct {
	Provider string
	Payload  []byte
	Headers  map[string]string
}

type RecordPaymentCommand struct {
	MerchantID string
	OrderID    string
	Reference  string
	Provider   string
	Amount     int64
	Currency   string
	EventDate  time.Time
	ActorID    string
	Metadata   map[string]any
}

type RecordRefundCommand struct {
	MerchantID       string
	OrderID          string
	Reference        string
	PaymentReference string
	Amount           int64
	Reason           string
	ActorID          string
}

type CreatePaymentLinkCommand struct {
	MerchantID string
	OrderID    string
	ActorID    string
}

// InvoiceDocument carries the fields rendered onto an archived invoice.
type InvoiceDocument struct {
	MerchantID    string
	OrderID       string
	InvoiceNumber string
	IssuedAt      time.Time
	Currency      string
	GrandTotal    int64
	AmountPaid    int64
	CustomerName  string
	Lines         []InvoiceLine
}

// InvoiceLine is a single billed position on an invoice document.
type InvoiceLine struct {
	Description string
	Quantity    int
	UnitPrice   int64
	Total       int64
}

type UpsertCustomerCommand struct {
	MerchantID        string
	CustomerID        string
	DisplayName       string
	Email             string
	Phone             string
	PreferredLanguage string
}

type ListRewardEntriesCommand struct {
	MerchantID string
	CustomerID string
	Pagination Pagination
}

// RewardMovementCommand records an accrual or reversal keyed by payment reference.
type RewardMovementCommand struct {
	MerchantID       string
	CustomerID       string
	OrderID          string
	PaymentReference string
	Points           int64
	OccurredAt       time.Time
}

// RewardMovementResult reports the ledger entry and the balance after the movement.
type RewardMovementResult struct {
	Entry   RewardEntry
	Balance int64
	Applied bool
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	Prefix       string
	Suffix       string
	PadLength    int
	MaxValue     *int64
	InitialValue *int64
	Formatter    func(now time.Time, value int64) string
}

// CounterValue reports the raw and formatted outputs of a counter increment.
type CounterValue struct {
	Value     int64
	Formatted string
}

type CounterCommand struct {
	CounterID string
	Step      int64
}
