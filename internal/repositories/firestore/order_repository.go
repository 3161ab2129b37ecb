package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/shiptrack/api/internal/domain"
	pfirestore "github.com/shiptrack/api/internal/platform/firestore"
	"github.com/shiptrack/api/internal/platform/pagination"
	"github.com/shiptrack/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order aggregates in Firestore using optimistic locking.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert creates the order document. The order ID must not already exist.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if strings.TrimSpace(order.MerchantID) == "" {
		return domain.Order{}, errors.New("order repository: merchant id is required")
	}

	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := ref.Create(ctx, fromDomainOrder(order)); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.insert", err)
	}

	return r.findByDocID(ctx, order.MerchantID, order.ID)
}

// Update replaces the order document, enforcing the Revision read by the caller.
// A stale revision surfaces as a conflict error.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if order.Revision.IsZero() {
		return domain.Order{}, errors.New("order repository: order revision is required for updates")
	}

	doc := fromDomainOrder(order)
	if err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if !snap.UpdateTime.Equal(order.Revision) {
			return status.Error(codes.Aborted, "order stale update")
		}
		return tx.Set(ref, doc)
	}, pfirestore.WithTxAttempts(1)); err != nil {
		return domain.Order{}, err
	}

	return r.findByDocID(ctx, order.MerchantID, order.ID)
}

// FindByID loads the order and its current revision, scoped to the merchant.
func (r *OrderRepository) FindByID(ctx context.Context, merchantID, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	return r.findByDocID(ctx, merchantID, orderID)
}

// List returns orders for a merchant ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	merchantID := strings.TrimSpace(filter.MerchantID)
	if merchantID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: merchant id is required")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := normaliseOrderStatuses(filter.Status)
	paymentFilters := normaliseOrderStatuses(filter.PaymentStatus)
	customerID := strings.TrimSpace(filter.CustomerID)

	var createdFrom, createdTo *time.Time
	if filter.DateRange.From != nil {
		value := filter.DateRange.From.UTC()
		createdFrom = &value
	}
	if filter.DateRange.To != nil {
		value := filter.DateRange.To.UTC()
		createdTo = &value
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("merchantId", "==", merchantID)

		if customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}

		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}

		if len(paymentFilters) == 1 {
			q = q.Where("paymentStatus", "==", paymentFilters[0])
		} else if len(paymentFilters) > 1 {
			if len(paymentFilters) > 10 {
				paymentFilters = paymentFilters[:10]
			}
			q = q.Where("paymentStatus", "in", paymentFilters)
		}

		if createdFrom != nil {
			q = q.Where("createdAt", ">=", *createdFrom)
		}
		if createdTo != nil {
			q = q.Where("createdAt", "<=", *createdTo)
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, toDomainOrder(doc.ID, doc.Data, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

func (r *OrderRepository) findByDocID(ctx context.Context, merchantID, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if merchantID = strings.TrimSpace(merchantID); merchantID != "" && doc.Data.MerchantID != merchantID {
		return domain.Order{}, pfirestore.WrapError("orders.get", status.Error(codes.NotFound, "order not found for merchant"))
	}
	return toDomainOrder(doc.ID, doc.Data, doc.UpdateTime), nil
}

type orderDocument struct {
	MerchantID       string                   `firestore:"merchantId"`
	CustomerID       string                   `firestore:"customerId"`
	Currency         string                   `firestore:"currency"`
	GrandTotal       int64                    `firestore:"grandTotal"`
	AmountPaid       int64                    `firestore:"amountPaid"`
	AmountRefunded   int64                    `firestore:"amountRefunded"`
	RewardPercentage int64                    `firestore:"rewardPercentage"`
	Status           string                   `firestore:"status"`
	PaymentStatus    string                   `firestore:"paymentStatus"`
	PayOnDelivery    bool                     `firestore:"payOnDelivery"`
	Customer         orderCustomerDocument    `firestore:"customer"`
	Items            []orderItemDocument      `firestore:"items"`
	ShippingAddress  *addressDocument         `firestore:"shippingAddress,omitempty"`
	Payments         []paymentEntryDocument   `firestore:"payments"`
	Refunds          []refundEntryDocument    `firestore:"refunds"`
	Timeline         []timelineEntryDocument  `firestore:"timeline"`
	Notifications    []notificationDocument   `firestore:"notifications"`
	InvoiceNumber    *string                  `firestore:"invoiceNumber,omitempty"`
	InvoicedAt       *time.Time               `firestore:"invoicedAt,omitempty"`
	Notes            string                   `firestore:"notes,omitempty"`
	Metadata         map[string]any           `firestore:"metadata,omitempty"`
	CreatedAt        time.Time                `firestore:"createdAt"`
	UpdatedAt        time.Time                `firestore:"updatedAt"`
	ShippedAt        *time.Time               `firestore:"shippedAt,omitempty"`
	DeliveredAt      *time.Time               `firestore:"deliveredAt,omitempty"`
	CancelledAt      *time.Time               `firestore:"cancelledAt,omitempty"`
	CancelReason     *string                  `firestore:"cancelReason,omitempty"`
}

type orderCustomerDocument struct {
	Name   string `firestore:"name"`
	Email  string `firestore:"email,omitempty"`
	Phone  string `firestore:"phone,omitempty"`
	Locale string `firestore:"locale,omitempty"`
}

type orderItemDocument struct {
	SKU       string         `firestore:"sku"`
	Name      string         `firestore:"name"`
	Quantity  int            `firestore:"quantity"`
	UnitPrice int64          `firestore:"unitPrice"`
	Total     int64          `firestore:"total"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type paymentEntryDocument struct {
	Reference    string         `firestore:"reference"`
	Provider     string         `firestore:"provider"`
	Amount       int64          `firestore:"amount"`
	Currency     string         `firestore:"currency"`
	RewardPoints int64          `firestore:"rewardPoints"`
	EventDate    time.Time      `firestore:"eventDate"`
	RecordedAt   time.Time      `firestore:"recordedAt"`
	Metadata     map[string]any `firestore:"metadata,omitempty"`
}

type refundEntryDocument struct {
	Reference        string    `firestore:"reference"`
	PaymentReference string    `firestore:"paymentReference"`
	Amount           int64     `firestore:"amount"`
	PointsReversed   int64     `firestore:"pointsReversed"`
	Reason           string    `firestore:"reason,omitempty"`
	RecordedAt       time.Time `firestore:"recordedAt"`
}

type timelineEntryDocument struct {
	ID         string         `firestore:"id"`
	Type       string         `firestore:"type"`
	From       string         `firestore:"from,omitempty"`
	To         string         `firestore:"to,omitempty"`
	Actor      string         `firestore:"actor,omitempty"`
	Reason     string         `firestore:"reason,omitempty"`
	OccurredAt time.Time      `firestore:"occurredAt"`
	Metadata   map[string]any `firestore:"metadata,omitempty"`
}

type notificationDocument struct {
	ID             string            `firestore:"id"`
	Kind           string            `firestore:"kind"`
	Contact        string            `firestore:"contact,omitempty"`
	TemplateParams map[string]string `firestore:"templateParams,omitempty"`
	Status         string            `firestore:"status"`
	QueuedAt       time.Time         `firestore:"queuedAt"`
	DeliveredAt    *time.Time        `firestore:"deliveredAt,omitempty"`
	Detail         string            `firestore:"detail,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		MerchantID:       strings.TrimSpace(order.MerchantID),
		CustomerID:       strings.TrimSpace(order.CustomerID),
		Currency:         strings.ToUpper(strings.TrimSpace(order.Currency)),
		GrandTotal:       order.GrandTotal,
		AmountPaid:       order.AmountPaid,
		AmountRefunded:   order.AmountRefunded,
		RewardPercentage: order.RewardPercentage,
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		PayOnDelivery:    order.PayOnDelivery,
		Customer: orderCustomerDocument{
			Name:   strings.TrimSpace(order.Customer.Name),
			Email:  strings.TrimSpace(order.Customer.Email),
			Phone:  strings.TrimSpace(order.Customer.Phone),
			Locale: strings.TrimSpace(order.Customer.Locale),
		},
		Items:         fromDomainItems(order.Items),
		Payments:      fromDomainPayments(order.Payments),
		Refunds:       fromDomainRefunds(order.Refunds),
		Timeline:      fromDomainTimeline(order.Timeline),
		Notifications: fromDomainNotifications(order.Notifications),
		InvoiceNumber: order.InvoiceNumber,
		InvoicedAt:    order.InvoicedAt,
		Notes:         order.Notes,
		Metadata:      order.Metadata,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
		ShippedAt:     order.ShippedAt,
		DeliveredAt:   order.DeliveredAt,
		CancelledAt:   order.CancelledAt,
		CancelReason:  order.CancelReason,
	}
	if order.ShippingAddress != nil {
		addr := fromDomainAddress(*order.ShippingAddress)
		doc.ShippingAddress = &addr
	}
	return doc
}

func toDomainOrder(id string, doc orderDocument, updateTime time.Time) domain.Order {
	order := domain.Order{
		ID:               id,
		MerchantID:       doc.MerchantID,
		CustomerID:       doc.CustomerID,
		Currency:         doc.Currency,
		GrandTotal:       doc.GrandTotal,
		AmountPaid:       doc.AmountPaid,
		AmountRefunded:   doc.AmountRefunded,
		RewardPercentage: doc.RewardPercentage,
		Status:           domain.FulfilmentStatus(doc.Status),
		PaymentStatus:    domain.PaymentStatus(doc.PaymentStatus),
		PayOnDelivery:    doc.PayOnDelivery,
		Customer: domain.OrderCustomer{
			Name:   doc.Customer.Name,
			Email:  doc.Customer.Email,
			Phone:  doc.Customer.Phone,
			Locale: doc.Customer.Locale,
		},
		Items:         toDomainItems(doc.Items),
		Payments:      toDomainPayments(doc.Payments),
		Refunds:       toDomainRefunds(doc.Refunds),
		Timeline:      toDomainTimeline(doc.Timeline),
		Notifications: toDomainNotifications(doc.Notifications),
		InvoiceNumber: doc.InvoiceNumber,
		InvoicedAt:    doc.InvoicedAt,
		Notes:         doc.Notes,
		Metadata:      doc.Metadata,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		ShippedAt:     doc.ShippedAt,
		DeliveredAt:   doc.DeliveredAt,
		CancelledAt:   doc.CancelledAt,
		CancelReason:  doc.CancelReason,
		Revision:      updateTime,
	}
	if doc.ShippingAddress != nil {
		addr := toDomainAddress(*doc.ShippingAddress)
		order.ShippingAddress = &addr
	}
	return order
}

func fromDomainItems(items []domain.OrderLineItem) []orderItemDocument {
	if len(items) == 0 {
		return nil
	}
	out := make([]orderItemDocument, 0, len(items))
	for _, item := range items {
		out = append(out, orderItemDocument{
			SKU:       strings.TrimSpace(item.SKU),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
			Metadata:  item.Metadata,
		})
	}
	return out
}

func toDomainItems(docs []orderItemDocument) []domain.OrderLineItem {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.OrderLineItem, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.OrderLineItem{
			SKU:       doc.SKU,
			Name:      doc.Name,
			Quantity:  doc.Quantity,
			UnitPrice: doc.UnitPrice,
			Total:     doc.Total,
			Metadata:  doc.Metadata,
		})
	}
	return out
}

func fromDomainPayments(entries []domain.PaymentEntry) []paymentEntryDocument {
	out := make([]paymentEntryDocument, 0, len(entries))
	for _, entry := range entries {
		out = append(out, paymentEntryDocument{
			Reference:    entry.Reference,
			Provider:     entry.Provider,
			Amount:       entry.Amount,
			Currency:     entry.Currency,
			RewardPoints: entry.RewardPoints,
			EventDate:    entry.EventDate,
			RecordedAt:   entry.RecordedAt,
			Metadata:     entry.Metadata,
		})
	}
	return out
}

func toDomainPayments(docs []paymentEntryDocument) []domain.PaymentEntry {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.PaymentEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.PaymentEntry{
			Reference:    doc.Reference,
			Provider:     doc.Provider,
			Amount:       doc.Amount,
			Currency:     doc.Currency,
			RewardPoints: doc.RewardPoints,
			EventDate:    doc.EventDate,
			RecordedAt:   doc.RecordedAt,
			Metadata:     doc.Metadata,
		})
	}
	return out
}

func fromDomainRefunds(entries []domain.RefundEntry) []refundEntryDocument {
	out := make([]refundEntryDocument, 0, len(entries))
	for _, entry := range entries {
		out = append(out, refundEntryDocument{
			Reference:        entry.Reference,
			PaymentReference: entry.PaymentReference,
			Amount:           entry.Amount,
			PointsReversed:   entry.PointsReversed,
			Reason:           entry.Reason,
			RecordedAt:       entry.RecordedAt,
		})
	}
	return out
}

func toDomainRefunds(docs []refundEntryDocument) []domain.RefundEntry {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.RefundEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.RefundEntry{
			Reference:        doc.Reference,
			PaymentReference: doc.PaymentReference,
			Amount:           doc.Amount,
			PointsReversed:   doc.PointsReversed,
			Reason:           doc.Reason,
			RecordedAt:       doc.RecordedAt,
		})
	}
	return out
}

func fromDomainTimeline(entries []domain.TimelineEntry) []timelineEntryDocument {
	out := make([]timelineEntryDocument, 0, len(entries))
	for _, entry := range entries {
		out = append(out, timelineEntryDocument{
			ID:         entry.ID,
			Type:       entry.Type,
			From:       entry.From,
			To:         entry.To,
			Actor:      entry.Actor,
			Reason:     entry.Reason,
			OccurredAt: entry.OccurredAt,
			Metadata:   entry.Metadata,
		})
	}
	return out
}

func toDomainTimeline(docs []timelineEntryDocument) []domain.TimelineEntry {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.TimelineEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.TimelineEntry{
			ID:         doc.ID,
			Type:       doc.Type,
			From:       doc.From,
			To:         doc.To,
			Actor:      doc.Actor,
			Reason:     doc.Reason,
			OccurredAt: doc.OccurredAt,
			Metadata:   doc.Metadata,
		})
	}
	return out
}

func fromDomainNotifications(records []domain.NotificationRecord) []notificationDocument {
	out := make([]notificationDocument, 0, len(records))
	for _, record := range records {
		out = append(out, notificationDocument{
			ID:             record.ID,
			Kind:           record.Kind,
			Contact:        record.Contact,
			TemplateParams: record.TemplateParams,
			Status:         record.Status,
			QueuedAt:       record.QueuedAt,
			DeliveredAt:    record.DeliveredAt,
			Detail:         record.Detail,
		})
	}
	return out
}

func toDomainNotifications(docs []notificationDocument) []domain.NotificationRecord {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.NotificationRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.NotificationRecord{
			ID:             doc.ID,
			Kind:           doc.Kind,
			Contact:        doc.Contact,
			TemplateParams: doc.TemplateParams,
			Status:         doc.Status,
			QueuedAt:       doc.QueuedAt,
			DeliveredAt:    doc.DeliveredAt,
			Detail:         doc.Detail,
		})
	}
	return out
}

func fromDomainAddress(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      addr.Line2,
		City:       strings.TrimSpace(addr.City),
		State:      addr.State,
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Phone:      addr.Phone,
	}
}

func toDomainAddress(doc addressDocument) domain.Address {
	return domain.Address{
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		Phone:      doc.Phone,
	}
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	tsRaw, tsOK := cursor.StartAfter[0].(string)
	docID, idOK := cursor.StartAfter[1].(string)
	if !tsOK || !idOK {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, docID, nil
}

func normaliseOrderStatuses(statuses []string) []string {
	if len(statuses) == 0 {
		return nil
	}
	normalised := make([]string, 0, len(statuses))
	seen := make(map[string]struct{})
	for _, status := range statuses {
		trimmed := strings.ToLower(strings.TrimSpace(status))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalised = append(normalised, trimmed)
	}
	if len(normalised) == 0 {
		return nil
	}
	return normalised
}
