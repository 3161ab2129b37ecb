package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shiptrack/api/internal/domain"
	"github.com/shiptrack/api/internal/repositories"
)

const (
	orderIDPrefix        = "ord_"
	timelineIDPrefix     = "tle_"
	notificationIDPrefix = "ntf_"

	// Bounded retries for the invoice back-fill write on version conflict.
	invoiceIssueAttempts = 3
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

var orderStateTransitions = map[string][]string{
	string(domain.FulfilmentStatusPending):    {string(domain.FulfilmentStatusProcessing), string(domain.FulfilmentStatusCancelled)},
	string(domain.FulfilmentStatusProcessing): {string(domain.FulfilmentStatusShipped), string(domain.FulfilmentStatusCancelled)},
	string(domain.FulfilmentStatusShipped):    {string(domain.FulfilmentStatusDelivered), string(domain.FulfilmentStatusCancelled)},
}

var cancellableStatuses = []string{
	string(domain.FulfilmentStatusPending),
	string(domain.FulfilmentStatusProcessing),
	string(domain.FulfilmentStatusShipped),
}

var transitionNotificationKinds = map[string]string{
	string(domain.FulfilmentStatusProcessing): domain.NotificationKindOrderProcessing,
	string(domain.FulfilmentStatusShipped):    domain.NotificationKindOrderShipped,
	string(domain.FulfilmentStatusDelivered):  domain.NotificationKindOrderDelivered,
	string(domain.FulfilmentStatusCancelled):  domain.NotificationKindOrderCancelled,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Counters      CounterService
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
	Notifications NotificationPublisher
	Archive       InvoiceArchiver
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	counters      CounterService
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	notifications NotificationPublisher
	archive       InvoiceArchiver
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		counters:   deps.Counters,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		notifications: deps.Notifications,
		archive:       deps.Archive,
		logger:        logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	merchantID := strings.TrimSpace(cmd.MerchantID)
	if merchantID == "" {
		return Order{}, fmt.Errorf("%w: merchant id is required", ErrOrderInvalidInput)
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		return Order{}, fmt.Errorf("%w: currency is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if cmd.RewardPercentage < 0 {
		return Order{}, fmt.Errorf("%w: reward percentage cannot be negative", ErrOrderInvalidInput)
	}

	items, itemTotal, err := buildOrderLineItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	grandTotal := cmd.GrandTotal
	if grandTotal == 0 {
		grandTotal = itemTotal
	}
	if grandTotal <= 0 {
		return Order{}, fmt.Errorf("%w: grand total must be positive", ErrOrderInvalidInput)
	}

	now := s.now()
	actor := strings.TrimSpace(cmd.ActorID)

	// The invoice sequencer runs once per order, at creation.
	number, err := s.counters.NextInvoiceNumber(ctx, merchantID)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:               orderIDPrefix + s.newID(),
		MerchantID:       merchantID,
		CustomerID:       customerID,
		Currency:         currency,
		GrandTotal:       grandTotal,
		RewardPercentage: cmd.RewardPercentage,
		Status:           domain.FulfilmentStatusPending,
		PaymentStatus:    domain.PaymentStatusPending,
		PayOnDelivery:    cmd.PayOnDelivery,
		Customer:         cmd.Customer,
		Items:            items,
		ShippingAddress:  cloneAddress(cmd.ShippingAddress),
		Notes:            strings.TrimSpace(cmd.Notes),
		Metadata:         cloneMap(cmd.Metadata),
		InvoiceNumber:    &number,
		InvoicedAt:       &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	order.Timeline = append(order.Timeline, TimelineEntry{
		ID:         timelineIDPrefix + s.newID(),
		Type:       domain.TimelineTypeStatusChange,
		To:         string(order.Status),
		Actor:      actor,
		OccurredAt: now,
	})
	order.Timeline = append(order.Timeline, TimelineEntry{
		ID:         timelineIDPrefix + s.newID(),
		Type:       domain.TimelineTypeInvoiceIssued,
		Actor:      actor,
		OccurredAt: now,
		Metadata:   map[string]any{"invoiceNumber": number},
	})

	intent := s.queueNotification(&order, domain.NotificationKindOrderConfirmed, now, map[string]string{
		"orderId":  order.ID,
		"amount":   formatAmount(order.GrandTotal),
		"currency": order.Currency,
	})

	saved := order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		inserted, insertErr := s.orders.Insert(txCtx, domain.Order(order))
		if insertErr != nil {
			return s.mapRepositoryError(insertErr)
		}
		saved = Order(inserted)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishIntent(ctx, intent)
	s.archiveInvoice(ctx, saved)
	return saved, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(filter.MerchantID) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: merchant id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		MerchantID:    filter.MerchantID,
		CustomerID:    filter.CustomerID,
		Status:        filter.Status,
		PaymentStatus: filter.PaymentStatus,
		DateRange:     filter.DateRange,
		Pagination:    filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, merchantID, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, merchantID, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	target := strings.TrimSpace(string(cmd.TargetStatus))

	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if target == string(domain.FulfilmentStatusCancelled) {
		return s.Cancel(ctx, CancelOrderCommand{
			MerchantID:     cmd.MerchantID,
			OrderID:        cmd.OrderID,
			ActorID:        cmd.ActorID,
			Reason:         cmd.Reason,
			ExpectedStatus: cmd.ExpectedStatus,
			Metadata:       cmd.Metadata,
		})
	}

	order, err := s.orders.FindByID(ctx, cmd.MerchantID, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()

	intent, err := s.applyStatusTransition(&order, target, actor, strings.TrimSpace(cmd.Reason), strings.TrimSpace(cmd.TrackingReference), now)
	if err != nil {
		return Order{}, err
	}

	saved := order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		updated, updateErr := s.orders.Update(txCtx, domain.Order(order))
		if updateErr != nil {
			return s.mapRepositoryError(updateErr)
		}
		saved = Order(updated)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishIntent(ctx, intent)
	return saved, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, cmd.MerchantID, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !slices.Contains(cancellableStatuses, string(order.Status)) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}
	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}
	if refundable := order.AmountPaid - order.AmountRefunded; refundable > 0 {
		return Order{}, fmt.Errorf("%w: order holds %d in captured payments; refund before cancelling", ErrOrderInvalidState, refundable)
	}

	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)

	order.CancelReason = optionalString(reason)
	order.CancelledAt = &now

	intent, err := s.applyStatusTransition(&order, string(domain.FulfilmentStatusCancelled), strings.TrimSpace(cmd.ActorID), reason, "", now)
	if err != nil {
		return Order{}, err
	}

	saved := order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		updated, updateErr := s.orders.Update(txCtx, domain.Order(order))
		if updateErr != nil {
			return s.mapRepositoryError(updateErr)
		}
		saved = Order(updated)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishIntent(ctx, intent)
	return saved, nil
}

// RequestInvoice back-fills the invoice number on orders that predate
// issuance at creation. Issuance is idempotent: once a number is assigned,
// further requests return the stored value. The sequencer is consulted once;
// version conflicts retry the order write with the number already drawn so a
// lost write never leaks a sequence slot.
func (s *orderService) RequestInvoice(ctx context.Context, cmd RequestInvoiceCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var number string
	var conflictErr error
	for attempt := 0; attempt < invoiceIssueAttempts; attempt++ {
		order, err := s.orders.FindByID(ctx, cmd.MerchantID, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}

		if order.InvoiceNumber != nil {
			return order, nil
		}

		if number == "" {
			number, err = s.counters.NextInvoiceNumber(ctx, order.MerchantID)
			if err != nil {
				return Order{}, err
			}
		}

		now := s.now()
		order.InvoiceNumber = &number
		order.InvoicedAt = &now
		order.UpdatedAt = now
		order.Timeline = append(order.Timeline, TimelineEntry{
			ID:         timelineIDPrefix + s.newID(),
			Type:       domain.TimelineTypeInvoiceIssued,
			Actor:      strings.TrimSpace(cmd.ActorID),
			OccurredAt: now,
			Metadata:   map[string]any{"invoiceNumber": number},
		})

		saved := order
		err = s.runInTx(ctx, func(txCtx context.Context) error {
			updated, updateErr := s.orders.Update(txCtx, domain.Order(order))
			if updateErr != nil {
				return s.mapRepositoryError(updateErr)
			}
			saved = Order(updated)
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrOrderConflict) {
				conflictErr = err
				continue
			}
			return Order{}, err
		}

		s.archiveInvoice(ctx, saved)
		return saved, nil
	}
	return Order{}, conflictErr
}

// archiveInvoice stores the rendered invoice after issuance. Archiving is best
// effort: the issued number is already committed, so failures are only logged.
func (s *orderService) archiveInvoice(ctx context.Context, order Order) {
	if s.archive == nil || order.InvoiceNumber == nil {
		return
	}

	doc := InvoiceDocument{
		MerchantID:    order.MerchantID,
		OrderID:       order.ID,
		InvoiceNumber: *order.InvoiceNumber,
		Currency:      order.Currency,
		GrandTotal:    order.GrandTotal,
		AmountPaid:    order.AmountPaid,
		CustomerName:  order.Customer.Name,
	}
	if order.InvoicedAt != nil {
		doc.IssuedAt = *order.InvoicedAt
	} else {
		doc.IssuedAt = s.now()
	}
	for _, item := range order.Items {
		description := item.Name
		if description == "" {
			description = item.SKU
		}
		doc.Lines = append(doc.Lines, InvoiceLine{
			Description: description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Total:       item.Total,
		})
	}

	objectPath, err := s.archive.ArchiveInvoice(ctx, doc)
	if err != nil {
		s.logger(ctx, "order.invoice.archive.failed", map[string]any{
			"order":   order.ID,
			"invoice": doc.InvoiceNumber,
			"error":   err.Error(),
		})
		return
	}
	s.logger(ctx, "order.invoice.archived", map[string]any{
		"order":   order.ID,
		"invoice": doc.InvoiceNumber,
		"object":  objectPath,
	})
}

// SendPaymentReminder nudges the customer about an outstanding balance. The
// reminder rides the usual notification path: recorded on the timeline,
// queued on the order, published after the write commits.
func (s *orderService) SendPaymentReminder(ctx context.Context, cmd PaymentReminderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, cmd.MerchantID, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if order.Status == domain.FulfilmentStatusCancelled {
		return Order{}, fmt.Errorf("%w: cancelled orders have nothing to collect", ErrOrderInvalidState)
	}
	outstanding := domain.Outstanding(orderTotals(order))
	if outstanding <= 0 {
		return Order{}, fmt.Errorf("%w: order %s has no outstanding balance", ErrOrderInvalidState, order.ID)
	}

	now := s.now()
	order.UpdatedAt = now
	order.Timeline = append(order.Timeline, TimelineEntry{
		ID:         timelineIDPrefix + s.newID(),
		Type:       domain.TimelineTypePaymentReminder,
		Actor:      strings.TrimSpace(cmd.ActorID),
		Reason:     strings.TrimSpace(cmd.Message),
		OccurredAt: now,
		Metadata:   map[string]any{"outstanding": outstanding},
	})

	intent := s.queueNotification(&order, domain.NotificationKindPaymentReminder, now, map[string]string{
		"orderId":     order.ID,
		"outstanding": formatAmount(outstanding),
		"currency":    order.Currency,
	})

	saved := order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		updated, updateErr := s.orders.Update(txCtx, domain.Order(order))
		if updateErr != nil {
			return s.mapRepositoryError(updateErr)
		}
		saved = Order(updated)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishIntent(ctx, intent)
	return saved, nil
}

// MarkNotification records the dispatch outcome reported for a queued notification.
func (s *orderService) MarkNotification(ctx context.Context, cmd MarkNotificationCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	notificationID := strings.TrimSpace(cmd.NotificationID)
	if orderID == "" || notificationID == "" {
		return fmt.Errorf("%w: order id and notification id are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, "", orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	found := false
	for i := range order.Notifications {
		if order.Notifications[i].ID != notificationID {
			continue
		}
		found = true
		if status := strings.TrimSpace(cmd.Status); status != "" {
			order.Notifications[i].Status = status
		}
		if cmd.DeliveredAt != nil {
			at := cmd.DeliveredAt.UTC()
			order.Notifications[i].DeliveredAt = &at
		}
		if detail := strings.TrimSpace(cmd.Detail); detail != "" {
			order.Notifications[i].Detail = detail
		}
	}
	if !found {
		return fmt.Errorf("%w: notification %s not on order %s", ErrOrderNotFound, notificationID, orderID)
	}

	order.UpdatedAt = s.now()
	return s.runInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.orders.Update(txCtx, domain.Order(order)); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
}

// applyStatusTransition validates the move, mutates the order in place, appends
// the timeline entry, and queues the notification record. The returned intent
// is published after the surrounding write commits. The order is left
// untouched when the transition is rejected.
func (s *orderService) applyStatusTransition(order *Order, target, actor, reason, trackingRef string, now time.Time) (NotificationIntent, error) {
	current := string(order.Status)

	if current == target {
		return NotificationIntent{}, fmt.Errorf("%w: order already %s", ErrOrderInvalidState, current)
	}
	if !canTransition(current, target) {
		return NotificationIntent{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current, target)
	}
	switch target {
	case string(domain.FulfilmentStatusProcessing):
		if len(order.Items) == 0 {
			return NotificationIntent{}, fmt.Errorf("%w: cannot process an order without line items", ErrOrderInvalidState)
		}
	case string(domain.FulfilmentStatusShipped):
		// Payment and fulfilment move independently; shipping only needs
		// a way for the customer to follow the parcel.
		if trackingRef == "" {
			return NotificationIntent{}, fmt.Errorf("%w: shipping requires a tracking or courier reference", ErrOrderInvalidState)
		}
	case string(domain.FulfilmentStatusDelivered):
		if order.ShippedAt != nil && now.Before(*order.ShippedAt) {
			return NotificationIntent{}, fmt.Errorf("%w: delivery cannot predate shipment", ErrOrderInvalidState)
		}
	}

	order.Status = domain.FulfilmentStatus(target)
	order.UpdatedAt = now
	s.updateTimestamps(order, target, now)

	entry := TimelineEntry{
		ID:         timelineIDPrefix + s.newID(),
		Type:       domain.TimelineTypeStatusChange,
		From:       current,
		To:         target,
		Actor:      actor,
		Reason:     reason,
		OccurredAt: now,
	}
	if trackingRef != "" {
		entry.Metadata = map[string]any{"trackingReference": trackingRef}
		order.Metadata = ensureMap(order.Metadata)
		order.Metadata["trackingReference"] = trackingRef
	}
	order.Timeline = append(order.Timeline, entry)

	kind := transitionNotificationKinds[target]
	intent := s.queueNotification(order, kind, now, map[string]string{
		"orderId": order.ID,
		"status":  target,
	})
	return intent, nil
}

func (s *orderService) updateTimestamps(order *Order, status string, now time.Time) {
	switch status {
	case string(domain.FulfilmentStatusShipped):
		order.ShippedAt = &now
	case string(domain.FulfilmentStatusDelivered):
		order.DeliveredAt = &now
	case string(domain.FulfilmentStatusCancelled):
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

func (s *orderService) queueNotification(order *Order, kind string, now time.Time, params map[string]string) NotificationIntent {
	return queueOrderNotification(order, notificationIDPrefix+s.newID(), kind, now, params)
}

// queueOrderNotification appends the dispatch record to the order and returns
// the matching intent for post-commit publication.
func queueOrderNotification(order *Order, id, kind string, now time.Time, params map[string]string) NotificationIntent {
	contact := strings.TrimSpace(order.Customer.Email)
	if contact == "" {
		contact = strings.TrimSpace(order.Customer.Phone)
	}

	record := NotificationRecord{
		ID:             id,
		Kind:           kind,
		Contact:        contact,
		TemplateParams: params,
		Status:         domain.NotificationStatusQueued,
		QueuedAt:       now,
	}
	order.Notifications = append(order.Notifications, record)

	intentParams := maps.Clone(params)
	if intentParams == nil {
		intentParams = map[string]string{}
	}
	intentParams["notificationId"] = record.ID
	return NotificationIntent{
		Kind:            kind,
		OrderID:         order.ID,
		CustomerContact: contact,
		TemplateParams:  intentParams,
	}
}

func (s *orderService) publishIntent(ctx context.Context, intent NotificationIntent) {
	if s.notifications == nil || intent.Kind == "" {
		return
	}
	if err := s.notifications.PublishIntent(ctx, intent); err != nil {
		// The queued record stays on the order so a dispatcher can re-drive it.
		s.logger(ctx, "order.notification.publish.failed", map[string]any{
			"kind":  intent.Kind,
			"order": intent.OrderID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func buildOrderLineItems(items []OrderLineItem) ([]OrderLineItem, int64, error) {
	lines := make([]OrderLineItem, 0, len(items))
	var total int64
	for _, item := range items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" {
			return nil, 0, fmt.Errorf("%w: item sku is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: item %s quantity must be positive", ErrOrderInvalidInput, sku)
		}
		if item.UnitPrice < 0 {
			return nil, 0, fmt.Errorf("%w: item %s unit price cannot be negative", ErrOrderInvalidInput, sku)
		}
		line := OrderLineItem{
			SKU:       sku,
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.UnitPrice * int64(item.Quantity),
			Metadata:  cloneMap(item.Metadata),
		}
		total += line.Total
		lines = append(lines, line)
	}
	return lines, total, nil
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	cloned := *addr
	return &cloned
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}

func formatAmount(v int64) string {
	return fmt.Sprintf("%d", v)
}

func canTransition(current, target string) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}
