package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/shiptrack/api/internal/domain"
	"github.com/shiptrack/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn func(context.Context, domain.Order) (domain.Order, error)
	updateFn func(context.Context, domain.Order) (domain.Order, error)
	findFn   func(context.Context, string, string) (domain.Order, error)
	listFn   func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return order, nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return order, nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, merchantID, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, merchantID, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubCounterService struct {
	calls  int
	nextFn func(context.Context, string) (string, error)
}

func (s *stubCounterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	return CounterValue{}, errors.New("not implemented")
}

func (s *stubCounterService) NextInvoiceNumber(ctx context.Context, merchantID string) (string, error) {
	s.calls++
	if s.nextFn != nil {
		return s.nextFn(ctx, merchantID)
	}
	return fmt.Sprintf("INV-202501-%04d", s.calls), nil
}

type stubInvoiceArchiver struct {
	docs      []InvoiceDocument
	archiveFn func(context.Context, InvoiceDocument) (string, error)
}

func (s *stubInvoiceArchiver) ArchiveInvoice(ctx context.Context, doc InvoiceDocument) (string, error) {
	s.docs = append(s.docs, doc)
	if s.archiveFn != nil {
		return s.archiveFn(ctx, doc)
	}
	return "invoices/" + doc.MerchantID + "/" + doc.InvoiceNumber + ".pdf", nil
}

type orderFixture struct {
	store     *memOrderStore
	counters  *stubCounterService
	publisher *stubIntentPublisher
	archive   *stubInvoiceArchiver
	service   OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()

	f := &orderFixture{
		store:     newMemOrderStore(),
		counters:  &stubCounterService{},
		publisher: &stubIntentPublisher{},
		archive:   &stubInvoiceArchiver{},
	}

	idSeq := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        f.store,
		Counters:      f.counters,
		Notifications: f.publisher,
		Archive:       f.archive,
		Clock: func() time.Time {
			return time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
		},
		IDGenerator: func() string {
			idSeq++
			return fmt.Sprintf("id%04d", idSeq)
		},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	f.service = svc
	return f
}

func (f *orderFixture) seed(t *testing.T, order domain.Order) domain.Order {
	t.Helper()
	if order.MerchantID == "" {
		order.MerchantID = "mer_1"
	}
	if order.CustomerID == "" {
		order.CustomerID = "cus_1"
	}
	if order.Currency == "" {
		order.Currency = "USD"
	}
	if order.Customer.Email == "" {
		order.Customer.Email = "buyer@example.com"
	}
	if len(order.Items) == 0 {
		order.Items = []domain.OrderLineItem{{SKU: "sku-1", Name: "Widget", Quantity: 1, UnitPrice: order.GrandTotal, Total: order.GrandTotal}}
	}
	saved, err := f.store.Insert(context.Background(), order)
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return saved
}

func TestCreateOrderBuildsAggregate(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)

	order, err := f.service.CreateOrder(ctx, CreateOrderCommand{
		MerchantID: "mer_1",
		CustomerID: "cus_1",
		Currency:   "usd",
		Items: []OrderLineItem{
			{SKU: "sku-1", Name: "Widget", Quantity: 2, UnitPrice: 300},
			{SKU: "sku-2", Name: "Gadget", Quantity: 1, UnitPrice: 400},
		},
		RewardPercentage: 10,
		Customer:         OrderCustomer{Name: "Ana", Email: "ana@example.com"},
		ActorID:          "usr_1",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.Currency != "USD" {
		t.Fatalf("currency must be upper-cased, got %q", order.Currency)
	}
	if order.GrandTotal != 1000 {
		t.Fatalf("grand total must default to the item sum, got %d", order.GrandTotal)
	}
	if order.Status != domain.FulfilmentStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("new orders start pending/pending, got %q/%q", order.Status, order.PaymentStatus)
	}
	if len(order.Timeline) != 2 || order.Timeline[0].To != string(domain.FulfilmentStatusPending) {
		t.Fatalf("expected creation timeline entry, got %+v", order.Timeline)
	}
	if order.Timeline[1].Type != domain.TimelineTypeInvoiceIssued {
		t.Fatalf("expected invoice_issued timeline entry, got %+v", order.Timeline[1])
	}
	if order.InvoiceNumber == nil || *order.InvoiceNumber != "INV-202501-0001" {
		t.Fatalf("invoice number must be assigned at creation, got %v", order.InvoiceNumber)
	}
	if order.InvoicedAt == nil {
		t.Fatalf("invoicedAt must be set at creation")
	}
	if f.counters.calls != 1 {
		t.Fatalf("sequencer must run exactly once per order, got %d", f.counters.calls)
	}
	if len(f.archive.docs) != 1 || f.archive.docs[0].InvoiceNumber != "INV-202501-0001" {
		t.Fatalf("invoice must be archived at creation, got %+v", f.archive.docs)
	}
	if len(order.Notifications) != 1 || order.Notifications[0].Kind != domain.NotificationKindOrderConfirmed {
		t.Fatalf("expected queued order_confirmed record, got %+v", order.Notifications)
	}
	if got := f.publisher.kinds(); len(got) != 1 || got[0] != domain.NotificationKindOrderConfirmed {
		t.Fatalf("expected order_confirmed intent, got %v", got)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)

	item := OrderLineItem{SKU: "sku-1", Quantity: 1, UnitPrice: 100}
	cases := []struct {
		name string
		cmd  CreateOrderCommand
	}{
		{"missing merchant", CreateOrderCommand{CustomerID: "c", Currency: "USD", Items: []OrderLineItem{item}}},
		{"missing customer", CreateOrderCommand{MerchantID: "m", Currency: "USD", Items: []OrderLineItem{item}}},
		{"missing currency", CreateOrderCommand{MerchantID: "m", CustomerID: "c", Items: []OrderLineItem{item}}},
		{"no items", CreateOrderCommand{MerchantID: "m", CustomerID: "c", Currency: "USD"}},
		{"negative reward", CreateOrderCommand{MerchantID: "m", CustomerID: "c", Currency: "USD", Items: []OrderLineItem{item}, RewardPercentage: -1}},
		{"zero quantity", CreateOrderCommand{MerchantID: "m", CustomerID: "c", Currency: "USD", Items: []OrderLineItem{{SKU: "sku-1", Quantity: 0, UnitPrice: 100}}}},
	}
	for _, tc := range cases {
		if _, err := f.service.CreateOrder(ctx, tc.cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("%s: expected ErrOrderInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestTransitionStatusAppendsTimelineAndIntent(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.seed(t, domain.Order{ID: "ord_1", GrandTotal: 1000, Status: domain.FulfilmentStatusPending, PaymentStatus: domain.PaymentStatusPending})

	order, err := f.service.TransitionStatus(ctx, OrderStatusTransitionCommand{
		MerchantID:   "mer_1",
		OrderID:      "ord_1",
		TargetStatus: domain.FulfilmentStatusProcessing,
		ActorID:      "usr_1",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if order.Status != domain.FulfilmentStatusProcessing {
		t.Fatalf("expected processing, got %q", order.Status)
	}
	if len(order.Timeline) != 1 {
		t.Fatalf("expected one timeline entry, got %d", len(order.Timeline))
	}
	entry := order.Timeline[0]
	if entry.From != string(domain.FulfilmentStatusPending) || entry.To != string(domain.FulfilmentStatusProcessing) {
		t.Fatalf("unexpected timeline entry: %+v", entry)
	}
	if got := f.publisher.kinds(); len(got) != 1 || got[0] != domain.NotificationKindOrderProcessing {
		t.Fatalf("expected order_processing intent, got %v", got)
	}
}

func TestTransitionRejectionLeavesOrderUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	deliveredAt := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	f.seed(t, domain.Order{
		ID:            "ord_1",
		GrandTotal:    1000,
		AmountPaid:    1000,
		Status:        domain.FulfilmentStatusDelivered,
		PaymentStatus: domain.PaymentStatusPaid,
		DeliveredAt:   &deliveredAt,
	})
	before, _ := f.store.FindByID(ctx, "mer_1", "ord_1")

	_, err := f.service.TransitionStatus(ctx, OrderStatusTransitionCommand{
		MerchantID:   "mer_1",
		OrderID:      "ord_1",
		TargetStatus: domain.FulfilmentStatusProcessing,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}

	after, _ := f.store.FindByID(ctx, "mer_1", "ord_1")
	if after.Status != before.Status || len(after.Timeline) != len(before.Timeline) || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("rejected transition must leave the order unchanged: %+v vs %+v", before, after)
	}
	if got := f.publisher.kinds(); len(got) != 0 {
		t.Fatalf("rejected transition must not emit intents, got %v", got)
	}
}

func TestShipMovesIndependentlyOfPaymentStatus(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.seed(t, domain.Order{ID: "ord_partial", GrandTotal: 1000, AmountPaid: 400, Status: domain.FulfilmentStatusProcessing, PaymentStatus: domain.PaymentStatusPartiallyPaid})
	f.seed(t, domain.Order{ID: "ord_unpaid", GrandTotal: 1000, Status: domain.FulfilmentStatusProcessing, PaymentStatus: domain.PaymentStatusPending})

	order, err := f.service.TransitionStatus(ctx, OrderStatusTransitionCommand{
		MerchantID:        "mer_1",
		OrderID:           "ord_partial",
		TargetStatus:      domain.FulfilmentStatusShipped,
		TrackingReference: "TRK-1",
	})
	if err != nil {
		t.Fatalf("partially paid ship: %v", err)
	}
	if order.Status != domain.FulfilmentStatusShipped || order.ShippedAt == nil {
		t.Fatalf("expected shipped with timestamp, got %+v", order)
	}
	if order.PaymentStatus != domain.PaymentStatusPartiallyPaid {
		t.Fatalf("payment sub-status must be untouched by shipping, got %q", order.PaymentStatus)
	}
	if order.Metadata["trackingReference"] != "TRK-1" {
		t.Fatalf("tracking reference must be recorded, got %v", order.Metadata)
	}

	order, err = f.service.TransitionStatus(ctx, OrderStatusTransitionCommand{
		MerchantID:        "mer_1",
		OrderID:           "ord_unpaid",
		TargetStatus:      domain.FulfilmentStatusShipped,
		TrackingReference: "TRK-2",
	})
	if err != nil {
		t.Fatalf("unpaid ship with tracking reference: %v", err)
	}
	if order.Status != domain.FulfilmentStatusShipped {
		t.Fatalf("expected shipped, got %q", order.Status)
	}
}

func TestShipRequiresTrackingReference(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.seed(t, domain.Order{ID: "ord_1", GrandTotal: 1000, AmountPaid: 1000, Status: domain.FulfilmentStatusProcessing, PaymentStatus: domain.PaymentStatusPaid})

	_, err := f.service.TransitionStatus(ctx, OrderStatusTransitionCommand{
		MerchantID:   "mer_1",
		OrderID:      "ord_1",
		TargetStatus: domain.FulfilmentStatusShipped,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState without tracking reference, got %v", err)
	}
}

func TestCancelRequiresSettledPayments(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.seed(t, domain.Order{ID: "ord_captured", GrandTotal: 1000, AmountPaid: 400, Status: domain.FulfilmentStatusProcessing, PaymentStatus: domain.PaymentStatusPartiallyPaid})
	f.seed(t, domain.Order{ID: "ord_refunded", GrandTotal: 1000, AmountPaid: 400, AmountRefunded: 400, Status: domain.FulfilmentStatusProcessing, PaymentStatus: domain.PaymentStatusRefunded})

	_, err := f.service.Cancel(ctx, CancelOrderCommand{MerchantID: "mer_1", OrderID: "ord_captured", Reason: "test"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("cancel with captured payments must fail, got %v", err)
	}

	order, err := f.service.Cancel(ctx, CancelOrderCommand{MerchantID: "mer_1", OrderID: "ord_refunded", Reason: "customer request"})
	if err != nil {
		t.Fatalf("cancel refunded order: %v", err)
	}
	if order.Status != domain.FulfilmentStatusCancelled || order.CancelledAt == nil {
		t.Fatalf("expected cancelled with timestamp, got %+v", order)
	}
	if order.CancelReason == nil || *order.CancelReason != "customer request" {
		t.Fatalf("cancel reason must be stored, got %v", order.CancelReason)
	}
	if got := f.publisher.kinds(); len(got) != 1 || got[0] != domain.NotificationKindOrderCancelled {
		t.Fatalf("expected order_cancelled intent, got %v", got)
	}
}

func TestCancelRejectedAfterDelivery(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.seed(t, domain.Order{ID: "ord_1", GrandTotal: 1000, AmountPaid: 1000, Status: domain.FulfilmentStatusDelivered, PaymentStatus: domain.PaymentStatusPaid})

	_, err := f.service.Cancel(ctx, CancelOrderCommand{MerchantID: "mer_1", OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestTransitionExpectedStatusMismatch(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.seed(t, domain.Order{ID: "ord_1", GrandTotal: 1000, Status: domain.FulfilmentStatusPending, PaymentStatus: domain.PaymentStatusPending})

	expected := domain.FulfilmentStatusProcessing
	_, err := f.service.TransitionStatus(ctx, OrderStatusTransitionCommand{
		MerchantID:     "mer_1",
		OrderID:        "ord_1",
		TargetStatus:   domain.FulfilmentStatusProcessing,
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestTransitionVersionConflictSurfaces(t *testing.T) {
	ctx := context.Background()
	repo := &stubOrderRepo{
		findFn: func(context.Context, string, string) (domain.Order, error) {
			return domain.Order{
				ID:            "ord_1",
				MerchantID:    "mer_1",
				Status:        domain.FulfilmentStatusPending,
				PaymentStatus: domain.PaymentStatusPending,
				Items:         []domain.OrderLineItem{{SKU: "sku-1", Quantity: 1, UnitPrice: 100}},
			}, nil
		},
		updateFn: func(context.Context, domain.Order) (domain.Order, error) {
			return domain.Order{}, repoStatusError{conflict: true}
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Counters: &stubCounterService{}})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		MerchantID:   "mer_1",
		OrderID:      "ord_1",
		TargetStatus: domain.FulfilmentStatusProcessing,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestRequestInvoiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.seed(t, domain.Order{ID: "ord_paid", GrandTotal: 1000, AmountPaid: 1000, Status: domain.FulfilmentStatusProcessing, PaymentStatus: domain.PaymentStatusPaid})
	f.seed(t, domain.Order{ID: "ord_pending", GrandTotal: 1000, Status: domain.FulfilmentStatusPending, PaymentStatus: domain.PaymentStatusPending})

	order, err := f.service.RequestInvoice(ctx, RequestInvoiceCommand{MerchantID: "mer_1", OrderID: "ord_paid"})
	if err != nil {
		t.Fatalf("request invoice: %v", err)
	}
	if order.InvoiceNumber == nil || *order.InvoiceNumber != "INV-202501-0001" {
		t.Fatalf("expected INV-202501-0001, got %v", order.InvoiceNumber)
	}
	if order.InvoicedAt == nil {
		t.Fatalf("invoicedAt must be set")
	}

	again, err := f.service.RequestInvoice(ctx, RequestInvoiceCommand{MerchantID: "mer_1", OrderID: "ord_paid"})
	if err != nil {
		t.Fatalf("repeat request: %v", err)
	}
	if *again.InvoiceNumber != "INV-202501-0001" {
		t.Fatalf("repeat issuance must return the stored number, got %q", *again.InvoiceNumber)
	}
	if f.counters.calls != 1 {
		t.Fatalf("sequencer must be consulted exactly once, got %d", f.counters.calls)
	}
	if len(f.archive.docs) != 1 {
		t.Fatalf("invoice must be archived exactly once, got %d", len(f.archive.docs))
	}
	doc := f.archive.docs[0]
	if doc.InvoiceNumber != "INV-202501-0001" || doc.OrderID != "ord_paid" || doc.MerchantID != "mer_1" {
		t.Fatalf("unexpected archived document: %+v", doc)
	}
	if len(doc.Lines) == 0 {
		t.Fatalf("archived document must carry billed lines")
	}

	pending, err := f.service.RequestInvoice(ctx, RequestInvoiceCommand{MerchantID: "mer_1", OrderID: "ord_pending"})
	if err != nil {
		t.Fatalf("back-fill on unpaid order: %v", err)
	}
	if pending.InvoiceNumber == nil || *pending.InvoiceNumber != "INV-202501-0002" {
		t.Fatalf("unpaid orders back-fill the next number, got %v", pending.InvoiceNumber)
	}
}

func TestRequestInvoiceRetainsNumberAcrossConflicts(t *testing.T) {
	ctx := context.Background()
	counters := &stubCounterService{}
	updates := 0
	stored := domain.Order{
		ID:            "ord_1",
		MerchantID:    "mer_1",
		Currency:      "USD",
		GrandTotal:    1000,
		Status:        domain.FulfilmentStatusProcessing,
		PaymentStatus: domain.PaymentStatusPaid,
		Items:         []domain.OrderLineItem{{SKU: "sku-1", Quantity: 1, UnitPrice: 1000, Total: 1000}},
	}
	repo := &stubOrderRepo{
		findFn: func(context.Context, string, string) (domain.Order, error) {
			return stored, nil
		},
		updateFn: func(_ context.Context, order domain.Order) (domain.Order, error) {
			updates++
			if updates == 1 {
				return domain.Order{}, repoStatusError{conflict: true}
			}
			return order, nil
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Counters: counters})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	order, err := svc.RequestInvoice(ctx, RequestInvoiceCommand{MerchantID: "mer_1", OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("request invoice: %v", err)
	}
	if order.InvoiceNumber == nil || *order.InvoiceNumber != "INV-202501-0001" {
		t.Fatalf("expected INV-202501-0001, got %v", order.InvoiceNumber)
	}
	if updates != 2 {
		t.Fatalf("conflicting write must be retried, got %d updates", updates)
	}
	if counters.calls != 1 {
		t.Fatalf("a lost write must not consume another sequence slot, got %d calls", counters.calls)
	}
}

func TestRequestInvoiceSurvivesArchiveFailure(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.archive.archiveFn = func(context.Context, InvoiceDocument) (string, error) {
		return "", errors.New("bucket unavailable")
	}
	f.seed(t, domain.Order{ID: "ord_paid", GrandTotal: 1000, AmountPaid: 1000, Status: domain.FulfilmentStatusProcessing, PaymentStatus: domain.PaymentStatusPaid})

	order, err := f.service.RequestInvoice(ctx, RequestInvoiceCommand{MerchantID: "mer_1", OrderID: "ord_paid"})
	if err != nil {
		t.Fatalf("archive failure must not fail issuance: %v", err)
	}
	if order.InvoiceNumber == nil || *order.InvoiceNumber != "INV-202501-0001" {
		t.Fatalf("invoice number must still be issued, got %v", order.InvoiceNumber)
	}

	stored, _ := f.store.FindByID(ctx, "mer_1", "ord_paid")
	if stored.InvoiceNumber == nil {
		t.Fatalf("issued number must be committed despite archive failure")
	}
}

func TestMarkNotificationUpdatesRecord(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.seed(t, domain.Order{
		ID:            "ord_1",
		GrandTotal:    1000,
		Status:        domain.FulfilmentStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Notifications: []domain.NotificationRecord{{ID: "ntf_1", Kind: domain.NotificationKindOrderConfirmed, Status: domain.NotificationStatusQueued}},
	})

	deliveredAt := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	err := f.service.MarkNotification(ctx, MarkNotificationCommand{
		OrderID:        "ord_1",
		NotificationID: "ntf_1",
		Status:         domain.NotificationStatusDelivered,
		DeliveredAt:    &deliveredAt,
	})
	if err != nil {
		t.Fatalf("mark notification: %v", err)
	}

	order, _ := f.store.FindByID(ctx, "mer_1", "ord_1")
	record := order.Notifications[0]
	if record.Status != domain.NotificationStatusDelivered || record.DeliveredAt == nil {
		t.Fatalf("record must reflect delivery, got %+v", record)
	}

	err = f.service.MarkNotification(ctx, MarkNotificationCommand{OrderID: "ord_1", NotificationID: "ntf_missing", Status: "failed"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("unknown notification must 404, got %v", err)
	}
}

func TestSendPaymentReminderQueuesIntent(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.seed(t, domain.Order{ID: "ord_1", GrandTotal: 1000, AmountPaid: 400, Status: domain.FulfilmentStatusProcessing, PaymentStatus: domain.PaymentStatusPartiallyPaid})

	order, err := f.service.SendPaymentReminder(ctx, PaymentReminderCommand{
		MerchantID: "mer_1",
		OrderID:    "ord_1",
		ActorID:    "usr_1",
		Message:    "balance due before shipment",
	})
	if err != nil {
		t.Fatalf("send reminder: %v", err)
	}

	if len(order.Timeline) != 1 || order.Timeline[0].Type != domain.TimelineTypePaymentReminder {
		t.Fatalf("expected payment_reminder timeline entry, got %+v", order.Timeline)
	}
	if order.Timeline[0].Metadata["outstanding"] != int64(600) {
		t.Fatalf("timeline entry must carry the outstanding amount, got %v", order.Timeline[0].Metadata)
	}
	if len(order.Notifications) != 1 || order.Notifications[0].Kind != domain.NotificationKindPaymentReminder {
		t.Fatalf("expected queued payment_reminder record, got %+v", order.Notifications)
	}
	if params := order.Notifications[0].TemplateParams; params["outstanding"] != "600" || params["currency"] != "USD" {
		t.Fatalf("reminder params must carry the balance, got %v", params)
	}
	if got := f.publisher.kinds(); len(got) != 1 || got[0] != domain.NotificationKindPaymentReminder {
		t.Fatalf("expected payment_reminder intent, got %v", got)
	}
}

func TestSendPaymentReminderRejectsSettledAndCancelled(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.seed(t, domain.Order{ID: "ord_paid", GrandTotal: 1000, AmountPaid: 1000, Status: domain.FulfilmentStatusProcessing, PaymentStatus: domain.PaymentStatusPaid})
	f.seed(t, domain.Order{ID: "ord_cancelled", GrandTotal: 1000, Status: domain.FulfilmentStatusCancelled, PaymentStatus: domain.PaymentStatusPending})

	if _, err := f.service.SendPaymentReminder(ctx, PaymentReminderCommand{MerchantID: "mer_1", OrderID: "ord_paid"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("settled orders have nothing to remind, got %v", err)
	}
	if _, err := f.service.SendPaymentReminder(ctx, PaymentReminderCommand{MerchantID: "mer_1", OrderID: "ord_cancelled"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("cancelled orders must be rejected, got %v", err)
	}
	if got := f.publisher.kinds(); len(got) != 0 {
		t.Fatalf("rejected reminders must not emit intents, got %v", got)
	}
}
