package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/shiptrack/api/internal/domain"
	"github.com/shiptrack/api/internal/payments"
	"github.com/shiptrack/api/internal/repositories"
)

type repoStatusError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoStatusError) Error() string { return "repository error" }

func (e repoStatusError) IsNotFound() bool { return e.notFound }

func (e repoStatusError) IsConflict() bool { return e.conflict }

func (e repoStatusError) IsUnavailable() bool { return e.unavailable }

// memOrderStore is an in-memory OrderRepository with real optimistic
// concurrency semantics so retry behaviour can be exercised.
type memOrderStore struct {
	mu     sync.Mutex
	rev    int64
	orders map[string]domain.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]domain.Order)}
}

func (s *memOrderStore) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return domain.Order{}, repoStatusError{conflict: true}
	}
	s.rev++
	order.Revision = time.Unix(0, s.rev)
	s.orders[order.ID] = order
	return order, nil
}

func (s *memOrderStore) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.orders[order.ID]
	if !ok {
		return domain.Order{}, repoStatusError{notFound: true}
	}
	if !current.Revision.Equal(order.Revision) {
		return domain.Order{}, repoStatusError{conflict: true}
	}
	s.rev++
	order.Revision = time.Unix(0, s.rev)
	s.orders[order.ID] = order
	return order, nil
}

func (s *memOrderStore) FindByID(ctx context.Context, merchantID, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repoStatusError{notFound: true}
	}
	if merchantID != "" && order.MerchantID != merchantID {
		return domain.Order{}, repoStatusError{notFound: true}
	}
	return order, nil
}

func (s *memOrderStore) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return domain.CursorPage[domain.Order]{}, nil
}

type stubRewardLedger struct {
	mu        sync.Mutex
	accruals  []RewardMovementCommand
	reversals []RewardMovementCommand
}

func (s *stubRewardLedger) AccrueReward(ctx context.Context, cmd RewardMovementCommand) (RewardMovementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accruals = append(s.accruals, cmd)
	return RewardMovementResult{Applied: true, Balance: cmd.Points}, nil
}

func (s *stubRewardLedger) ReverseReward(ctx context.Context, cmd RewardMovementCommand) (RewardMovementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reversals = append(s.reversals, cmd)
	return RewardMovementResult{Applied: true}, nil
}

type stubIntentPublisher struct {
	mu      sync.Mutex
	intents []NotificationIntent
}

func (s *stubIntentPublisher) PublishIntent(ctx context.Context, intent NotificationIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, intent)
	return nil
}

func (s *stubIntentPublisher) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, 0, len(s.intents))
	for _, intent := range s.intents {
		kinds = append(kinds, intent.Kind)
	}
	return kinds
}

type stubGateway struct {
	parseFn  func(ctx context.Context, provider string, payload []byte, headers map[string]string) (payments.WebhookEvent, error)
	linkFn   func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentLinkRequest) (payments.PaymentLink, error)
	refundFn func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

func (s *stubGateway) ParseWebhook(ctx context.Context, provider string, payload []byte, headers map[string]string) (payments.WebhookEvent, error) {
	if s.parseFn != nil {
		return s.parseFn(ctx, provider, payload, headers)
	}
	return payments.WebhookEvent{}, errors.New("not implemented")
}

func (s *stubGateway) CreatePaymentLink(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentLinkRequest) (payments.PaymentLink, error) {
	if s.linkFn != nil {
		return s.linkFn(ctx, paymentCtx, req)
	}
	return payments.PaymentLink{}, errors.New("not implemented")
}

func (s *stubGateway) Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, paymentCtx, req)
	}
	return payments.PaymentDetails{}, nil
}

type paymentFixture struct {
	store     *memOrderStore
	ledger    *stubRewardLedger
	publisher *stubIntentPublisher
	gateway   *stubGateway
	service   PaymentService
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	f := &paymentFixture{
		store:     newMemOrderStore(),
		ledger:    &stubRewardLedger{},
		publisher: &stubIntentPublisher{},
		gateway:   &stubGateway{},
	}

	var idSeq int64
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:        f.store,
		Rewards:       f.ledger,
		Gateway:       f.gateway,
		Notifications: f.publisher,
		Clock: func() time.Time {
			return time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
		},
		IDGenerator: func() string {
			return fmt.Sprintf("id%04d", atomic.AddInt64(&idSeq, 1))
		},
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	f.service = svc
	return f
}

func (f *paymentFixture) seedOrder(t *testing.T, id string, total int64) domain.Order {
	t.Helper()
	order, err := f.store.Insert(context.Background(), domain.Order{
		ID:               id,
		MerchantID:       "mer_1",
		CustomerID:       "cus_1",
		Currency:         "USD",
		GrandTotal:       total,
		RewardPercentage: 10,
		Status:           domain.FulfilmentStatusPending,
		PaymentStatus:    domain.PaymentStatusPending,
		Customer:         domain.OrderCustomer{Email: "buyer@example.com"},
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func TestRecordManualPaymentPartialThenPaid(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	order, err := f.service.RecordManualPayment(ctx, RecordPaymentCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "pay_a", Amount: 400,
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if order.AmountPaid != 400 {
		t.Fatalf("expected amount paid 400, got %d", order.AmountPaid)
	}
	if order.PaymentStatus != domain.PaymentStatusPartiallyPaid {
		t.Fatalf("expected partially_paid, got %q", order.PaymentStatus)
	}
	if len(order.Payments) != 1 || order.Payments[0].RewardPoints != 40 {
		t.Fatalf("unexpected payment entries: %+v", order.Payments)
	}
	if got := f.publisher.kinds(); len(got) != 0 {
		t.Fatalf("expected no intents before paid, got %v", got)
	}

	_, err = f.service.RecordManualPayment(ctx, RecordPaymentCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "pay_b", Amount: 700,
	})
	var overErr *domain.OverpaymentError
	if !errors.As(err, &overErr) {
		t.Fatalf("expected OverpaymentError, got %v", err)
	}
	if overErr.Attempted != 700 || overErr.Outstanding != 600 {
		t.Fatalf("unexpected overpayment detail: %+v", overErr)
	}
	unchanged, err := f.store.FindByID(ctx, "mer_1", "ord_1")
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if unchanged.AmountPaid != 400 || len(unchanged.Payments) != 1 {
		t.Fatalf("rejected payment must leave state unchanged: paid=%d entries=%d", unchanged.AmountPaid, len(unchanged.Payments))
	}

	order, err = f.service.RecordManualPayment(ctx, RecordPaymentCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "pay_c", Amount: 600,
	})
	if err != nil {
		t.Fatalf("record final payment: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid || order.AmountPaid != 1000 {
		t.Fatalf("expected paid/1000, got %q/%d", order.PaymentStatus, order.AmountPaid)
	}

	if got := f.publisher.kinds(); len(got) != 1 || got[0] != domain.NotificationKindPaymentReceived {
		t.Fatalf("expected a single payment_received intent, got %v", got)
	}
	if len(f.ledger.accruals) != 2 {
		t.Fatalf("expected accrual per payment, got %d", len(f.ledger.accruals))
	}
	if f.ledger.accruals[0].Points != 40 || f.ledger.accruals[1].Points != 60 {
		t.Fatalf("points must floor per payment: %+v", f.ledger.accruals)
	}
}

func TestRecordManualPaymentReplayIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	cmd := RecordPaymentCommand{MerchantID: "mer_1", OrderID: "ord_1", Reference: "pay_dup", Amount: 400}
	if _, err := f.service.RecordManualPayment(ctx, cmd); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	order, err := f.service.RecordManualPayment(ctx, cmd)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if order.AmountPaid != 400 || len(order.Payments) != 1 {
		t.Fatalf("replay must not change totals: paid=%d entries=%d", order.AmountPaid, len(order.Payments))
	}
	if len(f.ledger.accruals) != 1 {
		t.Fatalf("replay must not accrue again, got %d accruals", len(f.ledger.accruals))
	}
}

func TestPaymentPermutationIndependence(t *testing.T) {
	ctx := context.Background()

	events := []RecordPaymentCommand{
		{MerchantID: "mer_1", OrderID: "ord_1", Reference: "pay_a", Amount: 400},
		{MerchantID: "mer_1", OrderID: "ord_1", Reference: "pay_b", Amount: 600},
	}

	apply := func(order []int) (domain.Order, int) {
		f := newPaymentFixture(t)
		f.seedOrder(t, "ord_1", 1000)
		for _, i := range order {
			// Each event replayed once to simulate at-least-once delivery.
			if _, err := f.service.RecordManualPayment(ctx, events[i]); err != nil {
				t.Fatalf("apply event %d: %v", i, err)
			}
			if _, err := f.service.RecordManualPayment(ctx, events[i]); err != nil {
				t.Fatalf("replay event %d: %v", i, err)
			}
		}
		final, err := f.store.FindByID(ctx, "mer_1", "ord_1")
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		points := 0
		for _, acc := range f.ledger.accruals {
			points += int(acc.Points)
		}
		return final, points
	}

	forward, forwardPoints := apply([]int{0, 1})
	reversed, reversedPoints := apply([]int{1, 0})

	if forward.AmountPaid != reversed.AmountPaid || forward.AmountPaid != 1000 {
		t.Fatalf("permutations diverged: %d vs %d", forward.AmountPaid, reversed.AmountPaid)
	}
	if forward.PaymentStatus != domain.PaymentStatusPaid || reversed.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("both permutations must land on paid: %q vs %q", forward.PaymentStatus, reversed.PaymentStatus)
	}
	if forwardPoints != reversedPoints {
		t.Fatalf("reward totals diverged: %d vs %d", forwardPoints, reversedPoints)
	}
}

func TestConcurrentPaymentsConverge(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, ref := range []string{"pay_left", "pay_right"} {
		wg.Add(1)
		go func(slot int, reference string) {
			defer wg.Done()
			_, errs[slot] = f.service.RecordManualPayment(ctx, RecordPaymentCommand{
				MerchantID: "mer_1", OrderID: "ord_1", Reference: reference, Amount: 500,
			})
		}(i, ref)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent apply %d: %v", i, err)
		}
	}

	final, err := f.store.FindByID(ctx, "mer_1", "ord_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.AmountPaid != 1000 {
		t.Fatalf("expected converged total 1000, got %d", final.AmountPaid)
	}
	if len(final.Payments) != 2 {
		t.Fatalf("expected both entries recorded, got %d", len(final.Payments))
	}
	if final.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %q", final.PaymentStatus)
	}
	if got := f.publisher.kinds(); len(got) != 1 || got[0] != domain.NotificationKindPaymentReceived {
		t.Fatalf("paid intent must fire exactly once, got %v", got)
	}
}

func TestWebhookCapturedEventApplies(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	f.gateway.parseFn = func(ctx context.Context, provider string, payload []byte, headers map[string]string) (payments.WebhookEvent, error) {
		return payments.WebhookEvent{
			Provider:         provider,
			Kind:             payments.EventCaptured,
			GatewayPaymentID: "pi_123",
			OrderReference:   "ord_1",
			MerchantID:       "mer_1",
			Amount:           1000,
			Currency:         "USD",
			EventDate:        time.Date(2025, 1, 14, 18, 0, 0, 0, time.UTC),
		}, nil
	}

	cmd := PaymentWebhookCommand{Provider: "stripe", Payload: []byte(`{}`)}
	if err := f.service.RecordWebhookEvent(ctx, cmd); err != nil {
		t.Fatalf("webhook apply: %v", err)
	}
	// Redelivery from the gateway.
	if err := f.service.RecordWebhookEvent(ctx, cmd); err != nil {
		t.Fatalf("webhook replay: %v", err)
	}

	order, err := f.store.FindByID(ctx, "mer_1", "ord_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if order.AmountPaid != 1000 || len(order.Payments) != 1 {
		t.Fatalf("replayed webhook must apply once: paid=%d entries=%d", order.AmountPaid, len(order.Payments))
	}
	if order.Payments[0].Reference != "pi_123" {
		t.Fatalf("gateway payment id must be the reference, got %q", order.Payments[0].Reference)
	}
	if order.Payments[0].EventDate != time.Date(2025, 1, 14, 18, 0, 0, 0, time.UTC) {
		t.Fatalf("event date must be preserved, got %v", order.Payments[0].EventDate)
	}
}

func TestWebhookFailedEventLeavesTotalsUntouched(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	f.gateway.parseFn = func(ctx context.Context, provider string, payload []byte, headers map[string]string) (payments.WebhookEvent, error) {
		return payments.WebhookEvent{
			Provider:         provider,
			Kind:             payments.EventFailed,
			GatewayPaymentID: "pi_fail",
			OrderReference:   "ord_1",
			MerchantID:       "mer_1",
			Amount:           1000,
			Currency:         "USD",
		}, nil
	}

	cmd := PaymentWebhookCommand{Provider: "stripe", Payload: []byte(`{}`)}
	if err := f.service.RecordWebhookEvent(ctx, cmd); err != nil {
		t.Fatalf("webhook failed event: %v", err)
	}
	if err := f.service.RecordWebhookEvent(ctx, cmd); err != nil {
		t.Fatalf("webhook failed replay: %v", err)
	}

	order, err := f.store.FindByID(ctx, "mer_1", "ord_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if order.AmountPaid != 0 || len(order.Payments) != 0 {
		t.Fatalf("failed event must not touch totals: paid=%d entries=%d", order.AmountPaid, len(order.Payments))
	}
	if order.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed sub-status, got %q", order.PaymentStatus)
	}

	failures := 0
	for _, entry := range order.Timeline {
		if entry.Type == domain.TimelineTypePaymentFailed {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected one failure record, got %d", failures)
	}
}

func TestRecordRefundReversesPayment(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	if _, err := f.service.RecordManualPayment(ctx, RecordPaymentCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "pay_a", Amount: 400,
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	_, err := f.service.RecordRefund(ctx, RecordRefundCommand{
		MerchantID: "mer_1", OrderID: "ord_1", PaymentReference: "pay_a", Amount: 700,
	})
	var refundErr *domain.InvalidRefundError
	if !errors.As(err, &refundErr) {
		t.Fatalf("expected InvalidRefundError, got %v", err)
	}
	if refundErr.Attempted != 700 || refundErr.Refundable != 400 {
		t.Fatalf("unexpected refund detail: %+v", refundErr)
	}

	order, err := f.service.RecordRefund(ctx, RecordRefundCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "ref_cust", PaymentReference: "pay_a", Amount: 400, Reason: "customer request",
	})
	if err != nil {
		t.Fatalf("record refund: %v", err)
	}
	if order.AmountRefunded != 400 {
		t.Fatalf("expected amount refunded 400, got %d", order.AmountRefunded)
	}
	if order.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %q", order.PaymentStatus)
	}
	if len(order.Refunds) != 1 || order.Refunds[0].PointsReversed != 40 {
		t.Fatalf("refund must reverse the payment's points: %+v", order.Refunds)
	}
	if len(f.ledger.reversals) != 1 || f.ledger.reversals[0].Points != 40 {
		t.Fatalf("expected one reversal of 40 points, got %+v", f.ledger.reversals)
	}
	if got := f.publisher.kinds(); len(got) != 1 || got[0] != domain.NotificationKindRefundIssued {
		t.Fatalf("expected refund_issued intent, got %v", got)
	}

	// Replaying the refund reference is a no-op.
	again, err := f.service.RecordRefund(ctx, RecordRefundCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "ref_cust", PaymentReference: "pay_a", Amount: 400,
	})
	if err != nil {
		t.Fatalf("refund replay: %v", err)
	}
	if again.AmountRefunded != 400 || len(again.Refunds) != 1 {
		t.Fatalf("refund replay must not change totals: %d/%d", again.AmountRefunded, len(again.Refunds))
	}
}

func TestPartialRefundsAccumulate(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	if _, err := f.service.RecordManualPayment(ctx, RecordPaymentCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "pay_a", Amount: 1000,
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	if _, err := f.service.RecordRefund(ctx, RecordRefundCommand{
		MerchantID: "mer_1", OrderID: "ord_1", PaymentReference: "pay_a", Amount: 200,
	}); err != nil {
		t.Fatalf("first partial refund: %v", err)
	}
	order, err := f.service.RecordRefund(ctx, RecordRefundCommand{
		MerchantID: "mer_1", OrderID: "ord_1", PaymentReference: "pay_a", Amount: 300,
	})
	if err != nil {
		t.Fatalf("second partial refund: %v", err)
	}

	if order.AmountRefunded != 500 {
		t.Fatalf("partial refunds must accumulate to 500, got %d", order.AmountRefunded)
	}
	if len(order.Refunds) != 2 {
		t.Fatalf("each partial refund must land, got %d entries", len(order.Refunds))
	}
	if order.Refunds[0].Reference == order.Refunds[1].Reference {
		t.Fatalf("each refund must carry its own reference, got %q twice", order.Refunds[0].Reference)
	}
	if order.Refunds[0].PointsReversed != 20 || order.Refunds[1].PointsReversed != 30 {
		t.Fatalf("points must reverse in proportion to the refunded share: %+v", order.Refunds)
	}
	if len(f.ledger.reversals) != 2 || f.ledger.reversals[0].Points != 20 || f.ledger.reversals[1].Points != 30 {
		t.Fatalf("expected proportional reversals, got %+v", f.ledger.reversals)
	}
	if f.ledger.reversals[0].PaymentReference == f.ledger.reversals[1].PaymentReference {
		t.Fatalf("reversals must be keyed per refund, got %q twice", f.ledger.reversals[0].PaymentReference)
	}
}

func TestWebhookPartialRefundsKeyedByRefundObject(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	if _, err := f.service.RecordManualPayment(ctx, RecordPaymentCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "pi_123", Provider: "stripe", Amount: 1000,
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	refundEvent := func(refundID string, amount int64) payments.WebhookEvent {
		return payments.WebhookEvent{
			Provider:         "stripe",
			Kind:             payments.EventRefunded,
			GatewayPaymentID: "pi_123",
			RefundID:         refundID,
			OrderReference:   "ord_1",
			MerchantID:       "mer_1",
			Amount:           amount,
			Currency:         "USD",
		}
	}

	var event payments.WebhookEvent
	f.gateway.parseFn = func(context.Context, string, []byte, map[string]string) (payments.WebhookEvent, error) {
		return event, nil
	}
	cmd := PaymentWebhookCommand{Provider: "stripe", Payload: []byte(`{}`)}

	event = refundEvent("re_1", 200)
	if err := f.service.RecordWebhookEvent(ctx, cmd); err != nil {
		t.Fatalf("first refund event: %v", err)
	}
	event = refundEvent("re_2", 300)
	if err := f.service.RecordWebhookEvent(ctx, cmd); err != nil {
		t.Fatalf("second refund event: %v", err)
	}
	// Gateway redelivery of the second refund.
	if err := f.service.RecordWebhookEvent(ctx, cmd); err != nil {
		t.Fatalf("refund redelivery: %v", err)
	}

	order, err := f.store.FindByID(ctx, "mer_1", "ord_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if order.AmountRefunded != 500 {
		t.Fatalf("both partial refunds must land once each, got %d", order.AmountRefunded)
	}
	if len(order.Refunds) != 2 {
		t.Fatalf("expected two refund entries, got %d", len(order.Refunds))
	}
	if order.Refunds[0].Reference != "ref_re_1" || order.Refunds[1].Reference != "ref_re_2" {
		t.Fatalf("refund entries must be keyed by the gateway refund object: %+v", order.Refunds)
	}
}

func TestWebhookCumulativeRefundReconcilesDelta(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	if _, err := f.service.RecordManualPayment(ctx, RecordPaymentCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "pi_123", Provider: "stripe", Amount: 1000,
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	var cumulative int64
	f.gateway.parseFn = func(context.Context, string, []byte, map[string]string) (payments.WebhookEvent, error) {
		return payments.WebhookEvent{
			Provider:         "stripe",
			Kind:             payments.EventRefunded,
			GatewayPaymentID: "pi_123",
			OrderReference:   "ord_1",
			MerchantID:       "mer_1",
			Amount:           cumulative,
			Currency:         "USD",
		}, nil
	}
	cmd := PaymentWebhookCommand{Provider: "stripe", Payload: []byte(`{}`)}

	cumulative = 200
	if err := f.service.RecordWebhookEvent(ctx, cmd); err != nil {
		t.Fatalf("first cumulative event: %v", err)
	}
	cumulative = 500
	if err := f.service.RecordWebhookEvent(ctx, cmd); err != nil {
		t.Fatalf("second cumulative event: %v", err)
	}
	if err := f.service.RecordWebhookEvent(ctx, cmd); err != nil {
		t.Fatalf("cumulative redelivery: %v", err)
	}

	order, err := f.store.FindByID(ctx, "mer_1", "ord_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if order.AmountRefunded != 500 {
		t.Fatalf("cumulative figures must reconcile by delta, got %d", order.AmountRefunded)
	}
	if len(order.Refunds) != 2 || order.Refunds[0].Amount != 200 || order.Refunds[1].Amount != 300 {
		t.Fatalf("expected delta entries of 200 and 300, got %+v", order.Refunds)
	}
}

func TestRefundWebhookEchoAfterOperatorRefundIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	if _, err := f.service.RecordManualPayment(ctx, RecordPaymentCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "pi_123", Provider: "stripe", Amount: 1000,
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	f.gateway.refundFn = func(_ context.Context, _ payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{Provider: "stripe", IntentID: req.IntentID, RefundID: "re_9", Status: payments.StatusRefunded}, nil
	}

	order, err := f.service.RecordRefund(ctx, RecordRefundCommand{
		MerchantID: "mer_1", OrderID: "ord_1", PaymentReference: "pi_123", Amount: 400, Reason: "customer request",
	})
	if err != nil {
		t.Fatalf("record refund: %v", err)
	}
	if len(order.Refunds) != 1 || order.Refunds[0].Reference != "ref_re_9" {
		t.Fatalf("operator refund must be keyed by the provider's refund object, got %+v", order.Refunds)
	}

	f.gateway.parseFn = func(context.Context, string, []byte, map[string]string) (payments.WebhookEvent, error) {
		return payments.WebhookEvent{
			Provider:         "stripe",
			Kind:             payments.EventRefunded,
			GatewayPaymentID: "pi_123",
			RefundID:         "re_9",
			OrderReference:   "ord_1",
			MerchantID:       "mer_1",
			Amount:           400,
			Currency:         "USD",
		}, nil
	}
	if err := f.service.RecordWebhookEvent(ctx, PaymentWebhookCommand{Provider: "stripe", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("webhook echo: %v", err)
	}

	final, err := f.store.FindByID(ctx, "mer_1", "ord_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.AmountRefunded != 400 || len(final.Refunds) != 1 {
		t.Fatalf("webhook echo must be a no-op: refunded=%d entries=%d", final.AmountRefunded, len(final.Refunds))
	}
	if len(f.ledger.reversals) != 1 {
		t.Fatalf("points must reverse once, got %d reversals", len(f.ledger.reversals))
	}
}

func TestPaymentRejectedOnCancelledOrder(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	if _, err := f.store.Insert(ctx, domain.Order{
		ID:            "ord_1",
		MerchantID:    "mer_1",
		CustomerID:    "cus_1",
		Currency:      "USD",
		GrandTotal:    1000,
		Status:        domain.FulfilmentStatusCancelled,
		PaymentStatus: domain.PaymentStatusPending,
	}); err != nil {
		t.Fatalf("seed cancelled order: %v", err)
	}

	_, err := f.service.RecordManualPayment(ctx, RecordPaymentCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "pay_late", Amount: 1000,
	})
	if !errors.Is(err, ErrPaymentOrderCancelled) {
		t.Fatalf("expected ErrPaymentOrderCancelled, got %v", err)
	}

	order, findErr := f.store.FindByID(ctx, "mer_1", "ord_1")
	if findErr != nil {
		t.Fatalf("reload: %v", findErr)
	}
	if order.AmountPaid != 0 || len(order.Payments) != 0 || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("rejected capture must leave the order untouched: %+v", order)
	}
	if got := f.publisher.kinds(); len(got) != 0 {
		t.Fatalf("rejected capture must not emit intents, got %v", got)
	}
	if len(f.ledger.accruals) != 0 {
		t.Fatalf("rejected capture must not accrue points, got %+v", f.ledger.accruals)
	}
}

func TestRecordRefundRequiresKnownPayment(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	_, err := f.service.RecordRefund(ctx, RecordRefundCommand{
		MerchantID: "mer_1", OrderID: "ord_1", PaymentReference: "pay_missing", Amount: 100,
	})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}
}

func TestCreatePaymentLinkCoversOutstanding(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedOrder(t, "ord_1", 1000)

	var captured payments.PaymentLinkRequest
	f.gateway.linkFn = func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentLinkRequest) (payments.PaymentLink, error) {
		captured = req
		return payments.PaymentLink{ID: "cs_1", Provider: "stripe", URL: "https://pay.example/cs_1", Amount: req.Amount, Currency: req.Currency}, nil
	}

	if _, err := f.service.RecordManualPayment(ctx, RecordPaymentCommand{
		MerchantID: "mer_1", OrderID: "ord_1", Reference: "pay_a", Amount: 400,
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	link, err := f.service.CreatePaymentLink(ctx, CreatePaymentLinkCommand{MerchantID: "mer_1", OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("create payment link: %v", err)
	}
	if captured.Amount != 600 {
		t.Fatalf("link must cover the outstanding balance, got %d", captured.Amount)
	}
	if captured.Metadata["orderId"] != "ord_1" || captured.Metadata["merchantId"] != "mer_1" {
		t.Fatalf("link metadata must address the order, got %v", captured.Metadata)
	}
	if link.URL != "https://pay.example/cs_1" || link.Provider != "stripe" {
		t.Fatalf("unexpected link: %+v", link)
	}
}
