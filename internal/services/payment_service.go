package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shiptrack/api/internal/domain"
	"github.com/shiptrack/api/internal/payments"
	"github.com/shiptrack/api/internal/repositories"
)

const (
	paymentRefPrefix = "pay_"
	refundRefPrefix  = "ref_"

	// Bounded optimistic retries against concurrent writers on the same order.
	paymentApplyAttempts = 3

	manualPaymentProvider = "manual"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid payment data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the referenced order could not be located.
	ErrPaymentNotFound = errors.New("payment: order not found")
	// ErrPaymentConflict indicates the apply loop lost every optimistic retry.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrPaymentOrderCancelled indicates a capture arrived for a cancelled order.
	ErrPaymentOrderCancelled = errors.New("payment: order cancelled")
)

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	CreatePaymentLink(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentLinkRequest) (payments.PaymentLink, error)
	ParseWebhook(ctx context.Context, provider string, payload []byte, headers map[string]string) (payments.WebhookEvent, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// rewardLedger is the slice of CustomerService the reconciliation engine needs.
type rewardLedger interface {
	AccrueReward(ctx context.Context, cmd RewardMovementCommand) (RewardMovementResult, error)
	ReverseReward(ctx context.Context, cmd RewardMovementCommand) (RewardMovementResult, error)
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders        repositories.OrderRepository
	Rewards       rewardLedger
	Gateway       paymentGateway
	Notifications NotificationPublisher
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders        repositories.OrderRepository
	rewards       rewardLedger
	gateway       paymentGateway
	notifications NotificationPublisher
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
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

	return &paymentService{
		orders:        deps.Orders,
		rewards:       deps.Rewards,
		gateway:       deps.Gateway,
		notifications: deps.Notifications,
		unitOfWork:    unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// RecordWebhookEvent verifies a gateway callback and routes it into the
// reconciliation flow. Callbacks arrive at-least-once and possibly out of
// order, so every branch tolerates replays.
func (s *paymentService) RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error {
	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if provider == "" {
		return fmt.Errorf("%w: provider is required", ErrPaymentInvalidInput)
	}
	if len(cmd.Payload) == 0 {
		return fmt.Errorf("%w: payload is empty", ErrPaymentInvalidInput)
	}
	if s.gateway == nil {
		return errors.New("payment: gateway is not configured")
	}

	parsed, err := s.gateway.ParseWebhook(ctx, provider, cmd.Payload, cmd.Headers)
	if errors.Is(err, payments.ErrEventIgnored) {
		s.logger(ctx, "payment.webhook.ignored", map[string]any{
			"provider": provider,
			"detail":   err.Error(),
		})
		return nil
	}
	if err != nil {
		return err
	}

	event := normaliseWebhookEvent(parsed)
	if event.OrderReference == "" {
		return fmt.Errorf("%w: event %s carries no order reference", ErrPaymentInvalidInput, event.GatewayPaymentID)
	}

	switch event.Type {
	case domain.PaymentEventCaptured:
		_, err := s.applyPayment(ctx, event.MerchantID, event.OrderReference, PaymentEntry{
			Reference: event.GatewayPaymentID,
			Provider:  event.Provider,
			Amount:    event.Amount,
			Currency:  event.Currency,
			EventDate: event.EventDate,
		})
		return err
	case domain.PaymentEventFailed:
		return s.recordFailedAttempt(ctx, event)
	case domain.PaymentEventRefunded:
		return s.applyGatewayRefund(ctx, event)
	default:
		s.logger(ctx, "payment.webhook.unhandled", map[string]any{
			"provider": provider,
			"type":     event.Type,
		})
		return nil
	}
}

// applyGatewayRefund maps a refund callback onto the refund ledger. When the
// provider reports the individual refund object the entry is keyed by its ID,
// so successive partial refunds each land once. Providers that only report a
// cumulative refunded figure reconcile by delta instead.
func (s *paymentService) applyGatewayRefund(ctx context.Context, event domain.PaymentEvent) error {
	entry := RefundEntry{
		PaymentReference: event.GatewayPaymentID,
		Amount:           event.Amount,
		Reason:           "gateway refund",
	}
	cumulative := event.RefundID == ""
	if cumulative {
		entry.Reference = fmt.Sprintf("%s%s_%d", refundRefPrefix, event.GatewayPaymentID, event.Amount)
	} else {
		entry.Reference = refundRefPrefix + event.RefundID
	}
	_, err := s.applyRefund(ctx, event.MerchantID, event.OrderReference, entry, cumulative)
	return err
}

// RecordManualPayment reconciles an operator-entered payment. A reference is
// assigned when the caller does not supply one so the entry participates in
// the same idempotency set as gateway events.
func (s *paymentService) RecordManualPayment(ctx context.Context, cmd RecordPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		reference = paymentRefPrefix + s.newID()
	}
	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if provider == "" {
		provider = manualPaymentProvider
	}

	return s.applyPayment(ctx, cmd.MerchantID, orderID, PaymentEntry{
		Reference: reference,
		Provider:  provider,
		Amount:    cmd.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		EventDate: cmd.EventDate,
		Metadata:  cloneMap(cmd.Metadata),
	})
}

// RecordRefund reverses money and reward points against a previously applied
// payment. Each call mints its own reference so repeated partial refunds of
// one payment all land. Gateway-held payments are refunded at the provider
// first and re-keyed by the provider's refund object, which makes the
// eventual webhook echo a no-op.
func (s *paymentService) RecordRefund(ctx context.Context, cmd RecordRefundCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	paymentRef := strings.TrimSpace(cmd.PaymentReference)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if paymentRef == "" {
		return Order{}, fmt.Errorf("%w: payment reference is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, cmd.MerchantID, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	payment := findPaymentEntry(order.Payments, paymentRef)
	if payment == nil {
		return Order{}, fmt.Errorf("%w: payment %s is not recorded on order %s", ErrPaymentInvalidInput, paymentRef, orderID)
	}

	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		reference = refundRefPrefix + s.newID()
	}

	if s.gateway != nil && payment.Provider != "" && payment.Provider != manualPaymentProvider {
		amount := cmd.Amount
		details, err := s.gateway.Refund(ctx, payments.PaymentContext{
			PreferredProvider: payment.Provider,
			Currency:          order.Currency,
		}, payments.RefundRequest{
			IntentID:       paymentRef,
			Amount:         &amount,
			Reason:         cmd.Reason,
			IdempotencyKey: reference,
		})
		if err != nil {
			return Order{}, fmt.Errorf("payment: gateway refund: %w", err)
		}
		if details.RefundID != "" {
			reference = refundRefPrefix + details.RefundID
		}
	}

	return s.applyRefund(ctx, cmd.MerchantID, orderID, RefundEntry{
		Reference:        reference,
		PaymentReference: paymentRef,
		Amount:           cmd.Amount,
		Reason:           strings.TrimSpace(cmd.Reason),
	}, false)
}

// CreatePaymentLink requests a hosted collection URL for the order's
// outstanding balance.
func (s *paymentService) CreatePaymentLink(ctx context.Context, cmd CreatePaymentLinkCommand) (PaymentLink, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentLink{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if s.gateway == nil {
		return PaymentLink{}, errors.New("payment: gateway is not configured")
	}

	order, err := s.orders.FindByID(ctx, cmd.MerchantID, orderID)
	if err != nil {
		return PaymentLink{}, s.mapRepositoryError(err)
	}

	outstanding := domain.Outstanding(orderTotals(order))
	if outstanding <= 0 {
		return PaymentLink{}, fmt.Errorf("%w: order %s has no outstanding balance", ErrPaymentInvalidInput, orderID)
	}

	link, err := s.gateway.CreatePaymentLink(ctx, payments.PaymentContext{Currency: order.Currency}, payments.PaymentLinkRequest{
		OrderID:       order.ID,
		MerchantID:    order.MerchantID,
		Amount:        outstanding,
		Currency:      order.Currency,
		Description:   fmt.Sprintf("Order %s balance", order.ID),
		CustomerEmail: order.Customer.Email,
		Locale:        order.Customer.Locale,
		Metadata: map[string]string{
			"orderId":    order.ID,
			"merchantId": order.MerchantID,
		},
		IdempotencyKey: fmt.Sprintf("link_%s_%d", order.ID, outstanding),
	})
	if err != nil {
		return PaymentLink{}, err
	}

	return PaymentLink{
		Provider:  link.Provider,
		LinkID:    link.ID,
		URL:       link.URL,
		Amount:    link.Amount,
		Currency:  link.Currency,
		ExpiresAt: link.ExpiresAt,
	}, nil
}

// applyPayment runs the idempotent read-validate-conditionally-write loop. A
// replayed reference returns the stored order unchanged. Version conflicts
// re-read and recompute up to the retry budget.
func (s *paymentService) applyPayment(ctx context.Context, merchantID, orderID string, entry PaymentEntry) (Order, error) {
	reference := strings.TrimSpace(entry.Reference)
	if reference == "" {
		return Order{}, fmt.Errorf("%w: payment reference is required", ErrPaymentInvalidInput)
	}

	var conflictErr error
	for attempt := 0; attempt < paymentApplyAttempts; attempt++ {
		order, err := s.orders.FindByID(ctx, merchantID, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}

		if findPaymentEntry(order.Payments, reference) != nil {
			return order, nil
		}
		if order.Status == domain.FulfilmentStatusCancelled {
			return Order{}, fmt.Errorf("%w: order %s does not accept payments", ErrPaymentOrderCancelled, order.ID)
		}
		if entry.Currency != "" && !strings.EqualFold(entry.Currency, order.Currency) {
			return Order{}, fmt.Errorf("%w: currency %s does not match order currency %s", ErrPaymentInvalidInput, entry.Currency, order.Currency)
		}

		totals, err := domain.ApplyPayment(orderTotals(order), entry.Amount)
		if err != nil {
			return Order{}, err
		}

		now := s.now()
		applied := entry
		applied.Reference = reference
		applied.Currency = order.Currency
		applied.RewardPoints = domain.RewardPoints(applied.Amount, order.RewardPercentage)
		applied.RecordedAt = now
		if applied.EventDate.IsZero() {
			applied.EventDate = now
		}

		previous := order.PaymentStatus
		order.AmountPaid = totals.AmountPaid
		order.Payments = append(order.Payments, applied)
		order.PaymentStatus = domain.DerivePaymentStatus(totals)
		order.UpdatedAt = now
		order.Timeline = append(order.Timeline, TimelineEntry{
			ID:         timelineIDPrefix + s.newID(),
			Type:       domain.TimelineTypePayment,
			Actor:      applied.Provider,
			OccurredAt: now,
			Metadata: map[string]any{
				"reference": reference,
				"amount":    applied.Amount,
				"provider":  applied.Provider,
			},
		})

		becamePaid := previous != domain.PaymentStatusPaid && order.PaymentStatus == domain.PaymentStatusPaid
		var intent NotificationIntent
		if becamePaid {
			intent = queueOrderNotification(&order, notificationIDPrefix+s.newID(), domain.NotificationKindPaymentReceived, now, map[string]string{
				"orderId":  order.ID,
				"amount":   formatAmount(applied.Amount),
				"currency": order.Currency,
			})
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
			if errors.Is(err, ErrPaymentConflict) {
				conflictErr = err
				continue
			}
			return Order{}, err
		}

		s.settleAppliedPayment(ctx, saved, applied, becamePaid, intent)
		return saved, nil
	}
	return Order{}, conflictErr
}

// applyRefund mirrors applyPayment for the refund side of the ledger. When
// cumulative is set the entry amount is the provider's running refunded total
// for the payment, and only the delta beyond already-recorded refunds lands.
func (s *paymentService) applyRefund(ctx context.Context, merchantID, orderID string, refund RefundEntry, cumulative bool) (Order, error) {
	reference := strings.TrimSpace(refund.Reference)
	if reference == "" {
		return Order{}, fmt.Errorf("%w: refund reference is required", ErrPaymentInvalidInput)
	}

	var conflictErr error
	for attempt := 0; attempt < paymentApplyAttempts; attempt++ {
		order, err := s.orders.FindByID(ctx, merchantID, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}

		if findRefundEntry(order.Refunds, reference) != nil {
			return order, nil
		}

		payment := findPaymentEntry(order.Payments, refund.PaymentReference)
		if payment == nil {
			return Order{}, fmt.Errorf("%w: payment %s is not recorded on order %s", ErrPaymentInvalidInput, refund.PaymentReference, order.ID)
		}

		amount := refund.Amount
		if cumulative {
			amount -= refundedAgainst(order.Refunds, refund.PaymentReference)
			if amount <= 0 {
				return order, nil
			}
		}

		totals, err := domain.ApplyRefund(orderTotals(order), amount)
		if err != nil {
			return Order{}, err
		}

		now := s.now()
		applied := refund
		applied.Reference = reference
		applied.Amount = amount
		applied.PointsReversed = proratedPoints(*payment, amount)
		applied.RecordedAt = now

		order.AmountRefunded = totals.AmountRefunded
		order.Refunds = append(order.Refunds, applied)
		order.PaymentStatus = domain.DerivePaymentStatus(totals)
		order.UpdatedAt = now
		order.Timeline = append(order.Timeline, TimelineEntry{
			ID:         timelineIDPrefix + s.newID(),
			Type:       domain.TimelineTypeRefund,
			Reason:     applied.Reason,
			OccurredAt: now,
			Metadata: map[string]any{
				"reference":        reference,
				"paymentReference": applied.PaymentReference,
				"amount":           applied.Amount,
			},
		})

		intent := queueOrderNotification(&order, notificationIDPrefix+s.newID(), domain.NotificationKindRefundIssued, now, map[string]string{
			"orderId":  order.ID,
			"amount":   formatAmount(applied.Amount),
			"currency": order.Currency,
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
			if errors.Is(err, ErrPaymentConflict) {
				conflictErr = err
				continue
			}
			return Order{}, err
		}

		s.settleAppliedRefund(ctx, saved, applied, intent)
		return saved, nil
	}
	return Order{}, conflictErr
}

// recordFailedAttempt notes a gateway failure on the timeline without touching
// totals. The payment sub-status only flips to failed while nothing has been
// captured, so a failed retry never masks a partial payment.
func (s *paymentService) recordFailedAttempt(ctx context.Context, event domain.PaymentEvent) error {
	var conflictErr error
	for attempt := 0; attempt < paymentApplyAttempts; attempt++ {
		order, err := s.orders.FindByID(ctx, event.MerchantID, event.OrderReference)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		if hasFailureRecord(order.Timeline, event.GatewayPaymentID) {
			return nil
		}

		now := s.now()
		order.Timeline = append(order.Timeline, TimelineEntry{
			ID:         timelineIDPrefix + s.newID(),
			Type:       domain.TimelineTypePaymentFailed,
			Actor:      event.Provider,
			OccurredAt: now,
			Metadata: map[string]any{
				"reference": event.GatewayPaymentID,
				"amount":    event.Amount,
				"provider":  event.Provider,
			},
		})
		if order.AmountPaid == 0 {
			order.PaymentStatus = domain.PaymentStatusFailed
		}
		order.UpdatedAt = now

		err = s.runInTx(ctx, func(txCtx context.Context) error {
			if _, updateErr := s.orders.Update(txCtx, domain.Order(order)); updateErr != nil {
				return s.mapRepositoryError(updateErr)
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrPaymentConflict) {
				conflictErr = err
				continue
			}
			return err
		}
		return nil
	}
	return conflictErr
}

// settleAppliedPayment runs the post-commit side effects. The reward ledger is
// keyed by payment reference, so replays and retries stay single-shot. The
// payment_received intent fires only on the transition into paid.
func (s *paymentService) settleAppliedPayment(ctx context.Context, order Order, entry PaymentEntry, becamePaid bool, intent NotificationIntent) {
	if s.rewards != nil && entry.RewardPoints > 0 {
		_, err := s.rewards.AccrueReward(ctx, RewardMovementCommand{
			MerchantID:       order.MerchantID,
			CustomerID:       order.CustomerID,
			OrderID:          order.ID,
			PaymentReference: entry.Reference,
			Points:           entry.RewardPoints,
			OccurredAt:       entry.EventDate,
		})
		if err != nil {
			s.logger(ctx, "payment.reward.accrual.failed", map[string]any{
				"order":     order.ID,
				"reference": entry.Reference,
				"error":     err.Error(),
			})
		}
	}

	if !becamePaid {
		return
	}

	s.publishIntent(ctx, intent)
}

// settleAppliedRefund reverses reward points after commit. The ledger entry is
// keyed by the refund reference so each partial refund reverses its own share.
func (s *paymentService) settleAppliedRefund(ctx context.Context, order Order, refund RefundEntry, intent NotificationIntent) {
	if s.rewards != nil && refund.PointsReversed > 0 {
		_, err := s.rewards.ReverseReward(ctx, RewardMovementCommand{
			MerchantID:       order.MerchantID,
			CustomerID:       order.CustomerID,
			OrderID:          order.ID,
			PaymentReference: refund.Reference,
			Points:           refund.PointsReversed,
			OccurredAt:       refund.RecordedAt,
		})
		if err != nil {
			s.logger(ctx, "payment.reward.reversal.failed", map[string]any{
				"order":     order.ID,
				"reference": refund.Reference,
				"error":     err.Error(),
			})
		}
	}

	s.publishIntent(ctx, intent)
}

func (s *paymentService) publishIntent(ctx context.Context, intent NotificationIntent) {
	if s.notifications == nil || intent.Kind == "" {
		return
	}
	if err := s.notifications.PublishIntent(ctx, intent); err != nil {
		// The queued record stays on the order so a dispatcher can re-drive it.
		s.logger(ctx, "payment.notification.publish.failed", map[string]any{
			"kind":  intent.Kind,
			"order": intent.OrderID,
			"error": err.Error(),
		})
	}
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *paymentService) now() time.Time {
	return s.clock()
}

func normaliseWebhookEvent(event payments.WebhookEvent) domain.PaymentEvent {
	kind := ""
	switch event.Kind {
	case payments.EventCaptured:
		kind = domain.PaymentEventCaptured
	case payments.EventFailed:
		kind = domain.PaymentEventFailed
	case payments.EventRefunded:
		kind = domain.PaymentEventRefunded
	}
	return domain.PaymentEvent{
		GatewayPaymentID: event.GatewayPaymentID,
		RefundID:         event.RefundID,
		OrderReference:   event.OrderReference,
		MerchantID:       event.MerchantID,
		Provider:         event.Provider,
		Type:             kind,
		Amount:           event.Amount,
		Currency:         event.Currency,
		EventDate:        event.EventDate,
		Raw:              event.Raw,
	}
}

func orderTotals(order Order) domain.PaymentTotals {
	return domain.PaymentTotals{
		GrandTotal:     order.GrandTotal,
		AmountPaid:     order.AmountPaid,
		AmountRefunded: order.AmountRefunded,
	}
}

func findPaymentEntry(entries []PaymentEntry, reference string) *PaymentEntry {
	for i := range entries {
		if entries[i].Reference == reference {
			return &entries[i]
		}
	}
	return nil
}

func findRefundEntry(entries []RefundEntry, reference string) *RefundEntry {
	for i := range entries {
		if entries[i].Reference == reference {
			return &entries[i]
		}
	}
	return nil
}

// refundedAgainst sums the refunds already recorded against one payment.
func refundedAgainst(entries []RefundEntry, paymentReference string) int64 {
	var total int64
	for _, entry := range entries {
		if entry.PaymentReference == paymentReference {
			total += entry.Amount
		}
	}
	return total
}

// proratedPoints takes the payment's earned points by the refunded share,
// floored, so successive partial refunds never reverse more than was earned.
func proratedPoints(payment PaymentEntry, amount int64) int64 {
	if payment.RewardPoints <= 0 || payment.Amount <= 0 {
		return 0
	}
	if amount >= payment.Amount {
		return payment.RewardPoints
	}
	return payment.RewardPoints * amount / payment.Amount
}

func hasFailureRecord(timeline []TimelineEntry, reference string) bool {
	for _, entry := range timeline {
		if entry.Type != domain.TimelineTypePaymentFailed {
			continue
		}
		if ref, ok := entry.Metadata["reference"].(string); ok && ref == reference {
			return true
		}
	}
	return false
}
