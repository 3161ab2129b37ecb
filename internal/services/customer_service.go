package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"

	domain "github.com/shiptrack/api/internal/domain"
	"github.com/shiptrack/api/internal/repositories"
)

var (
	// ErrCustomerInvalidInput signals the caller provided invalid customer data.
	ErrCustomerInvalidInput = errors.New("customer: invalid input")
	// ErrCustomerNotFound indicates the customer could not be located.
	ErrCustomerNotFound = errors.New("customer: not found")
	// ErrCustomerConflict indicates a concurrent write beat this one.
	ErrCustomerConflict = errors.New("customer: conflict")
)

// CustomerServiceDeps bundles collaborators required to construct the customer service.
type CustomerServiceDeps struct {
	Customers repositories.CustomerRepository
	Rewards   repositories.RewardRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type customerService struct {
	customers repositories.CustomerRepository
	rewards   repositories.RewardRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCustomerService wires dependencies into a concrete CustomerService implementation.
func NewCustomerService(deps CustomerServiceDeps) (CustomerService, error) {
	if deps.Customers == nil {
		return nil, errors.New("customer service: customer repository is required")
	}
	if deps.Rewards == nil {
		return nil, errors.New("customer service: reward repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &customerService{
		customers: deps.Customers,
		rewards:   deps.Rewards,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *customerService) GetCustomer(ctx context.Context, merchantID, customerID string) (Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Customer{}, fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}

	customer, err := s.customers.FindByID(ctx, merchantID, customerID)
	if err != nil {
		return Customer{}, s.mapRepositoryError(err)
	}
	return customer, nil
}

// UpsertCustomer creates or updates the profile fields. The reward balance is
// owned by the ledger and never written through this path.
func (s *customerService) UpsertCustomer(ctx context.Context, cmd UpsertCustomerCommand) (Customer, error) {
	merchantID := strings.TrimSpace(cmd.MerchantID)
	customerID := strings.TrimSpace(cmd.CustomerID)
	if merchantID == "" {
		return Customer{}, fmt.Errorf("%w: merchant id is required", ErrCustomerInvalidInput)
	}
	if customerID == "" {
		return Customer{}, fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}

	name := strings.TrimSpace(cmd.DisplayName)
	if name != "" {
		if length := utf8.RuneCountInString(name); length < 2 || length > 100 {
			return Customer{}, fmt.Errorf("%w: display name must be 2-100 characters", ErrCustomerInvalidInput)
		}
	}

	email := strings.TrimSpace(cmd.Email)
	if email != "" && !strings.Contains(email, "@") {
		return Customer{}, fmt.Errorf("%w: email %q is not valid", ErrCustomerInvalidInput, email)
	}

	locale, err := canonicaliseLanguageTag(cmd.PreferredLanguage)
	if err != nil {
		return Customer{}, fmt.Errorf("%w: %v", ErrCustomerInvalidInput, err)
	}

	now := s.now()
	saved, err := s.customers.Upsert(ctx, domain.Customer{
		ID:                customerID,
		MerchantID:        merchantID,
		DisplayName:       name,
		Email:             email,
		Phone:             strings.TrimSpace(cmd.Phone),
		PreferredLanguage: locale,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return Customer{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *customerService) ListRewardEntries(ctx context.Context, cmd ListRewardEntriesCommand) (domain.CursorPage[RewardEntry], error) {
	if strings.TrimSpace(cmd.CustomerID) == "" {
		return domain.CursorPage[RewardEntry]{}, fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}

	page, err := s.rewards.List(ctx, cmd.MerchantID, cmd.CustomerID, cmd.Pagination)
	if err != nil {
		return domain.CursorPage[RewardEntry]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// AccrueReward appends an accrual keyed by payment reference. Replays return
// the stored entry with Applied=false and leave the balance untouched.
func (s *customerService) AccrueReward(ctx context.Context, cmd RewardMovementCommand) (RewardMovementResult, error) {
	return s.appendMovement(ctx, cmd, domain.RewardKindAccrual)
}

// ReverseReward appends a reversal for the referenced payment's points. The
// repository clamps the delta so the balance never drops below zero.
func (s *customerService) ReverseReward(ctx context.Context, cmd RewardMovementCommand) (RewardMovementResult, error) {
	return s.appendMovement(ctx, cmd, domain.RewardKindReversal)
}

func (s *customerService) appendMovement(ctx context.Context, cmd RewardMovementCommand, kind string) (RewardMovementResult, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	paymentRef := strings.TrimSpace(cmd.PaymentReference)
	if customerID == "" {
		return RewardMovementResult{}, fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}
	if paymentRef == "" {
		return RewardMovementResult{}, fmt.Errorf("%w: payment reference is required", ErrCustomerInvalidInput)
	}
	if cmd.Points <= 0 {
		return RewardMovementResult{}, fmt.Errorf("%w: points must be positive", ErrCustomerInvalidInput)
	}

	occurredAt := cmd.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	result, err := s.rewards.Append(ctx, cmd.MerchantID, domain.RewardEntry{
		CustomerID:       customerID,
		OrderID:          strings.TrimSpace(cmd.OrderID),
		PaymentReference: paymentRef,
		Kind:             kind,
		Points:           cmd.Points,
		OccurredAt:       occurredAt.UTC(),
	})
	if err != nil {
		return RewardMovementResult{}, s.mapRepositoryError(err)
	}

	if !result.Applied {
		s.logger(ctx, "customer.reward.replayed", map[string]any{
			"customer":  customerID,
			"reference": paymentRef,
			"kind":      kind,
		})
	}

	return RewardMovementResult{
		Entry:   result.Entry,
		Balance: result.Balance,
		Applied: result.Applied,
	}, nil
}

func (s *customerService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCustomerNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCustomerConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("customer: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *customerService) now() time.Time {
	return s.clock()
}

func canonicaliseLanguageTag(tag string) (string, error) {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return "", nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("language tag %q: %w", tag, err)
	}
	return parsed.String(), nil
}
