package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/shiptrack/api/internal/domain"
	pfirestore "github.com/shiptrack/api/internal/platform/firestore"
)

const customerCollection = "customers"

// CustomerRepository persists merchant-scoped customer profiles in Firestore.
type CustomerRepository struct {
	base     *pfirestore.BaseRepository[customerDocument]
	provider *pfirestore.Provider
}

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[customerDocument](provider, customerCollection, nil, nil)
	return &CustomerRepository{base: base, provider: provider}, nil
}

// FindByID loads a customer profile, scoped to the merchant.
func (r *CustomerRepository) FindByID(ctx context.Context, merchantID, customerID string) (domain.Customer, error) {
	if r == nil || r.base == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	if strings.TrimSpace(customerID) == "" {
		return domain.Customer{}, errors.New("customer repository: customer id is required")
	}

	doc, err := r.base.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	if merchantID = strings.TrimSpace(merchantID); merchantID != "" && doc.Data.MerchantID != merchantID {
		return domain.Customer{}, pfirestore.WrapError("customers.get", status.Error(codes.NotFound, "customer not found for merchant"))
	}
	return toDomainCustomer(doc.ID, doc.Data, doc.UpdateTime), nil
}

// Upsert writes the customer profile. The reward balance is owned by the
// reward ledger and is preserved when the document already exists.
func (r *CustomerRepository) Upsert(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if r == nil || r.base == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	if strings.TrimSpace(customer.ID) == "" {
		return domain.Customer{}, errors.New("customer repository: customer id is required")
	}
	if strings.TrimSpace(customer.MerchantID) == "" {
		return domain.Customer{}, errors.New("customer repository: merchant id is required")
	}

	now := time.Now().UTC()
	existing, err := r.base.Get(ctx, customer.ID)
	switch {
	case err == nil:
		customer.RewardBalance = existing.Data.RewardBalance
		customer.CreatedAt = existing.Data.CreatedAt
	case isNotFoundError(err):
		customer.CreatedAt = now
	default:
		return domain.Customer{}, err
	}

	doc := fromDomainCustomer(customer, now)
	if _, err := r.base.Set(ctx, customer.ID, doc); err != nil {
		return domain.Customer{}, err
	}

	saved, err := r.base.Get(ctx, customer.ID)
	if err != nil {
		return domain.Customer{}, err
	}
	return toDomainCustomer(saved.ID, saved.Data, saved.UpdateTime), nil
}

type customerDocument struct {
	MerchantID        string    `firestore:"merchantId"`
	DisplayName       string    `firestore:"displayName"`
	Email             string    `firestore:"email,omitempty"`
	Phone             string    `firestore:"phone,omitempty"`
	PreferredLanguage string    `firestore:"preferredLanguage,omitempty"`
	RewardBalance     int64     `firestore:"rewardBalance"`
	CreatedAt         time.Time `firestore:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func fromDomainCustomer(customer domain.Customer, now time.Time) customerDocument {
	doc := customerDocument{
		MerchantID:        strings.TrimSpace(customer.MerchantID),
		DisplayName:       strings.TrimSpace(customer.DisplayName),
		Email:             strings.ToLower(strings.TrimSpace(customer.Email)),
		Phone:             strings.TrimSpace(customer.Phone),
		PreferredLanguage: strings.TrimSpace(customer.PreferredLanguage),
		RewardBalance:     customer.RewardBalance,
		CreatedAt:         customer.CreatedAt,
		UpdatedAt:         now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	return doc
}

func toDomainCustomer(id string, doc customerDocument, updateTime time.Time) domain.Customer {
	return domain.Customer{
		ID:                id,
		MerchantID:        doc.MerchantID,
		DisplayName:       doc.DisplayName,
		Email:             doc.Email,
		Phone:             doc.Phone,
		PreferredLanguage: doc.PreferredLanguage,
		RewardBalance:     doc.RewardBalance,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
		Revision:          updateTime,
	}
}

func isNotFoundError(err error) bool {
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return status.Code(err) == codes.NotFound
}
