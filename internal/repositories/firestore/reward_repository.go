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

const rewardCollection = "rewardEntries"

// RewardRepository appends reward ledger entries and keeps the customer
// balance in step inside a single Firestore transaction. Entry document IDs
// are derived from (customer, payment reference, kind) so gateway replays
// address the same document and become no-ops.
type RewardRepository struct {
	entries   *pfirestore.BaseRepository[rewardEntryDocument]
	customers *pfirestore.BaseRepository[customerDocument]
	provider  *pfirestore.Provider
}

// NewRewardRepository constructs a Firestore-backed reward ledger.
func NewRewardRepository(provider *pfirestore.Provider) (*RewardRepository, error) {
	if provider == nil {
		return nil, errors.New("reward repository requires firestore provider")
	}
	return &RewardRepository{
		entries:   pfirestore.NewBaseRepository[rewardEntryDocument](provider, rewardCollection, nil, nil),
		customers: pfirestore.NewBaseRepository[customerDocument](provider, customerCollection, nil, nil),
		provider:  provider,
	}, nil
}

// Append writes the ledger entry and applies its delta to the customer
// balance. Replays of an already-applied entry return the stored record with
// Applied=false. Reversals are clamped so the balance never goes negative.
func (r *RewardRepository) Append(ctx context.Context, merchantID string, entry domain.RewardEntry) (repositories.RewardAppendResult, error) {
	if r == nil || r.provider == nil {
		return repositories.RewardAppendResult{}, errors.New("reward repository not initialised")
	}
	if strings.TrimSpace(entry.CustomerID) == "" {
		return repositories.RewardAppendResult{}, errors.New("reward repository: customer id is required")
	}
	if strings.TrimSpace(entry.PaymentReference) == "" {
		return repositories.RewardAppendResult{}, errors.New("reward repository: payment reference is required")
	}
	if entry.Kind != domain.RewardKindAccrual && entry.Kind != domain.RewardKindReversal {
		return repositories.RewardAppendResult{}, fmt.Errorf("reward repository: unknown entry kind %q", entry.Kind)
	}

	entryID := rewardEntryID(entry.CustomerID, entry.PaymentReference, entry.Kind)
	var result repositories.RewardAppendResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		entryRef, err := r.entries.DocumentRef(ctx, entryID)
		if err != nil {
			return err
		}
		customerRef, err := r.customers.DocumentRef(ctx, entry.CustomerID)
		if err != nil {
			return err
		}

		entrySnap, err := tx.Get(entryRef)
		if err == nil {
			var stored rewardEntryDocument
			if err := entrySnap.DataTo(&stored); err != nil {
				return fmt.Errorf("firestore rewards decode %s: %w", entryID, err)
			}
			result = repositories.RewardAppendResult{
				Entry:   toDomainRewardEntry(entryID, stored),
				Balance: stored.BalanceAfter,
				Applied: false,
			}
			return nil
		}
		if status.Code(err) != codes.NotFound {
			return err
		}

		customerSnap, err := tx.Get(customerRef)
		if err != nil {
			return err
		}
		var customer customerDocument
		if err := customerSnap.DataTo(&customer); err != nil {
			return fmt.Errorf("firestore customers decode %s: %w", entry.CustomerID, err)
		}
		if merchantID = strings.TrimSpace(merchantID); merchantID != "" && customer.MerchantID != merchantID {
			return status.Error(codes.NotFound, "customer not found for merchant")
		}

		delta := entry.Points
		if entry.Kind == domain.RewardKindReversal {
			if delta > 0 {
				delta = -delta
			}
			// Never drive the balance below zero.
			if customer.RewardBalance+delta < 0 {
				delta = -customer.RewardBalance
			}
		}
		balance := customer.RewardBalance + delta

		doc := rewardEntryDocument{
			MerchantID:       customer.MerchantID,
			CustomerID:       entry.CustomerID,
			OrderID:          entry.OrderID,
			PaymentReference: entry.PaymentReference,
			Kind:             entry.Kind,
			Points:           delta,
			BalanceAfter:     balance,
			OccurredAt:       entry.OccurredAt,
		}
		if doc.OccurredAt.IsZero() {
			doc.OccurredAt = time.Now().UTC()
		}

		if err := tx.Create(entryRef, doc); err != nil {
			return err
		}
		if err := tx.Update(customerRef, []firestore.Update{
			{Path: "rewardBalance", Value: balance},
			{Path: "updatedAt", Value: doc.OccurredAt},
		}); err != nil {
			return err
		}

		result = repositories.RewardAppendResult{
			Entry:   toDomainRewardEntry(entryID, doc),
			Balance: balance,
			Applied: true,
		}
		return nil
	})
	if err != nil {
		return repositories.RewardAppendResult{}, err
	}
	return result, nil
}

// List returns ledger entries for a customer ordered by most recent movement.
func (r *RewardRepository) List(ctx context.Context, merchantID, customerID string, pager domain.Pagination) (domain.CursorPage[domain.RewardEntry], error) {
	if r == nil || r.entries == nil {
		return domain.CursorPage[domain.RewardEntry]{}, errors.New("reward repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CursorPage[domain.RewardEntry]{}, errors.New("reward repository: customer id is required")
	}
	merchantID = strings.TrimSpace(merchantID)

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeRewardListToken(token)
		if err != nil {
			return domain.CursorPage[domain.RewardEntry]{}, fmt.Errorf("reward repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("customerId", "==", customerID)
		if merchantID != "" {
			q = q.Where("merchantId", "==", merchantID)
		}
		q = q.OrderBy("occurredAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.RewardEntry]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		nextToken = encodeRewardListToken(last.Data.OccurredAt, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.RewardEntry, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, toDomainRewardEntry(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.RewardEntry]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type rewardEntryDocument struct {
	MerchantID       string    `firestore:"merchantId"`
	CustomerID       string    `firestore:"customerId"`
	OrderID          string    `firestore:"orderId,omitempty"`
	PaymentReference string    `firestore:"paymentReference"`
	Kind             string    `firestore:"kind"`
	Points           int64     `firestore:"points"`
	BalanceAfter     int64     `firestore:"balanceAfter"`
	OccurredAt       time.Time `firestore:"occurredAt"`
}

func toDomainRewardEntry(id string, doc rewardEntryDocument) domain.RewardEntry {
	return domain.RewardEntry{
		ID:               id,
		CustomerID:       doc.CustomerID,
		OrderID:          doc.OrderID,
		PaymentReference: doc.PaymentReference,
		Kind:             doc.Kind,
		Points:           doc.Points,
		OccurredAt:       doc.OccurredAt,
	}
}

func rewardEntryID(customerID, paymentReference, kind string) string {
	return fmt.Sprintf("%s_%s_%s", strings.TrimSpace(customerID), strings.TrimSpace(paymentReference), kind)
}

func encodeRewardListToken(occurredAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{occurredAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeRewardListToken(token string) (time.Time, string, error) {
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
