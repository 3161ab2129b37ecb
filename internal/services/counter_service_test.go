package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shiptrack/api/internal/repositories"
)

// stubCounterRepo keeps per-counter values in memory so period keying and
// concurrent increments behave like the transactional backend.
type stubCounterRepo struct {
	mu     sync.Mutex
	values map[string]int64
	nextFn func(context.Context, string, int64) (int64, error)
}

func newStubCounterRepo() *stubCounterRepo {
	return &stubCounterRepo{values: make(map[string]int64)}
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if step <= 0 {
		step = 1
	}
	s.values[counterID] += step
	return s.values[counterID], nil
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

func newCounterServiceForTest(t *testing.T, repo repositories.CounterRepository, clock func() time.Time) CounterService {
	t.Helper()
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: clock})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	return svc
}

func TestNextInvoiceNumberSequencesWithinMonth(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	svc := newCounterServiceForTest(t, newStubCounterRepo(), func() time.Time { return now })

	first, err := svc.NextInvoiceNumber(ctx, "mer_1")
	if err != nil {
		t.Fatalf("first invoice number: %v", err)
	}
	if first != "INV-202501-0001" {
		t.Fatalf("expected INV-202501-0001, got %q", first)
	}

	second, err := svc.NextInvoiceNumber(ctx, "mer_1")
	if err != nil {
		t.Fatalf("second invoice number: %v", err)
	}
	if second != "INV-202501-0002" {
		t.Fatalf("expected INV-202501-0002, got %q", second)
	}
}

func TestNextInvoiceNumberResetsOnMonthRollover(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)
	svc := newCounterServiceForTest(t, newStubCounterRepo(), func() time.Time { return now })

	if _, err := svc.NextInvoiceNumber(ctx, "mer_1"); err != nil {
		t.Fatalf("january invoice: %v", err)
	}

	now = time.Date(2025, 2, 1, 0, 5, 0, 0, time.UTC)
	rolled, err := svc.NextInvoiceNumber(ctx, "mer_1")
	if err != nil {
		t.Fatalf("february invoice: %v", err)
	}
	if rolled != "INV-202502-0001" {
		t.Fatalf("expected INV-202502-0001, got %q", rolled)
	}
}

func TestNextInvoiceNumberScopesByMerchant(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	svc := newCounterServiceForTest(t, newStubCounterRepo(), func() time.Time { return now })

	if _, err := svc.NextInvoiceNumber(ctx, "mer_1"); err != nil {
		t.Fatalf("merchant one: %v", err)
	}
	other, err := svc.NextInvoiceNumber(ctx, "mer_2")
	if err != nil {
		t.Fatalf("merchant two: %v", err)
	}
	if other != "INV-202501-0001" {
		t.Fatalf("merchants must not share sequences, got %q", other)
	}
}

func TestNextInvoiceNumberWidensPastPadding(t *testing.T) {
	ctx := context.Background()
	repo := newStubCounterRepo()
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 10000, nil
	}
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	svc := newCounterServiceForTest(t, repo, func() time.Time { return now })

	number, err := svc.NextInvoiceNumber(ctx, "mer_1")
	if err != nil {
		t.Fatalf("invoice number: %v", err)
	}
	if number != "INV-202501-10000" {
		t.Fatalf("expected widened number INV-202501-10000, got %q", number)
	}
}

func TestNextInvoiceNumberConcurrentCallsAreDistinct(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	svc := newCounterServiceForTest(t, newStubCounterRepo(), func() time.Time { return now })

	const callers = 8
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			number, err := svc.NextInvoiceNumber(ctx, "mer_1")
			if err == nil {
				results[slot] = number
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, callers)
	for i, number := range results {
		if number == "" {
			t.Fatalf("caller %d got no number", i)
		}
		if seen[number] {
			t.Fatalf("duplicate invoice number %q", number)
		}
		seen[number] = true
	}
}

func TestNextInvoiceNumberSurfacesContention(t *testing.T) {
	ctx := context.Background()
	repo := newStubCounterRepo()
	repo.nextFn = func(ctx context.Context, counterID string, step int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorContention, fmt.Sprintf("counter %s contended", counterID), nil)
	}
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	svc := newCounterServiceForTest(t, repo, func() time.Time { return now })

	if _, err := svc.NextInvoiceNumber(ctx, "mer_1"); !errors.Is(err, ErrCounterContended) {
		t.Fatalf("expected ErrCounterContended, got %v", err)
	}
}

func TestNextValidatesInput(t *testing.T) {
	ctx := context.Background()
	svc := newCounterServiceForTest(t, newStubCounterRepo(), nil)

	if _, err := svc.Next(ctx, "", "name", CounterGenerationOptions{}); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected ErrCounterInvalidInput for empty scope, got %v", err)
	}
	if _, err := svc.Next(ctx, "scope", "", CounterGenerationOptions{}); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected ErrCounterInvalidInput for empty name, got %v", err)
	}
	if _, err := svc.NextInvoiceNumber(ctx, "  "); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected ErrCounterInvalidInput for empty merchant, got %v", err)
	}
}
