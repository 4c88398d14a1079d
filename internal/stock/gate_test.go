package stock

import (
	"context"
	"errors"
	"testing"
	"time"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
)

const testBranch = "main-branch"

func TestAggregateFoldsDuplicateKeys(t *testing.T) {
	requests := Aggregate([]domain.LineItem{
		{CatalogID: "item-burger", Quantity: 2},
		{CatalogID: "item-latte", VariantID: "var-latte-s", Quantity: 1},
		{CatalogID: "item-burger", Quantity: 3},
	})

	if len(requests) != 2 {
		t.Fatalf("expected 2 aggregated requests, got %d", len(requests))
	}
	if requests[0].Key != "item-burger" || requests[0].Quantity != 5 {
		t.Fatalf("expected item-burger x5 first, got %+v", requests[0])
	}
	if requests[1].Key != "var-latte-s" || requests[1].Quantity != 1 {
		t.Fatalf("expected var-latte-s x1 second, got %+v", requests[1])
	}
}

func TestCheckReportsShortageAgainstCumulativeQuantity(t *testing.T) {
	provider := NewMemoryProvider()
	provider.SetLevel(testBranch, "item-burger", 4)
	gate := NewGate(provider, time.Second, false)

	result, err := gate.Check(context.Background(), testBranch, []Request{{Key: "item-burger", Quantity: 5}})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected shortage for 5 of 4")
	}
	if len(result.Shortages) != 1 || result.Shortages[0].MaxAvailable != 4 {
		t.Fatalf("expected shortage with max available 4, got %+v", result.Shortages)
	}
}

func TestCheckFailsOpenForUnknownKeys(t *testing.T) {
	gate := NewGate(NewMemoryProvider(), time.Second, false)

	result, err := gate.Check(context.Background(), testBranch, []Request{{Key: "item-mystery", Quantity: 3}})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("fail-open gate must allow unknown keys, got %+v", result)
	}
}

func TestCheckFailsClosedWhenConfigured(t *testing.T) {
	gate := NewGate(NewMemoryProvider(), time.Second, true)

	result, err := gate.Check(context.Background(), testBranch, []Request{{Key: "item-mystery", Quantity: 1}})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if result.Allowed {
		t.Fatalf("fail-closed gate must block unknown keys")
	}
}

func TestCommitIsAllOrNone(t *testing.T) {
	provider := NewMemoryProvider()
	provider.SetLevel(testBranch, "item-burger", 10)
	provider.SetLevel(testBranch, "item-fries", 1)
	gate := NewGate(provider, time.Second, false)
	ctx := context.Background()

	err := gate.Commit(ctx, testBranch, []Request{
		{Key: "item-burger", Quantity: 2},
		{Key: "item-fries", Quantity: 5},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	// The burger deduction must not have happened.
	snapshot, err := provider.Availability(ctx, testBranch, []string{"item-burger"})
	if err != nil {
		t.Fatalf("availability failed: %v", err)
	}
	if snapshot["item-burger"] != 10 {
		t.Fatalf("expected burger level untouched at 10, got %d", snapshot["item-burger"])
	}
}

func TestCommitThenReleaseRestoresLevels(t *testing.T) {
	provider := NewMemoryProvider()
	provider.SetLevel(testBranch, "item-fries", 6)
	gate := NewGate(provider, time.Second, false)
	ctx := context.Background()

	requests := []Request{{Key: "item-fries", Quantity: 4}}
	if err := gate.Commit(ctx, testBranch, requests); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := gate.Release(ctx, testBranch, requests); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	snapshot, _ := provider.Availability(ctx, testBranch, []string{"item-fries"})
	if snapshot["item-fries"] != 6 {
		t.Fatalf("expected fries back at 6, got %d", snapshot["item-fries"])
	}
}

type timeoutProvider struct{}

func (timeoutProvider) Availability(ctx context.Context, _ string, _ []string) (map[string]int, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (timeoutProvider) Commit(ctx context.Context, _ string, _ []Request) error {
	<-ctx.Done()
	return ctx.Err()
}

func (timeoutProvider) Release(_ context.Context, _ string, _ []Request) error {
	return nil
}

func TestSlowProviderSurfacesUpstreamTimeout(t *testing.T) {
	gate := NewGate(timeoutProvider{}, 10*time.Millisecond, false)

	_, err := gate.Check(context.Background(), testBranch, []Request{{Key: "item-burger", Quantity: 1}})
	if !errors.Is(err, store.ErrUpstreamTimeout) {
		t.Fatalf("expected upstream timeout from check, got %v", err)
	}

	err = gate.Commit(context.Background(), testBranch, []Request{{Key: "item-burger", Quantity: 1}})
	if !errors.Is(err, store.ErrUpstreamTimeout) {
		t.Fatalf("expected upstream timeout from commit, got %v", err)
	}
}
