package catalog

import (
	"context"
	"errors"
	"testing"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
)

func newTestResolver() *Resolver {
	return NewResolver(NewSeededProvider())
}

func TestResolveSimpleLineWithVariantAndAdditions(t *testing.T) {
	resolver := newTestResolver()

	lines, err := resolver.ResolveLines(context.Background(), []domain.LineItemRequest{{
		CatalogID: "item-latte",
		VariantID: "var-latte-l",
		Quantity:  2,
		AddedModifiers: []domain.ModifierSelection{
			{ID: "mod-shot", Quantity: 1},
			{ID: "mod-syrup", Quantity: 2},
		},
	}})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	line := lines[0]
	if line.UnitPriceCents != 5500 {
		t.Fatalf("expected unit price 5500 (base 4500 + large 1000), got %d", line.UnitPriceCents)
	}
	// 5500*2 + 800 + 500*2 = 12800
	if line.LineTotalCents != 12800 {
		t.Fatalf("expected line total 12800, got %d", line.LineTotalCents)
	}
	if line.StockKey() != "var-latte-l" {
		t.Fatalf("expected stock key to be the variant, got %s", line.StockKey())
	}
}

func TestResolveRejectsMissingRequiredVariant(t *testing.T) {
	resolver := newTestResolver()

	_, err := resolver.ResolveLines(context.Background(), []domain.LineItemRequest{{
		CatalogID: "item-latte",
		Quantity:  1,
	}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for missing size, got %v", err)
	}
}

func TestResolveRejectsOutOfStockVariant(t *testing.T) {
	resolver := newTestResolver()

	_, err := resolver.ResolveLines(context.Background(), []domain.LineItemRequest{{
		CatalogID: "item-tea",
		VariantID: "var-tea-l",
		Quantity:  1,
	}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for out-of-stock variant, got %v", err)
	}
}

func TestResolveRejectsUnknownItemAndBadQuantity(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	_, err := resolver.ResolveLines(ctx, []domain.LineItemRequest{{CatalogID: "item-ghost", Quantity: 1}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown item, got %v", err)
	}

	_, err = resolver.ResolveLines(ctx, []domain.LineItemRequest{{CatalogID: "item-burger", Quantity: 0}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
}

func TestResolveModifierRules(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	// Removing something that is not removable.
	_, err := resolver.ResolveLines(ctx, []domain.LineItemRequest{{
		CatalogID:          "item-burger",
		Quantity:           1,
		RemovedModifierIDs: []string{"mod-cheese"},
	}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for non-removable modifier, got %v", err)
	}

	// Adding something that is not addable.
	_, err = resolver.ResolveLines(ctx, []domain.LineItemRequest{{
		CatalogID:      "item-burger",
		Quantity:       1,
		AddedModifiers: []domain.ModifierSelection{{ID: "mod-onion", Quantity: 1}},
	}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for non-addable modifier, got %v", err)
	}

	// A valid removal is free and a valid addition is priced.
	lines, err := resolver.ResolveLines(ctx, []domain.LineItemRequest{{
		CatalogID:          "item-burger",
		Quantity:           1,
		RemovedModifierIDs: []string{"mod-onion"},
		AddedModifiers:     []domain.ModifierSelection{{ID: "mod-bacon", Quantity: 1}},
	}})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if lines[0].LineTotalCents != 7000 {
		t.Fatalf("expected 5000 + 2000 bacon = 7000, got %d", lines[0].LineTotalCents)
	}
	if len(lines[0].Modifiers) != 2 {
		t.Fatalf("expected 2 applied modifiers, got %d", len(lines[0].Modifiers))
	}
}

func TestResolveBundleIsFlatPriced(t *testing.T) {
	resolver := newTestResolver()

	lines, err := resolver.ResolveLines(context.Background(), []domain.LineItemRequest{{
		CatalogID: "item-combo",
		Quantity:  1,
		Parts: []domain.PartSelection{{
			ItemID:             "item-burger",
			RemovedModifierIDs: []string{"mod-pickle"},
			AddedModifiers:     []domain.ModifierSelection{{ID: "mod-cheese", Quantity: 1}},
		}},
	}})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	line := lines[0]
	if line.LineTotalCents != 8500 {
		t.Fatalf("bundle must keep its flat price 8500 regardless of part customizations, got %d", line.LineTotalCents)
	}
	if len(line.Parts) != 2 {
		t.Fatalf("expected 2 bundle parts, got %d", len(line.Parts))
	}
	if len(line.Parts[0].Modifiers) != 2 {
		t.Fatalf("expected part customizations to be recorded, got %d", len(line.Parts[0].Modifiers))
	}
}

func TestResolveBundlePartRules(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	// Customizing an item that is not in the bundle.
	_, err := resolver.ResolveLines(ctx, []domain.LineItemRequest{{
		CatalogID: "item-combo",
		Quantity:  1,
		Parts:     []domain.PartSelection{{ItemID: "item-latte"}},
	}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for foreign bundle part, got %v", err)
	}

	// Part selections on a plain product.
	_, err = resolver.ResolveLines(ctx, []domain.LineItemRequest{{
		CatalogID: "item-burger",
		Quantity:  1,
		Parts:     []domain.PartSelection{{ItemID: "item-fries"}},
	}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for parts on a non-bundle, got %v", err)
	}
}
