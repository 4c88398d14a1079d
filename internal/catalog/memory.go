package catalog

import (
	"context"
	"sync"

	"tillpoint/backend/internal/domain"
)

// MemoryProvider is a seeded in-process catalog used for dev mode and tests.
type MemoryProvider struct {
	mu    sync.RWMutex
	items map[string]domain.CatalogItem
}

func NewMemoryProvider(items []domain.CatalogItem) *MemoryProvider {
	byID := make(map[string]domain.CatalogItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	return &MemoryProvider{items: byID}
}

// NewSeededProvider returns a small cafe menu: drinks with size variants and
// modifiers, plus one flat-priced combo bundle.
func NewSeededProvider() *MemoryProvider {
	return NewMemoryProvider([]domain.CatalogItem{
		{
			ID: "item-latte", Name: "Latte", Kind: domain.CatalogKindProduct,
			BasePriceCents: 4500, Active: true,
			VariantGroups: []domain.VariantGroup{{
				ID: "vg-size", Name: "Size", Required: true,
				Options: []domain.VariantOption{
					{ID: "var-latte-s", Name: "Small", PriceDeltaCents: 0, InStock: true},
					{ID: "var-latte-l", Name: "Large", PriceDeltaCents: 1000, InStock: true},
				},
			}},
			Modifiers: []domain.ModifierDef{
				{ID: "mod-milk", Name: "Milk", Removable: true},
				{ID: "mod-shot", Name: "Extra Shot", Addable: true, PriceCents: 800},
				{ID: "mod-syrup", Name: "Vanilla Syrup", Addable: true, PriceCents: 500},
			},
		},
		{
			ID: "item-burger", Name: "Cheeseburger", Kind: domain.CatalogKindProduct,
			BasePriceCents: 5000, Active: true,
			Modifiers: []domain.ModifierDef{
				{ID: "mod-onion", Name: "Onion", Removable: true},
				{ID: "mod-pickle", Name: "Pickles", Removable: true},
				{ID: "mod-cheese", Name: "Extra Cheese", Addable: true, PriceCents: 1500},
				{ID: "mod-bacon", Name: "Bacon", Addable: true, PriceCents: 2000},
			},
		},
		{
			ID: "item-fries", Name: "Fries", Kind: domain.CatalogKindProduct,
			BasePriceCents: 2500, Active: true,
			Modifiers: []domain.ModifierDef{
				{ID: "mod-salt", Name: "Salt", Removable: true},
				{ID: "mod-chili", Name: "Chili Dip", Addable: true, PriceCents: 700},
			},
		},
		{
			ID: "item-combo", Name: "Burger Combo", Kind: domain.CatalogKindBundle,
			BasePriceCents: 8500, Active: true,
			Components: []domain.BundlePart{
				{ItemID: "item-burger"},
				{ItemID: "item-fries"},
			},
		},
		{
			ID: "item-tea", Name: "Iced Tea", Kind: domain.CatalogKindProduct,
			BasePriceCents: 3000, Active: true,
			VariantGroups: []domain.VariantGroup{{
				ID: "vg-tea-size", Name: "Size", Required: false,
				Options: []domain.VariantOption{
					{ID: "var-tea-l", Name: "Large", PriceDeltaCents: 500, InStock: false},
				},
			}},
		},
	})
}

func (p *MemoryProvider) GetItems(_ context.Context, ids []string) (map[string]domain.CatalogItem, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]domain.CatalogItem, len(ids))
	for _, id := range ids {
		if item, ok := p.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

// Upsert replaces an item definition; tests use it to flip stock flags.
func (p *MemoryProvider) Upsert(item domain.CatalogItem) {
	p.mu.Lock()
	p.items[item.ID] = item
	p.mu.Unlock()
}
