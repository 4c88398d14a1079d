package catalog

import (
	"context"
	"fmt"
	"strings"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/xid"
)

// Provider is the external catalog service. Item definitions are read-only
// to this engine.
type Provider interface {
	GetItems(ctx context.Context, ids []string) (map[string]domain.CatalogItem, error)
}

// Resolver turns client cart lines into priced, validated line items.
// Prices come exclusively from catalog data; client price hints are ignored.
type Resolver struct {
	provider Provider
}

func NewResolver(provider Provider) *Resolver {
	return &Resolver{provider: provider}
}

// ResolveLines resolves every request in one pass, fetching the referenced
// catalog items (plus bundle constituents) in a single provider call.
func (r *Resolver) ResolveLines(ctx context.Context, requests []domain.LineItemRequest) ([]domain.LineItem, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: order requires at least one line item", store.ErrValidation)
	}

	idSet := make(map[string]struct{}, len(requests))
	for _, req := range requests {
		id := strings.TrimSpace(req.CatalogID)
		if id == "" {
			return nil, fmt.Errorf("%w: line item missing catalog reference", store.ErrValidation)
		}
		idSet[id] = struct{}{}
	}
	items, err := r.fetch(ctx, idSet)
	if err != nil {
		return nil, err
	}

	// Second fetch for bundle constituents not already loaded.
	missing := make(map[string]struct{})
	for _, item := range items {
		for _, part := range item.Components {
			if _, ok := items[part.ItemID]; !ok {
				missing[part.ItemID] = struct{}{}
			}
		}
	}
	if len(missing) > 0 {
		parts, err := r.fetch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, item := range parts {
			items[id] = item
		}
	}

	lines := make([]domain.LineItem, 0, len(requests))
	for _, req := range requests {
		line, err := resolveLine(items, req)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (r *Resolver) fetch(ctx context.Context, idSet map[string]struct{}) (map[string]domain.CatalogItem, error) {
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	items, err := r.provider.GetItems(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: catalog service: %v", store.ErrUpstreamTimeout, err)
		}
		return nil, err
	}
	return items, nil
}

// resolveLine is pure: price and validity are a function of catalog data and
// the selection only.
func resolveLine(items map[string]domain.CatalogItem, req domain.LineItemRequest) (domain.LineItem, error) {
	item, ok := items[strings.TrimSpace(req.CatalogID)]
	if !ok || !item.Active {
		return domain.LineItem{}, fmt.Errorf("%w: unknown or inactive catalog item %q", store.ErrValidation, req.CatalogID)
	}
	if req.Quantity < 1 {
		return domain.LineItem{}, fmt.Errorf("%w: item %q quantity must be at least 1", store.ErrValidation, item.ID)
	}

	line := domain.LineItem{
		ID:        xid.New("li"),
		CatalogID: item.ID,
		Name:      item.Name,
		Quantity:  req.Quantity,
	}

	unitPrice := item.BasePriceCents
	variantID := strings.TrimSpace(req.VariantID)
	selectedGroup := ""
	if variantID != "" {
		group, option, err := findVariant(item, variantID)
		if err != nil {
			return domain.LineItem{}, err
		}
		if !option.InStock {
			return domain.LineItem{}, fmt.Errorf("%w: variant %q of %q is out of stock", store.ErrValidation, option.Name, item.Name)
		}
		unitPrice += option.PriceDeltaCents
		line.VariantID = option.ID
		line.VariantName = option.Name
		selectedGroup = group.ID
	}
	for _, group := range item.VariantGroups {
		if group.Required && group.ID != selectedGroup {
			return domain.LineItem{}, fmt.Errorf("%w: %q requires a %s selection", store.ErrValidation, item.Name, group.Name)
		}
	}
	line.UnitPriceCents = unitPrice

	modifiers, additionsTotal, err := applyModifiers(item, req.RemovedModifierIDs, req.AddedModifiers)
	if err != nil {
		return domain.LineItem{}, err
	}
	line.Modifiers = modifiers

	if item.Kind == domain.CatalogKindBundle {
		parts, err := resolveBundleParts(items, item, req.Parts)
		if err != nil {
			return domain.LineItem{}, err
		}
		line.Parts = parts
		// Bundles are flat-priced: constituent modifier selections never
		// change the line total.
		line.LineTotalCents = unitPrice * int64(req.Quantity)
		return line, nil
	}

	if len(req.Parts) > 0 {
		return domain.LineItem{}, fmt.Errorf("%w: %q is not a bundle", store.ErrValidation, item.Name)
	}
	line.LineTotalCents = unitPrice*int64(req.Quantity) + additionsTotal
	return line, nil
}

func findVariant(item domain.CatalogItem, variantID string) (domain.VariantGroup, domain.VariantOption, error) {
	for _, group := range item.VariantGroups {
		for _, option := range group.Options {
			if option.ID == variantID {
				return group, option, nil
			}
		}
	}
	return domain.VariantGroup{}, domain.VariantOption{}, fmt.Errorf("%w: variant %q not offered by %q", store.ErrValidation, variantID, item.Name)
}

func applyModifiers(item domain.CatalogItem, removed []string, added []domain.ModifierSelection) ([]domain.AppliedModifier, int64, error) {
	defs := make(map[string]domain.ModifierDef, len(item.Modifiers))
	for _, def := range item.Modifiers {
		defs[def.ID] = def
	}

	applied := make([]domain.AppliedModifier, 0, len(removed)+len(added))
	seen := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		id = strings.TrimSpace(id)
		def, ok := defs[id]
		if !ok || !def.Removable {
			return nil, 0, fmt.Errorf("%w: %q is not a removable ingredient of %q", store.ErrValidation, id, item.Name)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		applied = append(applied, domain.AppliedModifier{
			ID:       def.ID,
			Name:     def.Name,
			Kind:     domain.ModifierKindRemoval,
			Quantity: 1,
		})
	}

	additionsTotal := int64(0)
	for _, sel := range added {
		def, ok := defs[strings.TrimSpace(sel.ID)]
		if !ok || !def.Addable {
			return nil, 0, fmt.Errorf("%w: %q is not an addable extra of %q", store.ErrValidation, sel.ID, item.Name)
		}
		if sel.Quantity < 1 {
			return nil, 0, fmt.Errorf("%w: addition %q quantity must be at least 1", store.ErrValidation, def.Name)
		}
		applied = append(applied, domain.AppliedModifier{
			ID:         def.ID,
			Name:       def.Name,
			Kind:       domain.ModifierKindAddition,
			Quantity:   sel.Quantity,
			PriceCents: def.PriceCents,
		})
		additionsTotal += def.PriceCents * int64(sel.Quantity)
	}
	return applied, additionsTotal, nil
}

func resolveBundleParts(items map[string]domain.CatalogItem, bundle domain.CatalogItem, selections []domain.PartSelection) ([]domain.LinePart, error) {
	selByItem := make(map[string]domain.PartSelection, len(selections))
	for _, sel := range selections {
		if _, ok := selByItem[sel.ItemID]; ok {
			return nil, fmt.Errorf("%w: duplicate customization for bundle part %q", store.ErrValidation, sel.ItemID)
		}
		selByItem[sel.ItemID] = sel
	}

	parts := make([]domain.LinePart, 0, len(bundle.Components))
	for _, component := range bundle.Components {
		part, ok := items[component.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: bundle %q references unknown item %q", store.ErrValidation, bundle.Name, component.ItemID)
		}
		sel := selByItem[component.ItemID]
		modifiers, _, err := applyModifiers(part, sel.RemovedModifierIDs, sel.AddedModifiers)
		if err != nil {
			return nil, err
		}
		delete(selByItem, component.ItemID)
		parts = append(parts, domain.LinePart{
			ItemID:    part.ID,
			Name:      part.Name,
			Modifiers: modifiers,
		})
	}
	for itemID := range selByItem {
		return nil, fmt.Errorf("%w: %q is not part of bundle %q", store.ErrValidation, itemID, bundle.Name)
	}
	return parts, nil
}
