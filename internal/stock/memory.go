package stock

import (
	"context"
	"fmt"
	"sync"

	"tillpoint/backend/internal/store"
)

// MemoryProvider is an in-process inventory service for dev mode and tests.
// Commit checks and deducts under one lock, which stands in for the real
// service's row lock.
type MemoryProvider struct {
	mu     sync.Mutex
	levels map[string]map[string]int // branch -> key -> available
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{levels: make(map[string]map[string]int)}
}

// NewSeededProvider stocks the seeded catalog at the default branch. Items
// missing here exercise the fail-open path.
func NewSeededProvider(branchID string) *MemoryProvider {
	p := NewMemoryProvider()
	p.levels[branchID] = map[string]int{
		"var-latte-s": 50,
		"var-latte-l": 50,
		"item-burger": 40,
		"item-fries":  60,
		"item-combo":  25,
	}
	return p
}

func (p *MemoryProvider) SetLevel(branchID, key string, available int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.levels[branchID] == nil {
		p.levels[branchID] = make(map[string]int)
	}
	p.levels[branchID][key] = available
}

func (p *MemoryProvider) Availability(_ context.Context, branchID string, keys []string) (map[string]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make(map[string]int, len(keys))
	branch := p.levels[branchID]
	for _, key := range keys {
		if available, ok := branch[key]; ok {
			snapshot[key] = available
		}
	}
	return snapshot, nil
}

func (p *MemoryProvider) Commit(_ context.Context, branchID string, requests []Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	branch := p.levels[branchID]
	// Validate everything before touching anything; a commit is all or none.
	for _, req := range requests {
		available, known := branch[req.Key]
		if !known {
			continue
		}
		if req.Quantity > available {
			return fmt.Errorf("%w: %q has %d left, requested %d", store.ErrInsufficientStock, req.Key, available, req.Quantity)
		}
	}
	for _, req := range requests {
		if _, known := branch[req.Key]; known {
			branch[req.Key] -= req.Quantity
		}
	}
	return nil
}

func (p *MemoryProvider) Release(_ context.Context, branchID string, requests []Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	branch := p.levels[branchID]
	for _, req := range requests {
		if _, known := branch[req.Key]; known {
			branch[req.Key] += req.Quantity
		}
	}
	return nil
}
