package stock

import (
	"context"
	"fmt"
	"log"
	"time"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
)

// unlimitedSentinel caps the fail-open fallback when a product is absent
// from the availability snapshot.
const unlimitedSentinel = 999

// Request is one product/variant quantity to check or commit.
type Request struct {
	Key      string
	Quantity int
}

// Provider is the external inventory service. Commit must apply its own
// concurrency control (row lock or version check) and fail with
// store.ErrInsufficientStock when availability moved underneath the caller.
type Provider interface {
	Availability(ctx context.Context, branchID string, keys []string) (map[string]int, error)
	Commit(ctx context.Context, branchID string, requests []Request) error
	Release(ctx context.Context, branchID string, requests []Request) error
}

type Shortage struct {
	Key          string `json:"id"`
	Requested    int    `json:"requested"`
	MaxAvailable int    `json:"max_available"`
}

type Result struct {
	Allowed   bool       `json:"allowed"`
	Shortages []Shortage `json:"shortages,omitempty"`
}

// Gate enforces availability against the provider's snapshot. Advisory at
// cart-build time; the commit path re-checks through Commit.
type Gate struct {
	provider   Provider
	timeout    time.Duration
	failClosed bool
}

func NewGate(provider Provider, timeout time.Duration, failClosed bool) *Gate {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Gate{provider: provider, timeout: timeout, failClosed: failClosed}
}

// Aggregate folds duplicate keys so that the same product appearing on
// several cart lines is checked against the cumulative quantity.
func Aggregate(lines []domain.LineItem) []Request {
	totals := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		key := line.StockKey()
		if _, seen := totals[key]; !seen {
			order = append(order, key)
		}
		totals[key] += line.Quantity
	}
	requests := make([]Request, 0, len(order))
	for _, key := range order {
		requests = append(requests, Request{Key: key, Quantity: totals[key]})
	}
	return requests
}

func (g *Gate) Check(ctx context.Context, branchID string, requests []Request) (Result, error) {
	if len(requests) == 0 {
		return Result{Allowed: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	keys := make([]string, 0, len(requests))
	for _, req := range requests {
		keys = append(keys, req.Key)
	}
	snapshot, err := g.provider.Availability(ctx, branchID, keys)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: inventory service: %v", store.ErrUpstreamTimeout, err)
		}
		return Result{}, err
	}

	result := Result{Allowed: true}
	for _, req := range requests {
		available, known := snapshot[req.Key]
		if !known {
			if g.failClosed {
				result.Allowed = false
				result.Shortages = append(result.Shortages, Shortage{Key: req.Key, Requested: req.Quantity, MaxAvailable: 0})
				continue
			}
			// Fail-open: unknown availability sells as unlimited. Logged on
			// every occurrence so an inventory outage stays visible.
			log.Printf("[stock] WARN: no availability data for %q at branch %s, treating as unlimited", req.Key, branchID)
			available = unlimitedSentinel
		}
		if req.Quantity > available {
			result.Allowed = false
			result.Shortages = append(result.Shortages, Shortage{Key: req.Key, Requested: req.Quantity, MaxAvailable: available})
		}
	}
	return result, nil
}

// Commit asks the inventory service to deduct the quantities under its own
// concurrency control. Must run inside the order commit sequence.
func (g *Gate) Commit(ctx context.Context, branchID string, requests []Request) error {
	if len(requests) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.provider.Commit(ctx, branchID, requests); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: inventory service: %v", store.ErrUpstreamTimeout, err)
		}
		return err
	}
	return nil
}

// Release returns quantities to the pool: order rolled back or cancelled,
// or an edit removed items.
func (g *Gate) Release(ctx context.Context, branchID string, requests []Request) error {
	if len(requests) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.provider.Release(ctx, branchID, requests); err != nil {
		log.Printf("[stock] WARN: release failed for branch %s: %v", branchID, err)
		return err
	}
	return nil
}
