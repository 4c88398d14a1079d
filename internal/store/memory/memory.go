package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
)

// Store is an in-memory Repository for dev mode and tests. A single RWMutex
// makes every call atomic; multi-row operations (order plus cash movement)
// therefore commit or fail as one unit, matching the postgres transactions.
type Store struct {
	mu                  sync.RWMutex
	orders              map[string]domain.Order
	eventsByOrder       map[string][]domain.OrderEvent
	pendingEdits        map[string]domain.PendingEdit
	sessions            map[string]domain.Session
	openSessionByBranch map[string]string
	movementsBySession  map[string][]domain.CashMovement
	branchConfigs       map[string]domain.BranchConfig
}

func New() *Store {
	return &Store{
		orders:              make(map[string]domain.Order),
		eventsByOrder:       make(map[string][]domain.OrderEvent),
		pendingEdits:        make(map[string]domain.PendingEdit),
		sessions:            make(map[string]domain.Session),
		openSessionByBranch: make(map[string]string),
		movementsBySession:  make(map[string][]domain.CashMovement),
		branchConfigs:       make(map[string]domain.BranchConfig),
	}
}

// NewSeeded configures the default branch so dev mode can sell immediately.
func NewSeeded(branchID string) *Store {
	s := New()
	s.branchConfigs[branchID] = domain.BranchConfig{
		BranchID:        branchID,
		CurrencyCode:    "USD",
		MinorUnits:      2,
		TaxRateBasisPts: 0,
	}
	return s
}

func (s *Store) UpsertBranchConfig(cfg domain.BranchConfig) {
	s.mu.Lock()
	s.branchConfigs[cfg.BranchID] = cfg
	s.mu.Unlock()
}

// ---- orders ----

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, movement *domain.CashMovement) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return nil, fmt.Errorf("%w: order %s already exists", store.ErrConflict, order.ID)
	}
	if movement != nil {
		if err := s.applyMovementLocked(*movement); err != nil {
			return nil, err
		}
	}
	s.orders[order.ID] = copyOrder(order)

	created := copyOrder(order)
	return &created, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
	}
	result := copyOrder(order)
	return &result, nil
}

func (s *Store) UpdateOrder(_ context.Context, order domain.Order, expectVersion int, movement *domain.CashMovement) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[order.ID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, order.ID)
	}
	if existing.Version != expectVersion {
		return nil, fmt.Errorf("%w: order %s changed concurrently", store.ErrConflict, order.ID)
	}
	if movement != nil {
		if err := s.applyMovementLocked(*movement); err != nil {
			return nil, err
		}
	}
	order.Version = expectVersion + 1
	s.orders[order.ID] = copyOrder(order)

	updated := copyOrder(order)
	return &updated, nil
}

func (s *Store) AppendOrderEvent(_ context.Context, event domain.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventsByOrder[event.OrderID] = append(s.eventsByOrder[event.OrderID], event)
	return nil
}

func (s *Store) ListOrderEvents(_ context.Context, orderID string, limit int) ([]domain.OrderEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.eventsByOrder[orderID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	result := make([]domain.OrderEvent, len(events))
	copy(result, events)
	return result, nil
}

// ---- pending edits ----

func (s *Store) CreatePendingEdit(_ context.Context, edit domain.PendingEdit) (*domain.PendingEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingEdits[edit.ID] = copyPendingEdit(edit)
	created := copyPendingEdit(edit)
	return &created, nil
}

func (s *Store) GetPendingEdit(_ context.Context, id string) (*domain.PendingEdit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edit, ok := s.pendingEdits[id]
	if !ok {
		return nil, fmt.Errorf("%w: pending edit %s", store.ErrNotFound, id)
	}
	result := copyPendingEdit(edit)
	return &result, nil
}

func (s *Store) DeletePendingEdit(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pendingEdits, id)
	return nil
}

// ---- sessions ----

func (s *Store) CreateSession(_ context.Context, session domain.Session) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if openID, exists := s.openSessionByBranch[session.BranchID]; exists {
		return nil, fmt.Errorf("%w: session %s is already open for branch %s", store.ErrConflict, openID, session.BranchID)
	}
	s.sessions[session.ID] = session
	s.openSessionByBranch[session.BranchID] = session.ID

	created := session
	return &created, nil
}

func (s *Store) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", store.ErrNotFound, id)
	}
	result := session
	return &result, nil
}

func (s *Store) GetOpenSessionByBranch(_ context.Context, branchID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.openSessionByBranch[branchID]
	if !ok {
		return nil, fmt.Errorf("%w: no open session for branch %s", store.ErrNotFound, branchID)
	}
	session := s.sessions[id]
	return &session, nil
}

func (s *Store) AddCashMovement(_ context.Context, movement domain.CashMovement) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.applyMovementLocked(movement); err != nil {
		return 0, err
	}
	return s.sessions[movement.SessionID].RunningBalanceCents, nil
}

func (s *Store) ListCashMovements(_ context.Context, sessionID string, limit int) ([]domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := s.movementsBySession[sessionID]
	if limit > 0 && len(movements) > limit {
		movements = movements[len(movements)-limit:]
	}
	result := make([]domain.CashMovement, len(movements))
	copy(result, movements)
	return result, nil
}

func (s *Store) CloseSession(_ context.Context, id string, actualCashCents int64, at time.Time) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", store.ErrNotFound, id)
	}
	if session.Status != domain.SessionStatusOpen {
		return nil, fmt.Errorf("%w: session %s is already closed", store.ErrInvalidState, id)
	}

	variance := actualCashCents - session.RunningBalanceCents
	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &at
	session.ActualCashCents = &actualCashCents
	session.VarianceCents = &variance
	s.sessions[id] = session
	delete(s.openSessionByBranch, session.BranchID)

	closed := session
	return &closed, nil
}

// ---- branch config ----

func (s *Store) GetBranchConfig(_ context.Context, branchID string) (*domain.BranchConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.branchConfigs[branchID]
	if !ok {
		return nil, fmt.Errorf("%w: branch config %s", store.ErrNotFound, branchID)
	}
	result := cfg
	return &result, nil
}

// applyMovementLocked must run with the write lock held. Movements are
// append-only; the running balance is the only derived field touched.
func (s *Store) applyMovementLocked(movement domain.CashMovement) error {
	session, ok := s.sessions[movement.SessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, movement.SessionID)
	}
	if session.Status != domain.SessionStatusOpen {
		return fmt.Errorf("%w: session %s is closed", store.ErrInvalidState, movement.SessionID)
	}
	session.RunningBalanceCents += movement.DeltaCents
	s.sessions[movement.SessionID] = session
	s.movementsBySession[movement.SessionID] = append(s.movementsBySession[movement.SessionID], movement)
	return nil
}

func copyOrder(order domain.Order) domain.Order {
	items := make([]domain.LineItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = copyLineItem(item)
	}
	order.Items = items
	return order
}

func copyLineItem(item domain.LineItem) domain.LineItem {
	modifiers := make([]domain.AppliedModifier, len(item.Modifiers))
	copy(modifiers, item.Modifiers)
	item.Modifiers = modifiers

	parts := make([]domain.LinePart, len(item.Parts))
	for i, part := range item.Parts {
		partModifiers := make([]domain.AppliedModifier, len(part.Modifiers))
		copy(partModifiers, part.Modifiers)
		part.Modifiers = partModifiers
		parts[i] = part
	}
	item.Parts = parts
	return item
}

func copyPendingEdit(edit domain.PendingEdit) domain.PendingEdit {
	items := make([]domain.LineItem, len(edit.Items))
	for i, item := range edit.Items {
		items[i] = copyLineItem(item)
	}
	edit.Items = items
	return edit
}
