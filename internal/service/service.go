package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tillpoint/backend/internal/catalog"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/stock"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service is the order engine and shift ledger. Every mutating operation
// requires an unlocked terminal identity in the context and serializes on a
// per-resource lock before touching shared state.
type Service struct {
	repo           store.Repository
	resolver       *catalog.Resolver
	gate           *stock.Gate
	defaultBranch  string
	pendingEditTTL time.Duration

	orderLocks   keyedMutex
	sessionLocks keyedMutex
	branchLocks  keyedMutex
}

func New(repo store.Repository, resolver *catalog.Resolver, gate *stock.Gate, defaultBranch string, pendingEditTTL time.Duration) *Service {
	if defaultBranch == "" {
		defaultBranch = "main-branch"
	}
	if pendingEditTTL <= 0 {
		pendingEditTTL = 15 * time.Minute
	}
	return &Service{
		repo:           repo,
		resolver:       resolver,
		gate:           gate,
		defaultBranch:  defaultBranch,
		pendingEditTTL: pendingEditTTL,
	}
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.EmployeeID == "" {
		return domain.Actor{}, fmt.Errorf("%w: terminal is locked", store.ErrUnauthorized)
	}
	return actor, nil
}

// ---- Order Engine ----

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (*domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.BranchID == "" {
		req.BranchID = s.defaultBranch
	}

	if err := validateOrderType(req.OrderType, req.Fulfillment); err != nil {
		return nil, err
	}
	if req.DiscountCents < 0 {
		return nil, fmt.Errorf("%w: discount must not be negative", store.ErrValidation)
	}

	cfg, err := s.branchConfig(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}

	session, err := s.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown session %q", store.ErrValidation, req.SessionID)
		}
		return nil, err
	}
	if session.Status != domain.SessionStatusOpen {
		return nil, fmt.Errorf("%w: session %s is closed", store.ErrInvalidState, session.ID)
	}
	if session.BranchID != req.BranchID {
		return nil, fmt.Errorf("%w: session belongs to another branch", store.ErrValidation)
	}

	// Always re-resolved server-side; client price hints are never trusted.
	lines, err := s.resolver.ResolveLines(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	subtotal := sumLines(lines)
	discount := req.DiscountCents
	if discount > subtotal {
		discount = subtotal
	}
	tax := taxFor(subtotal-discount, cfg.TaxRateBasisPts)
	total := subtotal - discount + tax

	now := time.Now().UTC()
	order := domain.Order{
		ID:            xid.New("ord"),
		BranchID:      req.BranchID,
		SessionID:     session.ID,
		EmployeeID:    actor.EmployeeID,
		Type:          req.OrderType,
		Fulfillment:   req.Fulfillment,
		Items:         lines,
		SubtotalCents: subtotal,
		TaxCents:      tax,
		DiscountCents: discount,
		TotalCents:    total,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var movement *domain.CashMovement
	method := strings.TrimSpace(req.PaymentMethod)
	if method != "" {
		pay, mv, err := buildInlinePayment(order, method, req.PaymentReference, req.CashReceivedCents, actor)
		if err != nil {
			return nil, err
		}
		order = pay
		movement = mv
	}

	// The stock re-check and the insert run under the branch commit lock so
	// two carts racing for the last unit serialize here.
	unlock := s.branchLocks.lock(req.BranchID)
	defer unlock()

	requests := stock.Aggregate(lines)
	checked, err := s.gate.Check(ctx, req.BranchID, requests)
	if err != nil {
		return nil, err
	}
	if !checked.Allowed {
		return nil, shortageError(checked)
	}
	if err := s.gate.Commit(ctx, req.BranchID, requests); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateOrder(ctx, order, movement)
	if err != nil {
		// Full rollback: return the reserved quantities before surfacing.
		_ = s.gate.Release(ctx, req.BranchID, requests)
		return nil, err
	}

	s.appendEvent(ctx, created.ID, actor, "order_created", fmt.Sprintf("type=%s total=%d items=%d", created.Type, created.TotalCents, len(created.Items)))
	if movement != nil {
		s.appendEvent(ctx, created.ID, actor, "payment_recorded", fmt.Sprintf("method=%s amount=%d change=%d", created.PaymentMethod, created.PaidCents, created.ChangeCents))
	}
	return created, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("%w: order id required", store.ErrValidation)
	}
	return s.repo.GetOrder(ctx, orderID)
}

func (s *Service) OrderTimeline(ctx context.Context, orderID string, limit int) ([]domain.OrderEvent, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("%w: order id required", store.ErrValidation)
	}
	if limit < 1 {
		limit = 200
	}
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListOrderEvents(ctx, orderID, limit)
}

// EditOrder recomputes the order from the requested line changes. When the
// new total exceeds what has been paid, nothing is applied: the caller gets
// a pending extra payment descriptor to resolve via ApplyEditWithPayment.
func (s *Service) EditOrder(ctx context.Context, orderID string, req domain.OrderEditRequest) (*domain.OrderEditResult, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	unlock := s.orderLocks.lock(orderID)
	defer unlock()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Editable() {
		return nil, fmt.Errorf("%w: order %s is %s and cannot be edited", store.ErrInvalidState, order.ID, order.Status)
	}

	newItems, err := s.rebuildLines(ctx, *order, req)
	if err != nil {
		return nil, err
	}

	cfg, err := s.branchConfig(ctx, order.BranchID)
	if err != nil {
		return nil, err
	}
	subtotal := sumLines(newItems)
	discount := order.DiscountCents
	if discount > subtotal {
		discount = subtotal
	}
	tax := taxFor(subtotal-discount, cfg.TaxRateBasisPts)
	total := subtotal - discount + tax

	if total > order.PaidCents {
		now := time.Now().UTC()
		edit := domain.PendingEdit{
			ID:             xid.New("pe"),
			OrderID:        order.ID,
			OrderVersion:   order.Version,
			Items:          newItems,
			SubtotalCents:  subtotal,
			TaxCents:       tax,
			DiscountCents:  discount,
			TotalCents:     total,
			AmountDueCents: total - order.PaidCents,
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.pendingEditTTL),
		}
		saved, err := s.repo.CreatePendingEdit(ctx, edit)
		if err != nil {
			return nil, err
		}
		s.appendEvent(ctx, order.ID, actor, "edit_pending_payment", fmt.Sprintf("pending_edit=%s amount_due=%d", saved.ID, saved.AmountDueCents))
		return &domain.OrderEditResult{PendingPayment: &domain.PendingExtraPayment{
			PendingEditID:  saved.ID,
			OrderID:        order.ID,
			AmountDueCents: saved.AmountDueCents,
			ExpiresAt:      saved.ExpiresAt,
		}}, nil
	}

	updated := *order
	updated.Items = newItems
	updated.SubtotalCents = subtotal
	updated.DiscountCents = discount
	updated.TaxCents = tax
	updated.TotalCents = total
	updated.UpdatedAt = time.Now().UTC()

	applied, err := s.applyOrderUpdate(ctx, *order, updated, nil)
	if err != nil {
		return nil, err
	}
	s.appendEvent(ctx, order.ID, actor, "order_edited", fmt.Sprintf("total %d -> %d items=%d", order.TotalCents, applied.TotalCents, len(applied.Items)))
	return &domain.OrderEditResult{Order: applied}, nil
}

// ApplyEditWithPayment applies a previously computed pending edit and
// records the extra payment as one transaction. Either both land or neither.
func (s *Service) ApplyEditWithPayment(ctx context.Context, orderID string, req domain.PaymentRequest) (*domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	unlock := s.orderLocks.lock(orderID)
	defer unlock()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Editable() {
		return nil, fmt.Errorf("%w: order %s is %s and cannot be edited", store.ErrInvalidState, order.ID, order.Status)
	}

	edit, err := s.repo.GetPendingEdit(ctx, req.PendingEditID)
	if err != nil {
		return nil, err
	}
	if edit.OrderID != order.ID {
		return nil, fmt.Errorf("%w: pending edit belongs to another order", store.ErrValidation)
	}
	if time.Now().UTC().After(edit.ExpiresAt) {
		_ = s.repo.DeletePendingEdit(ctx, edit.ID)
		return nil, fmt.Errorf("%w: pending edit %s expired", store.ErrInvalidState, edit.ID)
	}
	if edit.OrderVersion != order.Version {
		return nil, fmt.Errorf("%w: order changed since the edit was computed", store.ErrConflict)
	}

	amountDue := edit.TotalCents - order.PaidCents
	method := strings.TrimSpace(req.Method)
	var movement *domain.CashMovement
	updated := *order
	switch method {
	case domain.PaymentMethodCash:
		received := req.CashReceivedCents
		if received == 0 {
			received = req.AmountCents
		}
		if received < amountDue {
			return nil, fmt.Errorf("%w: cash received %d is less than amount due %d", store.ErrValidation, received, amountDue)
		}
		updated.CashReceivedCents += received
		updated.ChangeCents += received - amountDue
		movement = &domain.CashMovement{
			ID:         xid.New("mv"),
			SessionID:  order.SessionID,
			Kind:       domain.MovementKindExtraPayment,
			DeltaCents: amountDue,
			Reference:  order.ID,
			Actor:      actor.EmployeeID,
			At:         time.Now().UTC(),
		}
	case domain.PaymentMethodCard:
		if strings.TrimSpace(req.Reference) == "" {
			return nil, fmt.Errorf("%w: card payment requires a reference", store.ErrValidation)
		}
		updated.PaymentReference = req.Reference
	default:
		return nil, fmt.Errorf("%w: unsupported payment method %q for extra payment", store.ErrValidation, method)
	}

	updated.Items = edit.Items
	updated.SubtotalCents = edit.SubtotalCents
	updated.DiscountCents = edit.DiscountCents
	updated.TaxCents = edit.TaxCents
	updated.TotalCents = edit.TotalCents
	updated.PaidCents += amountDue
	if updated.PaymentStatus == domain.PaymentStatusUnpaid {
		updated.PaymentStatus = domain.PaymentStatusPaid
		updated.PaymentMethod = method
	}
	updated.UpdatedAt = time.Now().UTC()

	applied, err := s.applyOrderUpdate(ctx, *order, updated, movement)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeletePendingEdit(ctx, edit.ID); err != nil {
		log.Printf("[service] WARN: failed to delete applied pending edit %s: %v", edit.ID, err)
	}

	s.appendEvent(ctx, order.ID, actor, "edit_applied", fmt.Sprintf("pending_edit=%s total %d -> %d", edit.ID, order.TotalCents, applied.TotalCents))
	s.appendEvent(ctx, order.ID, actor, "payment_recorded", fmt.Sprintf("method=%s amount=%d", method, amountDue))
	return applied, nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID string, reason string) (*domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "unspecified"
	}

	unlock := s.orderLocks.lock(orderID)
	defer unlock()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Editable() {
		return nil, fmt.Errorf("%w: cannot cancel order in status %s", store.ErrInvalidState, order.Status)
	}

	updated := *order
	updated.Status = domain.OrderStatusCancelled
	updated.UpdatedAt = time.Now().UTC()

	applied, err := s.repo.UpdateOrder(ctx, updated, order.Version, nil)
	if err != nil {
		return nil, err
	}

	_ = s.gate.Release(ctx, order.BranchID, stock.Aggregate(order.Items))
	s.appendEvent(ctx, order.ID, actor, "order_cancelled", "reason="+reason)
	return applied, nil
}

func (s *Service) MarkPickedUp(ctx context.Context, orderID string) (*domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	unlock := s.orderLocks.lock(orderID)
	defer unlock()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusCompleted || order.Type != domain.OrderTypeDelivery {
		return nil, fmt.Errorf("%w: pickup requires a completed delivery order, got %s %s", store.ErrInvalidState, order.Status, order.Type)
	}

	updated := *order
	updated.Status = domain.OrderStatusPickedUp
	updated.UpdatedAt = time.Now().UTC()

	applied, err := s.repo.UpdateOrder(ctx, updated, order.Version, nil)
	if err != nil {
		return nil, err
	}
	s.appendEvent(ctx, order.ID, actor, "order_picked_up", "courier="+order.Fulfillment.Courier)
	return applied, nil
}

// statusTransitions lists the progressions reachable through SetStatus.
// Cancellation and pickup have their own operations.
var statusTransitions = map[string][]string{
	domain.OrderStatusInProgress: {domain.OrderStatusPending},
	domain.OrderStatusCompleted:  {domain.OrderStatusPending, domain.OrderStatusInProgress},
	domain.OrderStatusRejected:   {domain.OrderStatusPending, domain.OrderStatusInProgress},
}

func (s *Service) SetOrderStatus(ctx context.Context, orderID string, status string) (*domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	from, ok := statusTransitions[status]
	if !ok {
		return nil, fmt.Errorf("%w: status %q is not reachable through this operation", store.ErrValidation, status)
	}

	unlock := s.orderLocks.lock(orderID)
	defer unlock()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, f := range from {
		if order.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: cannot move order from %s to %s", store.ErrInvalidState, order.Status, status)
	}

	updated := *order
	updated.Status = status
	updated.UpdatedAt = time.Now().UTC()

	applied, err := s.repo.UpdateOrder(ctx, updated, order.Version, nil)
	if err != nil {
		return nil, err
	}
	if status == domain.OrderStatusRejected {
		_ = s.gate.Release(ctx, order.BranchID, stock.Aggregate(order.Items))
	}
	s.appendEvent(ctx, order.ID, actor, "status_changed", fmt.Sprintf("%s -> %s", order.Status, status))
	return applied, nil
}

func (s *Service) RecordPayment(ctx context.Context, orderID string, req domain.PaymentRequest) (*domain.Order, error) {
	if strings.TrimSpace(req.PendingEditID) != "" {
		return s.ApplyEditWithPayment(ctx, orderID, req)
	}

	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	unlock := s.orderLocks.lock(orderID)
	defer unlock()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusRejected {
		return nil, fmt.Errorf("%w: order %s is %s", store.ErrInvalidState, order.ID, order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusUnpaid {
		return nil, fmt.Errorf("%w: order %s is already %s", store.ErrInvalidState, order.ID, order.PaymentStatus)
	}

	updated, movement, err := buildInlinePayment(*order, strings.TrimSpace(req.Method), req.Reference, req.CashReceivedCents, actor)
	if err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()

	applied, err := s.repo.UpdateOrder(ctx, updated, order.Version, movement)
	if err != nil {
		return nil, err
	}
	s.appendEvent(ctx, order.ID, actor, "payment_recorded", fmt.Sprintf("method=%s amount=%d change=%d", applied.PaymentMethod, applied.PaidCents, applied.ChangeCents))
	return applied, nil
}

// ---- Shift Ledger ----

func (s *Service) OpenSession(ctx context.Context, req domain.SessionOpenRequest) (*domain.Session, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.BranchID == "" {
		req.BranchID = s.defaultBranch
	}
	if req.OpeningFloatCents < 0 {
		return nil, fmt.Errorf("%w: opening float must not be negative", store.ErrValidation)
	}

	session := domain.Session{
		ID:                  xid.New("sess"),
		BranchID:            req.BranchID,
		EmployeeID:          actor.EmployeeID,
		OpeningFloatCents:   req.OpeningFloatCents,
		RunningBalanceCents: req.OpeningFloatCents,
		Status:              domain.SessionStatusOpen,
		OpenedAt:            time.Now().UTC(),
	}
	saved, err := s.repo.CreateSession(ctx, session)
	if err != nil {
		return nil, err
	}
	log.Printf("[service] session %s opened at branch %s by %s float=%d", saved.ID, saved.BranchID, actor.EmployeeID, saved.OpeningFloatCents)
	return saved, nil
}

func (s *Service) GetActiveSession(ctx context.Context, branchID string) (*domain.Session, error) {
	if branchID == "" {
		branchID = s.defaultBranch
	}
	return s.repo.GetOpenSessionByBranch(ctx, branchID)
}

// RecordCashMovement registers a manual paid-in/paid-out against an open
// session. Sale and extra-payment movements come from the order paths.
func (s *Service) RecordCashMovement(ctx context.Context, sessionID string, req domain.CashMovementRequest) (int64, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return 0, err
	}
	if req.AmountCents <= 0 {
		return 0, fmt.Errorf("%w: movement amount must be positive", store.ErrValidation)
	}

	var delta int64
	switch req.Kind {
	case domain.MovementKindPaidIn:
		delta = req.AmountCents
	case domain.MovementKindPaidOut:
		delta = -req.AmountCents
	default:
		return 0, fmt.Errorf("%w: unsupported manual movement kind %q", store.ErrValidation, req.Kind)
	}

	unlock := s.sessionLocks.lock(sessionID)
	defer unlock()

	balance, err := s.repo.AddCashMovement(ctx, domain.CashMovement{
		ID:         xid.New("mv"),
		SessionID:  sessionID,
		Kind:       req.Kind,
		DeltaCents: delta,
		Reference:  req.Reference,
		Actor:      actor.EmployeeID,
		At:         time.Now().UTC(),
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) SessionSummary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.SessionSummary{
		SessionID:           session.ID,
		BranchID:            session.BranchID,
		OpeningFloatCents:   session.OpeningFloatCents,
		RunningBalanceCents: session.RunningBalanceCents,
		OpenedAt:            session.OpenedAt,
	}, nil
}

func (s *Service) CloseSession(ctx context.Context, sessionID string, actualCashCents int64) (*domain.SessionCloseResult, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actualCashCents < 0 {
		return nil, fmt.Errorf("%w: counted cash must not be negative", store.ErrValidation)
	}

	unlock := s.sessionLocks.lock(sessionID)
	defer unlock()

	closed, err := s.repo.CloseSession(ctx, sessionID, actualCashCents, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	expected := closed.RunningBalanceCents
	variance := actualCashCents - expected
	log.Printf("[service] session %s closed by %s expected=%d actual=%d variance=%d", sessionID, actor.EmployeeID, expected, actualCashCents, variance)
	return &domain.SessionCloseResult{
		SessionID:         closed.ID,
		ExpectedCashCents: expected,
		ActualCashCents:   actualCashCents,
		VarianceCents:     variance,
	}, nil
}

// ---- internals ----

// rebuildLines produces the full replacement line set for an edit. Adds and
// modifies go through the resolver from scratch so N edits can never drift
// from a fresh resolution of the final set.
func (s *Service) rebuildLines(ctx context.Context, order domain.Order, req domain.OrderEditRequest) ([]domain.LineItem, error) {
	if len(req.ItemsToAdd) == 0 && len(req.ItemsToRemove) == 0 && len(req.ItemsToModify) == 0 {
		return nil, fmt.Errorf("%w: edit requires at least one change", store.ErrValidation)
	}

	byID := make(map[string]int, len(order.Items))
	for i, line := range order.Items {
		byID[line.ID] = i
	}
	removed := make(map[string]bool, len(req.ItemsToRemove))
	for _, id := range req.ItemsToRemove {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: line item %q not on order", store.ErrValidation, id)
		}
		removed[id] = true
	}

	modifyRequests := make([]domain.LineItemRequest, 0, len(req.ItemsToModify))
	modifyIDs := make([]string, 0, len(req.ItemsToModify))
	for _, mod := range req.ItemsToModify {
		if _, ok := byID[mod.LineItemID]; !ok || removed[mod.LineItemID] {
			return nil, fmt.Errorf("%w: line item %q not on order", store.ErrValidation, mod.LineItemID)
		}
		modifyRequests = append(modifyRequests, mod.Request)
		modifyIDs = append(modifyIDs, mod.LineItemID)
	}

	var modified []domain.LineItem
	if len(modifyRequests) > 0 {
		resolved, err := s.resolver.ResolveLines(ctx, modifyRequests)
		if err != nil {
			return nil, err
		}
		modified = resolved
	}
	modifiedByID := make(map[string]domain.LineItem, len(modified))
	for i, line := range modified {
		line.ID = modifyIDs[i] // the line keeps its identity across a modify
		modifiedByID[modifyIDs[i]] = line
	}

	var added []domain.LineItem
	if len(req.ItemsToAdd) > 0 {
		resolved, err := s.resolver.ResolveLines(ctx, req.ItemsToAdd)
		if err != nil {
			return nil, err
		}
		added = resolved
	}

	next := make([]domain.LineItem, 0, len(order.Items)+len(added))
	for _, line := range order.Items {
		if removed[line.ID] {
			continue
		}
		if replacement, ok := modifiedByID[line.ID]; ok {
			next = append(next, replacement)
			continue
		}
		next = append(next, line)
	}
	next = append(next, added...)
	if len(next) == 0 {
		return nil, fmt.Errorf("%w: an order must keep at least one line item", store.ErrValidation)
	}
	return next, nil
}

// applyOrderUpdate commits quantity deltas against the stock gate, then the
// order row. A failed row update releases what was just committed so there
// is no partial state.
func (s *Service) applyOrderUpdate(ctx context.Context, before domain.Order, after domain.Order, movement *domain.CashMovement) (*domain.Order, error) {
	increases, decreases := stockDeltas(before.Items, after.Items)

	if len(increases) > 0 {
		unlock := s.branchLocks.lock(before.BranchID)
		checked, err := s.gate.Check(ctx, before.BranchID, increases)
		if err != nil {
			unlock()
			return nil, err
		}
		if !checked.Allowed {
			unlock()
			return nil, shortageError(checked)
		}
		if err := s.gate.Commit(ctx, before.BranchID, increases); err != nil {
			unlock()
			return nil, err
		}
		unlock()
	}

	applied, err := s.repo.UpdateOrder(ctx, after, before.Version, movement)
	if err != nil {
		if len(increases) > 0 {
			_ = s.gate.Release(ctx, before.BranchID, increases)
		}
		return nil, err
	}
	if len(decreases) > 0 {
		_ = s.gate.Release(ctx, before.BranchID, decreases)
	}
	return applied, nil
}

func (s *Service) branchConfig(ctx context.Context, branchID string) (*domain.BranchConfig, error) {
	cfg, err := s.repo.GetBranchConfig(ctx, branchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: branch %s has no currency/tax configuration", store.ErrConfiguration, branchID)
		}
		return nil, err
	}
	return cfg, nil
}

// appendEvent writes one immutable timeline entry. A failed append is logged
// rather than failing the already committed mutation.
func (s *Service) appendEvent(ctx context.Context, orderID string, actor domain.Actor, eventType string, detail string) {
	err := s.repo.AppendOrderEvent(ctx, domain.OrderEvent{
		ID:      xid.New("evt"),
		OrderID: orderID,
		Actor:   actor.EmployeeID,
		Type:    eventType,
		Detail:  detail,
		At:      time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: failed to append timeline event %s for order %s: %v", eventType, orderID, err)
	}
}

func buildInlinePayment(order domain.Order, method string, reference string, cashReceived int64, actor domain.Actor) (domain.Order, *domain.CashMovement, error) {
	switch method {
	case domain.PaymentMethodCash:
		if cashReceived < order.TotalCents {
			return order, nil, fmt.Errorf("%w: cash received %d is less than total %d", store.ErrValidation, cashReceived, order.TotalCents)
		}
		change := cashReceived - order.TotalCents
		order.PaymentStatus = domain.PaymentStatusPaid
		order.PaymentMethod = method
		order.PaidCents = order.TotalCents
		order.CashReceivedCents = cashReceived
		order.ChangeCents = change
		movement := &domain.CashMovement{
			ID:         xid.New("mv"),
			SessionID:  order.SessionID,
			Kind:       domain.MovementKindSale,
			DeltaCents: cashReceived - change, // net cash retained
			Reference:  order.ID,
			Actor:      actor.EmployeeID,
			At:         time.Now().UTC(),
		}
		return order, movement, nil
	case domain.PaymentMethodCard:
		if strings.TrimSpace(reference) == "" {
			return order, nil, fmt.Errorf("%w: card payment requires a reference", store.ErrValidation)
		}
		order.PaymentStatus = domain.PaymentStatusPaid
		order.PaymentMethod = method
		order.PaymentReference = reference
		order.PaidCents = order.TotalCents
		return order, nil, nil
	case domain.PaymentMethodApp:
		order.PaymentStatus = domain.PaymentStatusApp
		order.PaymentMethod = method
		order.PaymentReference = reference
		order.PaidCents = order.TotalCents
		return order, nil, nil
	case domain.PaymentMethodPayLater:
		// Explicit "pay later" records nothing; the order stays unpaid.
		return order, nil, nil
	default:
		return order, nil, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, method)
	}
}

func validateOrderType(orderType string, target domain.FulfillmentTarget) error {
	switch orderType {
	case domain.OrderTypeDineIn:
		if strings.TrimSpace(target.TableRef) == "" {
			return fmt.Errorf("%w: dine-in order requires a table reference", store.ErrValidation)
		}
	case domain.OrderTypeDelivery:
		if strings.TrimSpace(target.DeliveryAddress) == "" {
			return fmt.Errorf("%w: delivery order requires an address", store.ErrValidation)
		}
	case domain.OrderTypeTakeaway:
		// No fulfillment target.
	default:
		return fmt.Errorf("%w: unknown order type %q", store.ErrValidation, orderType)
	}
	return nil
}

func sumLines(lines []domain.LineItem) int64 {
	total := int64(0)
	for _, line := range lines {
		total += line.LineTotalCents
	}
	return total
}

// taxFor computes tax in minor units from basis points with round-half-up,
// integer arithmetic only.
func taxFor(taxBase int64, basisPoints int64) int64 {
	if taxBase <= 0 || basisPoints <= 0 {
		return 0
	}
	return (taxBase*basisPoints + 5000) / 10000
}

func shortageError(result stock.Result) error {
	parts := make([]string, 0, len(result.Shortages))
	for _, shortage := range result.Shortages {
		parts = append(parts, fmt.Sprintf("%s has %d left, requested %d", shortage.Key, shortage.MaxAvailable, shortage.Requested))
	}
	return fmt.Errorf("%w: %s", store.ErrInsufficientStock, strings.Join(parts, "; "))
}

// stockDeltas diffs two line sets into quantity increases and decreases per
// stock key.
func stockDeltas(before []domain.LineItem, after []domain.LineItem) (increases []stock.Request, decreases []stock.Request) {
	deltas := make(map[string]int)
	order := make([]string, 0, len(before)+len(after))
	for _, line := range after {
		key := line.StockKey()
		if _, seen := deltas[key]; !seen {
			order = append(order, key)
		}
		deltas[key] += line.Quantity
	}
	for _, line := range before {
		key := line.StockKey()
		if _, seen := deltas[key]; !seen {
			order = append(order, key)
		}
		deltas[key] -= line.Quantity
	}
	for _, key := range order {
		switch d := deltas[key]; {
		case d > 0:
			increases = append(increases, stock.Request{Key: key, Quantity: d})
		case d < 0:
			decreases = append(decreases, stock.Request{Key: key, Quantity: -d})
		}
	}
	return increases, decreases
}
