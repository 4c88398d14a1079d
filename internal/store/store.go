package store

import (
	"context"
	"errors"
	"time"

	"tillpoint/backend/internal/domain"
)

// Error taxonomy for the engine. Callers branch with errors.Is; the HTTP
// layer maps each sentinel to a status code.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrConfiguration     = errors.New("configuration missing")
)

// Repository persists orders, sessions, pending edits and timeline events.
// Multi-step mutations (create with inline payment, apply pending edit) are
// atomic within one call: either every row lands or none do.
type Repository interface {
	CreateOrder(ctx context.Context, order domain.Order, movement *domain.CashMovement) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// UpdateOrder replaces the order row iff the stored version still equals
	// expectVersion, bumping the version; ErrConflict otherwise. movement,
	// when non-nil, is recorded against the owning session in the same
	// transaction.
	UpdateOrder(ctx context.Context, order domain.Order, expectVersion int, movement *domain.CashMovement) (*domain.Order, error)
	AppendOrderEvent(ctx context.Context, event domain.OrderEvent) error
	ListOrderEvents(ctx context.Context, orderID string, limit int) ([]domain.OrderEvent, error)

	CreatePendingEdit(ctx context.Context, edit domain.PendingEdit) (*domain.PendingEdit, error)
	GetPendingEdit(ctx context.Context, id string) (*domain.PendingEdit, error)
	DeletePendingEdit(ctx context.Context, id string) error

	CreateSession(ctx context.Context, session domain.Session) (*domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetOpenSessionByBranch(ctx context.Context, branchID string) (*domain.Session, error)
	AddCashMovement(ctx context.Context, movement domain.CashMovement) (int64, error)
	ListCashMovements(ctx context.Context, sessionID string, limit int) ([]domain.CashMovement, error)
	CloseSession(ctx context.Context, id string, actualCashCents int64, at time.Time) (*domain.Session, error)

	GetBranchConfig(ctx context.Context, branchID string) (*domain.BranchConfig, error)
}
