package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/xid"
)

// Store is the Postgres-backed repository. Order line items and fulfillment
// targets live in JSONB columns; sessions keep a denormalized running balance
// updated in the same transaction as each movement insert.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, movement *domain.CashMovement) (*domain.Order, error) {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}
	fulfillmentJSON, err := json.Marshal(order.Fulfillment)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, branch_id, session_id, employee_id, order_type, fulfillment, items,
			subtotal_cents, tax_cents, discount_cents, total_cents,
			status, payment_status, payment_method, payment_reference,
			paid_cents, cash_received_cents, change_cents,
			version, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		order.ID, order.BranchID, order.SessionID, order.EmployeeID, order.Type,
		fulfillmentJSON, itemsJSON,
		order.SubtotalCents, order.TaxCents, order.DiscountCents, order.TotalCents,
		order.Status, order.PaymentStatus, nullIfEmpty(order.PaymentMethod), nullIfEmpty(order.PaymentReference),
		order.PaidCents, order.CashReceivedCents, order.ChangeCents,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: order %s already exists", store.ErrConflict, order.ID)
		}
		return nil, err
	}

	if movement != nil {
		if _, err := applyMovementTx(ctx, tx, *movement); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, session_id, employee_id, order_type, fulfillment, items,
		       subtotal_cents, tax_cents, discount_cents, total_cents,
		       status, payment_status, payment_method, payment_reference,
		       paid_cents, cash_received_cents, change_cents,
		       version, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id))
}

func (s *Store) UpdateOrder(ctx context.Context, order domain.Order, expectVersion int, movement *domain.CashMovement) (*domain.Order, error) {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}
	fulfillmentJSON, err := json.Marshal(order.Fulfillment)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET fulfillment = $2, items = $3,
		    subtotal_cents = $4, tax_cents = $5, discount_cents = $6, total_cents = $7,
		    status = $8, payment_status = $9, payment_method = $10, payment_reference = $11,
		    paid_cents = $12, cash_received_cents = $13, change_cents = $14,
		    version = version + 1, updated_at = $15
		WHERE id = $1 AND version = $16
	`,
		order.ID, fulfillmentJSON, itemsJSON,
		order.SubtotalCents, order.TaxCents, order.DiscountCents, order.TotalCents,
		order.Status, order.PaymentStatus, nullIfEmpty(order.PaymentMethod), nullIfEmpty(order.PaymentReference),
		order.PaidCents, order.CashReceivedCents, order.ChangeCents,
		order.UpdatedAt, expectVersion,
	)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish a vanished order from a lost version race.
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, order.ID)
		}
		return nil, fmt.Errorf("%w: order %s was modified concurrently", store.ErrConflict, order.ID)
	}

	if movement != nil {
		if _, err := applyMovementTx(ctx, tx, *movement); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	updated := order
	updated.Version = expectVersion + 1
	return &updated, nil
}

func (s *Store) AppendOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	if event.ID == "" {
		event.ID = xid.New("evt")
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_events (id, order_id, actor, event_type, detail, at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, event.ID, event.OrderID, event.Actor, event.Type, event.Detail, event.At)
	return err
}

func (s *Store) ListOrderEvents(ctx context.Context, orderID string, limit int) ([]domain.OrderEvent, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, actor, event_type, detail, at
		FROM order_events
		WHERE order_id = $1
		ORDER BY at ASC, id ASC
		LIMIT $2
	`, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.OrderEvent, 0, limit)
	for rows.Next() {
		var event domain.OrderEvent
		if err := rows.Scan(&event.ID, &event.OrderID, &event.Actor, &event.Type, &event.Detail, &event.At); err != nil {
			return nil, err
		}
		event.At = event.At.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) CreatePendingEdit(ctx context.Context, edit domain.PendingEdit) (*domain.PendingEdit, error) {
	itemsJSON, err := json.Marshal(edit.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_edits (
			id, order_id, order_version, items,
			subtotal_cents, tax_cents, discount_cents, total_cents, amount_due_cents,
			created_at, expires_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		edit.ID, edit.OrderID, edit.OrderVersion, itemsJSON,
		edit.SubtotalCents, edit.TaxCents, edit.DiscountCents, edit.TotalCents, edit.AmountDueCents,
		edit.CreatedAt, edit.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: pending edit %s already exists", store.ErrConflict, edit.ID)
		}
		return nil, err
	}
	created := edit
	return &created, nil
}

func (s *Store) GetPendingEdit(ctx context.Context, id string) (*domain.PendingEdit, error) {
	var (
		edit     domain.PendingEdit
		itemsRaw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, order_version, items,
		       subtotal_cents, tax_cents, discount_cents, total_cents, amount_due_cents,
		       created_at, expires_at
		FROM pending_edits
		WHERE id = $1
	`, id).Scan(
		&edit.ID, &edit.OrderID, &edit.OrderVersion, &itemsRaw,
		&edit.SubtotalCents, &edit.TaxCents, &edit.DiscountCents, &edit.TotalCents, &edit.AmountDueCents,
		&edit.CreatedAt, &edit.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: pending edit %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &edit.Items); err != nil {
			return nil, err
		}
	}
	edit.CreatedAt = edit.CreatedAt.UTC()
	edit.ExpiresAt = edit.ExpiresAt.UTC()
	return &edit, nil
}

func (s *Store) DeletePendingEdit(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_edits WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: pending edit %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session) (*domain.Session, error) {
	// The partial unique index on (branch_id) WHERE status = 'open' is what
	// enforces one open session per branch under concurrency.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_sessions (
			id, branch_id, employee_id, opening_float_cents, running_balance_cents,
			status, opened_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		session.ID, session.BranchID, session.EmployeeID,
		session.OpeningFloatCents, session.RunningBalanceCents,
		session.Status, session.OpenedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: branch %s already has an open session", store.ErrConflict, session.BranchID)
		}
		return nil, err
	}
	created := session
	return &created, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, employee_id, opening_float_cents, running_balance_cents,
		       status, opened_at, closed_at, actual_cash_cents, variance_cents
		FROM cash_sessions
		WHERE id = $1
	`, id))
}

func (s *Store) GetOpenSessionByBranch(ctx context.Context, branchID string) (*domain.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, employee_id, opening_float_cents, running_balance_cents,
		       status, opened_at, closed_at, actual_cash_cents, variance_cents
		FROM cash_sessions
		WHERE branch_id = $1 AND status = 'open'
	`, branchID))
}

func (s *Store) AddCashMovement(ctx context.Context, movement domain.CashMovement) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	balance, err := applyMovementTx(ctx, tx, movement)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) ListCashMovements(ctx context.Context, sessionID string, limit int) ([]domain.CashMovement, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, kind, delta_cents, reference, actor, at
		FROM cash_movements
		WHERE session_id = $1
		ORDER BY at ASC, id ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, limit)
	for rows.Next() {
		var (
			movement  domain.CashMovement
			reference sql.NullString
			actor     sql.NullString
		)
		if err := rows.Scan(&movement.ID, &movement.SessionID, &movement.Kind, &movement.DeltaCents, &reference, &actor, &movement.At); err != nil {
			return nil, err
		}
		movement.Reference = reference.String
		movement.Actor = actor.String
		movement.At = movement.At.UTC()
		movements = append(movements, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CloseSession(ctx context.Context, id string, actualCashCents int64, at time.Time) (*domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	session, err := scanSession(tx.QueryRowContext(ctx, `
		SELECT id, branch_id, employee_id, opening_float_cents, running_balance_cents,
		       status, opened_at, closed_at, actual_cash_cents, variance_cents
		FROM cash_sessions
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if session.Status != domain.SessionStatusOpen {
		return nil, fmt.Errorf("%w: session %s is already closed", store.ErrInvalidState, id)
	}

	variance := actualCashCents - session.RunningBalanceCents
	_, err = tx.ExecContext(ctx, `
		UPDATE cash_sessions
		SET status = 'closed', closed_at = $2, actual_cash_cents = $3, variance_cents = $4
		WHERE id = $1
	`, id, at, actualCashCents, variance)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	closedAt := at
	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &closedAt
	session.ActualCashCents = &actualCashCents
	session.VarianceCents = &variance
	return session, nil
}

func (s *Store) GetBranchConfig(ctx context.Context, branchID string) (*domain.BranchConfig, error) {
	var cfg domain.BranchConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT branch_id, currency_code, minor_units, tax_rate_basis_points
		FROM branch_configs
		WHERE branch_id = $1
	`, branchID).Scan(&cfg.BranchID, &cfg.CurrencyCode, &cfg.MinorUnits, &cfg.TaxRateBasisPts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, branchID)
		}
		return nil, err
	}
	return &cfg, nil
}

// applyMovementTx inserts a ledger row and bumps the owning session's running
// balance in one statement pair. The session must still be open.
func applyMovementTx(ctx context.Context, tx *sql.Tx, movement domain.CashMovement) (int64, error) {
	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	if movement.At.IsZero() {
		movement.At = time.Now().UTC()
	}

	var balance int64
	err := tx.QueryRowContext(ctx, `
		UPDATE cash_sessions
		SET running_balance_cents = running_balance_cents + $2
		WHERE id = $1 AND status = 'open'
		RETURNING running_balance_cents
	`, movement.SessionID, movement.DeltaCents).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: no open session %s", store.ErrInvalidState, movement.SessionID)
		}
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cash_movements (id, session_id, kind, delta_cents, reference, actor, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, movement.ID, movement.SessionID, movement.Kind, movement.DeltaCents,
		nullIfEmpty(movement.Reference), nullIfEmpty(movement.Actor), movement.At)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order            domain.Order
		fulfillmentRaw   []byte
		itemsRaw         []byte
		paymentMethod    sql.NullString
		paymentReference sql.NullString
	)
	err := row.Scan(
		&order.ID, &order.BranchID, &order.SessionID, &order.EmployeeID, &order.Type,
		&fulfillmentRaw, &itemsRaw,
		&order.SubtotalCents, &order.TaxCents, &order.DiscountCents, &order.TotalCents,
		&order.Status, &order.PaymentStatus, &paymentMethod, &paymentReference,
		&order.PaidCents, &order.CashReceivedCents, &order.ChangeCents,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order", store.ErrNotFound)
		}
		return nil, err
	}
	if len(fulfillmentRaw) > 0 {
		if err := json.Unmarshal(fulfillmentRaw, &order.Fulfillment); err != nil {
			return nil, err
		}
	}
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &order.Items); err != nil {
			return nil, err
		}
	}
	order.PaymentMethod = paymentMethod.String
	order.PaymentReference = paymentReference.String
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return &order, nil
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		session    domain.Session
		closedAt   sql.NullTime
		actualCash sql.NullInt64
		variance   sql.NullInt64
	)
	err := row.Scan(
		&session.ID, &session.BranchID, &session.EmployeeID,
		&session.OpeningFloatCents, &session.RunningBalanceCents,
		&session.Status, &session.OpenedAt, &closedAt, &actualCash, &variance,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: session", store.ErrNotFound)
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		session.ClosedAt = &t
	}
	if actualCash.Valid {
		v := actualCash.Int64
		session.ActualCashCents = &v
	}
	if variance.Valid {
		v := variance.Int64
		session.VarianceCents = &v
	}
	return &session, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
