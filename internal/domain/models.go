package domain

import "time"

// All money amounts are int64 minor units (cents, fils, ...). The branch
// configuration carries the currency code and exponent; the engine never
// does floating-point money arithmetic.

const (
	OrderTypeDineIn   = "dine_in"
	OrderTypeTakeaway = "takeaway"
	OrderTypeDelivery = "delivery"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusInProgress = "in_progress"
	OrderStatusCompleted  = "completed"
	OrderStatusPickedUp   = "picked_up"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRejected   = "rejected"
)

const (
	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"
	PaymentStatusApp    = "app_payment"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodPayLater = "pay_later"
	PaymentMethodApp      = "app_payment"
)

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

const (
	MovementKindSale         = "sale"
	MovementKindExtraPayment = "extra_payment"
	MovementKindPaidIn       = "paid_in"
	MovementKindPaidOut      = "paid_out"
)

const (
	ModifierKindRemoval  = "removal"
	ModifierKindAddition = "addition"
)

const (
	CatalogKindProduct = "product"
	CatalogKindBundle  = "bundle"
)

// CatalogItem is the read-only product/bundle definition owned by the
// external catalog service. The engine only resolves against it.
type CatalogItem struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Kind           string         `json:"kind"`
	BasePriceCents int64          `json:"base_price_cents"`
	VariantGroups  []VariantGroup `json:"variant_groups,omitempty"`
	Modifiers      []ModifierDef  `json:"modifiers,omitempty"`
	Components     []BundlePart   `json:"components,omitempty"`
	Active         bool           `json:"active"`
}

type VariantGroup struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Required bool            `json:"required"`
	Options  []VariantOption `json:"options"`
}

type VariantOption struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PriceDeltaCents int64  `json:"price_delta_cents"`
	InStock         bool   `json:"in_stock"`
}

type ModifierDef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Removable  bool   `json:"removable"`
	Addable    bool   `json:"addable"`
	PriceCents int64  `json:"price_cents"`
}

// BundlePart references one constituent product of a flat-priced bundle.
type BundlePart struct {
	ItemID string `json:"item_id"`
}

type ModifierSelection struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// PartSelection carries the modifier choices for one bundle constituent.
type PartSelection struct {
	ItemID             string              `json:"item_id"`
	RemovedModifierIDs []string            `json:"removed_modifier_ids,omitempty"`
	AddedModifiers     []ModifierSelection `json:"added_modifiers,omitempty"`
}

// LineItemRequest is the client's cart line. Prices are never read from it;
// the resolver recomputes everything from catalog data.
type LineItemRequest struct {
	CatalogID          string              `json:"catalog_id"`
	VariantID          string              `json:"variant_id,omitempty"`
	Quantity           int                 `json:"quantity"`
	RemovedModifierIDs []string            `json:"removed_modifier_ids,omitempty"`
	AddedModifiers     []ModifierSelection `json:"added_modifiers,omitempty"`
	Parts              []PartSelection     `json:"parts,omitempty"`
}

type AppliedModifier struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

type LinePart struct {
	ItemID    string            `json:"item_id"`
	Name      string            `json:"name"`
	Modifiers []AppliedModifier `json:"modifiers,omitempty"`
}

// LineItem is one fully resolved purchased unit, owned by its Order.
type LineItem struct {
	ID             string            `json:"id"`
	CatalogID      string            `json:"catalog_id"`
	Name           string            `json:"name"`
	VariantID      string            `json:"variant_id,omitempty"`
	VariantName    string            `json:"variant_name,omitempty"`
	Quantity       int               `json:"quantity"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	Modifiers      []AppliedModifier `json:"modifiers,omitempty"`
	Parts          []LinePart        `json:"parts,omitempty"`
	LineTotalCents int64             `json:"line_total_cents"`
}

// StockKey identifies the unit of availability: variant when one is
// selected, otherwise the catalog item itself.
func (li LineItem) StockKey() string {
	if li.VariantID != "" {
		return li.VariantID
	}
	return li.CatalogID
}

type FulfillmentTarget struct {
	TableRef        string `json:"table_ref,omitempty"`
	DeliveryAddress string `json:"delivery_address,omitempty"`
	Courier         string `json:"courier,omitempty"`
}

type Order struct {
	ID                string            `json:"id"`
	BranchID          string            `json:"branch_id"`
	SessionID         string            `json:"session_id"`
	EmployeeID        string            `json:"employee_id"`
	Type              string            `json:"type"`
	Fulfillment       FulfillmentTarget `json:"fulfillment"`
	Items             []LineItem        `json:"items"`
	SubtotalCents     int64             `json:"subtotal_cents"`
	TaxCents          int64             `json:"tax_cents"`
	DiscountCents     int64             `json:"discount_cents"`
	TotalCents        int64             `json:"total_cents"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentMethod     string            `json:"payment_method,omitempty"`
	PaymentReference  string            `json:"payment_reference,omitempty"`
	PaidCents         int64             `json:"paid_cents"`
	CashReceivedCents int64             `json:"cash_received_cents,omitempty"`
	ChangeCents       int64             `json:"change_cents,omitempty"`
	Version           int               `json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Terminal reports whether the order status absorbs all further mutation.
func (o Order) Terminal() bool {
	switch o.Status {
	case OrderStatusCompleted, OrderStatusPickedUp, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

func (o Order) Editable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusInProgress
}

// OrderEvent is one immutable timeline entry. Events are append-only and are
// never edited or deleted.
type OrderEvent struct {
	ID      string    `json:"id"`
	OrderID string    `json:"order_id"`
	Actor   string    `json:"actor"`
	Type    string    `json:"type"`
	Detail  string    `json:"detail"`
	At      time.Time `json:"at"`
}

// PendingEdit is a computed but not yet applied order edit awaiting extra
// payment capture. It carries the full replacement line set so applying it
// later cannot re-derive a different total.
type PendingEdit struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"order_id"`
	OrderVersion   int        `json:"order_version"`
	Items          []LineItem `json:"items"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	TaxCents       int64      `json:"tax_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	TotalCents     int64      `json:"total_cents"`
	AmountDueCents int64      `json:"amount_due_cents"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

type Session struct {
	ID                  string     `json:"id"`
	BranchID            string     `json:"branch_id"`
	EmployeeID          string     `json:"employee_id"`
	OpeningFloatCents   int64      `json:"opening_float_cents"`
	RunningBalanceCents int64      `json:"running_balance_cents"`
	Status              string     `json:"status"`
	OpenedAt            time.Time  `json:"opened_at"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
	ActualCashCents     *int64     `json:"actual_cash_cents,omitempty"`
	VarianceCents       *int64     `json:"variance_cents,omitempty"`
}

// CashMovement is one immutable entry in a session's cash ledger.
type CashMovement struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	DeltaCents int64     `json:"delta_cents"`
	Reference  string    `json:"reference,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	At         time.Time `json:"at"`
}

// BranchConfig is the currency/tax setup a branch must carry before it can
// sell anything.
type BranchConfig struct {
	BranchID        string `json:"branch_id"`
	CurrencyCode    string `json:"currency_code"`
	MinorUnits      int    `json:"minor_units"`
	TaxRateBasisPts int64  `json:"tax_rate_basis_points"`
}

// Employee is a directory record; the directory service owns it, the engine
// only verifies PINs against it.
type Employee struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	BranchID string `json:"branch_id"`
	Role     string `json:"role"`
	PINHash  string `json:"-"`
	Active   bool   `json:"active"`
}

// Actor is the unlocked terminal identity attached to mutating calls.
type Actor struct {
	EmployeeID string
	Name       string
	BranchID   string
	Role       string
}

// ---- request/response shapes ----

type OrderCreateRequest struct {
	BranchID          string            `json:"branch_id"`
	SessionID         string            `json:"session_id"`
	OrderType         string            `json:"order_type"`
	Fulfillment       FulfillmentTarget `json:"fulfillment"`
	Items             []LineItemRequest `json:"items"`
	DiscountCents     int64             `json:"discount_cents"`
	PaymentMethod     string            `json:"payment_method,omitempty"`
	PaymentReference  string            `json:"payment_reference,omitempty"`
	CashReceivedCents int64             `json:"cash_received_cents,omitempty"`
}

type LineItemModify struct {
	LineItemID string          `json:"line_item_id"`
	Request    LineItemRequest `json:"request"`
}

type OrderEditRequest struct {
	ItemsToAdd    []LineItemRequest `json:"items_to_add,omitempty"`
	ItemsToRemove []string          `json:"items_to_remove,omitempty"`
	ItemsToModify []LineItemModify  `json:"items_to_modify,omitempty"`
}

// OrderEditResult is either the updated order (edit applied immediately) or
// a pending extra payment descriptor, never both.
type OrderEditResult struct {
	Order          *Order               `json:"order,omitempty"`
	PendingPayment *PendingExtraPayment `json:"pending_extra_payment,omitempty"`
}

type PendingExtraPayment struct {
	PendingEditID  string    `json:"pending_edit_id"`
	OrderID        string    `json:"order_id"`
	AmountDueCents int64     `json:"amount_due_cents"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type PaymentRequest struct {
	PendingEditID     string `json:"pending_edit_id,omitempty"`
	Method            string `json:"method"`
	Reference         string `json:"reference,omitempty"`
	AmountCents       int64  `json:"amount_cents,omitempty"`
	CashReceivedCents int64  `json:"cash_received_cents,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type StatusChangeRequest struct {
	Status string `json:"status"`
}

type SessionOpenRequest struct {
	BranchID          string `json:"branch_id"`
	OpeningFloatCents int64  `json:"opening_float_cents"`
}

type CashMovementRequest struct {
	Kind        string `json:"kind"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type SessionSummary struct {
	SessionID           string    `json:"session_id"`
	BranchID            string    `json:"branch_id"`
	OpeningFloatCents   int64     `json:"opening_float_cents"`
	RunningBalanceCents int64     `json:"running_balance_cents"`
	OpenedAt            time.Time `json:"opened_at"`
}

type SessionCloseRequest struct {
	ActualCashCents int64 `json:"actual_cash_cents"`
}

type SessionCloseResult struct {
	SessionID         string `json:"session_id"`
	ExpectedCashCents int64  `json:"expected_cash_cents"`
	ActualCashCents   int64  `json:"actual_cash_cents"`
	VarianceCents     int64  `json:"variance_cents"`
}

type PinAuthRequest struct {
	BranchID string `json:"branch_id"`
	PIN      string `json:"pin"`
}

type PinAuthResponse struct {
	UnlockToken string `json:"unlock_token"`
	EmployeeID  string `json:"employee_id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}
