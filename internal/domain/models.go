package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Capability string

const (
	CapInventoryManage Capability = "inventory.manage"
	CapCashManage      Capability = "cash.manage"
	CapCashOpen        Capability = "cash.open"
	CapCashClose       Capability = "cash.close"
	CapCashMove        Capability = "cash.move"
	CapCashCount       Capability = "cash.count"
	CapPOSSell         Capability = "pos.sell"
)

const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleVendedor   = "VENDEDOR"
)

type Product struct {
	ID          int64           `json:"id"`
	SKU         string          `json:"sku,omitempty"`
	Barcode     string          `json:"barcode,omitempty"`
	Name        string          `json:"name"`
	Unit        string          `json:"unit"`
	Cost        decimal.Decimal `json:"cost"`
	Price       decimal.Decimal `json:"price"`
	TracksStock bool            `json:"track_stock"`
	Active      bool            `json:"is_active"`
}

type StockMovementKind string

const (
	StockIn     StockMovementKind = "IN"
	StockOut    StockMovementKind = "OUT"
	StockAdjust StockMovementKind = "ADJUST"
	StockSale   StockMovementKind = "SALE"
	StockReturn StockMovementKind = "RETURN"
)

// StockMovement is one append-only ledger row. Qty is a positive magnitude
// for every kind except ADJUST, which stores the signed delta.
type StockMovement struct {
	ID        int64             `json:"id"`
	ProductID int64             `json:"product_id"`
	Kind      StockMovementKind `json:"type"`
	Qty       decimal.Decimal   `json:"qty"`
	Note      string            `json:"note,omitempty"`
	SaleID    *int64            `json:"sale_id,omitempty"`
	CreatedBy int64             `json:"created_by"`
	CreatedAt time.Time         `json:"created_at"`
}

type StockMovementRequest struct {
	ProductID int64             `json:"product_id" validate:"required,gt=0"`
	Kind      StockMovementKind `json:"type" validate:"required,oneof=IN OUT ADJUST"`
	Qty       decimal.Decimal   `json:"qty"`
	Note      string            `json:"note,omitempty" validate:"max=255"`
}

type StockMovementResponse struct {
	Movement StockMovement   `json:"movement"`
	Stock    decimal.Decimal `json:"stock"`
}

type ProductStock struct {
	ProductID   int64            `json:"product_id"`
	TracksStock bool             `json:"track_stock"`
	Stock       *decimal.Decimal `json:"stock"`
}

type StockMovementFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

type StockMovementList struct {
	Items []StockMovement `json:"items"`
	Total int             `json:"total"`
}

type CashRegister struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type CashRegisterCreateRequest struct {
	Name string `json:"name" validate:"required,max=80"`
}

type CashRegisterUpdateRequest struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,max=80"`
	Active *bool   `json:"is_active,omitempty"`
}

type CashSessionStatus string

const (
	CashSessionOpen   CashSessionStatus = "OPEN"
	CashSessionClosed CashSessionStatus = "CLOSED"
)

type CashSession struct {
	ID                    int64             `json:"id"`
	CashRegisterID        int64             `json:"cash_register_id"`
	OpenedBy              int64             `json:"opened_by"`
	Status                CashSessionStatus `json:"status"`
	OpeningAmount         decimal.Decimal   `json:"opening_amount"`
	OpenedAt              time.Time         `json:"opened_at"`
	ClosedBy              *int64            `json:"closed_by,omitempty"`
	ClosedAt              *time.Time        `json:"closed_at,omitempty"`
	ClosingAmount         *decimal.Decimal  `json:"closing_amount,omitempty"`
	ClosedWithCashCountID *int64            `json:"closed_with_cash_count_id,omitempty"`
}

func (s CashSession) IsOpen() bool {
	return s.Status == CashSessionOpen
}

type CashSessionOpenRequest struct {
	CashRegisterID int64           `json:"cash_register_id" validate:"required,gt=0"`
	OpeningAmount  decimal.Decimal `json:"opening_amount"`
}

type CashSessionCloseRequest struct {
	ClosingAmount *decimal.Decimal `json:"closing_amount,omitempty"`
}

type CashSessionDetail struct {
	Session   CashSession  `json:"session"`
	Register  CashRegister `json:"register"`
	Summary   CashSummary  `json:"summary"`
	LastCount *CashCount   `json:"last_count,omitempty"`
}

type CashMovementKind string

const (
	CashIn  CashMovementKind = "IN"
	CashOut CashMovementKind = "OUT"
)

type CashMovement struct {
	ID        int64            `json:"id"`
	SessionID int64            `json:"cash_session_id"`
	Kind      CashMovementKind `json:"type"`
	Concept   string           `json:"concept"`
	Amount    decimal.Decimal  `json:"amount"`
	Reference string           `json:"reference,omitempty"`
	CreatedBy int64            `json:"created_by"`
	CreatedAt time.Time        `json:"created_at"`
}

type CashMovementRequest struct {
	Kind      CashMovementKind `json:"type" validate:"required,oneof=IN OUT"`
	Concept   string           `json:"concept" validate:"required,max=160"`
	Amount    decimal.Decimal  `json:"amount"`
	Reference string           `json:"reference,omitempty" validate:"max=120"`
}

type CashSummary struct {
	SessionID     int64             `json:"session_id"`
	Status        CashSessionStatus `json:"status"`
	OpeningAmount decimal.Decimal   `json:"opening_amount"`
	SumIn         decimal.Decimal   `json:"sum_in"`
	SumOut        decimal.Decimal   `json:"sum_out"`
	Expected      decimal.Decimal   `json:"expected_cash"`
	OpenedAt      time.Time         `json:"opened_at"`
}

type CashCount struct {
	ID            int64                   `json:"id"`
	SessionID     int64                   `json:"cash_session_id"`
	CountedBy     int64                   `json:"counted_by"`
	TotalCounted  decimal.Decimal         `json:"total_counted"`
	ExpectedTotal decimal.Decimal         `json:"expected_total"`
	Difference    decimal.Decimal         `json:"difference"`
	CreatedAt     time.Time               `json:"created_at"`
	Denominations []CashCountDenomination `json:"denominations"`
}

type CashCountDenomination struct {
	Denomination decimal.Decimal `json:"denomination"`
	Quantity     int64           `json:"qty"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type CashCountLine struct {
	Denomination decimal.Decimal `json:"denomination"`
	Quantity     int64           `json:"qty" validate:"gte=0"`
}

type CashCountRequest struct {
	Denominations []CashCountLine `json:"denominations" validate:"required,min=1,dive"`
}

type SaleStatus string

const (
	SaleDraft     SaleStatus = "DRAFT"
	SalePaid      SaleStatus = "PAID"
	SaleCancelled SaleStatus = "CANCELLED"
)

type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "CASH"
	PaymentQR         PaymentMethod = "QR"
	PaymentCardCredit PaymentMethod = "CARD_CREDIT"
	PaymentCardDebit  PaymentMethod = "CARD_DEBIT"
	PaymentTransfer   PaymentMethod = "TRANSFER"
)

type Sale struct {
	ID            int64           `json:"id"`
	CashSessionID int64           `json:"cash_session_id"`
	Status        SaleStatus      `json:"status"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Note          string          `json:"note,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []SaleItem      `json:"items"`
	Payments      []SalePayment   `json:"payments"`
}

// Change is what the cashier hands back. It is displayed, never ledgered.
func (s Sale) Change() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range s.Payments {
		paid = paid.Add(p.Amount)
	}
	if paid.LessThanOrEqual(s.Total) {
		return decimal.Zero
	}
	return paid.Sub(s.Total)
}

type SaleItem struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type SalePayment struct {
	ID        int64           `json:"id"`
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

type SaleLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"price"`
}

type SalePaymentRequest struct {
	Method    PaymentMethod   `json:"method" validate:"required,oneof=CASH QR CARD_CREDIT CARD_DEBIT TRANSFER"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty" validate:"max=120"`
}

type SaleRequest struct {
	Items        []SaleLineRequest    `json:"items" validate:"required,min=1,dive"`
	Payments     []SalePaymentRequest `json:"payments" validate:"required,min=1,dive"`
	Discount     decimal.Decimal      `json:"discount"`
	CustomerName string               `json:"customer_name,omitempty" validate:"max=120"`
	Note         string               `json:"note,omitempty" validate:"max=255"`
}

type UserAccount struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Password  string    `json:"-"`
	Roles     []string  `json:"roles"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	UserID   int64
	Username string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	UserID      int64    `json:"user_id"`
	Roles       []string `json:"roles"`
	ExpiresAt   string   `json:"expires_at"`
}
