package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Paisa224/ferreteria/internal/domain"
)

// Store hands out transactional handles. Atomically commits when fn returns
// nil and rolls back on any error or panic. View runs fn against a read-only
// snapshot.
type Store interface {
	Atomically(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and appends available inside one atomic unit.
// Lookups of a single row return ErrNotFound when nothing matches. Inside a
// write unit, products, registers and sessions are returned locked until the
// unit ends.
type Tx interface {
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)

	StockSums(ctx context.Context, productIDs []int64) (map[int64]domain.StockSums, error)
	InsertStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)
	ListStockMovements(ctx context.Context, productID int64, filter domain.StockMovementFilter) ([]domain.StockMovement, int, error)

	CreateCashRegister(ctx context.Context, register domain.CashRegister) (*domain.CashRegister, error)
	GetCashRegister(ctx context.Context, id int64) (*domain.CashRegister, error)
	ListCashRegisters(ctx context.Context) ([]domain.CashRegister, error)
	UpdateCashRegister(ctx context.Context, register domain.CashRegister) (*domain.CashRegister, error)

	CreateCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	GetCashSession(ctx context.Context, id int64) (*domain.CashSession, error)
	FindOpenSessionByUser(ctx context.Context, userID int64) (*domain.CashSession, error)
	FindOpenSessionByRegister(ctx context.Context, registerID int64) (*domain.CashSession, error)
	ListOpenSessions(ctx context.Context) ([]domain.CashSession, error)
	// CloseCashSession persists the closing fields of an OPEN session and
	// returns ErrInvalidState if it is no longer open.
	CloseCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)

	InsertCashMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error)
	CashMovementSums(ctx context.Context, sessionID int64) (sumIn decimal.Decimal, sumOut decimal.Decimal, err error)
	ListCashMovements(ctx context.Context, sessionID int64) ([]domain.CashMovement, error)

	InsertCashCount(ctx context.Context, count domain.CashCount) (*domain.CashCount, error)
	LatestCashCount(ctx context.Context, sessionID int64) (*domain.CashCount, error)
	ListCashCounts(ctx context.Context, sessionID int64) ([]domain.CashCount, error)

	InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)

	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUserByID(ctx context.Context, id int64) (*domain.UserAccount, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
}

// UserDirectory reads accounts in short read-only units, for callers that
// sit outside the core's transactions (login, capability checks).
type UserDirectory struct {
	store Store
}

func NewUserDirectory(st Store) *UserDirectory {
	return &UserDirectory{store: st}
}

func (d *UserDirectory) GetUserByID(ctx context.Context, id int64) (*domain.UserAccount, error) {
	var user *domain.UserAccount
	err := d.store.View(ctx, func(tx Tx) error {
		var err error
		user, err = tx.GetUserByID(ctx, id)
		return err
	})
	return user, err
}

func (d *UserDirectory) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user *domain.UserAccount
	err := d.store.View(ctx, func(tx Tx) error {
		var err error
		user, err = tx.GetUserByUsername(ctx, username)
		return err
	})
	return user, err
}
