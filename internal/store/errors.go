package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid state")
)

// InsufficientStockError matches both ErrInsufficientStock and ErrValidation.
type InsufficientStockError struct {
	ProductID int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available=%s requested=%s",
		e.ProductID, e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock || target == ErrValidation
}

// SessionConflictError describes the OPEN session that blocked an open
// request, so the caller can resolve it without polling.
type SessionConflictError struct {
	Reason         string
	SessionID      int64
	CashRegisterID int64
	OpenedBy       int64
	OpenedAt       time.Time
}

func (e *SessionConflictError) Error() string {
	if e.SessionID == 0 {
		return fmt.Sprintf("conflict: %s", e.Reason)
	}
	return fmt.Sprintf("conflict: %s (session %d on register %d, opened %s)",
		e.Reason, e.SessionID, e.CashRegisterID, e.OpenedAt.UTC().Format(time.RFC3339))
}

func (e *SessionConflictError) Is(target error) bool {
	return target == ErrConflict
}
