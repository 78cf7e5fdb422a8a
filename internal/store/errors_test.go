package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestInsufficientStockErrorIsValidation(t *testing.T) {
	var err error = &InsufficientStockError{
		ProductID: 4,
		Available: decimal.NewFromInt(7),
		Requested: decimal.NewFromInt(10),
	}
	err = fmt.Errorf("create sale: %w", err)

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock match")
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation match")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatalf("did not expect ErrConflict match")
	}

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected errors.As to find InsufficientStockError")
	}
	if !stockErr.Available.Equal(decimal.NewFromInt(7)) || !stockErr.Requested.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected quantities: %s/%s", stockErr.Available, stockErr.Requested)
	}
}

func TestSessionConflictErrorCarriesContext(t *testing.T) {
	openedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	err := error(&SessionConflictError{
		Reason:         "user already has an open cash session",
		SessionID:      12,
		CashRegisterID: 3,
		OpenedBy:       2,
		OpenedAt:       openedAt,
	})

	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict match")
	}
	want := "conflict: user already has an open cash session (session 12 on register 3, opened 2026-03-01T09:00:00Z)"
	if err.Error() != want {
		t.Fatalf("unexpected message:\n got %q\nwant %q", err.Error(), want)
	}
}
