package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/store"
)

func TestAtomicallyRollsBackOnError(t *testing.T) {
	s := New()
	product := s.AddProduct(domain.Product{Name: "Tornillo", Unit: "un", TracksStock: true, Active: true})
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomically(ctx, func(tx store.Tx) error {
		if _, err := tx.InsertStockMovement(ctx, domain.StockMovement{
			ProductID: product.ID,
			Kind:      domain.StockIn,
			Qty:       decimal.NewFromInt(5),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	assertStock(t, s, product.ID, 0)
}

func TestAtomicallyRollsBackOnPanic(t *testing.T) {
	s := New()
	product := s.AddProduct(domain.Product{Name: "Tuerca", Unit: "UN", TracksStock: true, Active: true})
	ctx := context.Background()

	func() {
		defer func() { _ = recover() }()
		_ = s.Atomically(ctx, func(tx store.Tx) error {
			_, _ = tx.InsertStockMovement(ctx, domain.StockMovement{
				ProductID: product.ID,
				Kind:      domain.StockIn,
				Qty:       decimal.NewFromInt(3),
			})
			panic("unexpected")
		})
	}()

	assertStock(t, s, product.ID, 0)

	// the lock must have been released
	if err := s.Atomically(ctx, func(store.Tx) error { return nil }); err != nil {
		t.Fatalf("expected store to stay usable, got %v", err)
	}
}

func TestAtomicallyCommitsOnSuccess(t *testing.T) {
	s := New()
	product := s.AddProduct(domain.Product{Name: "Arandela", Unit: "UN", TracksStock: true, Active: true})
	ctx := context.Background()

	err := s.Atomically(ctx, func(tx store.Tx) error {
		for _, m := range []domain.StockMovement{
			{ProductID: product.ID, Kind: domain.StockIn, Qty: decimal.NewFromInt(10)},
			{ProductID: product.ID, Kind: domain.StockSale, Qty: decimal.NewFromInt(3)},
		} {
			if _, err := tx.InsertStockMovement(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("atomically failed: %v", err)
	}

	assertStock(t, s, product.ID, 7)
}

func TestViewRejectsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.View(ctx, func(tx store.Tx) error {
		_, err := tx.CreateCashRegister(ctx, domain.CashRegister{Name: "Caja 9", Active: true})
		return err
	})
	if !errors.Is(err, errReadOnly) {
		t.Fatalf("expected read-only error, got %v", err)
	}
}

func TestCreateCashSessionEnforcesOneOpenPerRegisterAndUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	var first, second *domain.CashRegister
	err := s.Atomically(ctx, func(tx store.Tx) error {
		var err error
		if first, err = tx.CreateCashRegister(ctx, domain.CashRegister{Name: "Caja 1", Active: true}); err != nil {
			return err
		}
		second, err = tx.CreateCashRegister(ctx, domain.CashRegister{Name: "Caja 2", Active: true})
		return err
	})
	if err != nil {
		t.Fatalf("create registers: %v", err)
	}

	open := func(registerID, userID int64) error {
		return s.Atomically(ctx, func(tx store.Tx) error {
			_, err := tx.CreateCashSession(ctx, domain.CashSession{CashRegisterID: registerID, OpenedBy: userID, OpeningAmount: decimal.Zero})
			return err
		})
	}

	if err := open(first.ID, 1); err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if err := open(first.ID, 2); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected register conflict, got %v", err)
	}
	if err := open(second.ID, 1); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected user conflict, got %v", err)
	}
	if err := open(second.ID, 2); err != nil {
		t.Fatalf("second register for another user should open, got %v", err)
	}
}

func TestCreateCashRegisterRejectsDuplicateName(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.Atomically(ctx, func(tx store.Tx) error {
		if _, err := tx.CreateCashRegister(ctx, domain.CashRegister{Name: "Caja 1", Active: true}); err != nil {
			return err
		}
		_, err := tx.CreateCashRegister(ctx, domain.CashRegister{Name: "Caja 1", Active: true})
		return err
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSeededUsersAndRegisters(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	dir := store.NewUserDirectory(s)

	admin, err := dir.GetUserByUsername(ctx, " Admin ")
	if err != nil {
		t.Fatalf("lookup admin: %v", err)
	}
	if len(admin.Roles) != 1 || admin.Roles[0] != domain.RoleSuperAdmin {
		t.Fatalf("unexpected admin roles %v", admin.Roles)
	}

	err = s.View(ctx, func(tx store.Tx) error {
		registers, err := tx.ListCashRegisters(ctx)
		if err != nil {
			return err
		}
		if len(registers) != 2 || registers[0].Name != "Caja 1" {
			t.Fatalf("unexpected registers %+v", registers)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func assertStock(t *testing.T, s *Store, productID int64, want int64) {
	t.Helper()
	ctx := context.Background()
	err := s.View(ctx, func(tx store.Tx) error {
		sums, err := tx.StockSums(ctx, []int64{productID})
		if err != nil {
			return err
		}
		if got := sums[productID].Current(); !got.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("expected stock %d, got %s", want, got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
