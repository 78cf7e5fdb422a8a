package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/store"
)

const minRegisterNameLength = 2

func normalizeRegisterName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < minRegisterNameLength {
		return "", fmt.Errorf("%w: name must have at least %d characters", store.ErrValidation, minRegisterNameLength)
	}
	return name, nil
}

func (s *Service) CreateCashRegister(ctx context.Context, req domain.CashRegisterCreateRequest, userID int64) (domain.CashRegister, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.CashRegister{}, err
	}
	name, err := normalizeRegisterName(req.Name)
	if err != nil {
		return domain.CashRegister{}, err
	}

	var created *domain.CashRegister
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.CreateCashRegister(ctx, domain.CashRegister{
			Name:      name,
			Active:    true,
			CreatedAt: s.now(),
		})
		return err
	})
	if err != nil {
		return domain.CashRegister{}, err
	}

	logAudit("cash_register_create", userID).Int64("cash_register_id", created.ID).Str("name", created.Name).Msg("cash register created")
	return *created, nil
}

func (s *Service) ListCashRegisters(ctx context.Context) ([]domain.CashRegister, error) {
	var registers []domain.CashRegister
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		registers, err = tx.ListCashRegisters(ctx)
		return err
	})
	return registers, err
}

// UpdateCashRegister renames or toggles a register. A register with an OPEN
// session cannot be deactivated.
func (s *Service) UpdateCashRegister(ctx context.Context, registerID int64, req domain.CashRegisterUpdateRequest, userID int64) (domain.CashRegister, error) {
	if err := requirePositiveID("cash_register_id", registerID); err != nil {
		return domain.CashRegister{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.CashRegister{}, err
	}
	var newName string
	if req.Name != nil {
		name, err := normalizeRegisterName(*req.Name)
		if err != nil {
			return domain.CashRegister{}, err
		}
		newName = name
	}

	var updated *domain.CashRegister
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		register, err := tx.GetCashRegister(ctx, registerID)
		if err != nil {
			return wrapNotFound(err, "cash register %d", registerID)
		}

		if req.Active != nil && !*req.Active && register.Active {
			open, err := tx.FindOpenSessionByRegister(ctx, register.ID)
			switch {
			case err == nil:
				return &store.SessionConflictError{
					Reason:         "cannot deactivate a cash register with an open session",
					SessionID:      open.ID,
					CashRegisterID: open.CashRegisterID,
					OpenedBy:       open.OpenedBy,
					OpenedAt:       open.OpenedAt,
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		next := *register
		if req.Name != nil {
			next.Name = newName
		}
		if req.Active != nil {
			next.Active = *req.Active
		}
		updated, err = tx.UpdateCashRegister(ctx, next)
		return err
	})
	if err != nil {
		return domain.CashRegister{}, err
	}

	logAudit("cash_register_update", userID).
		Int64("cash_register_id", updated.ID).
		Str("name", updated.Name).
		Bool("is_active", updated.Active).
		Msg("cash register updated")
	return *updated, nil
}
