package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/store"
)

// SubmitCashCount records a denomination count against the expected cash of
// an OPEN session. Counts are append-only and the latest one wins.
func (s *Service) SubmitCashCount(ctx context.Context, sessionID int64, req domain.CashCountRequest, userID int64) (domain.CashCount, error) {
	if err := requirePositiveID("session_id", sessionID); err != nil {
		return domain.CashCount{}, err
	}
	if len(req.Denominations) == 0 {
		return domain.CashCount{}, fmt.Errorf("%w: at least one denomination is required", store.ErrValidation)
	}
	if err := s.validateRequest(req); err != nil {
		return domain.CashCount{}, err
	}
	lines, total, err := countLines(req.Denominations)
	if err != nil {
		return domain.CashCount{}, err
	}
	canManage, err := s.canManageCash(ctx, userID)
	if err != nil {
		return domain.CashCount{}, err
	}

	var saved *domain.CashCount
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		session, err := tx.GetCashSession(ctx, sessionID)
		if err != nil {
			return wrapNotFound(err, "cash session %d", sessionID)
		}
		if err := assertSessionAccess(session, userID, canManage); err != nil {
			return err
		}
		if !session.IsOpen() {
			return fmt.Errorf("%w: cash session %d is closed", store.ErrInvalidState, session.ID)
		}

		expected, err := expectedCashIn(ctx, tx, session)
		if err != nil {
			return err
		}
		saved, err = tx.InsertCashCount(ctx, domain.CashCount{
			SessionID:     session.ID,
			CountedBy:     userID,
			TotalCounted:  total,
			ExpectedTotal: expected,
			Difference:    total.Sub(expected),
			CreatedAt:     s.now(),
			Denominations: lines,
		})
		return err
	})
	if err != nil {
		return domain.CashCount{}, err
	}

	logAudit("cash_count", userID).
		Int64("session_id", saved.SessionID).
		Str("total_counted", saved.TotalCounted.String()).
		Str("expected_total", saved.ExpectedTotal.String()).
		Str("difference", saved.Difference.String()).
		Msg("cash count submitted")
	return *saved, nil
}

func countLines(input []domain.CashCountLine) ([]domain.CashCountDenomination, decimal.Decimal, error) {
	lines := make([]domain.CashCountDenomination, 0, len(input))
	total := decimal.Zero
	anyCounted := false
	for i, line := range input {
		if !line.Denomination.IsPositive() {
			return nil, decimal.Zero, fmt.Errorf("%w: denominations[%d] must be greater than zero", store.ErrValidation, i)
		}
		if line.Quantity < 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: denominations[%d] quantity must not be negative", store.ErrValidation, i)
		}
		if line.Quantity > 0 {
			anyCounted = true
		}
		subtotal := line.Denomination.Mul(decimal.NewFromInt(line.Quantity))
		total = total.Add(subtotal)
		lines = append(lines, domain.CashCountDenomination{
			Denomination: line.Denomination,
			Quantity:     line.Quantity,
			Subtotal:     subtotal,
		})
	}
	if !anyCounted {
		return nil, decimal.Zero, fmt.Errorf("%w: at least one denomination must have a quantity", store.ErrValidation)
	}
	if !total.IsPositive() {
		return nil, decimal.Zero, fmt.Errorf("%w: counted total must be greater than zero", store.ErrValidation)
	}
	return lines, total, nil
}

func (s *Service) ListCashCounts(ctx context.Context, sessionID int64, userID int64) ([]domain.CashCount, error) {
	if err := requirePositiveID("session_id", sessionID); err != nil {
		return nil, err
	}
	canManage, err := s.canManageCash(ctx, userID)
	if err != nil {
		return nil, err
	}
	var counts []domain.CashCount
	err = s.store.View(ctx, func(tx store.Tx) error {
		session, err := tx.GetCashSession(ctx, sessionID)
		if err != nil {
			return wrapNotFound(err, "cash session %d", sessionID)
		}
		if err := assertSessionAccess(session, userID, canManage); err != nil {
			return err
		}
		counts, err = tx.ListCashCounts(ctx, session.ID)
		return err
	})
	return counts, err
}

// Denominations returns the configured bill catalog, largest first.
func (s *Service) Denominations() []decimal.Decimal {
	out := slices.Clone(s.policy.Denominations)
	slices.SortFunc(out, func(a, b decimal.Decimal) int { return b.Cmp(a) })
	return out
}
