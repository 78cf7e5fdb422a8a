package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/money"
	"github.com/Paisa224/ferreteria/internal/store"
)

const minConceptLength = 3

func (s *Service) OpenCashSession(ctx context.Context, req domain.CashSessionOpenRequest, userID int64) (domain.CashSession, error) {
	if err := requirePositiveID("user_id", userID); err != nil {
		return domain.CashSession{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.CashSession{}, err
	}
	if req.OpeningAmount.IsNegative() {
		return domain.CashSession{}, fmt.Errorf("%w: opening_amount must not be negative", store.ErrValidation)
	}
	if !money.IsWholeCurrency(req.OpeningAmount) {
		return domain.CashSession{}, fmt.Errorf("%w: opening_amount must be a whole currency amount", store.ErrValidation)
	}

	var opened *domain.CashSession
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		mine, err := tx.FindOpenSessionByUser(ctx, userID)
		switch {
		case err == nil:
			return &store.SessionConflictError{
				Reason:         "user already has an open cash session",
				SessionID:      mine.ID,
				CashRegisterID: mine.CashRegisterID,
				OpenedBy:       mine.OpenedBy,
				OpenedAt:       mine.OpenedAt,
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		register, err := tx.GetCashRegister(ctx, req.CashRegisterID)
		if err != nil {
			return wrapNotFound(err, "cash register %d", req.CashRegisterID)
		}
		if !register.Active {
			return fmt.Errorf("%w: cash register %d is inactive", store.ErrNotFound, register.ID)
		}

		busy, err := tx.FindOpenSessionByRegister(ctx, register.ID)
		switch {
		case err == nil:
			return &store.SessionConflictError{
				Reason:         "cash register already has an open session",
				SessionID:      busy.ID,
				CashRegisterID: busy.CashRegisterID,
				OpenedBy:       busy.OpenedBy,
				OpenedAt:       busy.OpenedAt,
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		opened, err = tx.CreateCashSession(ctx, domain.CashSession{
			CashRegisterID: register.ID,
			OpenedBy:       userID,
			Status:         domain.CashSessionOpen,
			OpeningAmount:  req.OpeningAmount,
			OpenedAt:       s.now(),
		})
		return err
	})
	if err != nil {
		return domain.CashSession{}, err
	}

	logAudit("cash_session_open", userID).
		Int64("session_id", opened.ID).
		Int64("cash_register_id", opened.CashRegisterID).
		Str("opening_amount", opened.OpeningAmount.String()).
		Msg("cash session opened")
	return *opened, nil
}

func (s *Service) CloseCashSession(ctx context.Context, sessionID int64, req domain.CashSessionCloseRequest, userID int64) (domain.CashSession, error) {
	if err := requirePositiveID("session_id", sessionID); err != nil {
		return domain.CashSession{}, err
	}
	if req.ClosingAmount != nil {
		if req.ClosingAmount.IsNegative() {
			return domain.CashSession{}, fmt.Errorf("%w: closing_amount must not be negative", store.ErrValidation)
		}
		if !money.IsWholeCurrency(*req.ClosingAmount) {
			return domain.CashSession{}, fmt.Errorf("%w: closing_amount must be a whole currency amount", store.ErrValidation)
		}
	}
	canManage, err := s.canManageCash(ctx, userID)
	if err != nil {
		return domain.CashSession{}, err
	}

	var closed *domain.CashSession
	var count *domain.CashCount
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		session, err := tx.GetCashSession(ctx, sessionID)
		if err != nil {
			return wrapNotFound(err, "cash session %d", sessionID)
		}
		if err := assertSessionAccess(session, userID, canManage); err != nil {
			return err
		}
		if !session.IsOpen() {
			return fmt.Errorf("%w: cash session %d is already closed", store.ErrInvalidState, session.ID)
		}

		count, err = tx.LatestCashCount(ctx, session.ID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: cash count required before close", store.ErrInvalidState)
		}
		if err != nil {
			return err
		}

		closingAmount := count.TotalCounted
		if req.ClosingAmount != nil {
			closingAmount = *req.ClosingAmount
		}
		closedAt := s.now()
		closedBy := userID
		countID := count.ID

		session.ClosedBy = &closedBy
		session.ClosedAt = &closedAt
		session.ClosingAmount = &closingAmount
		session.ClosedWithCashCountID = &countID
		closed, err = tx.CloseCashSession(ctx, *session)
		return err
	})
	if err != nil {
		return domain.CashSession{}, err
	}

	logAudit("cash_session_close", userID).
		Int64("session_id", closed.ID).
		Int64("cash_count_id", count.ID).
		Str("closing_amount", closed.ClosingAmount.String()).
		Str("difference", count.Difference.String()).
		Msg("cash session closed")
	return *closed, nil
}

func (s *Service) RecordCashMovement(ctx context.Context, sessionID int64, req domain.CashMovementRequest, userID int64) (domain.CashMovement, error) {
	if err := requirePositiveID("session_id", sessionID); err != nil {
		return domain.CashMovement{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.CashMovement{}, err
	}
	concept := strings.TrimSpace(req.Concept)
	if utf8.RuneCountInString(concept) < minConceptLength {
		return domain.CashMovement{}, fmt.Errorf("%w: concept must have at least %d characters", store.ErrValidation, minConceptLength)
	}
	if !req.Amount.IsPositive() {
		return domain.CashMovement{}, fmt.Errorf("%w: amount must be greater than zero", store.ErrValidation)
	}
	if !money.IsWholeCurrency(req.Amount) {
		return domain.CashMovement{}, fmt.Errorf("%w: amount must be a whole currency amount", store.ErrValidation)
	}
	canManage, err := s.canManageCash(ctx, userID)
	if err != nil {
		return domain.CashMovement{}, err
	}

	var saved *domain.CashMovement
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

		saved, err = tx.InsertCashMovement(ctx, domain.CashMovement{
			SessionID: session.ID,
			Kind:      req.Kind,
			Concept:   concept,
			Amount:    req.Amount,
			Reference: strings.TrimSpace(req.Reference),
			CreatedBy: userID,
			CreatedAt: s.now(),
		})
		return err
	})
	if err != nil {
		return domain.CashMovement{}, err
	}

	logAudit("cash_movement", userID).
		Int64("session_id", saved.SessionID).
		Str("type", string(saved.Kind)).
		Str("amount", saved.Amount.String()).
		Msg("cash movement recorded")
	return *saved, nil
}

// GetExpectedCash aggregates the session ledger fresh on every call.
func (s *Service) GetExpectedCash(ctx context.Context, sessionID int64) (domain.CashSummary, error) {
	if err := requirePositiveID("session_id", sessionID); err != nil {
		return domain.CashSummary{}, err
	}
	var summary domain.CashSummary
	err := s.store.View(ctx, func(tx store.Tx) error {
		session, err := tx.GetCashSession(ctx, sessionID)
		if err != nil {
			return wrapNotFound(err, "cash session %d", sessionID)
		}
		summary, err = summarizeSession(ctx, tx, session)
		return err
	})
	return summary, err
}

// GetCashSummary is GetExpectedCash with the session access rule applied.
func (s *Service) GetCashSummary(ctx context.Context, sessionID int64, userID int64) (domain.CashSummary, error) {
	if err := requirePositiveID("session_id", sessionID); err != nil {
		return domain.CashSummary{}, err
	}
	canManage, err := s.canManageCash(ctx, userID)
	if err != nil {
		return domain.CashSummary{}, err
	}
	var summary domain.CashSummary
	err = s.store.View(ctx, func(tx store.Tx) error {
		session, err := tx.GetCashSession(ctx, sessionID)
		if err != nil {
			return wrapNotFound(err, "cash session %d", sessionID)
		}
		if err := assertSessionAccess(session, userID, canManage); err != nil {
			return err
		}
		summary, err = summarizeSession(ctx, tx, session)
		return err
	})
	return summary, err
}

func summarizeSession(ctx context.Context, tx store.Tx, session *domain.CashSession) (domain.CashSummary, error) {
	sumIn, sumOut, err := tx.CashMovementSums(ctx, session.ID)
	if err != nil {
		return domain.CashSummary{}, err
	}
	return domain.CashSummary{
		SessionID:     session.ID,
		Status:        session.Status,
		OpeningAmount: session.OpeningAmount,
		SumIn:         sumIn,
		SumOut:        sumOut,
		Expected:      domain.ExpectedCash(session.OpeningAmount, sumIn, sumOut),
		OpenedAt:      session.OpenedAt,
	}, nil
}

func (s *Service) ListCashMovements(ctx context.Context, sessionID int64, userID int64) ([]domain.CashMovement, error) {
	if err := requirePositiveID("session_id", sessionID); err != nil {
		return nil, err
	}
	canManage, err := s.canManageCash(ctx, userID)
	if err != nil {
		return nil, err
	}
	var items []domain.CashMovement
	err = s.store.View(ctx, func(tx store.Tx) error {
		session, err := tx.GetCashSession(ctx, sessionID)
		if err != nil {
			return wrapNotFound(err, "cash session %d", sessionID)
		}
		if err := assertSessionAccess(session, userID, canManage); err != nil {
			return err
		}
		items, err = tx.ListCashMovements(ctx, session.ID)
		return err
	})
	return items, err
}

// GetCashSession returns the session with its register, its ledger summary
// and the most recent count, if any.
func (s *Service) GetCashSession(ctx context.Context, sessionID int64, userID int64) (domain.CashSessionDetail, error) {
	if err := requirePositiveID("session_id", sessionID); err != nil {
		return domain.CashSessionDetail{}, err
	}
	canManage, err := s.canManageCash(ctx, userID)
	if err != nil {
		return domain.CashSessionDetail{}, err
	}

	var detail domain.CashSessionDetail
	err = s.store.View(ctx, func(tx store.Tx) error {
		session, err := tx.GetCashSession(ctx, sessionID)
		if err != nil {
			return wrapNotFound(err, "cash session %d", sessionID)
		}
		if err := assertSessionAccess(session, userID, canManage); err != nil {
			return err
		}
		register, err := tx.GetCashRegister(ctx, session.CashRegisterID)
		if err != nil {
			return err
		}
		summary, err := summarizeSession(ctx, tx, session)
		if err != nil {
			return err
		}
		last, err := tx.LatestCashCount(ctx, session.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		detail = domain.CashSessionDetail{
			Session:   *session,
			Register:  *register,
			Summary:   summary,
			LastCount: last,
		}
		return nil
	})
	return detail, err
}

// MyOpenSession returns nil when the user has no OPEN session.
func (s *Service) MyOpenSession(ctx context.Context, userID int64) (*domain.CashSession, error) {
	var session *domain.CashSession
	err := s.store.View(ctx, func(tx store.Tx) error {
		found, err := tx.FindOpenSessionByUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		session = found
		return err
	})
	return session, err
}

func (s *Service) CurrentOpenSessions(ctx context.Context) ([]domain.CashSession, error) {
	var sessions []domain.CashSession
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		sessions, err = tx.ListOpenSessions(ctx)
		return err
	})
	return sessions, err
}

func expectedCashIn(ctx context.Context, tx store.Tx, session *domain.CashSession) (decimal.Decimal, error) {
	summary, err := summarizeSession(ctx, tx, session)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.Expected, nil
}
