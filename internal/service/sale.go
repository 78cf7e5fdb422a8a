package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/money"
	"github.com/Paisa224/ferreteria/internal/store"
)

// CreateSale checks the cart, the payments and the stock of tracked
// products, then writes the sale, its SALE movements and the cash inflow in
// one unit.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest, userID int64) (domain.Sale, error) {
	if err := requirePositiveID("user_id", userID); err != nil {
		return domain.Sale{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Sale{}, err
	}

	var created *domain.Sale
	var cashIn decimal.Decimal
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		session, err := tx.FindOpenSessionByUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: no open cash session for this user", store.ErrInvalidState)
		}
		if err != nil {
			return err
		}

		products, err := tx.GetProductsByIDs(ctx, uniqueProductIDs(req.Items))
		if err != nil {
			return err
		}

		items, subtotal, err := priceLines(req.Items, products)
		if err != nil {
			return err
		}

		discount := req.Discount
		if discount.IsNegative() {
			return fmt.Errorf("%w: discount must not be negative", store.ErrValidation)
		}
		if !money.IsWholeCurrency(discount) {
			return fmt.Errorf("%w: discount must be a whole currency amount", store.ErrValidation)
		}
		total := subtotal.Sub(discount)
		if !total.IsPositive() {
			return fmt.Errorf("%w: sale total must be greater than zero", store.ErrValidation)
		}

		payments, cashSum, err := s.checkPayments(req.Payments, total)
		if err != nil {
			return err
		}

		if err := checkStock(ctx, tx, items, products); err != nil {
			return err
		}

		sale, err := tx.InsertSale(ctx, domain.Sale{
			CashSessionID: session.ID,
			Status:        domain.SalePaid,
			CustomerName:  strings.TrimSpace(req.CustomerName),
			Note:          strings.TrimSpace(req.Note),
			Subtotal:      subtotal,
			Discount:      discount,
			Total:         total,
			CreatedBy:     userID,
			CreatedAt:     s.now(),
			Items:         items,
			Payments:      payments,
		})
		if err != nil {
			return err
		}

		label := "Sale #" + strconv.FormatInt(sale.ID, 10)
		saleID := sale.ID
		for _, item := range sale.Items {
			if !products[item.ProductID].TracksStock {
				continue
			}
			if _, err := tx.InsertStockMovement(ctx, domain.StockMovement{
				ProductID: item.ProductID,
				Kind:      domain.StockSale,
				Qty:       item.Qty,
				Note:      label,
				SaleID:    &saleID,
				CreatedBy: userID,
				CreatedAt: sale.CreatedAt,
			}); err != nil {
				return err
			}
		}

		if cashSum.IsPositive() {
			if _, err := tx.InsertCashMovement(ctx, domain.CashMovement{
				SessionID: session.ID,
				Kind:      domain.CashIn,
				Concept:   label,
				Amount:    cashSum,
				Reference: strconv.FormatInt(sale.ID, 10),
				CreatedBy: userID,
				CreatedAt: sale.CreatedAt,
			}); err != nil {
				return err
			}
		}

		created = sale
		cashIn = cashSum
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	if err := s.saleCache.Set(ctx, created, s.policy.SaleCacheTTL); err != nil {
		log.Warn().Err(err).Str("component", "service").Int64("sale_id", created.ID).Msg("failed to cache sale")
	}

	logAudit("sale_create", userID).
		Int64("sale_id", created.ID).
		Int64("session_id", created.CashSessionID).
		Str("total", created.Total.String()).
		Str("cash_in", cashIn.String()).
		Int("items", len(created.Items)).
		Msg("sale created")
	return *created, nil
}

func uniqueProductIDs(lines []domain.SaleLineRequest) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func priceLines(lines []domain.SaleLineRequest, products map[int64]domain.Product) ([]domain.SaleItem, decimal.Decimal, error) {
	items := make([]domain.SaleItem, 0, len(lines))
	subtotal := decimal.Zero
	for i, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || !product.Active {
			return nil, decimal.Zero, fmt.Errorf("%w: product %d does not exist or is inactive", store.ErrNotFound, line.ProductID)
		}
		qty, err := money.NormalizeQuantity(product.Unit, line.Qty)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d]: %v", store.ErrValidation, i, err)
		}
		if line.UnitPrice.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d]: price must not be negative", store.ErrValidation, i)
		}
		if !money.FitsPricePrecision(line.UnitPrice) {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d]: price allows at most %d decimals", store.ErrValidation, i, money.PricePlaces)
		}
		lineTotal := money.RoundCurrency(qty.Mul(line.UnitPrice))
		subtotal = subtotal.Add(lineTotal)
		items = append(items, domain.SaleItem{
			ProductID: product.ID,
			Qty:       qty,
			UnitPrice: line.UnitPrice,
			Subtotal:  lineTotal,
		})
	}
	return items, subtotal, nil
}

// checkPayments returns the payment rows to store and the cash tendered.
// Overpayment is only accepted as change handed back from cash.
func (s *Service) checkPayments(input []domain.SalePaymentRequest, total decimal.Decimal) ([]domain.SalePayment, decimal.Decimal, error) {
	payments := make([]domain.SalePayment, 0, len(input))
	sum, cashSum, nonCashSum := decimal.Zero, decimal.Zero, decimal.Zero
	for i, p := range input {
		if !p.Amount.IsPositive() {
			return nil, decimal.Zero, fmt.Errorf("%w: payments[%d]: amount must be greater than zero", store.ErrValidation, i)
		}
		if !money.IsWholeCurrency(p.Amount) {
			return nil, decimal.Zero, fmt.Errorf("%w: payments[%d]: amount must be a whole currency amount", store.ErrValidation, i)
		}
		reference := strings.TrimSpace(p.Reference)
		if p.Method == domain.PaymentCash {
			reference = ""
			cashSum = cashSum.Add(p.Amount)
		} else {
			if reference == "" && s.policy.RequirePaymentReference {
				return nil, decimal.Zero, fmt.Errorf("%w: payments[%d]: %s payment requires a reference", store.ErrValidation, i, p.Method)
			}
			nonCashSum = nonCashSum.Add(p.Amount)
		}
		sum = sum.Add(p.Amount)
		payments = append(payments, domain.SalePayment{Method: p.Method, Amount: p.Amount, Reference: reference})
	}

	switch {
	case sum.LessThan(total):
		return nil, decimal.Zero, fmt.Errorf("%w: payments (%s) do not cover total (%s)", store.ErrInvalidState, sum.String(), total.String())
	case sum.GreaterThan(total):
		if !s.policy.AllowCashChange {
			return nil, decimal.Zero, fmt.Errorf("%w: payments (%s) must equal total (%s)", store.ErrInvalidState, sum.String(), total.String())
		}
		if !cashSum.IsPositive() {
			return nil, decimal.Zero, fmt.Errorf("%w: overpayment requires a cash payment to give change from", store.ErrInvalidState)
		}
		if nonCashSum.GreaterThan(total) {
			return nil, decimal.Zero, fmt.Errorf("%w: non-cash payments (%s) exceed total (%s)", store.ErrInvalidState, nonCashSum.String(), total.String())
		}
	}
	return payments, cashSum, nil
}

// checkStock compares the aggregated need of each tracked product with its
// current stock, read inside the caller's unit.
func checkStock(ctx context.Context, tx store.Tx, items []domain.SaleItem, products map[int64]domain.Product) error {
	need := make(map[int64]decimal.Decimal)
	tracked := make([]int64, 0, len(items))
	for _, item := range items {
		if !products[item.ProductID].TracksStock {
			continue
		}
		if _, seen := need[item.ProductID]; !seen {
			tracked = append(tracked, item.ProductID)
		}
		need[item.ProductID] = need[item.ProductID].Add(item.Qty)
	}
	if len(tracked) == 0 {
		return nil
	}

	sums, err := tx.StockSums(ctx, tracked)
	if err != nil {
		return err
	}
	for _, id := range tracked {
		available := sums[id].Current()
		if available.LessThan(need[id]) {
			return &store.InsufficientStockError{ProductID: id, Available: available, Requested: need[id]}
		}
	}
	return nil
}

// GetSale reads through the sale cache.
func (s *Service) GetSale(ctx context.Context, saleID int64) (domain.Sale, error) {
	if err := requirePositiveID("sale_id", saleID); err != nil {
		return domain.Sale{}, err
	}
	if cached, ok, err := s.saleCache.Get(ctx, saleID); err != nil {
		log.Warn().Err(err).Str("component", "service").Int64("sale_id", saleID).Msg("sale cache read failed")
	} else if ok {
		return *cached, nil
	}

	var sale *domain.Sale
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		sale, err = tx.GetSale(ctx, saleID)
		return wrapNotFound(err, "sale %d", saleID)
	})
	if err != nil {
		return domain.Sale{}, err
	}

	if err := s.saleCache.Set(ctx, sale, s.policy.SaleCacheTTL); err != nil {
		log.Warn().Err(err).Str("component", "service").Int64("sale_id", saleID).Msg("failed to cache sale")
	}
	return *sale, nil
}
