package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/money"
	"github.com/Paisa224/ferreteria/internal/store"
)

const (
	defaultMovementLimit = 100
	maxMovementLimit     = 200
)

// CreateStockMovement appends an IN, OUT or ADJUST row. For ADJUST the
// requested qty is the desired absolute stock and the stored qty is the delta.
func (s *Service) CreateStockMovement(ctx context.Context, req domain.StockMovementRequest, userID int64) (domain.StockMovementResponse, error) {
	if err := requirePositiveID("user_id", userID); err != nil {
		return domain.StockMovementResponse{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.StockMovementResponse{}, err
	}
	note := strings.TrimSpace(req.Note)

	var resp domain.StockMovementResponse
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		product, err := loadActiveProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if !product.TracksStock {
			return fmt.Errorf("%w: product %d does not track stock", store.ErrValidation, product.ID)
		}

		sums, err := tx.StockSums(ctx, []int64{product.ID})
		if err != nil {
			return err
		}
		current := sums[product.ID].Current()

		movement := domain.StockMovement{
			ProductID: product.ID,
			Kind:      req.Kind,
			Note:      note,
			CreatedBy: userID,
			CreatedAt: s.now(),
		}
		var newStock decimal.Decimal

		switch req.Kind {
		case domain.StockIn, domain.StockOut:
			qty, err := money.NormalizeQuantity(product.Unit, req.Qty)
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrValidation, err)
			}
			movement.Qty = qty
			if req.Kind == domain.StockOut {
				if current.LessThan(qty) {
					return &store.InsufficientStockError{ProductID: product.ID, Available: current, Requested: qty}
				}
				newStock = current.Sub(qty)
			} else {
				newStock = current.Add(qty)
			}
		case domain.StockAdjust:
			desired, err := money.NormalizeStockLevel(product.Unit, req.Qty)
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrValidation, err)
			}
			delta := desired.Sub(current)
			if delta.IsZero() {
				return fmt.Errorf("%w: stock is already %s", store.ErrValidation, current.String())
			}
			movement.Qty = delta
			movement.Note = adjustNote(desired, note)
			newStock = desired
		default:
			return fmt.Errorf("%w: movement type %q is not allowed", store.ErrValidation, req.Kind)
		}

		saved, err := tx.InsertStockMovement(ctx, movement)
		if err != nil {
			return err
		}
		resp = domain.StockMovementResponse{Movement: *saved, Stock: newStock}
		return nil
	})
	if err != nil {
		return domain.StockMovementResponse{}, err
	}

	logAudit("stock_movement", userID).
		Int64("product_id", resp.Movement.ProductID).
		Str("type", string(resp.Movement.Kind)).
		Str("qty", resp.Movement.Qty.String()).
		Str("stock", resp.Stock.String()).
		Msg("stock movement recorded")
	return resp, nil
}

func adjustNote(desired decimal.Decimal, note string) string {
	base := "SET stock => " + desired.String()
	if note == "" {
		return base
	}
	return base + " | " + note
}

func loadActiveProduct(ctx context.Context, tx store.Tx, productID int64) (domain.Product, error) {
	products, err := tx.GetProductsByIDs(ctx, []int64{productID})
	if err != nil {
		return domain.Product{}, err
	}
	product, ok := products[productID]
	if !ok || !product.Active {
		return domain.Product{}, fmt.Errorf("%w: product %d does not exist or is inactive", store.ErrNotFound, productID)
	}
	return product, nil
}

// GetProductStock reports a nil stock for products that do not track it.
func (s *Service) GetProductStock(ctx context.Context, productID int64) (domain.ProductStock, error) {
	if err := requirePositiveID("product_id", productID); err != nil {
		return domain.ProductStock{}, err
	}
	var out domain.ProductStock
	err := s.store.View(ctx, func(tx store.Tx) error {
		products, err := tx.GetProductsByIDs(ctx, []int64{productID})
		if err != nil {
			return err
		}
		product, ok := products[productID]
		if !ok {
			return fmt.Errorf("%w: product %d", store.ErrNotFound, productID)
		}
		out = domain.ProductStock{ProductID: product.ID, TracksStock: product.TracksStock}
		if !product.TracksStock {
			return nil
		}
		sums, err := tx.StockSums(ctx, []int64{product.ID})
		if err != nil {
			return err
		}
		stock := sums[product.ID].Current()
		out.Stock = &stock
		return nil
	})
	return out, err
}

func (s *Service) ListProductMovements(ctx context.Context, productID int64, filter domain.StockMovementFilter) (domain.StockMovementList, error) {
	if err := requirePositiveID("product_id", productID); err != nil {
		return domain.StockMovementList{}, err
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return domain.StockMovementList{}, fmt.Errorf("%w: from must not be after to", store.ErrValidation)
	}
	filter.Limit = clampLimit(filter.Limit)

	var out domain.StockMovementList
	err := s.store.View(ctx, func(tx store.Tx) error {
		products, err := tx.GetProductsByIDs(ctx, []int64{productID})
		if err != nil {
			return err
		}
		if _, ok := products[productID]; !ok {
			return fmt.Errorf("%w: product %d", store.ErrNotFound, productID)
		}
		items, total, err := tx.ListStockMovements(ctx, productID, filter)
		if err != nil {
			return err
		}
		out = domain.StockMovementList{Items: items, Total: total}
		return nil
	})
	return out, err
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultMovementLimit
	case limit > maxMovementLimit:
		return maxMovementLimit
	default:
		return limit
	}
}
