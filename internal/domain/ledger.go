package domain

import "github.com/shopspring/decimal"

// StockSums holds per-kind totals of a product's movement ledger.
type StockSums map[StockMovementKind]decimal.Decimal

// Current applies each kind's sign: IN, ADJUST and RETURN add, OUT and SALE
// subtract.
func (s StockSums) Current() decimal.Decimal {
	total := decimal.Zero
	for kind, sum := range s {
		switch kind {
		case StockIn, StockAdjust, StockReturn:
			total = total.Add(sum)
		case StockOut, StockSale:
			total = total.Sub(sum)
		}
	}
	return total
}

// Add folds one movement into the sums.
func (s StockSums) Add(kind StockMovementKind, qty decimal.Decimal) {
	s[kind] = s[kind].Add(qty)
}

func ExpectedCash(opening, sumIn, sumOut decimal.Decimal) decimal.Decimal {
	return opening.Add(sumIn).Sub(sumOut)
}
