// Package money holds the decimal rules shared by every amount and quantity
// the POS core touches.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// CurrencyPlaces is the number of decimals a stored amount may carry.
	CurrencyPlaces int32 = 0
	// FractionalPlaces applies to weight, volume and length units.
	FractionalPlaces int32 = 2
	// PricePlaces is the precision of a stored unit price.
	PricePlaces int32 = 2
)

var (
	ErrNonPositiveQuantity = errors.New("quantity must be greater than zero")
	ErrFractionalQuantity  = errors.New("quantity must be a whole number for this unit")
	ErrBelowStep           = errors.New("quantity is below the unit minimum step")
)

var fractionalUnits = map[string]struct{}{
	"KG":       {},
	"KGS":      {},
	"KILO":     {},
	"KILOGRAM": {},
	"L":        {},
	"LT":       {},
	"LITER":    {},
	"LITRO":    {},
	"M":        {},
	"MT":       {},
	"METER":    {},
	"METRO":    {},
}

func NormalizeUnit(unit string) string {
	return strings.ToUpper(strings.TrimSpace(unit))
}

// IsFractionalUnit reports whether quantities of unit may carry decimals.
func IsFractionalUnit(unit string) bool {
	_, ok := fractionalUnits[NormalizeUnit(unit)]
	return ok
}

func QuantityPlaces(unit string) int32 {
	if IsFractionalUnit(unit) {
		return FractionalPlaces
	}
	return 0
}

// Step is the smallest quantity that can be sold or moved for unit.
func Step(unit string) decimal.Decimal {
	return decimal.New(1, -QuantityPlaces(unit))
}

// NormalizeQuantity rounds qty to the precision of unit and rejects values
// the unit cannot represent.
func NormalizeQuantity(unit string, qty decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, ErrNonPositiveQuantity
	}
	places := QuantityPlaces(unit)
	if places == 0 {
		if !qty.Equal(qty.Truncate(0)) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrFractionalQuantity, qty.String())
		}
		return qty.Truncate(0), nil
	}
	rounded := qty.Round(places)
	if rounded.LessThan(Step(unit)) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrBelowStep, qty.String())
	}
	return rounded, nil
}

// NormalizeStockLevel is NormalizeQuantity for absolute stock targets, where
// zero is a valid value.
func NormalizeStockLevel(unit string, qty decimal.Decimal) (decimal.Decimal, error) {
	if qty.IsNegative() {
		return decimal.Zero, fmt.Errorf("stock level must not be negative: %s", qty.String())
	}
	if qty.IsZero() {
		return decimal.Zero, nil
	}
	return NormalizeQuantity(unit, qty)
}

// RoundCurrency rounds half-up to whole currency units.
func RoundCurrency(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(CurrencyPlaces)
}

func IsWholeCurrency(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(CurrencyPlaces))
}

// FitsPricePrecision reports whether a unit price is stored without
// rounding.
func FitsPricePrecision(price decimal.Decimal) bool {
	return price.Equal(price.Truncate(PricePlaces))
}
