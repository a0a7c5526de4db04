// Package discount applies percentage and fixed discounts to minor-unit amounts.
package discount

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Type tags the discount variant.
type Type string

const (
	TypePercentage Type = "PERCENTAGE"
	TypeFixed      Type = "FIXED"
)

var (
	ErrInvalidType       = errors.New("invalid_discount_type")
	ErrInvalidPercentage = errors.New("invalid_discount_percentage")
	ErrExceedsAmount     = errors.New("discount_exceeds_amount")
)

// Discount is a tagged discount value. Percentage values are in [0,100];
// fixed values are minor units and must not exceed the amount they apply to.
type Discount struct {
	Type  Type            `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// Validate rejects malformed discounts before they touch an amount.
func (d Discount) Validate() error {
	switch d.Type {
	case TypePercentage:
		if d.Value.IsNegative() || d.Value.GreaterThan(decimal.NewFromInt(100)) {
			return ErrInvalidPercentage
		}
		return nil
	case TypeFixed:
		return nil
	default:
		return ErrInvalidType
	}
}

var oneHundred = decimal.NewFromInt(100)

// Apply returns the amount after the discount. A nil or non-positive
// discount leaves the amount unchanged. The same function serves
// subscription-level and per-charge discounts so both paths round
// identically (half-up to the minor unit).
func Apply(amount int64, d *Discount) (int64, error) {
	if d == nil || !d.Value.IsPositive() {
		return amount, nil
	}
	if err := d.Validate(); err != nil {
		return 0, err
	}

	base := decimal.NewFromInt(amount)
	switch d.Type {
	case TypePercentage:
		factor := oneHundred.Sub(d.Value).Div(oneHundred)
		return base.Mul(factor).Round(0).IntPart(), nil
	default: // TypeFixed
		if d.Value.GreaterThan(base) {
			return 0, ErrExceedsAmount
		}
		result := base.Sub(d.Value).Round(0).IntPart()
		if result < 0 {
			result = 0
		}
		return result, nil
	}
}
