package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rounding applied to outputs. Intermediate values are never rounded.
const (
	MoneyPlaces   = 2
	PercentPlaces = 2
	RatePlaces    = 4
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)

	// MaxGSTPercentage is the highest GST percentage accepted.
	MaxGSTPercentage = hundred
)

// Calculate derives every figure of a Result from a validated input.
//
//	subtotal_before_tax  = unit_price_before_tax * quantity
//	unit_price_after_tax = unit_price_before_tax * (1 + gst/100)
//	subtotal_after_tax   = unit_price_after_tax * quantity
//	margin               = (mrp - unit_price_after_tax) / mrp * 100
//	markup               = (mrp - unit_price_after_tax) / unit_price_after_tax * 100
//
// Money and percentages are rounded half away from zero to two places.
func Calculate(in Input, now time.Time, id uuid.UUID) Result {
	rate := in.GSTPercentage.Div(hundred)
	unitAfterTax := in.UnitPriceBeforeTax.Mul(one.Add(rate))
	profit := in.SalesPriceMRPPerUnit.Sub(unitAfterTax)

	result := Result{
		Input:                in,
		SubtotalBeforeTax:    in.UnitPriceBeforeTax.Mul(in.Quantity).Round(MoneyPlaces),
		TaxName:              TaxName(in.GSTPercentage),
		TaxRateDecimal:       rate.Round(RatePlaces),
		UnitPriceAfterTax:    unitAfterTax.Round(MoneyPlaces),
		SubtotalAfterTax:     unitAfterTax.Mul(in.Quantity).Round(MoneyPlaces),
		EffectiveRatePerUnit: unitAfterTax.Round(MoneyPlaces),
		MarginPercentage:     decimal.Zero,
		CalculationID:        id.String(),
		Timestamp:            now.UTC(),
	}

	if !in.SalesPriceMRPPerUnit.IsZero() {
		result.MarginPercentage = profit.Mul(hundred).Div(in.SalesPriceMRPPerUnit).Round(PercentPlaces)
	}
	if !unitAfterTax.IsZero() {
		result.MarkupPercentage = decimal.NewNullDecimal(profit.Mul(hundred).Div(unitAfterTax).Round(PercentPlaces))
	}

	return result
}

// CalculateBulk calculates every input, stamping all results with the same
// instant. Each result gets its own id from newID.
func CalculateBulk(inputs []Input, now time.Time, newID func() uuid.UUID) BulkResult {
	results := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		results = append(results, Calculate(in, now, newID()))
	}
	return BulkResult{
		Calculations:  results,
		TotalProducts: len(results),
		Timestamp:     now.UTC(),
	}
}

// TaxName labels a GST percentage, e.g. "GST 18%" or "GST 12.5%".
func TaxName(gstPercentage decimal.Decimal) string {
	return "GST " + gstPercentage.String() + "%"
}
