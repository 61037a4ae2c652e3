package pricing

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// MaxProductNameLength is the longest product name the server stores.
const MaxProductNameLength = 100

// Bounds on the magnitude and precision of numeric inputs.
const (
	MaxIntegerDigits  = 15
	MaxFractionDigits = 10
)

// maxMagnitude is the smallest value with more than MaxIntegerDigits digits.
var maxMagnitude = decimal.New(1, MaxIntegerDigits)

// WithinLimits reports whether d has at most MaxIntegerDigits integer digits
// and at most MaxFractionDigits fraction digits as written. Out-of-range
// values are rejected before any arithmetic touches them.
func WithinLimits(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp < -MaxFractionDigits || exp > MaxIntegerDigits {
		return false
	}
	return d.Abs().LessThan(maxMagnitude)
}

// Validate checks the server-side constraints of an input. The product name
// is checked after trimming surrounding whitespace.
func (in Input) Validate() error {
	name := strings.TrimSpace(in.ProductName)
	switch {
	case name == "":
		return &FieldError{Field: "product_name", Message: "must not be empty"}
	case utf8.RuneCountInString(name) > MaxProductNameLength:
		return &FieldError{Field: "product_name", Message: "must be at most 100 characters"}
	case !WithinLimits(in.Quantity) || !in.Quantity.IsPositive():
		return &FieldError{Field: "quantity", Message: "must be greater than 0"}
	case !WithinLimits(in.UnitPriceBeforeTax) || in.UnitPriceBeforeTax.IsNegative():
		return &FieldError{Field: "unit_price_before_tax", Message: "must be greater than or equal to 0"}
	case !WithinLimits(in.GSTPercentage) || in.GSTPercentage.IsNegative() || in.GSTPercentage.GreaterThan(MaxGSTPercentage):
		return &FieldError{Field: "gst_percentage", Message: "must be between 0 and 100"}
	case !WithinLimits(in.SalesPriceMRPPerUnit) || !in.SalesPriceMRPPerUnit.IsPositive():
		return &FieldError{Field: "sales_price_mrp_per_unit", Message: "must be greater than 0"}
	}
	return nil
}
