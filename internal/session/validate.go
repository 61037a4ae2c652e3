package session

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pricewise/api/internal/pricing"
)

// Form field names.
const (
	FieldProductName          = "product_name"
	FieldQuantity             = "quantity"
	FieldUnitPriceBeforeTax   = "unit_price_before_tax"
	FieldGSTPercentage        = "gst_percentage"
	FieldSalesPriceMRPPerUnit = "sales_price_mrp_per_unit"
)

// Form holds the raw text of the five calculator inputs.
type Form struct {
	ProductName          string
	Quantity             string
	UnitPriceBeforeTax   string
	GSTPercentage        string
	SalesPriceMRPPerUnit string
}

// FormFromInput renders a normalized input back to text. Validating the
// returned form yields the same input.
func FormFromInput(in pricing.Input) Form {
	return Form{
		ProductName:          in.ProductName,
		Quantity:             in.Quantity.String(),
		UnitPriceBeforeTax:   in.UnitPriceBeforeTax.String(),
		GSTPercentage:        in.GSTPercentage.String(),
		SalesPriceMRPPerUnit: in.SalesPriceMRPPerUnit.String(),
	}
}

// ValidationError names the first form field that failed and the message
// shown to the user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks the form in a fixed field order and returns the normalized
// input, or a *ValidationError for the first failing field.
func Validate(f Form) (pricing.Input, error) {
	name := strings.TrimSpace(f.ProductName)
	if name == "" {
		return pricing.Input{}, &ValidationError{Field: FieldProductName, Message: "Product name is required"}
	}

	qty, ok := parseDecimal(f.Quantity)
	if !ok || !qty.IsPositive() {
		return pricing.Input{}, &ValidationError{Field: FieldQuantity, Message: "Quantity must be greater than 0"}
	}

	unit, ok := parseDecimal(f.UnitPriceBeforeTax)
	if !ok || unit.IsNegative() {
		return pricing.Input{}, &ValidationError{Field: FieldUnitPriceBeforeTax, Message: "Unit price must be 0 or greater"}
	}

	gst, ok := parseDecimal(f.GSTPercentage)
	if !ok || gst.IsNegative() || gst.GreaterThan(pricing.MaxGSTPercentage) {
		return pricing.Input{}, &ValidationError{Field: FieldGSTPercentage, Message: "GST percentage must be between 0-100"}
	}

	mrp, ok := parseDecimal(f.SalesPriceMRPPerUnit)
	if !ok || !mrp.IsPositive() {
		return pricing.Input{}, &ValidationError{Field: FieldSalesPriceMRPPerUnit, Message: "Sales price must be greater than 0"}
	}

	return pricing.Input{
		ProductName:          name,
		Quantity:             qty,
		UnitPriceBeforeTax:   unit,
		GSTPercentage:        gst,
		SalesPriceMRPPerUnit: mrp,
	}, nil
}

// parseDecimal parses trimmed text. Empty, unparsable or out-of-range text
// is not ok.
func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !pricing.WithinLimits(d) {
		return decimal.Zero, false
	}
	return d, true
}
