package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pricewise/api/internal/pricing"
)

// FixtureInput returns a valid calculation input for the named product.
func FixtureInput(name string) pricing.Input {
	return pricing.Input{
		ProductName:          name,
		Quantity:             decimal.NewFromInt(10),
		UnitPriceBeforeTax:   decimal.NewFromInt(100),
		GSTPercentage:        decimal.NewFromInt(18),
		SalesPriceMRPPerUnit: decimal.NewFromInt(150),
	}
}

// FixtureResult calculates FixtureInput(name) stamped at the given instant.
func FixtureResult(t *testing.T, name string, at time.Time) pricing.Result {
	t.Helper()
	return pricing.Calculate(FixtureInput(name), at, uuid.New())
}
