// Package pricing holds the calculation contract shared by the API server and
// its clients: the input and result records, the GST rate catalog shapes and
// the pure arithmetic that derives tax, price and profitability figures.
package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers on the wire.
	decimal.MarshalJSONWithoutQuotes = true
}

// Input is a normalized calculation request.
type Input struct {
	ProductName          string          `json:"product_name"`
	Quantity             decimal.Decimal `json:"quantity"`
	UnitPriceBeforeTax   decimal.Decimal `json:"unit_price_before_tax"`
	GSTPercentage        decimal.Decimal `json:"gst_percentage"`
	SalesPriceMRPPerUnit decimal.Decimal `json:"sales_price_mrp_per_unit"`
}

// Result is a completed calculation. It repeats the input fields so a stored
// result is self-describing.
type Result struct {
	Input

	SubtotalBeforeTax    decimal.Decimal     `json:"subtotal_before_tax"`
	TaxName              string              `json:"tax_name"`
	TaxRateDecimal       decimal.Decimal     `json:"tax_rate_decimal"`
	UnitPriceAfterTax    decimal.Decimal     `json:"unit_price_after_tax"`
	SubtotalAfterTax     decimal.Decimal     `json:"subtotal_after_tax"`
	EffectiveRatePerUnit decimal.Decimal     `json:"effective_rate_per_unit"`
	MarginPercentage     decimal.Decimal     `json:"margin_percentage"`
	MarkupPercentage     decimal.NullDecimal `json:"markup_percentage"` // null when the post-tax cost is zero

	CalculationID string    `json:"calculation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// BulkResult is the outcome of calculating several products at once.
type BulkResult struct {
	Calculations  []Result  `json:"calculations"`
	TotalProducts int       `json:"total_products"`
	Timestamp     time.Time `json:"timestamp"`
}

// HistoryEntry wraps a saved Result. Entries are immutable once stored.
type HistoryEntry struct {
	ID                uuid.UUID `json:"id"`
	CalculationResult Result    `json:"calculation_result"`
	SavedAt           time.Time `json:"saved_at"`
}

// Rate is a GST preset offered to users.
type Rate struct {
	Rate        decimal.Decimal `json:"rate"`
	Description string          `json:"description"`
}

// RateCatalog is the response shape of the GST rate listing.
type RateCatalog struct {
	CommonRates   []Rate          `json:"common_rates"`
	CustomAllowed bool            `json:"custom_allowed"`
	MaxRate       decimal.Decimal `json:"max_rate"`
}
