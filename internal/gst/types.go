package gst

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pricewise/api/internal/pricing"
)

// Refresh source identifiers.
const (
	SourceDatabase = "database"
	SourceDefault  = "default"
)

// RefreshResult holds the outcome of a catalog refresh.
type RefreshResult struct {
	Source       string // "database" or "default"
	RatesLoaded  int
	RatesChanged int
	RefreshedAt  time.Time
	Error        error
}

// DefaultRates are the common Indian GST slabs, served when the database
// has not been read yet or holds no active rates.
func DefaultRates() []pricing.Rate {
	return []pricing.Rate{
		{Rate: decimal.NewFromInt(0), Description: "Tax Exempt"},
		{Rate: decimal.NewFromInt(5), Description: "GST 5%"},
		{Rate: decimal.NewFromInt(12), Description: "GST 12%"},
		{Rate: decimal.NewFromInt(18), Description: "GST 18%"},
		{Rate: decimal.NewFromInt(28), Description: "GST 28% (Luxury)"},
	}
}
