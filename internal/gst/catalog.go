package gst

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pricewise/api/internal/pricing"
)

var errNoPool = errors.New("no database pool configured")

// Catalog serves the GST rate presets. Reads are answered from the cache;
// Refresh reloads the cache from the gst_rates table.
type Catalog struct {
	pool   *pgxpool.Pool
	cache  *RateCache
	logger *slog.Logger
}

// NewCatalog creates a catalog backed by the given pool and cache.
func NewCatalog(pool *pgxpool.Pool, cache *RateCache, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		pool:   pool,
		cache:  cache,
		logger: logger,
	}
}

// Rates returns the current presets, falling back to DefaultRates while the
// cache is empty.
func (c *Catalog) Rates() []pricing.Rate {
	if rates := c.cache.All(); len(rates) > 0 {
		return rates
	}
	return DefaultRates()
}

// Preset returns the preset matching a GST percentage. 18 and 18.00 match the
// same entry. The defaults are consulted while the cache is empty.
func (c *Catalog) Preset(rate decimal.Decimal) (pricing.Rate, bool) {
	if c.cache.Count() > 0 {
		return c.cache.Get(rate)
	}
	for _, r := range DefaultRates() {
		if r.Rate.Equal(rate) {
			return r, true
		}
	}
	return pricing.Rate{}, false
}

// Catalog returns the full response served to clients.
func (c *Catalog) Catalog() pricing.RateCatalog {
	return pricing.RateCatalog{
		CommonRates:   c.Rates(),
		CustomAllowed: true,
		MaxRate:       pricing.MaxGSTPercentage,
	}
}

// Refresh reloads active rates from the database into the cache. When the
// query fails or returns nothing the cache is loaded with DefaultRates so
// readers always see a usable list.
func (c *Catalog) Refresh(ctx context.Context) RefreshResult {
	result := RefreshResult{RefreshedAt: time.Now().UTC()}
	previous := c.cache.All()

	rates, err := c.loadFromDB(ctx)
	switch {
	case err != nil:
		c.logger.Warn("loading GST rates from database failed, using defaults", "error", err)
		result.Error = err
		rates = DefaultRates()
		result.Source = SourceDefault
	case len(rates) == 0:
		c.logger.Warn("no active GST rates in database, using defaults")
		rates = DefaultRates()
		result.Source = SourceDefault
	default:
		result.Source = SourceDatabase
	}

	c.cache.Load(rates)
	result.RatesLoaded = c.cache.Count()
	result.RatesChanged = countChanges(previous, c.cache.All())

	if result.RatesChanged > 0 {
		c.logger.Info("GST rate catalog changed",
			"source", result.Source,
			"rates_loaded", result.RatesLoaded,
			"rates_changed", result.RatesChanged,
		)
	}

	return result
}

func (c *Catalog) loadFromDB(ctx context.Context) ([]pricing.Rate, error) {
	if c.pool == nil {
		return nil, errNoPool
	}

	rows, err := c.pool.Query(ctx, `
		SELECT rate::text, description
		FROM gst_rates
		WHERE is_active
		ORDER BY position, rate
	`)
	if err != nil {
		return nil, fmt.Errorf("querying gst_rates: %w", err)
	}
	defer rows.Close()

	var rates []pricing.Rate
	for rows.Next() {
		var rateText, description string
		if err := rows.Scan(&rateText, &description); err != nil {
			return nil, fmt.Errorf("scanning gst_rates row: %w", err)
		}
		rate, err := decimal.NewFromString(rateText)
		if err != nil {
			return nil, fmt.Errorf("parsing GST rate %q: %w", rateText, err)
		}
		rates = append(rates, pricing.Rate{Rate: rate, Description: description})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating gst_rates: %w", err)
	}

	return rates, nil
}

// countChanges counts presets that were added, removed or relabelled.
func countChanges(old, current []pricing.Rate) int {
	before := make(map[string]string, len(old))
	for _, r := range old {
		before[r.Rate.String()] = r.Description
	}

	changed := 0
	for _, r := range current {
		desc, ok := before[r.Rate.String()]
		if !ok || desc != r.Description {
			changed++
		}
		delete(before, r.Rate.String())
	}
	return changed + len(before)
}
