package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pricewise/api/internal/pricing"
	"github.com/pricewise/api/internal/services/history"
)

//go:generate mockgen -destination=../../mocks/mock_api.go -package=mocks github.com/pricewise/api/internal/handlers/api HistoryStore,RateSource

// maxBodyBytes caps request bodies. Bulk requests are the largest.
const maxBodyBytes = 1 << 20

// HistoryStore persists saved calculations.
type HistoryStore interface {
	Save(ctx context.Context, result pricing.Result) (pricing.HistoryEntry, error)
	List(ctx context.Context, limit int) ([]pricing.HistoryEntry, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RateSource supplies the GST rate catalog.
type RateSource interface {
	Catalog() pricing.RateCatalog
	Preset(rate decimal.Decimal) (pricing.Rate, bool)
}

// CalculatorHandler serves the pricing calculator API.
type CalculatorHandler struct {
	history      HistoryStore
	rates        RateSource
	defaultLimit int
	maxLimit     int
	logger       *slog.Logger

	now   func() time.Time
	newID func() uuid.UUID
}

// NewCalculatorHandler creates a calculator handler. defaultLimit applies to
// history listings without a limit parameter; larger limits are clamped to
// maxLimit.
func NewCalculatorHandler(
	store HistoryStore,
	rates RateSource,
	defaultLimit, maxLimit int,
	logger *slog.Logger,
) *CalculatorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalculatorHandler{
		history:      store,
		rates:        rates,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.New,
	}
}

// RegisterRoutes registers all calculator routes on the given mux.
func (h *CalculatorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/{$}", h.Root)
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/gst-rates", h.GSTRates)
	mux.HandleFunc("GET /api/gst-rates/{rate}", h.GSTRate)
	mux.HandleFunc("POST /api/calculate", h.Calculate)
	mux.HandleFunc("POST /api/calculate-bulk", h.CalculateBulk)
	mux.HandleFunc("GET /api/calculations", h.ListCalculations)
	mux.HandleFunc("POST /api/calculations", h.SaveCalculation)
	mux.HandleFunc("DELETE /api/calculations/{id}", h.DeleteCalculation)
	mux.HandleFunc("GET /api/calculations/export.xlsx", h.ExportCalculations)
}

// --- Request/response types ---

type detailJSON struct {
	Detail string `json:"detail"`
}

type messageJSON struct {
	Message string `json:"message"`
}

// calculationRequest uses pointers so missing fields can be told apart from
// zero values.
type calculationRequest struct {
	ProductName          *string          `json:"product_name"`
	Quantity             *decimal.Decimal `json:"quantity"`
	UnitPriceBeforeTax   *decimal.Decimal `json:"unit_price_before_tax"`
	GSTPercentage        *decimal.Decimal `json:"gst_percentage"`
	SalesPriceMRPPerUnit *decimal.Decimal `json:"sales_price_mrp_per_unit"`
}

type bulkRequest struct {
	Products []calculationRequest `json:"products"`
}

// input checks presence and server-side constraints and returns the
// normalized input.
func (req calculationRequest) input() (pricing.Input, error) {
	switch {
	case req.ProductName == nil:
		return pricing.Input{}, missing("product_name")
	case req.Quantity == nil:
		return pricing.Input{}, missing("quantity")
	case req.UnitPriceBeforeTax == nil:
		return pricing.Input{}, missing("unit_price_before_tax")
	case req.GSTPercentage == nil:
		return pricing.Input{}, missing("gst_percentage")
	case req.SalesPriceMRPPerUnit == nil:
		return pricing.Input{}, missing("sales_price_mrp_per_unit")
	}

	in := pricing.Input{
		ProductName:          *req.ProductName,
		Quantity:             *req.Quantity,
		UnitPriceBeforeTax:   *req.UnitPriceBeforeTax,
		GSTPercentage:        *req.GSTPercentage,
		SalesPriceMRPPerUnit: *req.SalesPriceMRPPerUnit,
	}
	if err := in.Validate(); err != nil {
		return pricing.Input{}, err
	}
	return in, nil
}

func missing(field string) error {
	return &pricing.FieldError{Field: field, Message: "field required"}
}

// --- Handlers ---

// Root handles GET /api/
func (h *CalculatorHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageJSON{Message: "Product Pricing Calculator API"})
}

// Health handles GET /api/health
func (h *CalculatorHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GSTRates handles GET /api/gst-rates
func (h *CalculatorHandler) GSTRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rates.Catalog())
}

// GSTRate handles GET /api/gst-rates/{rate}
func (h *CalculatorHandler) GSTRate(w http.ResponseWriter, r *http.Request) {
	rate, err := decimal.NewFromString(r.PathValue("rate"))
	if err != nil || !pricing.WithinLimits(rate) {
		writeDetail(w, http.StatusBadRequest, "invalid GST rate")
		return
	}

	preset, ok := h.rates.Preset(rate)
	if !ok {
		writeDetail(w, http.StatusNotFound, "GST rate is not a preset")
		return
	}

	writeJSON(w, http.StatusOK, preset)
}

// Calculate handles POST /api/calculate
func (h *CalculatorHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req calculationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in, err := req.input()
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Calculation error: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, pricing.Calculate(in, h.now(), h.newID()))
}

// CalculateBulk handles POST /api/calculate-bulk
func (h *CalculatorHandler) CalculateBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inputs := make([]pricing.Input, 0, len(req.Products))
	for i, p := range req.Products {
		in, err := p.input()
		if err != nil {
			writeDetail(w, http.StatusBadRequest,
				"Bulk calculation error: products["+strconv.Itoa(i)+"]: "+err.Error())
			return
		}
		inputs = append(inputs, in)
	}

	writeJSON(w, http.StatusOK, pricing.CalculateBulk(inputs, h.now(), h.newID))
}

// SaveCalculation handles POST /api/calculations
func (h *CalculatorHandler) SaveCalculation(w http.ResponseWriter, r *http.Request) {
	var result pricing.Result
	if !decodeJSON(w, r, &result) {
		return
	}

	if result.CalculationID == "" {
		writeDetail(w, http.StatusBadRequest, "Error saving calculation: calculation_id: field required")
		return
	}
	if err := result.Input.Validate(); err != nil {
		writeDetail(w, http.StatusBadRequest, "Error saving calculation: "+err.Error())
		return
	}

	entry, err := h.history.Save(r.Context(), result)
	if err != nil {
		h.logger.Error("failed to save calculation", "error", err, "calculation_id", result.CalculationID)
		writeDetail(w, http.StatusInternalServerError, "Error saving calculation")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// ListCalculations handles GET /api/calculations
func (h *CalculatorHandler) ListCalculations(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list calculations", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Error fetching history")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// DeleteCalculation handles DELETE /api/calculations/{id}
func (h *CalculatorHandler) DeleteCalculation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		// Ids that are not UUIDs can never have been stored.
		writeDetail(w, http.StatusNotFound, "Calculation not found")
		return
	}

	if err := h.history.Delete(r.Context(), id); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "Calculation not found")
			return
		}
		h.logger.Error("failed to delete calculation", "error", err, "id", id)
		writeDetail(w, http.StatusInternalServerError, "Error deleting calculation")
		return
	}

	writeJSON(w, http.StatusOK, messageJSON{Message: "Calculation deleted successfully"})
}

// --- Helpers ---

// parseLimit reads the limit query parameter. It writes a 400 response and
// returns false when the value is not a positive integer.
func (h *CalculatorHandler) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return h.defaultLimit, true
	}

	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}
	return limit, true
}

// decodeJSON decodes the request body into v. It writes a 400 response and
// returns false on malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeJSON marshals v as JSON and writes it to the response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// At this point headers are already sent; just log the error.
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailJSON{Detail: detail})
}
