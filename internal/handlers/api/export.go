package api

import (
	"fmt"
	"net/http"

	"github.com/xuri/excelize/v2"

	"github.com/pricewise/api/internal/pricing"
)

const (
	exportSheet       = "History"
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportDisposition = `attachment; filename="calculations.xlsx"`
)

var exportHeader = []any{
	"Saved At", "Product", "Quantity", "Unit Price (pre-tax)", "GST %", "Tax",
	"Unit Price (post-tax)", "Subtotal (pre-tax)", "Subtotal (post-tax)",
	"MRP / Unit", "Margin %", "Markup %", "Calculation ID",
}

// ExportCalculations handles GET /api/calculations/export.xlsx
func (h *CalculatorHandler) ExportCalculations(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list calculations for export", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Error fetching history")
		return
	}

	f, err := historyWorkbook(entries)
	if err != nil {
		h.logger.Error("failed to build history workbook", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Error exporting history")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", exportDisposition)
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		h.logger.Error("failed to write history workbook", "error", err)
	}
}

// historyWorkbook lays out one row per history entry, newest first.
func historyWorkbook(entries []pricing.HistoryEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("renaming sheet: %w", err)
	}

	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing header: %w", err)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		row := exportRow(e)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	return f, nil
}

func exportRow(e pricing.HistoryEntry) []any {
	c := e.CalculationResult
	var markup any = ""
	if c.MarkupPercentage.Valid {
		markup = c.MarkupPercentage.Decimal.InexactFloat64()
	}
	return []any{
		e.SavedAt.UTC().Format("2006-01-02 15:04:05"),
		c.ProductName,
		c.Quantity.InexactFloat64(),
		c.UnitPriceBeforeTax.InexactFloat64(),
		c.GSTPercentage.InexactFloat64(),
		c.TaxName,
		c.UnitPriceAfterTax.InexactFloat64(),
		c.SubtotalBeforeTax.InexactFloat64(),
		c.SubtotalAfterTax.InexactFloat64(),
		c.SalesPriceMRPPerUnit.InexactFloat64(),
		c.MarginPercentage.InexactFloat64(),
		markup,
		c.CalculationID,
	}
}
