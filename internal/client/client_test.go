package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pricewise/api/internal/client"
	"github.com/pricewise/api/internal/pricing"
	"github.com/pricewise/api/internal/testutil"
)

func newServer(t *testing.T, handler http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return client.New(srv.URL + "/api/")
}

func TestGSTRates(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/gst-rates" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"common_rates":[{"rate":5,"description":"GST 5%"}],"custom_allowed":true,"max_rate":100}`))
	})

	catalog, err := c.GSTRates(context.Background())
	if err != nil {
		t.Fatalf("GSTRates: %v", err)
	}
	if len(catalog.CommonRates) != 1 || !catalog.CommonRates[0].Rate.Equal(decimal.NewFromInt(5)) {
		t.Errorf("common rates: got %+v", catalog.CommonRates)
	}
	if !catalog.CustomAllowed || !catalog.MaxRate.Equal(decimal.NewFromInt(100)) {
		t.Errorf("catalog: got %+v", catalog)
	}
}

func TestCalculate(t *testing.T) {
	in := testutil.FixtureInput("Widget")

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/calculate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type: got %q", ct)
		}

		var got map[string]any
		json.NewDecoder(r.Body).Decode(&got)
		if got["quantity"] != 10.0 || got["product_name"] != "Widget" {
			t.Errorf("request body: got %v", got)
		}

		json.NewEncoder(w).Encode(pricing.Calculate(in, time.Now(), uuid.New()))
	})

	result, err := c.Calculate(context.Background(), in)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !result.SubtotalAfterTax.Equal(decimal.NewFromInt(1180)) {
		t.Errorf("subtotal_after_tax: got %s", result.SubtotalAfterTax)
	}
	if result.CalculationID == "" {
		t.Error("calculation_id is empty")
	}
}

func TestCalculate_APIError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"string detail", http.StatusBadRequest, `{"detail":"Calculation error: quantity: must be greater than 0"}`, "Calculation error: quantity: must be greater than 0"},
		{"structured detail", http.StatusUnprocessableEntity, `{"detail":[{"loc":["quantity"]}]}`, `[{"loc":["quantity"]}]`},
		{"no detail", http.StatusInternalServerError, `oops`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.Calculate(context.Background(), testutil.FixtureInput("Widget"))

			var apiErr *client.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error: got %v, want *APIError", err)
			}
			if apiErr.Status != tt.status {
				t.Errorf("status: got %d, want %d", apiErr.Status, tt.status)
			}
			if apiErr.Detail != tt.wantDetail {
				t.Errorf("detail: got %q, want %q", apiErr.Detail, tt.wantDetail)
			}
		})
	}
}

func TestCalculateBulk(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Products []pricing.Input `json:"products"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(pricing.CalculateBulk(req.Products, time.Now(), uuid.New))
	})

	bulk, err := c.CalculateBulk(context.Background(), []pricing.Input{
		testutil.FixtureInput("A"), testutil.FixtureInput("B"),
	})
	if err != nil {
		t.Fatalf("CalculateBulk: %v", err)
	}
	if bulk.TotalProducts != 2 || bulk.Calculations[1].ProductName != "B" {
		t.Errorf("bulk: got %+v", bulk)
	}
}

func TestSaveAndListCalculations(t *testing.T) {
	var saved []pricing.HistoryEntry

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var result pricing.Result
			json.NewDecoder(r.Body).Decode(&result)
			entry := pricing.HistoryEntry{ID: uuid.New(), CalculationResult: result, SavedAt: time.Now()}
			saved = append([]pricing.HistoryEntry{entry}, saved...)
			json.NewEncoder(w).Encode(entry)
		case http.MethodGet:
			if got := r.URL.Query().Get("limit"); got != "10" {
				t.Errorf("limit: got %q, want 10", got)
			}
			json.NewEncoder(w).Encode(saved)
		}
	})

	ctx := context.Background()
	for _, name := range []string{"First", "Second"} {
		if _, err := c.SaveCalculation(ctx, testutil.FixtureResult(t, name, time.Now())); err != nil {
			t.Fatalf("SaveCalculation(%s): %v", name, err)
		}
	}

	entries, err := c.ListCalculations(ctx, 10)
	if err != nil {
		t.Fatalf("ListCalculations: %v", err)
	}
	if len(entries) != 2 || entries[0].CalculationResult.ProductName != "Second" {
		t.Errorf("entries: got %+v", entries)
	}
}

func TestDeleteCalculation_NotFound(t *testing.T) {
	id := uuid.New()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/calculations/"+id.String() {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Calculation not found"}`))
	})

	err := c.DeleteCalculation(context.Background(), id)

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("error: got %v, want 404 APIError", err)
	}
}

func TestContextCancellation(t *testing.T) {
	release := make(chan struct{})
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.GSTRates(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error: got %v, want context.Canceled", err)
	}
}
