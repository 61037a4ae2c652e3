package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pricewise/api/internal/client"
	"github.com/pricewise/api/internal/handlers/api"
	"github.com/pricewise/api/internal/pricing"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeAPI is an in-memory API. Calculations block on gate when it is set.
type fakeAPI struct {
	mu       sync.Mutex
	history  []pricing.HistoryEntry
	calls    atomic.Int32
	calcErr  error
	saveErr  error
	listErr  error
	ratesErr error
	gate     chan struct{}
}

func (f *fakeAPI) GSTRates(ctx context.Context) (pricing.RateCatalog, error) {
	if f.ratesErr != nil {
		return pricing.RateCatalog{}, f.ratesErr
	}
	return pricing.RateCatalog{
		CommonRates: []pricing.Rate{{Rate: decimal.NewFromInt(5), Description: "GST 5%"}},
	}, nil
}

func (f *fakeAPI) Calculate(ctx context.Context, in pricing.Input) (pricing.Result, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return pricing.Result{}, ctx.Err()
		}
	}
	if f.calcErr != nil {
		return pricing.Result{}, f.calcErr
	}
	return pricing.Calculate(in, time.Now(), uuid.New()), nil
}

func (f *fakeAPI) SaveCalculation(ctx context.Context, result pricing.Result) (pricing.HistoryEntry, error) {
	if f.saveErr != nil {
		return pricing.HistoryEntry{}, f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := pricing.HistoryEntry{ID: uuid.New(), CalculationResult: result, SavedAt: time.Now()}
	f.history = append([]pricing.HistoryEntry{entry}, f.history...)
	return entry, nil
}

func (f *fakeAPI) ListCalculations(ctx context.Context, limit int) ([]pricing.HistoryEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := min(limit, len(f.history))
	return append([]pricing.HistoryEntry(nil), f.history[:n]...), nil
}

func fill(t *testing.T, s *Session, f Form) {
	t.Helper()
	fields := map[string]string{
		FieldProductName:          f.ProductName,
		FieldQuantity:             f.Quantity,
		FieldUnitPriceBeforeTax:   f.UnitPriceBeforeTax,
		FieldGSTPercentage:        f.GSTPercentage,
		FieldSalesPriceMRPPerUnit: f.SalesPriceMRPPerUnit,
	}
	for name, value := range fields {
		if err := s.SetField(name, value); err != nil {
			t.Fatalf("SetField(%s): %v", name, err)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(&fakeAPI{}, discard)
	defer s.Close()

	st := s.Snapshot()
	if st.Form.GSTPercentage != "18" {
		t.Errorf("default gst: got %q", st.Form.GSTPercentage)
	}
	if st.Result != nil || st.Busy || st.Error != "" {
		t.Errorf("fresh state not empty: %+v", st)
	}
}

func TestSubmit_ValidationSkipsNetwork(t *testing.T) {
	tests := []struct {
		name    string
		form    Form
		wantMsg string
	}{
		{"name", Form{Quantity: "1", UnitPriceBeforeTax: "1", GSTPercentage: "18", SalesPriceMRPPerUnit: "1"}, "Product name is required"},
		{"quantity", Form{ProductName: "A", Quantity: "0", UnitPriceBeforeTax: "1", GSTPercentage: "18", SalesPriceMRPPerUnit: "1"}, "Quantity must be greater than 0"},
		{"unit price", Form{ProductName: "A", Quantity: "1", UnitPriceBeforeTax: "-1", GSTPercentage: "18", SalesPriceMRPPerUnit: "1"}, "Unit price must be 0 or greater"},
		{"gst", Form{ProductName: "A", Quantity: "1", UnitPriceBeforeTax: "1", GSTPercentage: "101", SalesPriceMRPPerUnit: "1"}, "GST percentage must be between 0-100"},
		{"sales price", Form{ProductName: "A", Quantity: "1", UnitPriceBeforeTax: "1", GSTPercentage: "18", SalesPriceMRPPerUnit: "0"}, "Sales price must be greater than 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAPI{}
			s := New(fake, discard)
			defer s.Close()
			fill(t, s, tt.form)

			_, err := s.Submit(context.Background())

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error: got %v, want *ValidationError", err)
			}
			if got := s.Snapshot().Error; got != tt.wantMsg {
				t.Errorf("state error: got %q, want %q", got, tt.wantMsg)
			}
			if n := fake.calls.Load(); n != 0 {
				t.Errorf("Calculate called %d times", n)
			}
		})
	}
}

func TestSubmit_Success(t *testing.T) {
	fake := &fakeAPI{}
	s := New(fake, discard)
	defer s.Close()
	fill(t, s, validForm())

	outcome, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome.Err() != nil || outcome.Saved == nil || !outcome.Refreshed {
		t.Errorf("outcome: %+v", outcome)
	}

	st := s.Snapshot()
	if st.Result == nil {
		t.Fatal("result not stored")
	}
	if got := FormatINR(st.Result.SubtotalAfterTax); got != "₹1,180.00" {
		t.Errorf("subtotal after tax: got %s", got)
	}
	if len(st.History) != 1 || st.History[0].CalculationResult.CalculationID != st.Result.CalculationID {
		t.Errorf("history not synced: %+v", st.History)
	}
	if st.Busy {
		t.Error("still busy after submit")
	}
}

func TestSubmit_CalculationError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"api detail", &client.APIError{Status: 400, Detail: "Calculation error: boom"}, "Calculation error: boom"},
		{"no detail", &client.APIError{Status: 502}, "Error performing calculation"},
		{"transport", errors.New("connection refused"), "Error performing calculation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAPI{}
			s := New(fake, discard)
			defer s.Close()
			fill(t, s, validForm())

			if _, err := s.Submit(context.Background()); err != nil {
				t.Fatalf("first Submit: %v", err)
			}
			previous := s.Snapshot().Result

			fake.calcErr = tt.err
			if _, err := s.Submit(context.Background()); err == nil {
				t.Fatal("expected error")
			}

			st := s.Snapshot()
			if st.Error != tt.wantMsg {
				t.Errorf("error: got %q, want %q", st.Error, tt.wantMsg)
			}
			if st.Result == nil || st.Result.CalculationID != previous.CalculationID {
				t.Error("previous result was not kept")
			}
		})
	}
}

func TestSubmit_SyncFailuresKeepResult(t *testing.T) {
	fake := &fakeAPI{saveErr: errors.New("save down"), listErr: errors.New("list down")}
	s := New(fake, discard)
	defer s.Close()
	fill(t, s, validForm())

	outcome, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome.SaveErr == nil || outcome.FetchErr == nil || outcome.Refreshed {
		t.Errorf("outcome: %+v", outcome)
	}

	st := s.Snapshot()
	if st.Result == nil || st.Error != "" {
		t.Errorf("sync failure leaked into state: %+v", st)
	}
}

func TestSubmit_Busy(t *testing.T) {
	fake := &fakeAPI{gate: make(chan struct{})}
	s := New(fake, discard)
	defer s.Close()
	fill(t, s, validForm())

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background())
		done <- err
	}()

	waitFor(t, func() bool { return s.Snapshot().Busy })

	if _, err := s.Submit(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Submit: got %v, want ErrBusy", err)
	}

	close(fake.gate)
	if err := <-done; err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if n := fake.calls.Load(); n != 1 {
		t.Errorf("Calculate called %d times, want 1", n)
	}
}

func TestClose_DiscardsLateResult(t *testing.T) {
	fake := &fakeAPI{gate: make(chan struct{})}
	s := New(fake, discard)
	fill(t, s, validForm())

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background())
		done <- err
	}()

	waitFor(t, func() bool { return s.Snapshot().Busy })
	s.Close()

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close: got %v, want ErrClosed", err)
	}
	if st := s.Snapshot(); st.Result != nil || st.Error != "" {
		t.Errorf("state changed after Close: %+v", st)
	}

	s.Close()
	if _, err := s.Submit(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit on closed session: got %v", err)
	}
}

func TestClear_DropsInFlightResult(t *testing.T) {
	fake := &fakeAPI{gate: make(chan struct{})}
	s := New(fake, discard)
	defer s.Close()
	fill(t, s, validForm())

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background())
		done <- err
	}()

	waitFor(t, func() bool { return s.Snapshot().Busy })
	s.Clear()
	close(fake.gate)
	<-done

	st := s.Snapshot()
	if st.Result != nil {
		t.Error("result from before Clear was stored")
	}
	if st.Form != (Form{GSTPercentage: "18"}) {
		t.Errorf("form not reset: %+v", st.Form)
	}
	if st.Busy {
		t.Error("still busy")
	}
}

func TestMount(t *testing.T) {
	fake := &fakeAPI{}
	for i := 0; i < 8; i++ {
		fake.SaveCalculation(context.Background(), pricing.Result{CalculationID: uuid.NewString()})
	}

	s := New(fake, discard)
	defer s.Close()
	if err := s.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	st := s.Snapshot()
	if len(st.Rates) != 1 {
		t.Errorf("rates: got %d", len(st.Rates))
	}
	if len(st.History) != 8 {
		t.Errorf("history: got %d, want 8", len(st.History))
	}
	if got := len(st.DisplayedHistory()); got != DisplayedHistoryLimit {
		t.Errorf("displayed history: got %d, want %d", got, DisplayedHistoryLimit)
	}
}

func TestMount_BestEffort(t *testing.T) {
	fake := &fakeAPI{listErr: errors.New("history down")}
	s := New(fake, discard)
	defer s.Close()

	err := s.Mount(context.Background())
	if err == nil || !errors.Is(err, fake.listErr) {
		t.Fatalf("Mount: got %v, want history error", err)
	}

	st := s.Snapshot()
	if len(st.Rates) != 1 {
		t.Errorf("rates should still load: got %d", len(st.Rates))
	}
	if len(st.History) != 0 || st.Error != "" {
		t.Errorf("state: %+v", st)
	}
}

func TestMount_BothFail(t *testing.T) {
	fake := &fakeAPI{ratesErr: errors.New("down"), listErr: errors.New("down")}
	s := New(fake, discard)
	defer s.Close()

	if err := s.Mount(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if st := s.Snapshot(); len(st.Rates) != 0 || len(st.History) != 0 {
		t.Errorf("state: %+v", st)
	}
}

func TestSetField_Unknown(t *testing.T) {
	s := New(&fakeAPI{}, discard)
	defer s.Close()

	if err := s.SetField("colour", "red"); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	fake := &fakeAPI{}
	s := New(fake, discard)
	defer s.Close()
	fill(t, s, validForm())
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := s.Snapshot()
	snap.Result.ProductName = "mutated"
	snap.History[0].CalculationResult.ProductName = "mutated"

	st := s.Snapshot()
	if st.Result.ProductName != "Widget" || st.History[0].CalculationResult.ProductName != "Widget" {
		t.Error("snapshot shares memory with session state")
	}
}

// TestEndToEnd drives a session through the real client against the HTTP
// handlers with an in-memory history store.
func TestEndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	api.NewCalculatorHandler(&memoryStore{}, staticRates{}, 50, 250, discard).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := New(client.New(srv.URL+"/api"), discard)
	defer s.Close()

	if err := s.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	fill(t, s, Form{
		ProductName:          "Premium Widget",
		Quantity:             "5",
		UnitPriceBeforeTax:   "250",
		GSTPercentage:        "5",
		SalesPriceMRPPerUnit: "300",
	})

	outcome, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := outcome.Err(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	st := s.Snapshot()
	if got := FormatINR(st.Result.SubtotalAfterTax); got != "₹1,312.50" {
		t.Errorf("subtotal after tax: got %s", got)
	}
	if got := FormatPercent(st.Result.MarginPercentage); got != "12.50%" {
		t.Errorf("margin: got %s", got)
	}
	if len(st.History) != 1 {
		t.Errorf("history: got %d entries", len(st.History))
	}
	if len(st.Rates) != 1 {
		t.Errorf("rates: got %d", len(st.Rates))
	}
}

type memoryStore struct {
	mu      sync.Mutex
	entries []pricing.HistoryEntry
}

func (m *memoryStore) Save(_ context.Context, r pricing.Result) (pricing.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := pricing.HistoryEntry{ID: uuid.New(), CalculationResult: r, SavedAt: time.Now().UTC()}
	m.entries = append([]pricing.HistoryEntry{e}, m.entries...)
	return e, nil
}

func (m *memoryStore) List(_ context.Context, limit int) ([]pricing.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pricing.HistoryEntry{}, m.entries[:min(limit, len(m.entries))]...), nil
}

func (m *memoryStore) Delete(context.Context, uuid.UUID) error { return nil }

type staticRates struct{}

func (staticRates) Preset(rate decimal.Decimal) (pricing.Rate, bool) {
	return pricing.Rate{}, false
}

func (staticRates) Catalog() pricing.RateCatalog {
	return pricing.RateCatalog{
		CommonRates:   []pricing.Rate{{Rate: decimal.NewFromInt(18), Description: "GST 18%"}},
		CustomAllowed: true,
		MaxRate:       decimal.NewFromInt(100),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
