// Package session holds the client-side state of a pricing calculator: the
// form being edited, the last result, the GST presets and recent history.
// It validates input locally, talks to the API and keeps the history in sync
// after each successful calculation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pricewise/api/internal/client"
	"github.com/pricewise/api/internal/pricing"
)

const (
	// DefaultGSTPercentage pre-fills a fresh form.
	DefaultGSTPercentage = "18"

	// HistoryFetchLimit is how many history entries are requested.
	HistoryFetchLimit = 10

	// DisplayedHistoryLimit is how many history entries are shown.
	DisplayedHistoryLimit = 6

	fallbackCalculationError = "Error performing calculation"
)

var (
	// ErrBusy is returned by Submit while another submission is in flight.
	ErrBusy = errors.New("a calculation is already in progress")

	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("session closed")
)

// API is the subset of the pricing API the session needs. *client.Client
// implements it.
type API interface {
	GSTRates(ctx context.Context) (pricing.RateCatalog, error)
	Calculate(ctx context.Context, in pricing.Input) (pricing.Result, error)
	SaveCalculation(ctx context.Context, result pricing.Result) (pricing.HistoryEntry, error)
	ListCalculations(ctx context.Context, limit int) ([]pricing.HistoryEntry, error)
}

// State is an immutable view of the session.
type State struct {
	Form    Form
	Result  *pricing.Result
	Rates   []pricing.Rate
	History []pricing.HistoryEntry
	Busy    bool
	Error   string
}

// DisplayedHistory returns the newest entries that should be shown.
func (s State) DisplayedHistory() []pricing.HistoryEntry {
	if len(s.History) > DisplayedHistoryLimit {
		return s.History[:DisplayedHistoryLimit]
	}
	return s.History
}

func (s State) clone() State {
	next := s
	if s.Result != nil {
		r := *s.Result
		next.Result = &r
	}
	next.Rates = append([]pricing.Rate(nil), s.Rates...)
	next.History = append([]pricing.HistoryEntry(nil), s.History...)
	return next
}

// SyncOutcome reports how the post-calculation history sync went. Failures
// never affect the displayed result.
type SyncOutcome struct {
	Saved     *pricing.HistoryEntry
	Refreshed bool
	SaveErr   error
	FetchErr  error
}

// Err joins the save and fetch errors.
func (o SyncOutcome) Err() error {
	return errors.Join(o.SaveErr, o.FetchErr)
}

// Session is a single calculator session. It is safe for concurrent use.
type Session struct {
	api    API
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	generation uint64 // bumped by Clear so late results are dropped
	closed     bool
}

// New creates a session with a default form.
func New(api API, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		api:    api,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		state:  State{Form: defaultForm()},
	}
}

func defaultForm() Form {
	return Form{GSTPercentage: DefaultGSTPercentage}
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Mount loads the GST presets and the recent history concurrently. A failed
// load leaves its part of the state unchanged and does not stop the other;
// Mount returns the first failure.
func (s *Session) Mount(ctx context.Context) error {
	ctx, done, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer done()

	var g errgroup.Group
	g.Go(func() error {
		catalog, err := s.api.GSTRates(ctx)
		if err != nil {
			s.logger.Warn("failed to load gst rates", "error", err)
			return fmt.Errorf("loading gst rates: %w", err)
		}
		s.update(func(st *State) { st.Rates = catalog.CommonRates })
		return nil
	})
	g.Go(func() error {
		if err := s.fetchHistory(ctx); err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// SetField updates one form field and clears any displayed error.
func (s *Session) SetField(name, value string) error {
	var unknown bool
	ok := s.update(func(st *State) {
		switch name {
		case FieldProductName:
			st.Form.ProductName = value
		case FieldQuantity:
			st.Form.Quantity = value
		case FieldUnitPriceBeforeTax:
			st.Form.UnitPriceBeforeTax = value
		case FieldGSTPercentage:
			st.Form.GSTPercentage = value
		case FieldSalesPriceMRPPerUnit:
			st.Form.SalesPriceMRPPerUnit = value
		default:
			unknown = true
			return
		}
		st.Error = ""
	})
	switch {
	case !ok:
		return ErrClosed
	case unknown:
		return fmt.Errorf("unknown field %q", name)
	}
	return nil
}

// Submit validates the form and, when valid, requests a calculation. On
// success the result is stored and the history synced; the sync outcome is
// returned for callers that care. Invalid input is reported in the state and
// as a *ValidationError without any network call.
func (s *Session) Submit(ctx context.Context) (SyncOutcome, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return SyncOutcome{}, ErrClosed
	case s.state.Busy:
		s.mu.Unlock()
		return SyncOutcome{}, ErrBusy
	}

	in, err := Validate(s.state.Form)
	if err != nil {
		next := s.state.clone()
		next.Error = err.Error()
		s.state = next
		s.mu.Unlock()
		return SyncOutcome{}, err
	}

	next := s.state.clone()
	next.Busy = true
	next.Error = ""
	s.state = next
	gen := s.generation
	s.mu.Unlock()

	defer s.update(func(st *State) { st.Busy = false })

	ctx, done, err := s.opContext(ctx)
	if err != nil {
		return SyncOutcome{}, err
	}
	defer done()

	result, err := s.api.Calculate(ctx, in)
	if err != nil {
		s.logger.Error("calculation failed", "error", err)
		if _, open := s.updateIfCurrent(gen, func(st *State) { st.Error = calculationErrorMessage(err) }); !open {
			return SyncOutcome{}, ErrClosed
		}
		return SyncOutcome{}, err
	}

	applied, open := s.updateIfCurrent(gen, func(st *State) { st.Result = &result })
	switch {
	case !open:
		return SyncOutcome{}, ErrClosed
	case !applied:
		// Cleared while in flight.
		return SyncOutcome{}, nil
	}

	return s.SyncHistory(ctx, result), nil
}

// SyncHistory saves result and then re-fetches the recent history, replacing
// the session's copy. The fetch runs even when the save fails.
func (s *Session) SyncHistory(ctx context.Context, result pricing.Result) SyncOutcome {
	var outcome SyncOutcome

	entry, err := s.api.SaveCalculation(ctx, result)
	if err != nil {
		s.logger.Warn("failed to save calculation", "error", err, "calculation_id", result.CalculationID)
		outcome.SaveErr = err
	} else {
		outcome.Saved = &entry
	}

	if err := s.fetchHistory(ctx); err != nil {
		outcome.FetchErr = err
	} else {
		outcome.Refreshed = true
	}
	return outcome
}

// Clear resets the form to its defaults and drops the result and error. A
// calculation still in flight will not repopulate the result.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	next := s.state.clone()
	next.Form = defaultForm()
	next.Result = nil
	next.Error = ""
	s.state = next
	s.generation++
}

// Close cancels every in-flight request. Results arriving afterwards are
// discarded. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) fetchHistory(ctx context.Context) error {
	entries, err := s.api.ListCalculations(ctx, HistoryFetchLimit)
	if err != nil {
		s.logger.Warn("failed to load calculation history", "error", err)
		return err
	}
	s.update(func(st *State) { st.History = entries })
	return nil
}

// opContext derives a request context from ctx that is also cancelled when
// the session closes.
func (s *Session) opContext(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, nil, ErrClosed
	}

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}, nil
}

// update applies fn to a copy of the state and swaps it in. It reports false
// and changes nothing once the session is closed.
func (s *Session) update(fn func(*State)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	next := s.state.clone()
	fn(&next)
	s.state = next
	return true
}

// updateIfCurrent is update, skipped when Clear ran since gen was taken. It
// reports whether fn was applied and whether the session is still open.
func (s *Session) updateIfCurrent(gen uint64, fn func(*State)) (applied, open bool) {
	open = s.update(func(st *State) {
		if s.generation == gen {
			fn(st)
			applied = true
		}
	})
	return applied, open
}

func calculationErrorMessage(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallbackCalculationError
}
