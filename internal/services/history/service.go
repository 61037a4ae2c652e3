package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pricewise/api/internal/pricing"
)

// ErrNotFound is returned when a history entry does not exist.
var ErrNotFound = errors.New("calculation not found")

// Service persists calculation results and lists them newest first.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new history service with constructor injection.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Save stores a result as a new history entry.
func (s *Service) Save(ctx context.Context, result pricing.Result) (pricing.HistoryEntry, error) {
	entry := pricing.HistoryEntry{
		ID:                uuid.New(),
		CalculationResult: result,
		SavedAt:           s.now(),
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return pricing.HistoryEntry{}, fmt.Errorf("encoding calculation result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO calculation_history (id, calculation_id, product_name, calculation_result, saved_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, result.CalculationID, result.ProductName, payload, entry.SavedAt)
	if err != nil {
		return pricing.HistoryEntry{}, fmt.Errorf("inserting history entry: %w", err)
	}

	s.logger.Info("calculation saved",
		"history_id", entry.ID,
		"calculation_id", result.CalculationID,
	)

	return entry, nil
}

// List returns at most limit entries, most recently saved first.
func (s *Service) List(ctx context.Context, limit int) ([]pricing.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, calculation_result, saved_at
		FROM calculation_history
		ORDER BY saved_at DESC, seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := make([]pricing.HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			entry   pricing.HistoryEntry
			payload []byte
		)
		if err := rows.Scan(&entry.ID, &payload, &entry.SavedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		if err := json.Unmarshal(payload, &entry.CalculationResult); err != nil {
			return nil, fmt.Errorf("decoding history entry %s: %w", entry.ID, err)
		}
		entry.SavedAt = entry.SavedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	return entries, nil
}

// Delete removes a history entry by id.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM calculation_history WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting history entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Info("calculation deleted", "history_id", id)
	return nil
}
