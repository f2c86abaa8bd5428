package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"feedwatch/internal/domain"
)

// WatermarkStore persists the per-source high-water mark.
type WatermarkStore struct {
	db *sqlx.DB
}

func NewWatermarkStore(db *sqlx.DB) *WatermarkStore {
	return &WatermarkStore{db: db}
}

// Get returns the last committed timestamp for sourceID, or 0 if the source
// has never been recorded.
func (s *WatermarkStore) Get(ctx context.Context, sourceID string) (int64, error) {
	var ts int64
	query := `SELECT last_seen_timestamp FROM watermarks WHERE source_id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &ts, query, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classifyError(fmt.Errorf("get watermark: %w", err))
	}
	return ts, nil
}

// Set stores ts as-is. The caller is responsible for passing the running
// maximum; no max-merge happens here.
func (s *WatermarkStore) Set(ctx context.Context, sourceID string, ts int64) error {
	query := `
		INSERT INTO watermarks (source_id, last_seen_timestamp, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (source_id) DO UPDATE SET
			last_seen_timestamp = EXCLUDED.last_seen_timestamp,
			updated_at = EXCLUDED.updated_at`

	if _, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, sourceID, ts); err != nil {
		return classifyError(fmt.Errorf("set watermark: %w", err))
	}
	return nil
}

func (s *WatermarkStore) List(ctx context.Context) ([]domain.Watermark, error) {
	query := `
		SELECT source_id, last_seen_timestamp, updated_at
		FROM watermarks
		ORDER BY source_id`

	var marks []domain.Watermark
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &marks, query); err != nil {
		return nil, classifyError(fmt.Errorf("list watermarks: %w", err))
	}
	return marks, nil
}
