package postgres

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"feedwatch/internal/domain"
)

const (
	primaryTable   = "posts"
	secondaryTable = "posts_with_lang"
)

var recordColumns = []string{
	"id", "title", "author", "score", "created_at",
	"comment_count", "source_id", "body", "media_url",
}

// Columns refreshed when an already stored id is observed again.
var (
	primaryRefresh   = []string{"score", "comment_count"}
	secondaryRefresh = []string{"score", "comment_count", "language"}
)

// RecordStore writes posts into the primary table and, for classified posts,
// the secondary table. Both writes are keyed by id.
type RecordStore struct {
	db *sqlx.DB
}

func NewRecordStore(db *sqlx.DB) *RecordStore {
	return &RecordStore{db: db}
}

func (s *RecordStore) UpsertPrimary(ctx context.Context, record *domain.Record) error {
	query, args, err := upsertQuery(primaryTable, recordColumns, recordValues(record), primaryRefresh)
	if err != nil {
		return fmt.Errorf("build primary upsert: %w", err)
	}

	if _, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, args...); err != nil {
		return classifyError(fmt.Errorf("upsert %s %s: %w", primaryTable, record.ID, err))
	}
	return nil
}

func (s *RecordStore) UpsertSecondary(ctx context.Context, record *domain.ClassifiedRecord) error {
	columns := append(append([]string{}, recordColumns...), "language")
	values := append(recordValues(&record.Record), record.Language)

	query, args, err := upsertQuery(secondaryTable, columns, values, secondaryRefresh)
	if err != nil {
		return fmt.Errorf("build secondary upsert: %w", err)
	}

	if _, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, args...); err != nil {
		return classifyError(fmt.Errorf("upsert %s %s: %w", secondaryTable, record.ID, err))
	}
	return nil
}

func recordValues(r *domain.Record) []any {
	return []any{
		r.ID, r.Title, r.Author, r.Score, r.CreatedAt,
		r.CommentCount, r.SourceID, r.Body, r.MediaURL,
	}
}

func upsertQuery(table string, columns []string, values []any, refresh []string) (string, []any, error) {
	set := make([]string, len(refresh))
	for i, col := range refresh {
		set[i] = col + " = EXCLUDED." + col
	}

	return sq.Insert(table).
		Columns(columns...).
		Values(values...).
		Suffix("ON CONFLICT (id) DO UPDATE SET " + strings.Join(set, ", ")).
		PlaceholderFormat(sq.Dollar).
		ToSql()
}
