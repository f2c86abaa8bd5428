package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"feedwatch/internal/activitylog"
	"feedwatch/internal/domain"
)

// FeedClient returns up to limit recent items for a source, in no particular order.
type FeedClient interface {
	FetchNew(ctx context.Context, sourceID string, limit int) ([]domain.Item, error)
}

// LanguageClassifier never fails; undetectable text yields domain.UnknownLanguage.
type LanguageClassifier interface {
	Classify(text string) string
}

type WatermarkStore interface {
	Get(ctx context.Context, sourceID string) (int64, error)
	Set(ctx context.Context, sourceID string, ts int64) error
}

type RecordStore interface {
	UpsertPrimary(ctx context.Context, record *domain.Record) error
	UpsertSecondary(ctx context.Context, record *domain.ClassifiedRecord) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type ActivityLog interface {
	Fetching(sourceID string) error
	Added(entry activitylog.Entry) error
	Language(entry activitylog.Entry) error
}

type Publisher interface {
	Publish(ctx context.Context, record *domain.ClassifiedRecord) error
	Close() error
}
