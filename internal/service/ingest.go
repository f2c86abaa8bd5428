package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"feedwatch/internal/activitylog"
	"feedwatch/internal/config"
	"feedwatch/internal/domain"
	"feedwatch/internal/metrics"
)

// Deps are the collaborators of an IngestService. Publisher and Metrics may be nil.
type Deps struct {
	Feed       FeedClient
	Classifier LanguageClassifier
	Watermarks WatermarkStore
	Records    RecordStore
	TxManager  TransactionManager
	Activity   ActivityLog
	Publisher  Publisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// IngestService runs one watermark-driven pass over a single source.
type IngestService struct {
	feed       FeedClient
	classifier LanguageClassifier
	watermarks WatermarkStore
	records    RecordStore
	txManager  TransactionManager
	activity   ActivityLog
	publisher  Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	batchSize  int
	targets    map[string]struct{}
}

func NewIngestService(deps Deps, cfg config.IngestConfig) *IngestService {
	targets := make(map[string]struct{}, len(cfg.TargetLanguages))
	for _, code := range cfg.TargetLanguages {
		code = strings.ToLower(strings.TrimSpace(code))
		if code == "" || code == domain.UnknownLanguage {
			continue
		}
		targets[code] = struct{}{}
	}

	return &IngestService{
		feed:       deps.Feed,
		classifier: deps.Classifier,
		watermarks: deps.Watermarks,
		records:    deps.Records,
		txManager:  deps.TxManager,
		activity:   deps.Activity,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		batchSize:  cfg.BatchSize,
		targets:    targets,
	}
}

// Ingest fetches a batch for sourceID, persists every item newer than the
// source watermark and then advances the watermark to the newest timestamp
// seen. Persistence and the watermark commit together; a failed or cancelled
// pass leaves the watermark where it was so the batch is replayed next time.
// Activity log blocks are written as each item is stored; only publishing
// waits for the commit.
func (s *IngestService) Ingest(ctx context.Context, sourceID string) (*domain.IngestStats, error) {
	startTime := time.Now()
	logger := s.logger.With("source", sourceID)

	watermark, err := s.watermarks.Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("get watermark: %w", err)
	}

	if err := s.activity.Fetching(sourceID); err != nil {
		logger.Warn("failed to write activity log", "error", err)
	}

	items, err := s.feed.FetchNew(ctx, sourceID, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}

	logger.Debug("fetched items", "count", len(items), "watermark", watermark)

	stats := &domain.IngestStats{
		SourceID:  sourceID,
		Fetched:   len(items),
		Watermark: watermark,
	}

	var classified []*domain.ClassifiedRecord

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		runningMax := watermark

		// The feed gives no ordering guarantee, so the whole batch is scanned.
		for i := range items {
			if err := txCtx.Err(); err != nil {
				return err
			}

			item := &items[i]
			if item.CreatedUTC <= watermark {
				stats.Skipped++
				continue
			}

			rec, err := s.ingestItem(txCtx, logger, sourceID, item)
			if err != nil {
				return err
			}
			if rec != nil {
				classified = append(classified, rec)
			}

			stats.New++
			runningMax = max(runningMax, item.CreatedUTC)
		}

		if err := s.watermarks.Set(txCtx, sourceID, runningMax); err != nil {
			return fmt.Errorf("set watermark: %w", err)
		}
		stats.Watermark = runningMax
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest batch: %w", err)
	}

	stats.Classified = len(classified)
	s.publish(ctx, logger, classified, stats)

	stats.Duration = time.Since(startTime)
	s.metrics.ObservePass(sourceID, stats.Fetched, stats.Skipped, stats.New, stats.Watermark, stats.Duration.Seconds())

	logger.Info("ingest completed",
		"fetched", stats.Fetched,
		"new", stats.New,
		"skipped", stats.Skipped,
		"classified", stats.Classified,
		"published", stats.Published,
		"errors", stats.Errors,
		"watermark", stats.Watermark,
		"duration", stats.Duration,
	)

	return stats, nil
}

// ingestItem persists one item and, when its language is a target, its
// classified copy. Each store write is followed by its activity log block.
// It returns the classified copy or nil.
func (s *IngestService) ingestItem(ctx context.Context, logger *slog.Logger, sourceID string, item *domain.Item) (*domain.ClassifiedRecord, error) {
	lang := s.classifier.Classify(item.Title + " " + item.Body)
	_, isTarget := s.targets[lang]

	record := domain.NewRecord(sourceID, *item)
	if err := s.records.UpsertPrimary(ctx, &record); err != nil {
		return nil, fmt.Errorf("upsert primary: %w", err)
	}

	entry := activitylog.Entry{
		SourceID:  sourceID,
		Record:    record,
		Permalink: item.Permalink,
	}
	if isTarget {
		entry.Language = lang
	}
	if err := s.activity.Added(entry); err != nil {
		logger.Warn("failed to write activity log", "id", item.ID, "error", err)
	}

	logger.Info("post added",
		"id", item.ID,
		"score", item.Score,
		"comments", item.NumComments,
		"language", lang,
	)

	if !isTarget {
		return nil, nil
	}

	classified := &domain.ClassifiedRecord{Record: record, Language: lang}
	if err := s.records.UpsertSecondary(ctx, classified); err != nil {
		return nil, fmt.Errorf("upsert secondary: %w", err)
	}
	if err := s.activity.Language(entry); err != nil {
		logger.Warn("failed to write language log", "id", item.ID, "error", err)
	}
	s.metrics.LanguageMatched(sourceID, lang)

	return classified, nil
}

func (s *IngestService) publish(ctx context.Context, logger *slog.Logger, records []*domain.ClassifiedRecord, stats *domain.IngestStats) {
	if s.publisher == nil {
		return
	}

	for _, rec := range records {
		if err := s.publisher.Publish(ctx, rec); err != nil {
			stats.Errors++
			s.metrics.PublishFailed(stats.SourceID)
			logger.Warn("failed to publish classified post", "id", rec.ID, "error", err)
			continue
		}
		stats.Published++
	}
}
