package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedwatch/internal/activitylog"
	"feedwatch/internal/config"
	"feedwatch/internal/domain"
)

type memFeed struct {
	items map[string][]domain.Item
	err   error
}

func (f *memFeed) FetchNew(_ context.Context, sourceID string, limit int) ([]domain.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	items := f.items[sourceID]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type staticClassifier map[string]string

func (c staticClassifier) Classify(text string) string {
	if lang, ok := c[text]; ok {
		return lang
	}
	return domain.UnknownLanguage
}

// memStore keeps committed state apart from the pending writes of the
// transaction in flight so a failed pass can be discarded.
type memStore struct {
	mu         sync.Mutex
	watermarks map[string]int64
	primary    map[string]domain.Record
	secondary  map[string]domain.ClassifiedRecord

	pending   *memStore
	failAfter int
	writes    int
}

func newMemStore() *memStore {
	return &memStore{
		watermarks: map[string]int64{},
		primary:    map[string]domain.Record{},
		secondary:  map[string]domain.ClassifiedRecord{},
		failAfter:  -1,
	}
}

func (m *memStore) target() *memStore {
	if m.pending != nil {
		return m.pending
	}
	return m
}

func (m *memStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	m.mu.Lock()
	pending := newMemStore()
	for k, v := range m.watermarks {
		pending.watermarks[k] = v
	}
	for k, v := range m.primary {
		pending.primary[k] = v
	}
	for k, v := range m.secondary {
		pending.secondary[k] = v
	}
	m.pending = pending
	m.mu.Unlock()

	err := fn(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.watermarks = pending.watermarks
		m.primary = pending.primary
		m.secondary = pending.secondary
	}
	m.pending = nil
	return err
}

func (m *memStore) write() error {
	m.writes++
	if m.failAfter >= 0 && m.writes > m.failAfter {
		return errors.New("write failed")
	}
	return nil
}

func (m *memStore) Get(_ context.Context, sourceID string) (int64, error) {
	return m.target().watermarks[sourceID], nil
}

func (m *memStore) Set(_ context.Context, sourceID string, ts int64) error {
	if err := m.write(); err != nil {
		return err
	}
	m.target().watermarks[sourceID] = ts
	return nil
}

func (m *memStore) UpsertPrimary(_ context.Context, r *domain.Record) error {
	if err := m.write(); err != nil {
		return err
	}
	t := m.target()
	if existing, ok := t.primary[r.ID]; ok {
		existing.Score = r.Score
		existing.CommentCount = r.CommentCount
		t.primary[r.ID] = existing
		return nil
	}
	t.primary[r.ID] = *r
	return nil
}

func (m *memStore) UpsertSecondary(_ context.Context, r *domain.ClassifiedRecord) error {
	if err := m.write(); err != nil {
		return err
	}
	t := m.target()
	if existing, ok := t.secondary[r.ID]; ok {
		existing.Score = r.Score
		existing.CommentCount = r.CommentCount
		existing.Language = r.Language
		t.secondary[r.ID] = existing
		return nil
	}
	t.secondary[r.ID] = *r
	return nil
}

type memActivity struct {
	fetching []string
	added    []activitylog.Entry
	language []activitylog.Entry
}

func (a *memActivity) Fetching(sourceID string) error {
	a.fetching = append(a.fetching, sourceID)
	return nil
}

func (a *memActivity) Added(e activitylog.Entry) error {
	a.added = append(a.added, e)
	return nil
}

func (a *memActivity) Language(e activitylog.Entry) error {
	a.language = append(a.language, e)
	return nil
}

func newMemService(feed FeedClient, classifier LanguageClassifier, store *memStore, activity ActivityLog) *IngestService {
	return NewIngestService(Deps{
		Feed:       feed,
		Classifier: classifier,
		Watermarks: store,
		Records:    store,
		TxManager:  store,
		Activity:   activity,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, config.IngestConfig{BatchSize: 1000, TargetLanguages: []string{"bn", "as"}})
}

func randomBatch(rng *rand.Rand, n int) []domain.Item {
	items := make([]domain.Item, n)
	for i := range items {
		items[i] = domain.Item{
			ID:         strconv.Itoa(rng.Intn(n * 2)),
			Title:      "t",
			Score:      rng.Intn(100),
			CreatedUTC: int64(rng.Intn(10_000)),
		}
	}
	return items
}

func TestIngest_ReplayIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		feed := &memFeed{items: map[string][]domain.Item{"books": randomBatch(rng, 50)}}
		store := newMemStore()
		activity := &memActivity{}
		svc := newMemService(feed, staticClassifier{"t ": "bn"}, store, activity)

		first, err := svc.Ingest(ctx, "books")
		require.NoError(t, err)

		primary := len(store.primary)
		secondary := len(store.secondary)
		logged := len(activity.added)

		second, err := svc.Ingest(ctx, "books")
		require.NoError(t, err)

		assert.Equal(t, 0, second.New)
		assert.Equal(t, second.Fetched, second.Skipped)
		assert.Equal(t, first.Watermark, second.Watermark)
		assert.Len(t, store.primary, primary)
		assert.Len(t, store.secondary, secondary)
		assert.Len(t, activity.added, logged)
	}
}

func TestIngest_WatermarkIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ctx := context.Background()
	feed := &memFeed{items: map[string][]domain.Item{}}
	store := newMemStore()
	svc := newMemService(feed, staticClassifier{}, store, &memActivity{})

	var previous, highest int64
	for round := 0; round < 50; round++ {
		batch := randomBatch(rng, rng.Intn(20))
		feed.items["books"] = batch

		stats, err := svc.Ingest(ctx, "books")
		require.NoError(t, err)

		for _, it := range batch {
			highest = max(highest, it.CreatedUTC)
		}

		assert.GreaterOrEqual(t, stats.Watermark, previous)
		assert.Equal(t, highest, stats.Watermark)
		assert.Equal(t, highest, store.watermarks["books"])
		previous = stats.Watermark
	}
}

func TestIngest_FailedPassLeavesCommittedState(t *testing.T) {
	ctx := context.Background()
	feed := &memFeed{items: map[string][]domain.Item{
		"books": {
			{ID: "a", Title: "t", CreatedUTC: 100},
			{ID: "b", Title: "t", CreatedUTC: 200},
			{ID: "c", Title: "t", CreatedUTC: 300},
		},
	}}
	store := newMemStore()
	store.watermarks["books"] = 50
	store.failAfter = 2
	svc := newMemService(feed, staticClassifier{}, store, &memActivity{})

	_, err := svc.Ingest(ctx, "books")
	require.Error(t, err)
	assert.Equal(t, int64(50), store.watermarks["books"])
	assert.Empty(t, store.primary)

	store.failAfter = -1
	stats, err := svc.Ingest(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.New)
	assert.Equal(t, int64(300), store.watermarks["books"])
	assert.Len(t, store.primary, 3)
}

func TestIngest_SourcesAreIndependent(t *testing.T) {
	ctx := context.Background()
	feed := &memFeed{items: map[string][]domain.Item{
		"books": {{ID: "a", Title: "t", CreatedUTC: 500}},
		"assam": {{ID: "b", Title: "t", CreatedUTC: 20}},
	}}
	store := newMemStore()
	svc := newMemService(feed, staticClassifier{}, store, &memActivity{})

	_, err := svc.Ingest(ctx, "books")
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "assam")
	require.NoError(t, err)

	assert.Equal(t, int64(500), store.watermarks["books"])
	assert.Equal(t, int64(20), store.watermarks["assam"])
}
