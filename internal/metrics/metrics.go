// Package metrics exposes Prometheus instrumentation for ingestion.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedwatch"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	ItemsFetched   *prometheus.CounterVec
	ItemsSkipped   *prometheus.CounterVec
	ItemsIngested  *prometheus.CounterVec
	ItemsLanguage  *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PassFailures   *prometheus.CounterVec
	PassDuration   *prometheus.HistogramVec
	Watermark      *prometheus.GaugeVec
	BreakerState   *prometheus.GaugeVec
	IdleRoundsWait prometheus.Counter
}

// New creates and registers all metrics on reg (the default registerer if nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ItemsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Candidate items returned by the feed",
		}, []string{"source"}),
		ItemsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_skipped_total",
			Help:      "Items at or below the source watermark",
		}, []string{"source"}),
		ItemsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_ingested_total",
			Help:      "Items persisted to the primary table",
		}, []string{"source"}),
		ItemsLanguage: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_language_total",
			Help:      "Items persisted to the secondary table, by language",
		}, []string{"source", "language"}),
		PublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Classified records that could not be published",
		}, []string{"source"}),
		PassFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pass_failures_total",
			Help:      "Ingestion passes that failed or were skipped by the breaker",
		}, []string{"source", "reason"}),
		PassDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of one ingestion pass",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"source"}),
		Watermark: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_timestamp_seconds",
			Help:      "Committed watermark per source",
		}, []string{"source"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per source (0 closed, 1 open, 2 half-open)",
		}, []string{"source"}),
		IdleRoundsWait: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_rounds_total",
			Help:      "Rounds that found nothing new and triggered the idle wait",
		}),
	}
}

func (m *Metrics) ObservePass(source string, fetched, skipped, ingested int, watermark int64, seconds float64) {
	if m == nil {
		return
	}
	m.ItemsFetched.WithLabelValues(source).Add(float64(fetched))
	m.ItemsSkipped.WithLabelValues(source).Add(float64(skipped))
	m.ItemsIngested.WithLabelValues(source).Add(float64(ingested))
	m.Watermark.WithLabelValues(source).Set(float64(watermark))
	m.PassDuration.WithLabelValues(source).Observe(seconds)
}

func (m *Metrics) LanguageMatched(source, language string) {
	if m == nil {
		return
	}
	m.ItemsLanguage.WithLabelValues(source, language).Inc()
}

func (m *Metrics) PublishFailed(source string) {
	if m == nil {
		return
	}
	m.PublishErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) PassFailed(source, reason string) {
	if m == nil {
		return
	}
	m.PassFailures.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) SetBreakerState(source string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(source).Set(float64(state))
}

func (m *Metrics) IdleRound() {
	if m == nil {
		return
	}
	m.IdleRoundsWait.Inc()
}
