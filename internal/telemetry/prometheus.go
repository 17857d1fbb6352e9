package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// PrometheusRecorder exports fusion events as Prometheus metrics.
type PrometheusRecorder struct {
	requests      *prometheus.CounterVec
	duration      prometheus.Histogram
	sourceLatency *prometheus.HistogramVec
	degraded      *prometheus.CounterVec
	rerank        *prometheus.CounterVec
	results       prometheus.Histogram
}

var _ fusion.MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the fusion metrics with reg under namespace.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) *PrometheusRecorder {
	f := promauto.With(reg)
	return &PrometheusRecorder{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fusion_requests_total",
			Help:      "Fuse calls by outcome and error code",
		}, []string{"outcome", "code"}),

		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fusion_duration_seconds",
			Help:      "End-to-end Fuse latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.15, 0.3, 0.5, 0.8, 1, 2},
		}),

		sourceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fusion_source_duration_seconds",
			Help:      "Per-source adapter latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5},
		}, []string{"source"}),

		degraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fusion_source_degraded_total",
			Help:      "Sources dropped from a Fuse call",
		}, []string{"source"}),

		rerank: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fusion_rerank_total",
			Help:      "Rerank stage outcomes",
		}, []string{"result"}),

		results: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fusion_results",
			Help:      "Items returned per Fuse call",
			Buckets:   prometheus.LinearBuckets(0, 10, 6),
		}),
	}
}

// RecordFusion implements fusion.MetricsRecorder.
func (p *PrometheusRecorder) RecordFusion(ev fusion.FusionEvent) {
	code := ev.ErrorCode
	if code == "" {
		code = "none"
	}
	p.requests.WithLabelValues(string(OutcomeOf(ev)), code).Inc()
	p.duration.Observe(ev.Elapsed.Seconds())
	for src, d := range ev.SourceLatency {
		p.sourceLatency.WithLabelValues(string(src)).Observe(d.Seconds())
	}
	for _, src := range ev.DegradedSources {
		p.degraded.WithLabelValues(string(src)).Inc()
	}
	switch {
	case ev.Reranked:
		p.rerank.WithLabelValues("reranked").Inc()
	case ev.RerankSkipped != "":
		p.rerank.WithLabelValues(ev.RerankSkipped).Inc()
	}
	if ev.ErrorCode == "" {
		p.results.Observe(float64(ev.Results))
	}
}

// Multi forwards each event to every non-nil recorder.
type Multi []fusion.MetricsRecorder

// RecordFusion implements fusion.MetricsRecorder.
func (m Multi) RecordFusion(ev fusion.FusionEvent) {
	for _, r := range m {
		if r != nil {
			r.RecordFusion(ev)
		}
	}
}
