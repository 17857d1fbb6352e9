package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
)

func TestPrometheusRecorder_RecordFusion(t *testing.T) {
	// Given: a recorder on its own registry
	reg := prometheus.NewRegistry()
	p := NewPrometheusRecorder(reg, "test")

	// When: recording a degraded call and a failed one
	ev := okEvent("billing", 4)
	ev.DegradedSources = []fusion.SourceName{fusion.SourceGraphGlobal}
	p.RecordFusion(ev)
	p.RecordFusion(fusion.FusionEvent{Query: "x", ErrorCode: amerrors.ErrCodeAllSourcesFailed})

	// Then: counters carry the labels
	assert.InDelta(t, 1, testutil.ToFloat64(p.requests.WithLabelValues("degraded", "none")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(p.requests.WithLabelValues("failed", amerrors.ErrCodeAllSourcesFailed)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(p.degraded.WithLabelValues("graph_global")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(p.rerank.WithLabelValues("reranked")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(p.sourceLatency))
}

func TestMulti_ForwardsToAll(t *testing.T) {
	a := NewCollector(nil, CollectorConfig{})
	b := NewCollector(nil, CollectorConfig{})

	Multi{a, nil, b}.RecordFusion(okEvent("billing", 1))

	assert.Equal(t, int64(1), a.Snapshot().TotalQueries)
	assert.Equal(t, int64(1), b.Snapshot().TotalQueries)
}
