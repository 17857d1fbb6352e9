// Package telemetry records what the fusion engine did: which sources
// degraded, how often reranking ran, latency distribution and the terms
// people search for. All data stays local; the Prometheus recorder only
// exposes counters on the process's own /metrics endpoint.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// =============================================================================
// Outcomes
// =============================================================================

// Outcome classifies a finished Fuse call.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// OutcomeOf derives the outcome of an event.
func OutcomeOf(ev fusion.FusionEvent) Outcome {
	switch {
	case ev.ErrorCode != "":
		return OutcomeFailed
	case len(ev.DegradedSources) > 0:
		return OutcomeDegraded
	default:
		return OutcomeOK
	}
}

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP50   LatencyBucket = "p50"   // <50ms
	BucketP150  LatencyBucket = "p150"  // 50-150ms
	BucketP300  LatencyBucket = "p300"  // 150-300ms
	BucketP800  LatencyBucket = "p800"  // 300-800ms
	BucketP1000 LatencyBucket = "p1000" // >=800ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 50:
		return BucketP50
	case ms < 150:
		return BucketP150
	case ms < 300:
		return BucketP300
	case ms < 800:
		return BucketP800
	default:
		return BucketP1000
	}
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer; capacity <= 0 means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}
	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		// Full: oldest is at head.
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// =============================================================================
// Term Extraction
// =============================================================================

// ExtractTerms lowercases the query and keeps words of 3+ characters.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var terms []string
	for _, w := range strings.Fields(query) {
		w = strings.Trim(w, `.,;:!?"'()[]{}`)
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable copy of the collected metrics.
type Snapshot struct {
	Outcomes            map[Outcome]int64              `json:"outcomes"`
	DegradedBySource    map[fusion.SourceName]int64    `json:"degraded_by_source"`
	SourceLatencyAvg    map[fusion.SourceName]float64  `json:"source_latency_avg_ms"`
	RerankOutcomes      map[string]int64               `json:"rerank_outcomes"`
	ErrorCodes          map[string]int64               `json:"error_codes"`
	LatencyDistribution map[LatencyBucket]int64        `json:"latency_distribution"`
	TopTerms            []TermCount                    `json:"top_terms"`
	ZeroResultQueries   []string                       `json:"zero_result_queries"`
	TotalQueries        int64                          `json:"total_queries"`
	ZeroResultCount     int64                          `json:"zero_result_count"`
	ExactRepeatCount    int64                          `json:"exact_repeat_count"`
	Since               time.Time                      `json:"since"`
}

// DegradedRate returns the share of calls that lost at least one source.
func (s *Snapshot) DegradedRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.Outcomes[OutcomeDegraded]) / float64(s.TotalQueries)
}

// ExactRepeatRate returns the share of calls repeating a recent query.
func (s *Snapshot) ExactRepeatRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ExactRepeatCount) / float64(s.TotalQueries)
}

// =============================================================================
// Store
// =============================================================================

// Store persists daily aggregates.
type Store interface {
	SaveOutcomeCounts(date string, counts map[Outcome]int64) error
	GetOutcomeCounts(from, to string) (map[Outcome]int64, error)

	SaveDegradedCounts(date string, counts map[fusion.SourceName]int64) error
	GetDegradedCounts(from, to string) (map[fusion.SourceName]int64, error)

	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)

	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)

	Close() error
}

// =============================================================================
// Collector
// =============================================================================

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	TopTermsCapacity      int           // default 100
	ZeroResultsCapacity   int           // default 100
	RecentQueriesCapacity int           // default 500
	FlushInterval         time.Duration // 0 disables auto-flush
}

// DefaultCollectorConfig returns defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// Collector aggregates fusion events in memory and flushes deltas to a
// Store. It implements fusion.MetricsRecorder.
type Collector struct {
	mu sync.Mutex

	outcomes      map[Outcome]int64
	degraded      map[fusion.SourceName]int64
	latencySum    map[fusion.SourceName]time.Duration
	latencyN      map[fusion.SourceName]int64
	rerank        map[string]int64
	errorCodes    map[string]int64
	latencies     map[LatencyBucket]int64
	topTerms      *lru.Cache[string, int64]
	zeroResults   *CircularBuffer[string]
	recentQueries *lru.Cache[string, struct{}]
	total         int64
	zeroCount     int64
	repeats       int64
	startTime     time.Time

	// Not yet flushed.
	pending pendingCounts

	store  Store
	config CollectorConfig
	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

type pendingCounts struct {
	outcomes  map[Outcome]int64
	degraded  map[fusion.SourceName]int64
	latencies map[LatencyBucket]int64
	terms     map[string]int64
	zero      []zeroResult
}

type zeroResult struct {
	query string
	at    time.Time
}

func newPending() pendingCounts {
	return pendingCounts{
		outcomes:  make(map[Outcome]int64),
		degraded:  make(map[fusion.SourceName]int64),
		latencies: make(map[LatencyBucket]int64),
		terms:     make(map[string]int64),
	}
}

var _ fusion.MetricsRecorder = (*Collector)(nil)

// NewCollector creates a collector. A nil store keeps metrics in memory.
func NewCollector(store Store, cfg CollectorConfig) *Collector {
	d := DefaultCollectorConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = d.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = d.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = d.RecentQueriesCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	c := &Collector{
		outcomes:      make(map[Outcome]int64),
		degraded:      make(map[fusion.SourceName]int64),
		latencySum:    make(map[fusion.SourceName]time.Duration),
		latencyN:      make(map[fusion.SourceName]int64),
		rerank:        make(map[string]int64),
		errorCodes:    make(map[string]int64),
		latencies:     make(map[LatencyBucket]int64),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries: recent,
		startTime:     time.Now(),
		pending:       newPending(),
		store:         store,
		config:        cfg,
		stopCh:        make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		c.ticker = time.NewTicker(cfg.FlushInterval)
		go c.flushLoop()
	}
	return c
}

func (c *Collector) flushLoop() {
	for {
		select {
		case <-c.ticker.C:
			if err := c.Flush(); err != nil {
				slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-c.stopCh:
			return
		}
	}
}

// RecordFusion captures one Fuse call.
func (c *Collector) RecordFusion(ev fusion.FusionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.total++
	outcome := OutcomeOf(ev)
	c.outcomes[outcome]++
	c.pending.outcomes[outcome]++

	if ev.ErrorCode != "" {
		c.errorCodes[ev.ErrorCode]++
	}
	for _, src := range ev.DegradedSources {
		c.degraded[src]++
		c.pending.degraded[src]++
	}
	for src, d := range ev.SourceLatency {
		c.latencySum[src] += d
		c.latencyN[src]++
	}

	switch {
	case ev.Reranked:
		c.rerank["reranked"]++
	case ev.RerankSkipped != "":
		c.rerank[ev.RerankSkipped]++
	}

	bucket := LatencyToBucket(ev.Elapsed)
	c.latencies[bucket]++
	c.pending.latencies[bucket]++

	for _, term := range ExtractTerms(ev.Query) {
		count, _ := c.topTerms.Get(term)
		c.topTerms.Add(term, count+1)
		c.pending.terms[term]++
	}

	if ev.ErrorCode == "" && ev.Results == 0 {
		c.zeroResults.Add(ev.Query)
		c.zeroCount++
		c.pending.zero = append(c.pending.zero, zeroResult{query: ev.Query, at: time.Now()})
	}

	key := hashQuery(ev.Query)
	if _, seen := c.recentQueries.Get(key); seen {
		c.repeats++
	}
	c.recentQueries.Add(key, struct{}{})
}

func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// Snapshot returns the in-memory metrics.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Snapshot{
		Outcomes:            copyCounts(c.outcomes),
		DegradedBySource:    copyCounts(c.degraded),
		SourceLatencyAvg:    make(map[fusion.SourceName]float64, len(c.latencyN)),
		RerankOutcomes:      copyCounts(c.rerank),
		ErrorCodes:          copyCounts(c.errorCodes),
		LatencyDistribution: copyCounts(c.latencies),
		ZeroResultQueries:   c.zeroResults.Items(),
		TotalQueries:        c.total,
		ZeroResultCount:     c.zeroCount,
		ExactRepeatCount:    c.repeats,
		Since:               c.startTime,
	}
	for src, n := range c.latencyN {
		s.SourceLatencyAvg[src] = float64(c.latencySum[src].Microseconds()) / 1000 / float64(n)
	}
	for _, key := range c.topTerms.Keys() {
		if count, ok := c.topTerms.Peek(key); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(s.TopTerms, func(i, j int) bool {
		if s.TopTerms[i].Count != s.TopTerms[j].Count {
			return s.TopTerms[i].Count > s.TopTerms[j].Count
		}
		return s.TopTerms[i].Term < s.TopTerms[j].Term
	})
	return s
}

func copyCounts[K comparable](m map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Flush writes counts accumulated since the last flush to the store.
// On error the pending counts are kept for the next attempt.
func (c *Collector) Flush() error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	p := c.pending
	c.pending = newPending()
	c.mu.Unlock()

	if err := c.write(p); err != nil {
		c.mu.Lock()
		c.pending.merge(p)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Collector) write(p pendingCounts) error {
	today := time.Now().Format("2006-01-02")
	if err := c.store.SaveOutcomeCounts(today, p.outcomes); err != nil {
		return err
	}
	if err := c.store.SaveDegradedCounts(today, p.degraded); err != nil {
		return err
	}
	if err := c.store.SaveLatencyCounts(today, p.latencies); err != nil {
		return err
	}
	if err := c.store.UpsertTermCounts(p.terms); err != nil {
		return err
	}
	for _, z := range p.zero {
		if err := c.store.AddZeroResultQuery(z.query, z.at); err != nil {
			return err
		}
	}
	return nil
}

func (p *pendingCounts) merge(o pendingCounts) {
	for k, v := range o.outcomes {
		p.outcomes[k] += v
	}
	for k, v := range o.degraded {
		p.degraded[k] += v
	}
	for k, v := range o.latencies {
		p.latencies[k] += v
	}
	for k, v := range o.terms {
		p.terms[k] += v
	}
	p.zero = append(o.zero, p.zero...)
}

// Close stops auto-flush and flushes once more.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.ticker != nil {
		c.ticker.Stop()
		close(c.stopCh)
	}
	return c.Flush()
}
