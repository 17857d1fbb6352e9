package fusion

import (
	"context"
	"sync/atomic"
	"time"
)

// fakeAdapter returns a fixed list after an optional delay and counts calls.
type fakeAdapter struct {
	ids   []string
	err   error
	delay time.Duration
	// ignoreCtx makes the adapter sleep through cancellation.
	ignoreCtx bool
	calls     atomic.Int32
	meta      map[string]map[string]any
}

func (f *fakeAdapter) Search(ctx context.Context, q Query, k int) ([]RankedItem, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return ranked("", f.ids, f.meta), nil
}

func ranked(src SourceName, ids []string, meta map[string]map[string]any) []RankedItem {
	items := make([]RankedItem, len(ids))
	for i, id := range ids {
		items[i] = RankedItem{
			ChunkID:  id,
			Source:   src,
			Score:    1.0 / float64(i+1),
			Rank:     i + 1,
			Text:     "text of " + id,
			Metadata: meta[id],
		}
	}
	return items
}

func chunkIDs(items []FusedResult) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ChunkID
	}
	return ids
}

type staticSummaries map[string]string

func (s staticSummaries) Summary(id string) (string, bool) {
	v, ok := s[id]
	return v, ok
}

func (s staticSummaries) Summaries() SummaryLookup { return s }

func boolPtr(b bool) *bool { return &b }
