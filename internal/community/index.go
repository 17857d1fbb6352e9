package community

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// Index publishes the current Snapshot. Reads are lock-free; a reload
// builds a new Snapshot off to the side and swaps it in.
type Index struct {
	current atomic.Pointer[Snapshot]

	mu        sync.Mutex
	listeners []func(*Snapshot)
}

var _ fusion.SummaryProvider = (*Index)(nil)

// NewIndex creates an index serving snap. A nil snap serves an empty snapshot.
func NewIndex(snap *Snapshot) *Index {
	if snap == nil {
		snap = EmptySnapshot()
	}
	idx := &Index{}
	idx.current.Store(snap)
	return idx
}

// Load returns the current snapshot. Hold on to it for the duration of a
// request to get a consistent view.
func (i *Index) Load() *Snapshot {
	return i.current.Load()
}

// Swap publishes snap and returns the previous snapshot. Listeners run
// synchronously after the swap, in registration order.
func (i *Index) Swap(snap *Snapshot) *Snapshot {
	if snap == nil {
		snap = EmptySnapshot()
	}
	old := i.current.Swap(snap)

	i.mu.Lock()
	listeners := append([]func(*Snapshot){}, i.listeners...)
	i.mu.Unlock()

	slog.Info("community_index_swapped",
		slog.String("old_version", old.Version()),
		slog.String("new_version", snap.Version()),
		slog.Int("communities", snap.Len()))

	for _, fn := range listeners {
		fn(snap)
	}
	return old
}

// OnSwap registers fn to run after every Swap.
func (i *Index) OnSwap(fn func(*Snapshot)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listeners = append(i.listeners, fn)
}

// Lookup returns a community from the current snapshot.
func (i *Index) Lookup(id string) (fusion.Community, bool) {
	return i.Load().Lookup(id)
}

// CommunityOf maps an entity to its community in the current snapshot.
func (i *Index) CommunityOf(entityID string) (string, bool) {
	return i.Load().CommunityOf(entityID)
}

// Summary returns a community summary from the current snapshot.
func (i *Index) Summary(id string) (string, bool) {
	return i.Load().Summary(id)
}

// Summaries pins the current snapshot for one fusion request.
func (i *Index) Summaries() fusion.SummaryLookup {
	return i.Load()
}
