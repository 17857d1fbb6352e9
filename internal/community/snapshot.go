// Package community holds the Community Index: the read-only mapping from
// entity to community and community to summary used by the graph_global
// source and by the combiner. Snapshots are immutable and published by
// atomic pointer swap so in-flight queries never see a half-loaded index.
package community

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// Snapshot is one immutable generation of the Community Index.
// It is safe for unsynchronised concurrent reads.
type Snapshot struct {
	version  string
	builtAt  time.Time
	byID     map[string]*fusion.Community
	byEntity map[string]string
	ids      []string
}

// NewSnapshot validates communities and indexes them. IDs must be
// non-empty and unique. An entity listed in several communities maps to
// the first by ID order. Input slices are copied.
func NewSnapshot(version string, builtAt time.Time, communities []fusion.Community) (*Snapshot, error) {
	s := &Snapshot{
		version:  version,
		builtAt:  builtAt,
		byID:     make(map[string]*fusion.Community, len(communities)),
		byEntity: make(map[string]string),
		ids:      make([]string, 0, len(communities)),
	}
	for i := range communities {
		c := cloneCommunity(communities[i])
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("community %d has an empty id", i)
		}
		if _, dup := s.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate community id %q", c.ID)
		}
		s.byID[c.ID] = &c
		s.ids = append(s.ids, c.ID)
	}
	sort.Strings(s.ids)
	for _, id := range s.ids {
		for _, member := range s.byID[id].Members {
			if _, taken := s.byEntity[member]; !taken {
				s.byEntity[member] = id
			}
		}
	}
	return s, nil
}

// EmptySnapshot returns a snapshot with no communities.
func EmptySnapshot() *Snapshot {
	s, _ := NewSnapshot("empty", time.Time{}, nil)
	return s
}

func cloneCommunity(c fusion.Community) fusion.Community {
	c.Members = slices.Clone(c.Members)
	c.Chunks = slices.Clone(c.Chunks)
	c.Embedding = slices.Clone(c.Embedding)
	return c
}

// Version identifies the build that produced the snapshot.
func (s *Snapshot) Version() string { return s.version }

// BuiltAt is when the offline job produced the snapshot.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Len returns the number of communities.
func (s *Snapshot) Len() int { return len(s.ids) }

// IDs returns community IDs in ascending order.
func (s *Snapshot) IDs() []string { return slices.Clone(s.ids) }

// Lookup returns a copy of a community.
func (s *Snapshot) Lookup(id string) (fusion.Community, bool) {
	c, ok := s.byID[id]
	if !ok {
		return fusion.Community{}, false
	}
	return cloneCommunity(*c), true
}

// Summary returns the summary text of a community.
func (s *Snapshot) Summary(id string) (string, bool) {
	c, ok := s.byID[id]
	if !ok {
		return "", false
	}
	return c.Summary, true
}

// Chunks returns the member chunks of a community without copying.
// Callers must not modify the result.
func (s *Snapshot) Chunks(id string) []string {
	if c, ok := s.byID[id]; ok {
		return c.Chunks
	}
	return nil
}

// CommunityOf returns the community an entity belongs to.
func (s *Snapshot) CommunityOf(entityID string) (string, bool) {
	id, ok := s.byEntity[entityID]
	return id, ok
}

// Communities returns copies of all communities in ID order.
func (s *Snapshot) Communities() []fusion.Community {
	out := make([]fusion.Community, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, cloneCommunity(*s.byID[id]))
	}
	return out
}

// embeddings returns (id, embedding) pairs for communities that have one,
// in ID order, without copying.
func (s *Snapshot) embeddings() ([]string, [][]float32) {
	var ids []string
	var vecs [][]float32
	for _, id := range s.ids {
		if emb := s.byID[id].Embedding; len(emb) > 0 {
			ids = append(ids, id)
			vecs = append(vecs, emb)
		}
	}
	return ids, vecs
}
