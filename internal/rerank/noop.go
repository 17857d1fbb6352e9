package rerank

import (
	"context"

	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// NoOp keeps candidates in fused order. It stands in when reranking is
// disabled so the engine exercises the same code path.
type NoOp struct{}

var _ fusion.Reranker = NoOp{}

// Rerank returns decreasing scores 1.0, 0.99, 0.98, ... by position.
func (NoOp) Rerank(_ context.Context, _ string, candidates []string) ([]fusion.RerankScore, error) {
	scores := make([]fusion.RerankScore, len(candidates))
	for i := range candidates {
		scores[i] = fusion.RerankScore{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	return scores, nil
}
