// Package fusion merges several independent retrieval signals into one
// ranked evidence list.
//
// Data flow:
//
//	Query + RoutingWeights
//	        │
//	        ▼
//	┌───────────────┐  one goroutine per source with weight > 0
//	│  Orchestrator │──► vector ──► lexical ──► graph_local ──► graph_global
//	└───────┬───────┘  soft timeout per source, global deadline overall
//	        │ per-source []RankedItem (failed sources are degraded)
//	        ▼
//	┌───────────────┐
//	│   Combiner    │  fused = Σ weight[s] / (k + rank_s), dedup by ChunkID
//	└───────┬───────┘  ties: more sources, then smaller ChunkID
//	        │ top-N []FusedResult
//	        ▼
//	┌───────────────┐
//	│   Reranker    │  optional, budgeted, may only permute the top-N
//	└───────┬───────┘
//	        ▼
//	   FusionResult
//
// Only InvalidInput and AllSourcesFailed are returned as errors from
// Engine.Fuse. Every other failure shows up in FusionResult.DegradedSources
// or as Reranked=false.
package fusion
