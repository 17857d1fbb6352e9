package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/service"
)

// ToFuseOutput converts a service response to the tool output schema.
func ToFuseOutput(resp *service.Response) FuseOutput {
	out := FuseOutput{Results: []ResultOutput{}, DegradedSources: []string{}}
	if resp == nil || resp.FusionResult == nil {
		return out
	}
	out.DegradedSources = append(out.DegradedSources, resp.DegradedSources...)
	out.Reranked = resp.Reranked
	out.ElapsedMS = resp.ElapsedMS
	out.RequestID = resp.RequestID
	out.QueryType = resp.QueryType
	out.Weights = resp.Weights

	for _, item := range resp.Items {
		out.Results = append(out.Results, toResultOutput(item))
	}
	return out
}

func toResultOutput(item fusion.FusedResult) ResultOutput {
	r := ResultOutput{
		Rank:    item.Rank,
		ChunkID: item.ChunkID,
		Score:   item.Score,
		Sources: make([]string, len(item.Sources)),
		Text:    item.Text,
	}
	for i, s := range item.Sources {
		r.Sources[i] = string(s)
	}
	r.CommunityID, _ = item.Metadata[fusion.MetaCommunityID].(string)
	r.CommunitySummary, _ = item.Metadata[fusion.MetaCommunitySummary].(string)
	if score, ok := item.Metadata[fusion.MetaRerankScore].(float64); ok {
		r.RerankScore = &score
	}
	return r
}

// ToStatusOutput converts service status to the tool output schema.
func ToStatusOutput(st service.Status) StatusOutput {
	out := StatusOutput{
		Sources: append([]string{}, st.Sources...),
		Community: CommunityOutput{
			Version:     st.Community.Version,
			Communities: st.Community.Communities,
			Reloads:     st.Community.Reloads,
			LastError:   st.Community.LastError,
		},
	}
	if !st.Community.BuiltAt.IsZero() {
		out.Community.BuiltAt = st.Community.BuiltAt.UTC().Format(time.RFC3339)
	}
	if t := st.Telemetry; t != nil {
		out.Telemetry = &TelemetryOutput{
			TotalQueries:      t.TotalQueries,
			DegradedRate:      t.DegradedRate(),
			Outcomes:          make(map[string]int64, len(t.Outcomes)),
			DegradedBySource:  make(map[string]int64, len(t.DegradedBySource)),
			RerankOutcomes:    t.RerankOutcomes,
			ZeroResultQueries: t.ZeroResultQueries,
		}
		for k, v := range t.Outcomes {
			out.Telemetry.Outcomes[string(k)] = v
		}
		for k, v := range t.DegradedBySource {
			out.Telemetry.DegradedBySource[string(k)] = v
		}
	}
	return out
}

// FormatMarkdown renders fused results for clients that only read text content.
func FormatMarkdown(query string, out FuseOutput) string {
	if len(out.Results) == 0 {
		msg := fmt.Sprintf("No results found for \"%s\"", query)
		if len(out.DegradedSources) > 0 {
			msg += fmt.Sprintf(" (degraded: %s)", strings.Join(out.DegradedSources, ", "))
		}
		return msg
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(out.Results))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	if out.QueryType != "" {
		fmt.Fprintf(&sb, " (routing: %s)", out.QueryType)
	}
	sb.WriteString("\n\n")

	for _, r := range out.Results {
		fmt.Fprintf(&sb, "### %d. `%s` (score %.4f, %s)\n\n", r.Rank, r.ChunkID, r.Score, strings.Join(r.Sources, ", "))
		if r.Text != "" {
			sb.WriteString(r.Text)
			sb.WriteString("\n\n")
		}
		if r.CommunitySummary != "" {
			fmt.Fprintf(&sb, "> Community: %s\n\n", r.CommunitySummary)
		}
	}

	if len(out.DegradedSources) > 0 {
		fmt.Fprintf(&sb, "_Degraded sources: %s_\n", strings.Join(out.DegradedSources, ", "))
	}
	return sb.String()
}
