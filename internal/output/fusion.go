package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// snippetWidth bounds the text preview per result.
const snippetWidth = 100

// FusionResult prints a ranked result list with sources, summaries and a
// trailer naming degraded sources.
func (w *Writer) FusionResult(query string, res *fusion.FusionResult) {
	if res == nil {
		return
	}
	w.Header(fmt.Sprintf("Results for %q", query))
	if len(res.Items) == 0 {
		w.Status("", w.styles.Dim.Render("no results"))
	}

	for _, item := range res.Items {
		sources := make([]string, len(item.Sources))
		for i, s := range item.Sources {
			sources[i] = string(s)
		}
		_, _ = fmt.Fprintf(w.out, "%3d. %s  %s  %s\n",
			item.Rank,
			w.styles.Score.Render(fmt.Sprintf("%.4f", item.Score)),
			item.ChunkID,
			w.styles.Source.Render("["+strings.Join(sources, ",")+"]"))

		if item.Text != "" {
			_, _ = fmt.Fprintf(w.out, "     %s\n", Snippet(item.Text, snippetWidth))
		}
		if summary, ok := item.Metadata[fusion.MetaCommunitySummary].(string); ok && summary != "" {
			_, _ = fmt.Fprintf(w.out, "     %s %s\n", w.styles.Dim.Render("community:"), Snippet(summary, snippetWidth))
		}
	}

	w.Newline()
	trailer := fmt.Sprintf("%d results in %dms (request %s)", len(res.Items), res.ElapsedMS, res.RequestID)
	if res.Reranked {
		trailer += ", reranked"
	}
	_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render(trailer))
	if len(res.DegradedSources) > 0 {
		w.Warningf("degraded sources: %s", strings.Join(res.DegradedSources, ", "))
	}
}

// JSON prints v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Snippet flattens whitespace and truncates s to width runes.
func Snippet(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if width <= 0 || len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
