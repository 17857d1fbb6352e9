package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/service"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// fuseOptions holds the flags of the fuse command.
type fuseOptions struct {
	jsonOutput bool
	topN       int
	noRerank   bool
	subQueries []string
	weights    map[string]string
	timeouts   map[string]string
}

func newFuseCmd() *cobra.Command {
	opts := &fuseOptions{}

	cmd := &cobra.Command{
		Use:   "fuse <query>",
		Short: "Run one fused retrieval query",
		Long: `Query every retrieval source in parallel and print the fused ranking.

Without --weight the query is classified and routed automatically.

Examples:
  amanrag fuse "how does billing talk to the ledger"
  amanrag fuse "PaymentService" --weight lexical=1 --weight vector=0.5
  amanrag fuse "refund flow" --sub-query "chargeback" --top-n 10 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuse(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the result as JSON")
	cmd.Flags().IntVarP(&opts.topN, "top-n", "n", 0, "Maximum results (default from config)")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Skip the reranking stage")
	cmd.Flags().StringArrayVar(&opts.subQueries, "sub-query", nil, "Additional query text fused with the main query (repeatable)")
	cmd.Flags().StringToStringVarP(&opts.weights, "weight", "w", nil, "Source weight, e.g. vector=0.7 (repeatable)")
	cmd.Flags().StringToStringVar(&opts.timeouts, "timeout", nil, "Per-source timeout, e.g. graph_global=200ms (repeatable)")

	return cmd
}

func runFuse(ctx context.Context, cmd *cobra.Command, query string, opts *fuseOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := opts.request(query)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	resp, err := rt.service.Fuse(ctx, req)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if opts.jsonOutput {
		return out.JSON(resp)
	}
	out.FusionResult(query, resp.FusionResult)
	out.KeyValue("Routing", resp.QueryType)
	return nil
}

// request converts the flags into a service request.
func (o *fuseOptions) request(query string) (service.Request, error) {
	req := service.Request{
		Query:      query,
		SubQueries: o.subQueries,
		TopN:       o.topN,
		Timeouts:   o.timeouts,
	}
	if o.noRerank {
		off := false
		req.Rerank = &off
	}
	if len(o.weights) > 0 {
		req.Weights = make(map[string]float64, len(o.weights))
		for name, raw := range o.weights {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return service.Request{}, amerrors.InvalidInput("weight for %s: %q is not a number", name, raw)
			}
			req.Weights[name] = v
		}
	}
	if o.topN < 0 {
		return service.Request{}, amerrors.InvalidInput("top-n must not be negative, got %d", o.topN)
	}
	return req, nil
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sources, the community snapshot and query telemetry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := openRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			st := rt.service.Status()
			hist, err := loadHistory(rt.telemetryDB, days, time.Now())
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(struct {
					service.Status
					History *history `json:"history,omitempty"`
				}{st, hist})
			}
			printStatus(out, cfg.DataDir, st)
			printHistory(out, hist)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Days of recorded query history to summarize")
	return cmd
}

func printStatus(out *output.Writer, dataDir string, st service.Status) {
	out.Header("amanrag status")
	out.KeyValue("Data dir", dataDir)
	out.KeyValue("Sources", strings.Join(st.Sources, ", "))
	out.KeyValue("Snapshot", st.Community.Version)
	out.KeyValue("Communities", st.Community.Communities)
	if !st.Community.BuiltAt.IsZero() {
		out.KeyValue("Built at", st.Community.BuiltAt.Format("2006-01-02 15:04:05"))
	}
	if st.Community.LastError != "" {
		out.Warningf("last reload failed: %s", st.Community.LastError)
	}

}

// history is the persisted query telemetry over a window of days.
type history struct {
	Days     int                         `json:"days"`
	Outcomes map[telemetry.Outcome]int64 `json:"outcomes"`
	Degraded map[fusion.SourceName]int64 `json:"degraded_by_source"`
	TopTerms []telemetry.TermCount       `json:"top_terms"`
	NoResult []string                    `json:"zero_result_queries"`
}

func loadHistory(db *telemetry.SQLiteStore, days int, now time.Time) (*history, error) {
	if db == nil || days <= 0 {
		return nil, nil
	}
	to := now.Format("2006-01-02")
	from := now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")

	h := &history{Days: days}
	var err error
	if h.Outcomes, err = db.GetOutcomeCounts(from, to); err != nil {
		return nil, err
	}
	if h.Degraded, err = db.GetDegradedCounts(from, to); err != nil {
		return nil, err
	}
	if h.TopTerms, err = db.GetTopTerms(10); err != nil {
		return nil, err
	}
	if h.NoResult, err = db.GetZeroResultQueries(5); err != nil {
		return nil, err
	}
	return h, nil
}

func printHistory(out *output.Writer, h *history) {
	if h == nil {
		return
	}
	var total int64
	for _, n := range h.Outcomes {
		total += n
	}
	out.Newline()
	out.Header(fmt.Sprintf("Queries (last %d days)", h.Days))
	out.KeyValue("Total", total)
	for _, o := range []telemetry.Outcome{telemetry.OutcomeOK, telemetry.OutcomeDegraded, telemetry.OutcomeFailed} {
		out.KeyValue(string(o), h.Outcomes[o])
	}
	for _, src := range fusion.AllSources() {
		if n := h.Degraded[src]; n > 0 {
			out.KeyValue("degraded "+string(src), n)
		}
	}
	if len(h.TopTerms) > 0 {
		terms := make([]string, len(h.TopTerms))
		for i, t := range h.TopTerms {
			terms[i] = fmt.Sprintf("%s (%d)", t.Term, t.Count)
		}
		out.KeyValue("Top terms", strings.Join(terms, ", "))
	}
	for _, q := range h.NoResult {
		out.Warningf("no results: %s", q)
	}
}
