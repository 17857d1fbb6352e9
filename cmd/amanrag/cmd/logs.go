package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/logging"
)

type logsOptions struct {
	follow    bool
	lines     int
	level     string
	filter    string
	requestID string
	noColor   bool
	logFile   string
	source    string
}

func newLogsCmd() *cobra.Command {
	opts := logsOptions{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View amanrag logs",
		Long: `View and tail amanrag logs.

Log Sources:
  cli    - one-shot commands run with --debug (~/.amanrag/logs/amanrag.log)
  serve  - the server (~/.amanrag/logs/serve.log)
  all    - both, merged by timestamp

Examples:
  amanrag logs                      # last 50 server lines
  amanrag logs -f                   # follow in real time
  amanrag logs --level warn         # warnings and errors only
  amanrag logs --request-id 3f2a    # one fusion request
  amanrag logs --filter degraded    # regex over message and attributes`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runLogs(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Filter by pattern (regex)")
	cmd.Flags().StringVar(&opts.requestID, "request-id", "", "Only entries for this request ID")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Path to log file (overrides --source)")
	cmd.Flags().StringVar(&opts.source, "source", string(logging.LogSourceServe), "Log source: cli, serve or all")

	return cmd
}

func runLogs(ctx context.Context, stdout, stderr io.Writer, opts logsOptions) error {
	source, err := logging.ParseLogSource(opts.source)
	if err != nil {
		return err
	}
	paths, err := logging.FindLogFiles(source, opts.logFile)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		pattern, err = regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:      opts.level,
		Pattern:    pattern,
		RequestID:  opts.requestID,
		NoColor:    opts.noColor,
		ShowSource: len(paths) > 1,
	}, stdout)

	_, _ = fmt.Fprintf(stderr, "Log files: %s\n---\n", strings.Join(paths, ", "))

	if !opts.follow {
		entries, err := viewer.Tail(paths, opts.lines)
		if err != nil {
			return err
		}
		viewer.Print(entries)
		return nil
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entries := make(chan logging.LogEntry, 100)
	errCh := make(chan error, 1)
	go func() {
		errCh <- viewer.Follow(ctx, paths, entries)
	}()

	_, _ = fmt.Fprintln(stderr, "Following... (Ctrl+C to stop)")
	for {
		select {
		case entry := <-entries:
			_, _ = fmt.Fprintln(stdout, viewer.Format(entry))
		case err := <-errCh:
			return err
		case <-ctx.Done():
			_, _ = fmt.Fprintln(stderr, "\n---\nStopped.")
			return nil
		}
	}
}
