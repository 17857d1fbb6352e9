// Package cmd provides the CLI commands for amanrag.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/profiling"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Profiling flags
var (
	profileOpts    profiling.Options
	profileSession *profiling.Session
)

// Logging and project flags
var (
	debugMode      bool
	logLevel       string
	projectDir     string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the amanrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanrag",
		Short: "Hybrid retrieval fusion over vector, keyword and graph sources",
		Long: `amanrag queries a vector index, a BM25 index and an entity graph in
parallel, fuses the ranked lists with reciprocal rank fusion and attaches
the summary of each result's entity community.

Load a corpus with 'amanrag seed', cluster it with 'amanrag community build',
then query it with 'amanrag fuse' or serve it with 'amanrag serve'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("amanrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", "", "Project directory holding .amanrag.yaml (default: current directory)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Write debug logs to ~/.amanrag/logs/")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-heap", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Goroutine, "profile-goroutine", "", "Write goroutine profile to file on exit")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newFuseCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newCommunityCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging loads .env, installs the CLI logger and starts
// any requested profiles.
func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if debugMode {
		cfg := logging.DefaultConfig()
		cfg.Level = "debug"
		cfg.WriteToStderr = false
		logger, cleanup, err := logging.Setup(cfg)
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug_logging_enabled",
			slog.String("log_file", cfg.FilePath),
			slog.String("version", version.Short()))
	} else {
		level := logLevel
		if level == "" {
			level = "warn"
		}
		slog.SetDefault(logging.NewCLILogger(cmd.ErrOrStderr(), level))
	}

	if profileOpts.Enabled() {
		session, err := profiling.Start(profileOpts)
		if err != nil {
			return fmt.Errorf("failed to start profiling: %w", err)
		}
		profileSession = session
	}
	return nil
}

// stopProfilingAndLogging writes exit profiles and closes the log file.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}

	if loggingCleanup != nil {
		slog.Info("debug_logging_stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and prints a formatted error on failure.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), amerrors.FormatForCLI(err))
	}
	return err
}

// loadConfig loads the layered configuration for --dir.
func loadConfig() (*config.Config, error) {
	dir := projectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	return config.Load(dir)
}
