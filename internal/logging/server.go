package logging

import (
	"log/slog"
)

// SetupServerMode installs the default logger for `amanrag serve`.
//
// With stdio in use, stdout carries JSON-RPC exclusively, so records go to
// the serve log file only. Otherwise they are mirrored to stderr.
func SetupServerMode(level string, stdio bool) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      ServeLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: !stdio,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	slog.Info("server_logging_initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", ParseLevel(level).String()),
		slog.Bool("stderr", cfg.WriteToStderr))
	return cleanup, nil
}
