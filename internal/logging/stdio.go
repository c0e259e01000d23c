package logging

import (
	"log/slog"
)

// SetupStdioMode initializes logging for the MCP stdio server. Stdout
// carries the JSON-RPC stream and clients treat stderr noise as a
// connection failure, so logs go exclusively to the file.
func SetupStdioMode(logPath, level string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      logPath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	slog.Info("stdio_logging_initialized",
		slog.String("log_file", logPath),
		slog.String("level", level))
	return cleanup, nil
}
