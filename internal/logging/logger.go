package logging

import (
	"log/slog"
	"os"
)

// Setup installs the global slog logger: JSON to stdout, plus any extra
// handlers (the system_logs sink in the server). Debug records are only
// emitted in development.
func Setup(environment string, extra ...slog.Handler) *slog.Logger {
	level := slog.LevelInfo
	if environment == "development" {
		level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	if len(extra) > 0 {
		handler = NewMultiHandler(append([]slog.Handler{handler}, extra...)...)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
