package util

import (
	"io"
	"log"
	"log/slog"
	"strings"
)

// Component returns the global logger tagged with a component name.
func Component(name string) *slog.Logger {
	return GetLogger().With("component", name)
}

// Discard returns a logger that drops everything. Tests use it to keep output quiet.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetupGlobalLogger routes the standard log package through slog, so libraries that
// still call log.Printf end up in the same stream.
func SetupGlobalLogger() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{logger: GetLogger()})
}

type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
