package main

import (
	"io"
	"log/slog"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging writes JSON logs to w. Logs stay off stdout, which carries
// command output.
func setupLogging(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler).With("service", "chatsync", "version", version)
	slog.SetDefault(logger)
	return logger
}
