package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	app "github.com/valter-silva-au/taskmaster/internal"
	"github.com/valter-silva-au/taskmaster/internal/cli"
	"github.com/valter-silva-au/taskmaster/internal/core"
)

// Set by goreleaser ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func configureLogger(w io.Writer, logLevel, format string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	cli.SetVersionInfo(version, commit, date)
	basePath := app.ResolveBasePath()

	level, format := "info", "text"
	if cfg, err := core.NewConfigurationManager(basePath).LoadGlobalConfig(); err == nil {
		level, format = cfg.Log.Level, cfg.Log.Format
	}
	logger := configureLogger(os.Stderr, level, format)
	slog.SetDefault(logger)

	a, err := app.NewApp(basePath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing taskmaster: %v\n", err)
		os.Exit(1)
	}

	err = cli.Execute()
	_ = a.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
