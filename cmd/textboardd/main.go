// Command textboardd runs the textboard server: process startup, logging
// configuration, and signal-driven graceful shutdown (spec component I).
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/gassmann-textboard/textboard/internal/board/audit"
	"github.com/gassmann-textboard/textboard/internal/board/notify"
	"github.com/gassmann-textboard/textboard/internal/board/protocol"
	"github.com/gassmann-textboard/textboard/internal/board/server"
	"github.com/gassmann-textboard/textboard/internal/board/store"
	"github.com/gassmann-textboard/textboard/internal/config"
)

func main() {
	app := &cli.Command{
		Name:  "textboardd",
		Usage: "a line-oriented textboard server",
		Flags: config.Flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cmd)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Resolve(cmd)
	if err != nil {
		return err
	}

	setupLogging(cfg.LogFile)

	enc, err := protocol.ResolveCharset(cfg.Charset)
	if err != nil {
		return err
	}

	idx, err := store.Open(cfg.DatabaseDirectory)
	if err != nil {
		return fmt.Errorf("failed to initialize the database: %w", err)
	}

	journal, err := audit.Open(cfg.DatabaseDirectory)
	if err != nil {
		slog.Warn("failed to open audit journal, continuing without it", "error", err)
		journal = nil
	}
	defer journal.Close()

	bus := notify.New()

	srv, err := server.New(fmt.Sprintf(":%d", cfg.Port), idx, bus, enc, journal)
	if err != nil {
		return err
	}

	go srv.Serve()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-signals:
	}

	slog.Info("shutting down")
	if err := srv.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}

func setupLogging(logFile string) {
	var out io.Writer = os.Stderr

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("failed to open log file, logging to stderr only", "error", err)
		} else {
			out = io.MultiWriter(os.Stderr, f)
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, nil)))
}
