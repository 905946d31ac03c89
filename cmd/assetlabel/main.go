package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "golang.org/x/crypto/x509roots/fallback" // CA certs when the host has none

	"github.com/fahmaliyi/assetlabel/cli"
	"github.com/fahmaliyi/assetlabel/config"
	"github.com/fahmaliyi/assetlabel/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading configuration:", err)
		return cli.ExitUsage
	}

	logger := logging.New(os.Stderr, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Once the first signal has cancelled ctx, a second one kills the
	// process with the default behaviour.
	context.AfterFunc(ctx, stop)
	ctx = logging.NewRun(ctx)

	logger.DebugContext(ctx, "config loaded",
		"config_dir", cfg.ConfigDir,
		"max_attempts", cfg.MaxAttempts,
		"http_timeout", cfg.HTTPTimeout,
	)

	return cli.NewApp(cfg, logger).Run(ctx, os.Args[1:])
}
