// Lighter arbitrage executor — a cross-venue arbitrage bot that watches
// the spread between venue F (reached through a front-end bridge) and
// venue L (reached directly) and trades the two legs against each
// other when the spread clears a learned threshold.
//
// Architecture:
//
//	main.go                     — entry point: flags, config, logger, coordinator, signal handling
//	coordinator/coordinator.go  — orchestrator: wires every subsystem, runs the trading loop
//	signal/signal.go            — Signal Engine: adaptive thresholds, LONG/SHORT decision
//	book/book.go                — Book Store: per-venue top-of-book + derived spreads
//	ledger/ledger.go             — Position Ledger: signed exposure per venue
//	risk/manager.go              — Risk Gate: admission checks + circuit breaker
//	latency/latency.go           — Latency Meter: per-category ring buffers + percentiles
//	bridge/bridge.go              — Bridge Server: TCP/JSON-lines link to the front end (venue F)
//	venuel/*.go                   — Venue-L Client: REST order placement + streaming book/orders
//	eventlog/eventlog.go           — session CSV/JSONL logging of trades, BBO, snapshots, events
//	notify/telegram.go             — operator notifications over the Telegram Bot API
//
// How it makes money:
//
//	It buys the cheaper leg and sells the richer one across the two
//	venues whenever the cross-venue spread clears an adaptively learned
//	threshold, then immediately hedges the F-venue fill with an
//	aggressive order on venue L so the net position returns to flat.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"lighter-arb/internal/config"
	"lighter-arb/internal/coordinator"
)

func main() {
	fs := pflag.NewFlagSet("arb", pflag.ExitOnError)
	flags := config.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(flags.ConfigPath, flags)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", flags.ConfigPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging.Format, parseLogLevel(cfg.Logging.Level)))

	coord, err := coordinator.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to build coordinator", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — hedge orders are logged, not placed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := coord.Start(ctx); err != nil {
		logger.Error("failed to start coordinator", "error", err)
		cancel()
		os.Exit(1)
	}

	logger.Info("lighter arbitrage executor started",
		"ticker", cfg.Strategy.Ticker,
		"bridge_port", cfg.Server.Port,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	coord.Stop()
}

func newLogHandler(format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
