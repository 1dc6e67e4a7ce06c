// Package main is a one-shot CLI that rebuilds kpi_daily over an explicit
// date range, for backfills and manual reruns outside the cron schedule.
//
// Import Path: servicebox.io/fsmcore/cmd/kpi-rebuild
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"servicebox.io/fsmcore/internal/config"
	"servicebox.io/fsmcore/internal/kpi"
	"servicebox.io/fsmcore/internal/pkg/logger"
	"servicebox.io/fsmcore/internal/store"
)

const dateLayout = "2006-01-02"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	from := flag.String("from", "", "first day to rebuild, YYYY-MM-DD (defaults to yesterday)")
	to := flag.String("to", "", "last day to rebuild, YYYY-MM-DD (defaults to today)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	dateFrom, err := parseDateOrDefault(*from, today.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("parse -from: %w", err)
	}
	dateTo, err := parseDateOrDefault(*to, today)
	if err != nil {
		return fmt.Errorf("parse -to: %w", err)
	}

	ctx := context.Background()
	pool, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	rebuilder := kpi.New(pool)
	logger.Info("rebuilding kpi_daily", zap.Time("from", dateFrom), zap.Time("to", dateTo))
	if err := rebuilder.RebuildRange(ctx, dateFrom, dateTo); err != nil {
		return fmt.Errorf("rebuild kpi_daily: %w", err)
	}
	logger.Info("kpi_daily rebuild complete")
	return nil
}

func parseDateOrDefault(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return time.Parse(dateLayout, value)
}
