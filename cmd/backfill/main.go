package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"basegraph.app/committelemetry/common/id"
	"basegraph.app/committelemetry/core/config"
	"basegraph.app/committelemetry/internal/backfill"
	"basegraph.app/committelemetry/internal/bootstrap"
	"basegraph.app/committelemetry/internal/classifier"
	"basegraph.app/committelemetry/internal/hgmo"
	"basegraph.app/committelemetry/internal/ledger"
	"basegraph.app/committelemetry/internal/pipeline"
)

const usage = "usage: committelemetry-backfill [--no-send] [--debug] [--missing-only] <repo_url> <start_push_id> <end_push_id>"

func main() {
	flags := pflag.NewFlagSet("committelemetry-backfill", pflag.ExitOnError)
	noSend := flags.Bool("no-send", false, "build pings but do not send them")
	debug := flags.Bool("debug", false, "log at debug level")
	missingOnly := flags.Bool("missing-only", false, "only replay pushes the delivery ledger has no successful send for")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	repoURL, start, end, err := parseArgs(flags.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n%s\n", err, usage)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, telemetry, err := bootstrap.Start(ctx, config.ServiceTypeBackfill, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer func() {
		if telemetry != nil {
			_ = telemetry.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	client, err := bootstrap.Pushlog(ctx, cfg.Pushlog, repoURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to reach pushlog", "error", err)
		os.Exit(1)
	}

	recorder, closeLedger, err := bootstrap.Ledger(ctx, cfg, id.NodeBackfill)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up delivery ledger", "error", err)
		os.Exit(1)
	}
	defer closeLedger()

	if *missingOnly && !cfg.LedgerEnabled() {
		slog.ErrorContext(ctx, "--missing-only needs the delivery ledger (set DATABASE_URL)")
		os.Exit(1)
	}

	slog.DebugContext(ctx, "classifier rules", "rules", classifier.New().Rules())

	p := pipeline.New(bootstrap.Delivery(cfg.Telemetry), pipeline.WithLedger(recorder))
	driver := backfill.New(hgmo.NewPagedSource(client), p, backfill.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
	})

	report, err := run(ctx, driver, recorder, repoURL, start, end, *noSend, *missingOnly)
	if err != nil {
		slog.ErrorContext(ctx, "backfill aborted", "error", err)
	}

	fmt.Printf("processed %d pushes (%d not sent), %d failed\n", report.Processed, report.Skipped, len(report.Failed))
	for _, f := range report.Failed {
		fmt.Printf("  push %d: %s\n", f.PushID, f.Reason)
	}
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, driver *backfill.Driver, recorder ledger.Recorder, repoURL string, start, end int64, dryRun, missingOnly bool) (backfill.Report, error) {
	if !missingOnly {
		return driver.Backfill(ctx, repoURL, start, end, dryRun)
	}

	ids, err := recorder.Missing(ctx, repoURL, start, end)
	if err != nil {
		return backfill.Report{}, fmt.Errorf("listing missing pushes: %w", err)
	}
	slog.InfoContext(ctx, "replaying pushes missing from the ledger", "start", start, "end", end)
	return driver.BackfillIDs(ctx, repoURL, ids, dryRun)
}

func parseArgs(args []string) (string, int64, int64, error) {
	if len(args) != 3 {
		return "", 0, 0, fmt.Errorf("expected 3 arguments, got %d", len(args))
	}
	start, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid start push id %q", args[1])
	}
	end, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid end push id %q", args[2])
	}
	if err := backfill.ValidateRange(start, end); err != nil {
		return "", 0, 0, err
	}
	// The ledger stores canonical repository URLs.
	return strings.TrimRight(args[0], "/"), start, end, nil
}
