package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"basegraph.app/committelemetry/common/id"
	"basegraph.app/committelemetry/core/config"
	"basegraph.app/committelemetry/internal/bootstrap"
	"basegraph.app/committelemetry/internal/classifier"
	"basegraph.app/committelemetry/internal/pipeline"
	"basegraph.app/committelemetry/internal/queue"
	"basegraph.app/committelemetry/internal/worker"
)

func main() {
	flags := pflag.NewFlagSet("committelemetry-worker", pflag.ExitOnError)
	noSend := flags.Bool("no-send", false, "build pings but do not send them")
	debug := flags.Bool("debug", false, "log at debug level")
	noDrain := flags.Bool("no-drain-dry-run", false, "with --no-send, leave messages on the queue instead of acknowledging them")
	_ = flags.Parse(os.Args[1:])

	ctx := context.Background()

	cfg, telemetry, err := bootstrap.Start(ctx, config.ServiceTypeWorker, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	slog.InfoContext(ctx, "committelemetry worker starting",
		"env", cfg.Env,
		"dry_run", *noSend,
		"consumer_group", cfg.Queue.RedisGroup,
		"consumer_name", cfg.Queue.RedisConsumer)

	redisClient, err := bootstrap.Redis(ctx, cfg.Queue)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	pushlog, err := bootstrap.Pushlog(ctx, cfg.Pushlog, cfg.TargetRepo)
	if err != nil {
		slog.ErrorContext(ctx, "failed to reach pushlog", "error", err)
		os.Exit(1)
	}

	recorder, closeLedger, err := bootstrap.Ledger(ctx, cfg, id.NodeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up delivery ledger", "error", err)
		os.Exit(1)
	}
	defer closeLedger()

	consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
		Stream:       cfg.Queue.RedisStream,
		Group:        cfg.Queue.RedisGroup,
		Consumer:     cfg.Queue.RedisConsumer,
		DLQStream:    cfg.Queue.RedisDLQStream,
		BatchSize:    1,
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RequeueDelay: cfg.Queue.RequeueDelay,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	slog.DebugContext(ctx, "classifier rules", "rules", classifier.New().Rules())

	p := pipeline.New(bootstrap.Delivery(cfg.Telemetry), pipeline.WithLedger(recorder))

	w := worker.New(consumer, pushlog, p, worker.Config{
		DryRun:    *noSend,
		AckDryRun: !*noDrain,
	})

	// A dry run that must not drain the queue also must not claim other
	// consumers' pending messages.
	var reclaimer *worker.RedisReclaimer
	if !*noSend || !*noDrain {
		reclaimer = worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
			Stream:        cfg.Queue.RedisStream,
			Group:         cfg.Queue.RedisGroup,
			Consumer:      cfg.Queue.RedisConsumer,
			MinIdle:       5 * time.Minute,
			Interval:      time.Minute,
			BatchSize:     10,
			MaxDeliveries: int64(cfg.Queue.MaxAttempts) + 1,
		}, consumer, w.HandleMessage)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(runCtx)
	}()
	if reclaimer != nil {
		go reclaimer.Run(runCtx)
	}

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		// Run only returns on its own when its context ends.
		slog.ErrorContext(ctx, "worker stopped unexpectedly", "error", err)
	}

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		if reclaimer != nil {
			reclaimer.Stop()
		}
		// The message in hand is finished before Stop returns.
		w.Stop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
		cancelRun()
	case <-stopped:
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
  ___ ___  _ __ ___  _ __ ___ (_) |_  | |_ ___| | ___ _ __ ___
 / __/ _ \| '_ \ _ \| '_ \ _ \| | __| | __/ _ \ |/ _ \ '_ \ _ \
| (_| (_) | | | | | | | | | | | | |_  | ||  __/ |  __/ | | | | |
 \___\___/|_| |_| |_|_| |_| |_|_|\__|  \__\___|_|\___|_| |_| |_|  worker
`
