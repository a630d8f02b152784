package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"basegraph.app/committelemetry/core/config"
	"basegraph.app/committelemetry/internal/bootstrap"
	"basegraph.app/committelemetry/internal/hgmo"
	"basegraph.app/committelemetry/internal/ping"
	"basegraph.app/committelemetry/internal/pipeline"
	"basegraph.app/committelemetry/internal/service"
)

const usage = "usage: committelemetry-dump [--debug] [--repo URL] <changeset>"

// dump prints the ping that would be sent for the push containing a
// changeset. Nothing is sent.
func main() {
	flags := pflag.NewFlagSet("committelemetry-dump", pflag.ExitOnError)
	debug := flags.Bool("debug", false, "log at debug level")
	repo := flags.String("repo", "", "repository URL (default: TARGET_REPO)")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	if flags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	changeset := flags.Arg(0)

	ctx := context.Background()

	cfg, telemetry, err := bootstrap.Start(ctx, config.ServiceTypeDump, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer func() {
		if telemetry != nil {
			_ = telemetry.Shutdown(ctx)
		}
	}()

	repoURL := *repo
	if repoURL == "" {
		repoURL = cfg.TargetRepo
	}

	client := hgmo.NewClient(hgmo.Config{Timeout: cfg.Pushlog.Timeout, PageSize: cfg.Pushlog.PageSize})
	inspect := service.NewInspectService(client, pipeline.New(nil), repoURL)

	res, err := inspect.PingForChangeset(ctx, repoURL, changeset)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build ping", "changeset", changeset, "error", err)
		os.Exit(1)
	}

	body, err := ping.Marshal(res.Ping)
	if err != nil {
		slog.ErrorContext(ctx, "built ping does not validate", "error", err)
		os.Exit(1)
	}

	slog.DebugContext(ctx, "ping built",
		"push_id", res.Ping.Push.PushID,
		"document_id", ping.DocumentID(res.Ping.Push.Key()))
	fmt.Println(string(body))
}
