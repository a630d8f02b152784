package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"basegraph.app/committelemetry/core/config"
	"basegraph.app/committelemetry/internal/bootstrap"
	"basegraph.app/committelemetry/internal/hgmo"
	"basegraph.app/committelemetry/internal/http/middleware"
	httprouter "basegraph.app/committelemetry/internal/http/router"
	"basegraph.app/committelemetry/internal/pipeline"
	"basegraph.app/committelemetry/internal/queue"
	"basegraph.app/committelemetry/internal/service"
)

func main() {
	flags := pflag.NewFlagSet("committelemetry-server", pflag.ExitOnError)
	debug := flags.Bool("debug", false, "log at debug level")
	noIntake := flags.Bool("no-intake", false, "serve inspection endpoints only, without the push intake (no redis)")
	_ = flags.Parse(os.Args[1:])

	ctx := context.Background()

	cfg, telemetry, err := bootstrap.Start(ctx, config.ServiceTypeServer, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	slog.InfoContext(ctx, "committelemetry server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)

	servicesCfg := service.ServicesConfig{
		Lookup:      hgmo.NewClient(hgmo.Config{Timeout: cfg.Pushlog.Timeout, PageSize: cfg.Pushlog.PageSize}),
		Builder:     pipeline.New(nil),
		DefaultRepo: cfg.TargetRepo,
	}

	if !*noIntake {
		redisClient, err := bootstrap.Redis(ctx, cfg.Queue)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		servicesCfg.Producer = queue.NewRedisProducer(redisClient, cfg.Queue.RedisStream, slog.Default())
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, service.NewServices(servicesCfg))
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Changeset lookups can take two pushlog round trips.
		WriteTimeout: 2*cfg.Pushlog.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services)

	return router
}
