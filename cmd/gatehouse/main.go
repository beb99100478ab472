// Command gatehouse runs the authentication gateway in front of the admin API.
//
// A gatehouse process holds exactly one session: whoever signs in is the user for every
// request the process serves. It is meant to run next to a single operator's browser and
// listens on 127.0.0.1 by default. Do not expose it on a shared address.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatehouse/pkg/apiclient"
	"github.com/platinummonkey/gatehouse/pkg/async"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/providers"
	"github.com/platinummonkey/gatehouse/pkg/server"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (overrides GATEHOUSE_CONFIG_FILE)")
	flag.Parse()

	if *configFile != "" {
		_ = os.Setenv("GATEHOUSE_CONFIG_FILE", *configFile)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.ParseLevel(cfg.Observability.LogLevel), os.Stdout)
	async.SetLogger(logger.Entry())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	kv, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if c, ok := kv.(io.Closer); ok {
		shutdown.Register("storage", func(context.Context) error { return c.Close() })
	}
	logger.WithField("type", cfg.Storage.Type).Info("Storage initialized")

	selection := tenant.New(kv, tenant.WithLogger(logger.Entry()), tenant.WithMetrics(metrics))

	factory := providers.NewFactory(providers.Deps{
		Config:    cfg,
		KV:        kv,
		Selection: selection,
		Logger:    logger.Entry(),
		Metrics:   metrics,
	})
	provider, err := factory.Create(ctx, auth.ProviderType(cfg.Auth.Provider))
	if err != nil {
		return err
	}
	facade := auth.NewFacade(ctx, provider,
		auth.WithLogger(logger.Entry()),
		auth.WithMetrics(metrics),
		auth.WithInitTimeout(cfg.Auth.InitTimeout),
	)
	shutdown.Register("auth", func(context.Context) error { return facade.Close() })
	logger.WithField("provider", facade.Type()).Info("Authentication provider ready")

	client := apiclient.New(cfg.API, selection,
		apiclient.WithLogger(logger.Entry()),
		apiclient.WithMetrics(metrics),
	)
	orgs := apiclient.NewCachedOrganizations(client, cfg.API.OrganizationCacheTTL, metrics)

	srv, err := server.New(server.Deps{
		Config:        cfg,
		Facade:        facade,
		Selection:     selection,
		KV:            kv,
		Organizations: orgs,
		Fetcher:       client,
		Limiter:       loginLimiter(ctx, cfg, kv),
		Logger:        logger,
		Metrics:       metrics,
		Gatherer:      registry,
		Version:       version,
	})
	if err != nil {
		return err
	}
	shutdown.Register("server", func(context.Context) error {
		srv.Close()
		return nil
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("Starting gatehouse")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if w, ok := kv.(storage.Watcher); ok {
		g.Go(func() error {
			if err := selection.Follow(gctx, w); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Warn("Stopped following organization changes")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("HTTP server shutdown failed")
		}
		return shutdown.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// loginLimiter shares counters through Redis when that is the storage backend and keeps
// them in process otherwise. A zero limit disables limiting.
func loginLimiter(ctx context.Context, cfg *config.Config, kv storage.KV) middleware.Limiter {
	if cfg.Server.LoginRateLimit <= 0 {
		return nil
	}
	rl := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Server.LoginRateLimit,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Server.LoginRateBurst,
	}
	if rs, ok := kv.(*storage.RedisStore); ok {
		return middleware.NewDistributedRateLimiter(rs.Client(), rl, cfg.Storage.RedisPrefix+"ratelimit")
	}
	limiter := middleware.NewRateLimiter(rl)
	limiter.StartCleanup(ctx)
	return limiter
}
