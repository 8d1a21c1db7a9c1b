package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	verifygin "github.com/pilab-dev/discord-verifier/api/gin"
	"github.com/pilab-dev/discord-verifier/cache"
	redisstore "github.com/pilab-dev/discord-verifier/cache/redis"
	"github.com/pilab-dev/discord-verifier/config"
	"github.com/pilab-dev/discord-verifier/internal/audit"
	"github.com/pilab-dev/discord-verifier/internal/metrics"
	"github.com/pilab-dev/discord-verifier/internal/server"
	"github.com/pilab-dev/discord-verifier/internal/telemetry"
	"github.com/pilab-dev/discord-verifier/log"
	"github.com/pilab-dev/discord-verifier/tracing"
	"github.com/pilab-dev/discord-verifier/verify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, appConfig, appLogger)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := appConfig.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration ok, callback %s\n", appConfig.RedirectURI)
		return nil
	},
}

func runServer(ctx context.Context, cfg config.Config, appLogger log.Logger) error {
	appLogger.Info(ctx, "Starting discord-verifier...", log.Fields{
		"http_port":         cfg.HTTPPort,
		"otel_service":      cfg.OtelServiceName,
		"otel_exporter":     cfg.OtelExporter,
		"redirect_uri":      cfg.RedirectURI,
		"reputation":        cfg.ReputationEnabled(),
		"reputation_order":  cfg.ReputationCheckOrder,
		"lookup_cache":      cfg.LookupCache,
		"http_client_limit": cfg.HTTPClientTimeout.String(),
	})

	// The server still starts so /healthz can report the problem; callbacks answer 500.
	if err := cfg.Validate(); err != nil {
		appLogger.Error(ctx, "Configuration is incomplete, verification is disabled", err)
	}

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName, cfg.OtelExporter, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize TracerProvider: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	mp, err := telemetry.InitMeterProvider(reg)
	if err != nil {
		return fmt.Errorf("failed to initialize MeterProvider: %w", err)
	}

	store, closeStore := newLookupStore(ctx, cfg, appLogger)
	defer closeStore()

	svc := verify.NewService(verify.Options{
		Config:     cfg,
		HTTPClient: server.NewHTTPClient(cfg.HTTPClientTimeout),
		Cache:      store,
		Audit:      audit.NewRecorder(os.Stdout),
		Logger:     appLogger,
	})
	if cfg.EnrichPresence && svc.ConfigError() == nil {
		if err := svc.Discord().OpenGateway(); err != nil {
			appLogger.Error(ctx, "Discord gateway unavailable, presence stays unknown", err)
		} else {
			defer func() { _ = svc.Discord().CloseGateway() }()
		}
	}

	limiter := verifygin.NewRateLimiter(cfg.CallbackRateLimit)
	defer limiter.Close()

	api := verifygin.NewVerifyAPI(svc, appLogger).WithRateLimiter(limiter)
	httpServer := server.NewHTTPServer(cfg, appLogger, api, reg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info(gctx, fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info(gctx, "Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := telemetry.Shutdown(shutdownCtx, tp, mp); err != nil {
		appLogger.Error(shutdownCtx, "Telemetry shutdown error", err)
	}

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
	return runErr
}

// newLookupStore builds the cache for geolocation and reputation lookups. A Redis
// that cannot be reached is logged and kept; every lookup then misses.
func newLookupStore(ctx context.Context, cfg config.Config, appLogger log.Logger) (cache.Store, func()) {
	switch cfg.LookupCache {
	case config.CacheMemory:
		store := cache.NewMemoryStore(cfg.LookupCacheTTL)
		return store, store.Close
	case config.CacheRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			appLogger.Warn(ctx, "Redis lookup cache is unreachable", log.Fields{
				"redis_addr": cfg.RedisAddr,
				"error":      err.Error(),
			})
		}
		return redisstore.NewStore(client, appName), func() { _ = client.Close() }
	default:
		return cache.NopStore{}, func() {}
	}
}
