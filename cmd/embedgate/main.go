package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	redis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fabworks/embedgate/pkg/api"
	"github.com/fabworks/embedgate/pkg/audit"
	"github.com/fabworks/embedgate/pkg/broker"
	"github.com/fabworks/embedgate/pkg/config"
	"github.com/fabworks/embedgate/pkg/embedcache"
	"github.com/fabworks/embedgate/pkg/fabric"
	"github.com/fabworks/embedgate/pkg/identity"
	"github.com/fabworks/embedgate/pkg/middleware"
	"github.com/fabworks/embedgate/pkg/observability"
	"github.com/fabworks/embedgate/pkg/roles"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "embedgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting embedgate")

	ctx := context.Background()

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Role mapping
	mapping := roles.DefaultMapping()
	if cfg.RoleMappingPath != "" {
		mapping, err = roles.LoadMappingFile(cfg.RoleMappingPath)
		if err != nil {
			return err
		}
		logger.WithField("path", cfg.RoleMappingPath).Info("loaded role mapping file")
	}

	// Identity provider
	verifier, err := identity.NewTokenVerifier(ctx, identity.Config{
		IssuerURL:     cfg.Identity.IssuerURL,
		ClientID:      cfg.Identity.Audience,
		VerifyTimeout: cfg.Identity.VerifyTimeout,
	})
	if err != nil {
		return fmt.Errorf("identity provider discovery failed: %w", err)
	}

	// Upstream platform client
	tokenURL := cfg.Fabric.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Fabric.TenantID)
	}
	platform, err := fabric.NewClient(fabric.Config{
		APIBaseURL:    cfg.Fabric.APIBaseURL,
		TokenURL:      tokenURL,
		Scope:         "https://analysis.windows.net/powerbi/api/.default",
		ClientID:      cfg.Fabric.ClientID,
		ClientSecret:  cfg.Fabric.ClientSecret,
		WorkspaceID:   cfg.Fabric.WorkspaceID,
		TokenLifetime: cfg.Fabric.TokenLifetime,
		CallTimeout:   cfg.Fabric.CallTimeout,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}

	// Audit trail: structured log stream plus a bounded in-memory store
	// for the admin query endpoint
	store := audit.NewMemoryStore(cfg.AuditStoreSize)
	recorder := audit.MultiRecorder{audit.NewLogRecorder(os.Stdout), store}

	// Credential cache with background stale-entry sweeps
	cache := embedcache.New(embedcache.Config{
		RefreshBuffer:  cfg.Cache.RefreshBuffer,
		AcquireTimeout: cfg.Cache.AcquireTimeout,
		Logger:         logger,
		Metrics:        metrics,
	})
	janitor, err := embedcache.NewJanitor(cache, cfg.Cache.SweepSchedule, logger)
	if err != nil {
		return err
	}
	janitor.Start()

	b, err := broker.New(broker.Config{
		Mapping:  mapping,
		Cache:    cache,
		Platform: platform,
		Audit:    recorder,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Verifier: verifier,
		Mapping:  mapping,
		Audit:    recorder,
		Logger:   logger,
		Metrics:  metrics,
	})

	// Health checks: the platform and IdP are required, redis only degrades
	health := observability.NewHealthChecker(version)
	health.AddProbe("reporting_platform", platform.Ping)
	health.AddProbe("identity_provider", identity.HealthProbe(cfg.Identity.IssuerURL))

	// Rate limiting
	var rateLimit func(http.Handler) http.Handler
	var redisClient *redis.Client
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RedisURL != "" {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.RateLimit.RedisURL,
				Password: cfg.RateLimit.RedisPassword,
				DB:       cfg.RateLimit.RedisDB,
			})
			distributed := middleware.NewDistributedRateLimitMiddleware(redisClient, logger)
			rateLimit = distributed.Handler
			health.AddOptionalProbe("redis", distributed.HealthCheck)
			logger.WithField("addr", cfg.RateLimit.RedisURL).Info("distributed rate limiting enabled")
		} else {
			local := middleware.NewRateLimitMiddleware()
			rateLimit = local.Handler
		}
	}

	server := api.NewServer(api.Config{
		Broker:         b,
		Verifier:       verifier,
		Authenticator:  auth,
		Audit:          recorder,
		Store:          store,
		RateLimit:      rateLimit,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
		Metrics:        metrics,
	})

	mainServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, mainServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		janitor.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return recorder.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return redisClient.Close()
		})
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", mainServer.Addr).Info("api server listening")
		if err := mainServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- shutdown.WaitForShutdown()
	}()

	select {
	case err := <-errCh:
		return err
	case err := <-waitCh:
		return err
	}
}
