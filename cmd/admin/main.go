package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/varghand/varghand-admin-go/internal/config"
	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/handler"
	"github.com/varghand/varghand-admin-go/internal/infra/appstore"
	"github.com/varghand/varghand-admin-go/internal/infra/cache"
	"github.com/varghand/varghand-admin-go/internal/infra/observability"
	"github.com/varghand/varghand-admin-go/internal/infra/resilience"
	"github.com/varghand/varghand-admin-go/internal/infra/shopify"
	"github.com/varghand/varghand-admin-go/internal/infra/sqlite"
	"github.com/varghand/varghand-admin-go/internal/infra/stripe"
	"github.com/varghand/varghand-admin-go/internal/port"
	"github.com/varghand/varghand-admin-go/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("sqlite_path", cfg.SQLitePath),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("dev_auth", cfg.DevAuth),
	)
	if cfg.DevAuth {
		logger.Warn("DEV_AUTH enabled: API authentication is OFF")
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "varghand-admin")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Persistence ---
	store, err := sqlite.NewStore(cfg.SQLitePath, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// One breaker per platform, so a Stripe outage never blocks Shopify.
	stripeCB := resilience.NewCircuitBreaker("stripe")
	shopifyCB := resilience.NewCircuitBreaker("shopify")
	appstoreCB := resilience.NewCircuitBreaker("appstore")

	// --- Platform clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	sources := []port.SalesSource{
		stripe.NewClient(httpClient, cfg.StripeAPIURL, cfg.StripeSecretKey,
			stripeCB, resilienceCfg, metrics, logger),
		shopify.NewClient(httpClient, cfg.ShopifyAPIURL, cfg.ShopifyStore, cfg.ShopifyAPIToken,
			shopifyCB, resilienceCfg, metrics, logger),
		appstore.NewClient(httpClient, cfg.AppStoreAPIURL, appstore.Credentials{
			IssuerID:   cfg.AppleIssuerID,
			KeyID:      cfg.AppleKeyID,
			PrivateKey: cfg.ApplePrivateKey,
			VendorID:   cfg.AppleVendorID,
		}, appstoreCB, resilienceCfg, metrics, logger),
	}

	// --- Services ---
	salesSvc := service.NewSalesService(sources, store, service.DefaultCostTable(), metrics, logger)

	userCache := cache.New[*domain.UserRecord](cfg.CacheTTL)
	entSvc := service.NewEntitlementService(store, userCache, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(salesSvc, entSvc, store, handler.AuthConfig{
		JWTSecret: cfg.JWTSecret,
		DevMode:   cfg.DevAuth,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
