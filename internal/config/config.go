package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Stripe
	StripeSecretKey string
	StripeAPIURL    string // override for tests; empty means the public API

	// Shopify
	ShopifyStore    string
	ShopifyAPIToken string
	ShopifyAPIURL   string // override for tests; empty derives from the store name

	// App Store Connect
	AppleIssuerID   string
	AppleKeyID      string
	ApplePrivateKey string // PEM, \n-escaped in env
	AppleVendorID   string
	AppStoreAPIURL  string // override for tests; empty means the public API

	// Persistence
	SQLitePath string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Auth
	JWTSecret string
	DevAuth   bool // DEV_AUTH=true disables authentication for local development
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		StripeAPIURL:    getEnv("STRIPE_API_URL", ""),

		ShopifyStore:    getEnv("SHOPIFY_STORE", "varghand"),
		ShopifyAPIToken: getEnv("SHOPIFY_API_TOKEN", ""),
		ShopifyAPIURL:   getEnv("SHOPIFY_API_URL", ""),

		AppleIssuerID:   getEnv("APPLE_ISSUER_ID", ""),
		AppleKeyID:      getEnv("APPLE_KEY_ID", ""),
		ApplePrivateKey: getEnv("APPLE_PRIVATE_KEY", ""),
		AppleVendorID:   getEnv("APPLE_VENDOR_ID", ""),
		AppStoreAPIURL:  getEnv("APPSTORE_API_URL", ""),

		SQLitePath: getEnv("SQLITE_PATH", "varghand-admin.db"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret: getEnv("JWT_SECRET", "varghand-default-dev-secret-change-me"),
		DevAuth:   getEnv("DEV_AUTH", "false") == "true",
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
