package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fabworks/embedgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Identity provider configuration
	Identity IdentityConfig

	// Upstream reporting platform configuration
	Fabric FabricConfig

	// Credential cache configuration
	Cache CacheConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Observability configuration
	Observability ObservabilityConfig

	// RoleMappingPath points to an optional YAML file overriding the
	// built-in group-to-role tables
	RoleMappingPath string

	// AuditStoreSize bounds the in-memory audit history for the admin
	// query endpoint
	AuditStoreSize int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// AllowedOrigins for CORS; the embedding frontend origin(s)
	AllowedOrigins []string
}

// IdentityConfig holds OIDC token validation settings
type IdentityConfig struct {
	// IssuerURL is the OIDC issuer, e.g. the directory tenant v2 endpoint
	IssuerURL string
	// Audience is the expected "aud" claim of inbound tokens
	Audience string
	// VerifyTimeout bounds a single token validation including JWKS fetch
	VerifyTimeout time.Duration
}

// FabricConfig holds upstream platform credentials and endpoints
type FabricConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	WorkspaceID  string

	// APIBaseURL overrides the platform REST endpoint (for tests)
	APIBaseURL string
	// TokenURL overrides the OAuth2 token endpoint (for tests)
	TokenURL string

	TokenLifetime time.Duration
	CallTimeout   time.Duration
}

// CacheConfig holds credential cache settings
type CacheConfig struct {
	// RefreshBuffer is subtracted from credential expiry when deciding
	// freshness
	RefreshBuffer time.Duration
	// AcquireTimeout bounds one upstream acquisition
	AcquireTimeout time.Duration
	// SweepSchedule is a cron expression for the stale-entry sweep
	SweepSchedule string
}

// RateLimitConfig holds rate limiter settings
type RateLimitConfig struct {
	Enabled bool
	// RedisURL enables the distributed limiter when set; empty falls back
	// to the in-process limiter
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:          loadServerConfig(),
		Identity:        loadIdentityConfig(),
		Fabric:          loadFabricConfig(),
		Cache:           loadCacheConfig(),
		RateLimit:       loadRateLimitConfig(),
		Observability:   loadObservabilityConfig(),
		RoleMappingPath: getEnv("EMBEDGATE_ROLE_MAPPING_PATH", ""),
		AuditStoreSize:  getEnvInt("EMBEDGATE_AUDIT_STORE_SIZE", 1000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("EMBEDGATE_HOST", "0.0.0.0"),
		Port:            getEnv("EMBEDGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("EMBEDGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("EMBEDGATE_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("EMBEDGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("EMBEDGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("EMBEDGATE_HEALTH_PORT", "9090"),
		AllowedOrigins:  splitAndTrim(getEnv("EMBEDGATE_ALLOWED_ORIGINS", "")),
	}
}

// loadIdentityConfig loads identity provider settings from environment
func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		IssuerURL:     getEnv("EMBEDGATE_OIDC_ISSUER_URL", ""),
		Audience:      getEnv("EMBEDGATE_OIDC_AUDIENCE", ""),
		VerifyTimeout: getEnvDuration("EMBEDGATE_OIDC_VERIFY_TIMEOUT", 5*time.Second),
	}
}

// loadFabricConfig loads upstream platform settings from environment
func loadFabricConfig() FabricConfig {
	return FabricConfig{
		TenantID:      getEnv("EMBEDGATE_FABRIC_TENANT_ID", ""),
		ClientID:      getEnv("EMBEDGATE_FABRIC_CLIENT_ID", ""),
		ClientSecret:  getEnv("EMBEDGATE_FABRIC_CLIENT_SECRET", ""),
		WorkspaceID:   getEnv("EMBEDGATE_FABRIC_WORKSPACE_ID", ""),
		APIBaseURL:    getEnv("EMBEDGATE_FABRIC_API_BASE_URL", ""),
		TokenURL:      getEnv("EMBEDGATE_FABRIC_TOKEN_URL", ""),
		TokenLifetime: getEnvDuration("EMBEDGATE_FABRIC_TOKEN_LIFETIME", time.Hour),
		CallTimeout:   getEnvDuration("EMBEDGATE_FABRIC_CALL_TIMEOUT", 10*time.Second),
	}
}

// loadCacheConfig loads credential cache settings from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		RefreshBuffer:  getEnvDuration("EMBEDGATE_CACHE_REFRESH_BUFFER", 5*time.Minute),
		AcquireTimeout: getEnvDuration("EMBEDGATE_CACHE_ACQUIRE_TIMEOUT", 30*time.Second),
		SweepSchedule:  getEnv("EMBEDGATE_CACHE_SWEEP_SCHEDULE", "@every 5m"),
	}
}

// loadRateLimitConfig loads rate limiter settings from environment
func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:       getEnvBool("EMBEDGATE_RATELIMIT_ENABLED", true),
		RedisURL:      getEnv("EMBEDGATE_REDIS_URL", ""),
		RedisPassword: getEnv("EMBEDGATE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("EMBEDGATE_REDIS_DB", 0),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(strings.ToLower(getEnv("EMBEDGATE_LOG_LEVEL", "info"))),
		MetricsEnabled: getEnvBool("EMBEDGATE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Identity.IssuerURL == "" {
		return fmt.Errorf("OIDC issuer URL is required")
	}
	if c.Identity.Audience == "" {
		return fmt.Errorf("OIDC audience is required")
	}

	if c.Fabric.ClientID == "" {
		return fmt.Errorf("platform client ID is required")
	}
	if c.Fabric.ClientSecret == "" {
		return fmt.Errorf("platform client secret is required")
	}
	if c.Fabric.TenantID == "" && c.Fabric.TokenURL == "" {
		return fmt.Errorf("platform tenant ID or explicit token URL is required")
	}

	if c.Cache.RefreshBuffer <= 0 {
		return fmt.Errorf("cache refresh buffer must be positive")
	}
	if c.Cache.AcquireTimeout <= 0 {
		return fmt.Errorf("cache acquire timeout must be positive")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// splitAndTrim splits a comma-separated list, dropping empty entries
func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
