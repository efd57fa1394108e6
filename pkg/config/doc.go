// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	EMBEDGATE_HOST="0.0.0.0"
//	EMBEDGATE_PORT="8080"
//	EMBEDGATE_HEALTH_PORT="9090"
//	EMBEDGATE_READ_TIMEOUT="15s"
//	EMBEDGATE_WRITE_TIMEOUT="30s"
//	EMBEDGATE_ALLOWED_ORIGINS="https://app.example.com"
//
// Identity settings:
//
//	EMBEDGATE_OIDC_ISSUER_URL="https://login.example.com/tenant/v2.0"
//	EMBEDGATE_OIDC_AUDIENCE="embedgate-api"
//
// Upstream platform settings:
//
//	EMBEDGATE_FABRIC_TENANT_ID="..."
//	EMBEDGATE_FABRIC_CLIENT_ID="..."
//	EMBEDGATE_FABRIC_CLIENT_SECRET="..."
//	EMBEDGATE_FABRIC_WORKSPACE_ID="..."
//
// Cache settings:
//
//	EMBEDGATE_CACHE_REFRESH_BUFFER="5m"
//	EMBEDGATE_CACHE_ACQUIRE_TIMEOUT="30s"
//	EMBEDGATE_CACHE_SWEEP_SCHEDULE="@every 5m"
//
// Rate limiting settings:
//
//	EMBEDGATE_RATELIMIT_ENABLED="true"
//	EMBEDGATE_REDIS_URL="localhost:6379"  # optional, enables distributed limiting
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatalf("failed to load config: %v", err)
//	}
//
// All settings fall back to defaults when unset; secrets such as the platform
// client secret have no default and fail validation when missing.
package config
