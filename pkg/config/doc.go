// Package config provides application configuration management.
//
// Values are layered, lowest precedence first: built-in defaults, a YAML
// file named by TURNSTILE_CONFIG_FILE, a .env file in the working
// directory, and TURNSTILE_* environment variables.
//
// Server settings:
//
//	TURNSTILE_HOST="0.0.0.0"
//	TURNSTILE_PORT="8080"
//
// Storage settings:
//
//	TURNSTILE_DB_DRIVER="postgres"  # memory, postgres, sqlite3
//	TURNSTILE_DB_DSN="postgres://localhost/turnstile?sslmode=disable"
//	TURNSTILE_REDIS_URL="redis://localhost:6379/0"
//
// Token settings:
//
//	TURNSTILE_TOKEN_SECRET="base64:..."  # at least 256 bits
//	TURNSTILE_ACCESS_TOKEN_TTL="15m"
//	TURNSTILE_REFRESH_TOKEN_TTL="168h"
//	TURNSTILE_REFRESH_MODE="revocable"  # or stateless
//
// Federated login:
//
//	TURNSTILE_GOOGLE_CLIENT_ID=...
//	TURNSTILE_GOOGLE_CLIENT_SECRET=...
//	TURNSTILE_GOOGLE_REDIRECT_URL="https://app.example.com/api/auth/oauth2/google/callback"
//	TURNSTILE_OAUTH_SUCCESS_URL="https://app.example.com/"
//	TURNSTILE_OAUTH_FAILURE_URL="https://app.example.com/login"
//
// Observability settings:
//
//	TURNSTILE_LOG_LEVEL="info"  # debug, info, warn, error
//	TURNSTILE_METRICS_ENABLED="true"
//	TURNSTILE_OTEL_ENABLED="true"
//	TURNSTILE_OTEL_ENDPOINT="otel-collector:4317"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if auth.IsConfigurationError(err) {
//		logrus.WithError(err).Fatal("refusing to start")
//	}
package config
