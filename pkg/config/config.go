package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/storage"
)

// DefaultPublicPaths are reachable without a token
var DefaultPublicPaths = []string{
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/verify",
	"/api/auth/verify/resend",
	"/api/auth/password/forgot",
	"/api/auth/password/reset",
	"/api/auth/refresh",
	"/api/auth/oauth2/**",
	"/healthz",
	"/readyz",
	"/metrics",
}

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Tokens        TokenConfig         `yaml:"tokens"`
	Cookies       CookieConfig        `yaml:"cookies"`
	OAuth         OAuthConfig         `yaml:"oauth"`
	Usage         UsageConfig         `yaml:"usage"`
	Security      SecurityConfig      `yaml:"security"`
	Janitor       JanitorConfig       `yaml:"janitor"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// TokenConfig holds signing and lifetime settings
type TokenConfig struct {
	// Secret is the raw signing key, or "base64:<data>"
	Secret      string           `yaml:"secret"`
	Issuer      string           `yaml:"issuer"`
	AccessTTL   time.Duration    `yaml:"access_ttl"`
	RefreshTTL  time.Duration    `yaml:"refresh_ttl"`
	RefreshMode auth.RefreshMode `yaml:"refresh_mode"`
}

// CookieConfig holds token cookie attributes
type CookieConfig struct {
	Domain   string `yaml:"domain"`
	Secure   bool   `yaml:"secure"`
	SameSite string `yaml:"same_site"`
}

// OAuthConfig holds federated login settings
type OAuthConfig struct {
	Google       OIDCClientConfig `yaml:"google"`
	SuccessURL   string           `yaml:"success_url"`
	FailureURL   string           `yaml:"failure_url"`
	StateTTL     time.Duration    `yaml:"state_ttl"`
	DiscoveryTTL time.Duration    `yaml:"discovery_ttl"`
}

// OIDCClientConfig identifies this service to one OIDC provider
type OIDCClientConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// Enabled reports whether the provider has credentials
func (c OIDCClientConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// UsageConfig holds quota settings
type UsageConfig struct {
	// Timezone whose midnight resets daily counters
	Timezone string `yaml:"timezone"`
}

// SecurityConfig holds the public allow-list and login throttle
type SecurityConfig struct {
	PublicPaths    []string      `yaml:"public_paths"`
	ThrottleLimit  int           `yaml:"throttle_limit"`
	ThrottleWindow time.Duration `yaml:"throttle_window"`
	// CodeTTL bounds verification and password reset codes
	CodeTTL time.Duration `yaml:"code_ttl"`
}

// JanitorConfig holds background maintenance settings
type JanitorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts to the observability package's config
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Storage: storage.DefaultConfig(),
		Tokens: TokenConfig{
			Issuer:      "turnstile",
			AccessTTL:   auth.DefaultAccessTokenTTL,
			RefreshTTL:  auth.DefaultRefreshTokenTTL,
			RefreshMode: auth.RefreshRevocable,
		},
		Cookies: CookieConfig{
			Secure:   true,
			SameSite: "lax",
		},
		OAuth: OAuthConfig{
			SuccessURL:   "/",
			FailureURL:   "/login",
			StateTTL:     10 * time.Minute,
			DiscoveryTTL: time.Hour,
		},
		Usage: UsageConfig{Timezone: "UTC"},
		Security: SecurityConfig{
			PublicPaths:    append([]string(nil), DefaultPublicPaths...),
			ThrottleLimit:  10,
			ThrottleWindow: time.Minute,
			CodeTTL:        15 * time.Minute,
		},
		Janitor: JanitorConfig{
			Enabled:  true,
			Schedule: "@hourly",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "turnstile",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds configuration from defaults, an optional YAML file named
// by TURNSTILE_CONFIG_FILE, a .env file if present, and TURNSTILE_*
// environment variables, in increasing precedence.
func LoadConfig() (*Config, error) {
	// Variables already set in the environment win over .env
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Default()

	if path := os.Getenv("TURNSTILE_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile overlays a YAML file onto cfg
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("TURNSTILE_HOST", s.Host)
	s.Port = getEnv("TURNSTILE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("TURNSTILE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("TURNSTILE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("TURNSTILE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("TURNSTILE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64("TURNSTILE_MAX_BODY_BYTES", s.MaxBodyBytes)

	st := &c.Storage
	st.Driver = getEnv("TURNSTILE_DB_DRIVER", st.Driver)
	st.DSN = getEnv("TURNSTILE_DB_DSN", st.DSN)
	st.MaxOpenConns = getEnvInt("TURNSTILE_DB_MAX_OPEN_CONNS", st.MaxOpenConns)
	st.MaxIdleConns = getEnvInt("TURNSTILE_DB_MAX_IDLE_CONNS", st.MaxIdleConns)
	st.ConnMaxLifetime = getEnvDuration("TURNSTILE_DB_CONN_MAX_LIFETIME", st.ConnMaxLifetime)
	st.ConnectTimeout = getEnvDuration("TURNSTILE_DB_CONNECT_TIMEOUT", st.ConnectTimeout)
	st.RedisURL = getEnv("TURNSTILE_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("TURNSTILE_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("TURNSTILE_REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt("TURNSTILE_REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt("TURNSTILE_REDIS_POOL_SIZE", st.RedisPoolSize)

	t := &c.Tokens
	t.Secret = getEnv("TURNSTILE_TOKEN_SECRET", t.Secret)
	t.Issuer = getEnv("TURNSTILE_TOKEN_ISSUER", t.Issuer)
	t.AccessTTL = getEnvDuration("TURNSTILE_ACCESS_TOKEN_TTL", t.AccessTTL)
	t.RefreshTTL = getEnvDuration("TURNSTILE_REFRESH_TOKEN_TTL", t.RefreshTTL)
	t.RefreshMode = auth.RefreshMode(getEnv("TURNSTILE_REFRESH_MODE", string(t.RefreshMode)))

	ck := &c.Cookies
	ck.Domain = getEnv("TURNSTILE_COOKIE_DOMAIN", ck.Domain)
	ck.Secure = getEnvBool("TURNSTILE_COOKIE_SECURE", ck.Secure)
	ck.SameSite = getEnv("TURNSTILE_COOKIE_SAMESITE", ck.SameSite)

	o := &c.OAuth
	o.Google.ClientID = getEnv("TURNSTILE_GOOGLE_CLIENT_ID", o.Google.ClientID)
	o.Google.ClientSecret = getEnv("TURNSTILE_GOOGLE_CLIENT_SECRET", o.Google.ClientSecret)
	o.Google.RedirectURL = getEnv("TURNSTILE_GOOGLE_REDIRECT_URL", o.Google.RedirectURL)
	o.SuccessURL = getEnv("TURNSTILE_OAUTH_SUCCESS_URL", o.SuccessURL)
	o.FailureURL = getEnv("TURNSTILE_OAUTH_FAILURE_URL", o.FailureURL)
	o.StateTTL = getEnvDuration("TURNSTILE_OAUTH_STATE_TTL", o.StateTTL)
	o.DiscoveryTTL = getEnvDuration("TURNSTILE_OAUTH_DISCOVERY_TTL", o.DiscoveryTTL)

	c.Usage.Timezone = getEnv("TURNSTILE_USAGE_TIMEZONE", c.Usage.Timezone)

	sec := &c.Security
	sec.PublicPaths = getEnvList("TURNSTILE_PUBLIC_PATHS", sec.PublicPaths)
	sec.ThrottleLimit = getEnvInt("TURNSTILE_LOGIN_THROTTLE_LIMIT", sec.ThrottleLimit)
	sec.ThrottleWindow = getEnvDuration("TURNSTILE_LOGIN_THROTTLE_WINDOW", sec.ThrottleWindow)
	sec.CodeTTL = getEnvDuration("TURNSTILE_CODE_TTL", sec.CodeTTL)

	c.Janitor.Enabled = getEnvBool("TURNSTILE_JANITOR_ENABLED", c.Janitor.Enabled)
	c.Janitor.Schedule = getEnv("TURNSTILE_JANITOR_SCHEDULE", c.Janitor.Schedule)

	ob := &c.Observability
	ob.LogLevel = getEnv("TURNSTILE_LOG_LEVEL", ob.LogLevel)
	ob.MetricsEnabled = getEnvBool("TURNSTILE_METRICS_ENABLED", ob.MetricsEnabled)
	ob.OTelEnabled = getEnvBool("TURNSTILE_OTEL_ENABLED", ob.OTelEnabled)
	ob.OTelEndpoint = getEnv("TURNSTILE_OTEL_ENDPOINT", ob.OTelEndpoint)
	ob.OTelServiceName = getEnv("TURNSTILE_OTEL_SERVICE_NAME", ob.OTelServiceName)
	ob.OTelServiceVersion = getEnv("TURNSTILE_OTEL_SERVICE_VERSION", ob.OTelServiceVersion)
	ob.OTelInsecure = getEnvBool("TURNSTILE_OTEL_INSECURE", ob.OTelInsecure)
	ob.OTelSampleRatio = getEnvFloat("TURNSTILE_OTEL_SAMPLE_RATIO", ob.OTelSampleRatio)
}

// SigningKey decodes the token secret
func (c *Config) SigningKey() ([]byte, error) {
	secret := c.Tokens.Secret
	if rest, ok := strings.CutPrefix(secret, "base64:"); ok {
		key, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return nil, &auth.ConfigurationError{Field: "signing key", Reason: "invalid base64"}
		}
		return key, nil
	}
	return []byte(secret), nil
}

// Location loads the usage timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Usage.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Usage.Timezone)
	if err != nil {
		return nil, &auth.ConfigurationError{Field: "usage timezone", Reason: err.Error()}
	}
	return loc, nil
}

// Validate checks if the configuration is valid. A missing or weak signing
// key is an *auth.ConfigurationError.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	key, err := c.SigningKey()
	if err != nil {
		return err
	}
	if len(key) == 0 {
		return &auth.ConfigurationError{Field: "signing key", Reason: "TURNSTILE_TOKEN_SECRET is required"}
	}
	if len(key) < auth.MinKeyBytes {
		return &auth.ConfigurationError{
			Field:  "signing key",
			Reason: fmt.Sprintf("must be at least %d bits, got %d", auth.MinKeyBytes*8, len(key)*8),
		}
	}

	switch c.Tokens.RefreshMode {
	case auth.RefreshRevocable, auth.RefreshStateless:
	default:
		return &auth.ConfigurationError{
			Field:  "refresh mode",
			Reason: fmt.Sprintf("must be %q or %q, got %q", auth.RefreshRevocable, auth.RefreshStateless, c.Tokens.RefreshMode),
		}
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.Security.CodeTTL <= 0 {
		return fmt.Errorf("code TTL must be positive")
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres", "sqlite3":
		if c.Storage.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("invalid storage driver: %s (must be memory, postgres, or sqlite3)", c.Storage.Driver)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if c.OAuth.Google.Enabled() && c.OAuth.Google.RedirectURL == "" {
		return fmt.Errorf("google redirect URL is required when google login is configured")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %g", r)
		}
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
