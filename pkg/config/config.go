package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/usersync/pkg/keycloak"
	"github.com/platinummonkey/usersync/pkg/observability"
	"github.com/platinummonkey/usersync/pkg/reconcile"
	"github.com/platinummonkey/usersync/pkg/session"
	"github.com/platinummonkey/usersync/pkg/storage"
	"github.com/platinummonkey/usersync/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Keycloak      KeycloakConfig
	Sync          SyncConfig
	Session       SessionConfig
	Observability ObservabilityConfig

	// File is the optional YAML overlay, re-read by Watch
	File string
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

	AllowedOrigins []string
	MaxBodyBytes   int64

	// AdminRateLimit caps admin calls per user per minute; 0 disables
	AdminRateLimit int
}

// KeycloakConfig holds identity provider settings
type KeycloakConfig struct {
	Admin keycloak.Config

	// IssuerURL defaults to the application realm on BaseURL
	IssuerURL      string
	Audience       string
	TokenClientID  string
	PublicClientID string
}

// Verifier returns the bearer token verifier settings
func (k KeycloakConfig) Verifier() keycloak.VerifierConfig {
	issuer := k.IssuerURL
	if issuer == "" {
		issuer = k.Admin.IssuerURL()
	}
	return keycloak.VerifierConfig{
		IssuerURL:     issuer,
		Audience:      k.Audience,
		TokenClientID: k.TokenClientID,
	}
}

// SyncConfig holds reconciliation and sweep settings
type SyncConfig struct {
	StoreTimeout  time.Duration
	IdPTimeout    time.Duration
	MaxAttempts   int
	Workers       int
	ItemTimeout   time.Duration
	RequiredRoles []string

	// Schedule is a standard five-field cron expression; empty disables
	// scheduled sweeps
	Schedule string
	LockTTL  time.Duration
}

// Reconcile converts the settings into a reconcile.Config
func (s SyncConfig) Reconcile() reconcile.Config {
	cfg := reconcile.DefaultConfig()
	cfg.StoreTimeout = s.StoreTimeout
	cfg.IdPTimeout = s.IdPTimeout
	cfg.MaxAttempts = s.MaxAttempts
	cfg.Workers = s.Workers
	cfg.ItemTimeout = s.ItemTimeout
	if len(s.RequiredRoles) > 0 {
		cfg.RequiredRoles = append([]string(nil), s.RequiredRoles...)
	}
	return cfg
}

// SessionConfig holds session store and session rate limit settings
type SessionConfig struct {
	TTL       time.Duration
	KeyPrefix string

	// RateLimit caps session creations per client per minute; 0 disables
	RateLimit      int
	RateLimitBurst int
}

// Store returns the session store settings
func (s SessionConfig) Store() session.Config {
	return session.Config{TTL: s.TTL, KeyPrefix: s.KeyPrefix}
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// OTel returns the tracing settings
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

// LoadConfig loads configuration from environment variables, applies the
// YAML overlay named by USERSYNC_CONFIG_FILE and validates the result
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Keycloak:      loadKeycloakConfig(),
		Sync:          loadSyncConfig(),
		Session:       loadSessionConfig(),
		Observability: loadObservabilityConfig(),
		File:          getEnv("USERSYNC_CONFIG_FILE", ""),
	}

	if cfg.File != "" {
		overlay, err := LoadOverlay(cfg.File)
		if err != nil {
			return nil, err
		}
		cfg.Apply(overlay)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("USERSYNC_HOST", "0.0.0.0"),
		Port:            getEnv("USERSYNC_PORT", "8080"),
		ReadTimeout:     getEnvDuration("USERSYNC_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("USERSYNC_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("USERSYNC_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("USERSYNC_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("USERSYNC_HEALTH_PORT", "9090"),
		AllowedOrigins:  getEnvList("USERSYNC_ALLOWED_ORIGINS", nil),
		MaxBodyBytes:    getEnvInt64("USERSYNC_MAX_BODY_BYTES", 1<<20),
		AdminRateLimit:  getEnvInt("USERSYNC_ADMIN_RATE_LIMIT", 120),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Driver = getEnv("USERSYNC_DB_DRIVER", cfg.Driver)
	cfg.DSN = getEnv("USERSYNC_DB_DSN", "")
	cfg.ReplicaDSNs = postgres.ParseReplicaURLs(os.Getenv("USERSYNC_DB_REPLICA_DSNS"))
	if maxConns := getEnvInt("USERSYNC_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("USERSYNC_DB_MIN_CONNS", -1); minConns >= 0 {
		cfg.MinConns = minConns
	}
	cfg.Timeout = getEnvDuration("USERSYNC_DB_TIMEOUT", cfg.Timeout)

	cfg.S3Endpoint = getEnv("USERSYNC_S3_ENDPOINT", "")
	cfg.S3Region = getEnv("USERSYNC_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("USERSYNC_S3_BUCKET", "")
	cfg.S3AccessKey = getEnv("USERSYNC_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("USERSYNC_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("USERSYNC_S3_USE_PATH_STYLE", false)
	cfg.S3Prefix = getEnv("USERSYNC_S3_PREFIX", cfg.S3Prefix)
	cfg.ReportDir = getEnv("USERSYNC_REPORT_DIR", "")

	cfg.RedisURL = getEnv("USERSYNC_REDIS_URL", "")
	cfg.RedisPassword = getEnv("USERSYNC_REDIS_PASSWORD", "")
	if redisDB := getEnvInt("USERSYNC_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if poolSize := getEnvInt("USERSYNC_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	return cfg
}

func loadKeycloakConfig() KeycloakConfig {
	return KeycloakConfig{
		Admin: keycloak.Config{
			BaseURL:      getEnv("USERSYNC_KEYCLOAK_URL", ""),
			Realm:        getEnv("USERSYNC_KEYCLOAK_REALM", ""),
			AdminRealm:   getEnv("USERSYNC_KEYCLOAK_ADMIN_REALM", "master"),
			ClientID:     getEnv("USERSYNC_KEYCLOAK_ADMIN_CLIENT_ID", "admin-cli"),
			ClientSecret: getEnv("USERSYNC_KEYCLOAK_ADMIN_CLIENT_SECRET", ""),
			Username:     getEnv("USERSYNC_KEYCLOAK_ADMIN_USERNAME", ""),
			Password:     getEnv("USERSYNC_KEYCLOAK_ADMIN_PASSWORD", ""),
			Timeout:      getEnvDuration("USERSYNC_KEYCLOAK_TIMEOUT", 10*time.Second),
		},
		IssuerURL:      getEnv("USERSYNC_KEYCLOAK_ISSUER_URL", ""),
		Audience:       getEnv("USERSYNC_KEYCLOAK_AUDIENCE", ""),
		TokenClientID:  getEnv("USERSYNC_KEYCLOAK_TOKEN_CLIENT_ID", "sss-backend"),
		PublicClientID: getEnv("USERSYNC_KEYCLOAK_PUBLIC_CLIENT_ID", "sss-frontend"),
	}
}

func loadSyncConfig() SyncConfig {
	d := reconcile.DefaultConfig()
	return SyncConfig{
		StoreTimeout:  getEnvDuration("USERSYNC_SYNC_STORE_TIMEOUT", d.StoreTimeout),
		IdPTimeout:    getEnvDuration("USERSYNC_SYNC_IDP_TIMEOUT", d.IdPTimeout),
		MaxAttempts:   getEnvInt("USERSYNC_SYNC_MAX_ATTEMPTS", d.MaxAttempts),
		Workers:       getEnvInt("USERSYNC_SYNC_WORKERS", d.Workers),
		ItemTimeout:   getEnvDuration("USERSYNC_SYNC_ITEM_TIMEOUT", d.ItemTimeout),
		RequiredRoles: getEnvList("USERSYNC_SYNC_REQUIRED_ROLES", d.RequiredRoles),
		Schedule:      getEnv("USERSYNC_SYNC_SCHEDULE", "0 3 * * *"),
		LockTTL:       getEnvDuration("USERSYNC_SYNC_LOCK_TTL", 30*time.Minute),
	}
}

func loadSessionConfig() SessionConfig {
	d := session.DefaultConfig()
	return SessionConfig{
		TTL:            getEnvDuration("USERSYNC_SESSION_TTL", d.TTL),
		KeyPrefix:      getEnv("USERSYNC_SESSION_KEY_PREFIX", d.KeyPrefix),
		RateLimit:      getEnvInt("USERSYNC_SESSION_RATE_LIMIT", 10),
		RateLimitBurst: getEnvInt("USERSYNC_SESSION_RATE_LIMIT_BURST", 5),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("USERSYNC_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("USERSYNC_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("USERSYNC_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("USERSYNC_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("USERSYNC_OTEL_SERVICE_NAME", "usersync"),
		OTelServiceVersion: getEnv("USERSYNC_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("USERSYNC_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("USERSYNC_OTEL_SAMPLE_RATIO", 1),
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

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Keycloak.Admin.BaseURL == "" {
		return fmt.Errorf("keycloak URL is required")
	}
	if c.Keycloak.Admin.Realm == "" {
		return fmt.Errorf("keycloak realm is required")
	}
	if c.Keycloak.Admin.ClientSecret == "" && (c.Keycloak.Admin.Username == "" || c.Keycloak.Admin.Password == "") {
		return fmt.Errorf("keycloak admin credentials are required: a client secret or a username and password")
	}

	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync workers must be positive")
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync max attempts must be positive")
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", c.Sync.Schedule, err)
		}
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Server.AdminRateLimit < 0 {
		return fmt.Errorf("admin rate limit must not be negative")
	}
	if c.Session.RateLimit < 0 || c.Session.RateLimitBurst < 0 {
		return fmt.Errorf("session rate limit must not be negative")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
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

// getEnvList splits a comma-separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
