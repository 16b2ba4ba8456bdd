package config

import (
	"fmt"
	"slices"
	"time"

	pkgconfig "github.com/quizhub/accounts/pkg/config"
)

// Identity backends.
const (
	IdentityBackendPostgres = "postgres"
	IdentityBackendRemote   = "remote"
)

// Profile stores.
const (
	ProfileStoreRedis    = "redis"
	ProfileStorePostgres = "postgres"
)

const (
	defaultJWTSecret        = "change-this-to-a-secure-secret"
	defaultFederationSecret = "change-this-federation-secret"
	minSecretLength         = 32
)

// Config holds all configuration for the accounts service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"ACCOUNTS_HTTP_PORT" envDefault:"8010"`

	// PostgreSQL
	PostgresHost          string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort          int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser          string `env:"POSTGRES_USER" envDefault:"quizhub"`
	PostgresPass          string `env:"POSTGRES_PASSWORD" envDefault:"quizhub_secret"`
	PostgresDB            string `env:"ACCOUNTS_DB_NAME" envDefault:"accounts_db"`
	PostgresSSL           string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns            int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int    `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int    `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Redis
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Backends
	IdentityBackend string `env:"IDENTITY_BACKEND" envDefault:"postgres"`
	ProfileStore    string `env:"PROFILE_STORE" envDefault:"redis"`

	// Remote identity provider
	RemoteIdPBaseURL    string        `env:"REMOTE_IDP_BASE_URL" envDefault:"https://identitytoolkit.googleapis.com"`
	RemoteIdPAPIKey     string        `env:"REMOTE_IDP_API_KEY"`
	RemoteIdPProviderID string        `env:"REMOTE_IDP_PROVIDER_ID" envDefault:"google.com"`
	RemoteIdPRequestURI string        `env:"REMOTE_IDP_REQUEST_URI" envDefault:"http://localhost"`
	RemoteIdPTimeout    time.Duration `env:"REMOTE_IDP_TIMEOUT" envDefault:"10s"`

	// Federated ID assertions
	FederationSecret   string   `env:"FEDERATION_SECRET" envDefault:"change-this-federation-secret"`
	FederationAudience string   `env:"FEDERATION_AUDIENCE" envDefault:"quizhub-accounts"`
	FederationIssuers  []string `env:"FEDERATION_ISSUERS" envDefault:"https://accounts.google.com" envSeparator:","`

	// JWT
	JWTSecret       string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"quizhub-accounts"`
	JWTAccessExpiry time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`

	// Registration
	PasswordMinLength  int           `env:"PASSWORD_MIN_LENGTH" envDefault:"6"`
	BcryptCost         int           `env:"BCRYPT_COST" envDefault:"12"`
	StoreTimeout       time.Duration `env:"PROFILE_STORE_TIMEOUT" envDefault:"5s"`
	RegisterRateLimit  float64       `env:"REGISTER_RATE_LIMIT_RPS" envDefault:"2"`
	RegisterRateBurst  int           `env:"REGISTER_RATE_LIMIT_BURST" envDefault:"5"`
	ReconcilerRetries  int           `env:"RECONCILER_MAX_RETRIES" envDefault:"5"`
	ReconcilerBackoff  time.Duration `env:"RECONCILER_RETRY_BASE" envDefault:"1s"`
	IdempotencyKeysTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Network
	TrustedProxyCIDRs []string `env:"TRUSTED_PROXY_CIDRS" envSeparator:","`
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELInsecure   bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load accounts config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if !slices.Contains([]string{IdentityBackendPostgres, IdentityBackendRemote}, c.IdentityBackend) {
		return fmt.Errorf("IDENTITY_BACKEND must be %q or %q, got %q", IdentityBackendPostgres, IdentityBackendRemote, c.IdentityBackend)
	}
	if !slices.Contains([]string{ProfileStoreRedis, ProfileStorePostgres}, c.ProfileStore) {
		return fmt.Errorf("PROFILE_STORE must be %q or %q, got %q", ProfileStoreRedis, ProfileStorePostgres, c.ProfileStore)
	}
	if c.IdentityBackend == IdentityBackendRemote && c.RemoteIdPAPIKey == "" {
		return fmt.Errorf("REMOTE_IDP_API_KEY is required when IDENTITY_BACKEND is %q", IdentityBackendRemote)
	}
	if c.PasswordMinLength < 6 || c.PasswordMinLength > 72 {
		return fmt.Errorf("PASSWORD_MIN_LENGTH must be between 6 and 72, got %d", c.PasswordMinLength)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("PROFILE_STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}

	// In non-development environments, require explicitly set, strong secrets.
	if c.Environment != "development" {
		if err := checkSecret("JWT_SECRET", c.JWTSecret, defaultJWTSecret); err != nil {
			return err
		}
		if c.IdentityBackend == IdentityBackendPostgres {
			if err := checkSecret("FEDERATION_SECRET", c.FederationSecret, defaultFederationSecret); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkSecret(name, value, placeholder string) error {
	if value == placeholder {
		return fmt.Errorf("%s must be explicitly set via environment variable outside development", name)
	}
	if len(value) < minSecretLength {
		return fmt.Errorf("%s must be at least %d characters long, got %d", name, minSecretLength, len(value))
	}
	return nil
}
