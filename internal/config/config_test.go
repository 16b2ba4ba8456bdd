package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const strongSecret = "this-is-a-very-secure-secret-key-for-production-use-1234"

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8010, cfg.HTTPPort)
	assert.Equal(t, IdentityBackendPostgres, cfg.IdentityBackend)
	assert.Equal(t, ProfileStoreRedis, cfg.ProfileStore)
	assert.Equal(t, 6, cfg.PasswordMinLength)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 15*time.Minute, cfg.JWTAccessExpiry)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"https://accounts.google.com"}, cfg.FederationIssuers)
	assert.Empty(t, cfg.TrustedProxyCIDRs, "forwarding headers are ignored unless proxies are configured")
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "127.0.0.0/8", "::1/128"}, cfg.PprofAllowedCIDRs)
}

func TestLoad_NetworkLists(t *testing.T) {
	setEnvs(t, map[string]string{
		"TRUSTED_PROXY_CIDRS": "10.0.0.0/8,fd00::/8",
		"PPROF_ALLOWED_CIDRS": "127.0.0.0/8",
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "fd00::/8"}, cfg.TrustedProxyCIDRs)
	assert.Equal(t, []string{"127.0.0.0/8"}, cfg.PprofAllowedCIDRs)
}

func TestLoad_Development_AcceptsDefaultSecrets(t *testing.T) {
	setEnvs(t, map[string]string{"ENVIRONMENT": "development"})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, defaultJWTSecret, cfg.JWTSecret)
	assert.Equal(t, defaultFederationSecret, cfg.FederationSecret)
}

func TestLoad_Production_Secrets(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		wantErr string
	}{
		{
			name:    "default JWT secret",
			envs:    map[string]string{"FEDERATION_SECRET": strongSecret},
			wantErr: "JWT_SECRET must be explicitly set",
		},
		{
			name:    "short JWT secret",
			envs:    map[string]string{"JWT_SECRET": "short-but-not-default", "FEDERATION_SECRET": strongSecret},
			wantErr: "JWT_SECRET must be at least 32 characters",
		},
		{
			name:    "default federation secret",
			envs:    map[string]string{"JWT_SECRET": strongSecret},
			wantErr: "FEDERATION_SECRET must be explicitly set",
		},
		{
			name: "remote backend does not need a federation secret",
			envs: map[string]string{
				"JWT_SECRET":         strongSecret,
				"IDENTITY_BACKEND":   "remote",
				"REMOTE_IDP_API_KEY": "key",
			},
		},
		{
			name: "strong secrets",
			envs: map[string]string{"JWT_SECRET": strongSecret, "FEDERATION_SECRET": strongSecret},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvs(t, map[string]string{"ENVIRONMENT": "production"})
			setEnvs(t, tt.envs)

			cfg, err := Load()

			if tt.wantErr != "" {
				assert.Nil(t, cfg)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "production", cfg.Environment)
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		wantErr string
	}{
		{"port out of range", map[string]string{"ACCOUNTS_HTTP_PORT": "70000"}, "invalid HTTP port"},
		{"unknown identity backend", map[string]string{"IDENTITY_BACKEND": "ldap"}, "IDENTITY_BACKEND must be"},
		{"unknown profile store", map[string]string{"PROFILE_STORE": "mongo"}, "PROFILE_STORE must be"},
		{"remote without api key", map[string]string{"IDENTITY_BACKEND": "remote"}, "REMOTE_IDP_API_KEY is required"},
		{"password length too small", map[string]string{"PASSWORD_MIN_LENGTH": "4"}, "PASSWORD_MIN_LENGTH"},
		{"zero store timeout", map[string]string{"PROFILE_STORE_TIMEOUT": "0s"}, "PROFILE_STORE_TIMEOUT"},
		{"sample rate above one", map[string]string{"OTEL_SAMPLE_RATE": "1.5"}, "OTEL_SAMPLE_RATE"},
		{"malformed duration", map[string]string{"JWT_ACCESS_TOKEN_EXPIRY": "soon"}, "load accounts config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvs(t, tt.envs)

			cfg, err := Load()

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ListsAndBackends(t *testing.T) {
	setEnvs(t, map[string]string{
		"KAFKA_BROKERS":      "k1:9092,k2:9092",
		"FEDERATION_ISSUERS": "https://a.example,https://b.example",
		"PROFILE_STORE":      "postgres",
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Len(t, cfg.FederationIssuers, 2)
	assert.Equal(t, ProfileStorePostgres, cfg.ProfileStore)
}
