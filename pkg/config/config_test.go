package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "GATEHOUSE_TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "GATEHOUSE_TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvTyped tests the typed getEnv helpers
func TestGetEnvTyped(t *testing.T) {
	t.Setenv("GATEHOUSE_TEST_BOOL", "1")
	t.Setenv("GATEHOUSE_TEST_INT", "42")
	t.Setenv("GATEHOUSE_TEST_BAD_INT", "forty-two")
	t.Setenv("GATEHOUSE_TEST_DURATION", "90s")
	t.Setenv("GATEHOUSE_TEST_FLOAT", "0.25")
	t.Setenv("GATEHOUSE_TEST_LIST", " http://a , ,http://b")

	assert.True(t, getEnvBool("GATEHOUSE_TEST_BOOL", false))
	assert.True(t, getEnvBool("GATEHOUSE_TEST_BOOL_UNSET", true))
	assert.Equal(t, 42, getEnvInt("GATEHOUSE_TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("GATEHOUSE_TEST_BAD_INT", 7))
	assert.Equal(t, 90*time.Second, getEnvDuration("GATEHOUSE_TEST_DURATION", time.Second))
	assert.Equal(t, 0.25, getEnvFloat("GATEHOUSE_TEST_FLOAT", 1))
	assert.Equal(t, []string{"http://a", "http://b"}, getEnvList("GATEHOUSE_TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, getEnvList("GATEHOUSE_TEST_LIST_UNSET", []string{"x"}))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "mock", cfg.Auth.Provider)
	assert.Equal(t, time.Minute, cfg.Auth.Keycloak.RefreshInterval)
	assert.Equal(t, 60*time.Second, cfg.Auth.Keycloak.MinValidity)
	assert.Equal(t, 5*time.Minute, cfg.API.OrganizationCacheTTL)
	assert.Equal(t, "file", cfg.Storage.Type)
	assert.Equal(t, "http://localhost:8080/auth/callback", cfg.CallbackURL())
	assert.Equal(t, "http://localhost:8080/login", cfg.LoginURL())
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatehouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
  public_url: https://admin.example.com/
auth:
  provider: keycloak
  keycloak:
    url: https://sso.example.com
    realm: admin
    client_id: dashboard
    refresh_interval: 30s
storage:
  type: memory
`), 0600))

	t.Setenv("GATEHOUSE_CONFIG_FILE", path)
	t.Setenv("GATEHOUSE_KEYCLOAK_REALM", "ops")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "keycloak", cfg.Auth.Provider)
	assert.Equal(t, "https://sso.example.com", cfg.Auth.Keycloak.URL)
	assert.Equal(t, "ops", cfg.Auth.Keycloak.Realm, "env overrides file")
	assert.Equal(t, 30*time.Second, cfg.Auth.Keycloak.RefreshInterval)
	assert.Equal(t, 60*time.Second, cfg.Auth.Keycloak.MinValidity, "unset file values keep defaults")
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "https://admin.example.com/auth/callback", cfg.CallbackURL())
}

func TestLoadConfig_FileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("GATEHOUSE_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0600))
		t.Setenv("GATEHOUSE_CONFIG_FILE", path)
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: true},
		{name: "bad public url", mutate: func(c *Config) { c.Server.PublicURL = "not a url" }, wantErr: true},
		{name: "bad api url", mutate: func(c *Config) { c.API.BaseURL = "" }, wantErr: true},
		{name: "redis without url", mutate: func(c *Config) { c.Storage.Type = "redis" }, wantErr: true},
		{name: "redis with url", mutate: func(c *Config) {
			c.Storage.Type = "redis"
			c.Storage.RedisURL = "redis://localhost:6379"
		}},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Storage.Type = "s3" }, wantErr: true},
		{name: "file without path", mutate: func(c *Config) { c.Storage.FilePath = "" }, wantErr: true},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Type = "postgres" }, wantErr: true},
		{name: "otel without endpoint", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
