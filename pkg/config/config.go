package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	API           APIConfig           `yaml:"api"`
	Storage       storage.Config      `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	PublicURL       string        `yaml:"public_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`

	// LoginRateLimit is the number of login and callback requests a client may make per
	// minute. Zero disables the limit.
	LoginRateLimit int `yaml:"login_rate_limit"`
	LoginRateBurst int `yaml:"login_rate_burst"`
}

// AuthConfig selects the identity provider and carries every provider's parameters. Only
// the selected provider's block is read.
type AuthConfig struct {
	Provider    string         `yaml:"provider"`
	InitTimeout time.Duration  `yaml:"init_timeout"`
	Ory         OryConfig      `yaml:"ory"`
	Auth0       Auth0Config    `yaml:"auth0"`
	Keycloak    KeycloakConfig `yaml:"keycloak"`
	Cognito     CognitoConfig  `yaml:"cognito"`
}

// OryConfig configures the Ory provider
type OryConfig struct {
	SDKURL string `yaml:"sdk_url"`
}

// Auth0Config configures the Auth0 provider
type Auth0Config struct {
	Domain       string `yaml:"domain"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Audience     string `yaml:"audience"`
}

// KeycloakConfig configures the Keycloak provider
type KeycloakConfig struct {
	URL             string        `yaml:"url"`
	Realm           string        `yaml:"realm"`
	ClientID        string        `yaml:"client_id"`
	ClientSecret    string        `yaml:"client_secret"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MinValidity     time.Duration `yaml:"min_validity"`
}

// CognitoConfig configures the Cognito provider
type CognitoConfig struct {
	Region       string `yaml:"region"`
	UserPoolID   string `yaml:"user_pool_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Domain       string `yaml:"domain"`
	Endpoint     string `yaml:"endpoint"`
}

// APIConfig points at the admin REST API
type APIConfig struct {
	BaseURL              string        `yaml:"base_url"`
	Timeout              time.Duration `yaml:"timeout"`
	OrganizationCacheTTL time.Duration `yaml:"organization_cache_ttl"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            "8080",
			PublicURL:       "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			LoginRateLimit:  30,
			LoginRateBurst:  10,
		},
		Auth: AuthConfig{
			Provider:    "mock",
			InitTimeout: 30 * time.Second,
			Keycloak: KeycloakConfig{
				RefreshInterval: time.Minute,
				MinValidity:     60 * time.Second,
			},
		},
		API: APIConfig{
			BaseURL:              "http://localhost:8000/api/v1",
			Timeout:              10 * time.Second,
			OrganizationCacheTTL: 5 * time.Minute,
		},
		Storage: storage.DefaultConfig(),
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "gatehouse",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named by
// GATEHOUSE_CONFIG_FILE (if any), then GATEHOUSE_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv("GATEHOUSE_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("GATEHOUSE_HOST", s.Host)
	s.Port = getEnv("GATEHOUSE_PORT", s.Port)
	s.PublicURL = getEnv("GATEHOUSE_PUBLIC_URL", s.PublicURL)
	s.ReadTimeout = getEnvDuration("GATEHOUSE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.AllowedOrigins = getEnvList("GATEHOUSE_ALLOWED_ORIGINS", s.AllowedOrigins)
	s.LoginRateLimit = getEnvInt("GATEHOUSE_LOGIN_RATE_LIMIT", s.LoginRateLimit)
	s.LoginRateBurst = getEnvInt("GATEHOUSE_LOGIN_RATE_BURST", s.LoginRateBurst)

	a := &c.Auth
	a.Provider = getEnv("GATEHOUSE_AUTH_PROVIDER", a.Provider)
	a.InitTimeout = getEnvDuration("GATEHOUSE_AUTH_INIT_TIMEOUT", a.InitTimeout)
	a.Ory.SDKURL = getEnv("GATEHOUSE_ORY_SDK_URL", a.Ory.SDKURL)
	a.Auth0.Domain = getEnv("GATEHOUSE_AUTH0_DOMAIN", a.Auth0.Domain)
	a.Auth0.ClientID = getEnv("GATEHOUSE_AUTH0_CLIENT_ID", a.Auth0.ClientID)
	a.Auth0.ClientSecret = getEnv("GATEHOUSE_AUTH0_CLIENT_SECRET", a.Auth0.ClientSecret)
	a.Auth0.Audience = getEnv("GATEHOUSE_AUTH0_AUDIENCE", a.Auth0.Audience)
	a.Keycloak.URL = getEnv("GATEHOUSE_KEYCLOAK_URL", a.Keycloak.URL)
	a.Keycloak.Realm = getEnv("GATEHOUSE_KEYCLOAK_REALM", a.Keycloak.Realm)
	a.Keycloak.ClientID = getEnv("GATEHOUSE_KEYCLOAK_CLIENT_ID", a.Keycloak.ClientID)
	a.Keycloak.ClientSecret = getEnv("GATEHOUSE_KEYCLOAK_CLIENT_SECRET", a.Keycloak.ClientSecret)
	a.Keycloak.RefreshInterval = getEnvDuration("GATEHOUSE_KEYCLOAK_REFRESH_INTERVAL", a.Keycloak.RefreshInterval)
	a.Keycloak.MinValidity = getEnvDuration("GATEHOUSE_KEYCLOAK_MIN_VALIDITY", a.Keycloak.MinValidity)
	a.Cognito.Region = getEnv("GATEHOUSE_COGNITO_REGION", a.Cognito.Region)
	a.Cognito.UserPoolID = getEnv("GATEHOUSE_COGNITO_USER_POOL_ID", a.Cognito.UserPoolID)
	a.Cognito.ClientID = getEnv("GATEHOUSE_COGNITO_CLIENT_ID", a.Cognito.ClientID)
	a.Cognito.ClientSecret = getEnv("GATEHOUSE_COGNITO_CLIENT_SECRET", a.Cognito.ClientSecret)
	a.Cognito.Domain = getEnv("GATEHOUSE_COGNITO_DOMAIN", a.Cognito.Domain)
	a.Cognito.Endpoint = getEnv("GATEHOUSE_COGNITO_ENDPOINT", a.Cognito.Endpoint)

	c.API.BaseURL = getEnv("GATEHOUSE_API_URL", c.API.BaseURL)
	c.API.Timeout = getEnvDuration("GATEHOUSE_API_TIMEOUT", c.API.Timeout)
	c.API.OrganizationCacheTTL = getEnvDuration("GATEHOUSE_ORGANIZATION_CACHE_TTL", c.API.OrganizationCacheTTL)

	st := &c.Storage
	st.Type = getEnv("GATEHOUSE_STORAGE_TYPE", st.Type)
	st.FilePath = getEnv("GATEHOUSE_STORAGE_FILE", st.FilePath)
	st.RedisURL = getEnv("GATEHOUSE_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("GATEHOUSE_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("GATEHOUSE_REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", st.RedisPoolSize)
	st.RedisPrefix = getEnv("GATEHOUSE_REDIS_PREFIX", st.RedisPrefix)
	st.RedisTTL = getEnvDuration("GATEHOUSE_REDIS_TTL", st.RedisTTL)
	st.S3Endpoint = getEnv("GATEHOUSE_S3_ENDPOINT", st.S3Endpoint)
	st.S3Region = getEnv("GATEHOUSE_S3_REGION", st.S3Region)
	st.S3Bucket = getEnv("GATEHOUSE_S3_BUCKET", st.S3Bucket)
	st.S3Prefix = getEnv("GATEHOUSE_S3_PREFIX", st.S3Prefix)
	st.S3AccessKey = getEnv("GATEHOUSE_S3_ACCESS_KEY", st.S3AccessKey)
	st.S3SecretKey = getEnv("GATEHOUSE_S3_SECRET_KEY", st.S3SecretKey)
	st.S3UsePathStyle = getEnvBool("GATEHOUSE_S3_USE_PATH_STYLE", st.S3UsePathStyle)

	o := &c.Observability
	o.LogLevel = getEnv("GATEHOUSE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("GATEHOUSE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("GATEHOUSE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("GATEHOUSE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("GATEHOUSE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("GATEHOUSE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("GATEHOUSE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks server, API and storage settings. Provider parameters are validated by
// the provider factory so a missing parameter surfaces as an auth.ConfigError.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := url.ParseRequestURI(c.Server.PublicURL); err != nil {
		return fmt.Errorf("invalid public URL %q: %w", c.Server.PublicURL, err)
	}
	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return fmt.Errorf("invalid API URL %q: %w", c.API.BaseURL, err)
	}

	switch strings.ToLower(c.Storage.Type) {
	case storage.TypeMemory:
	case storage.TypeFile, "":
		if c.Storage.FilePath == "" {
			return fmt.Errorf("file path is required for file storage")
		}
	case storage.TypeRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
	case storage.TypeS3:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, file, redis, or s3)", c.Storage.Type)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// CallbackURL is the OAuth redirect URI registered with hosted providers.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.Server.PublicURL, "/") + "/auth/callback"
}

// LoginURL is where hosted providers send the browser after logout.
func (c *Config) LoginURL() string {
	return strings.TrimRight(c.Server.PublicURL, "/") + "/login"
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

// getEnvFloat returns a float environment variable or a default
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
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
