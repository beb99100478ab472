// Package config provides gatehouse configuration from a YAML file and environment
// variables.
//
// # Overview
//
// Values are resolved in three layers: built-in defaults, the YAML file named by
// GATEHOUSE_CONFIG_FILE, then GATEHOUSE_* environment variables. Configuration is read once
// at startup.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="127.0.0.1"  # one session per process, see cmd/gatehouse
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_PUBLIC_URL="https://admin.example.com"  # callback is {public_url}/auth/callback
//
// Provider selection (mock, ory, auth0, keycloak, cognito; unknown values fall back to mock):
//
//	GATEHOUSE_AUTH_PROVIDER="keycloak"
//	GATEHOUSE_KEYCLOAK_URL="https://sso.example.com"
//	GATEHOUSE_KEYCLOAK_REALM="admin"
//	GATEHOUSE_KEYCLOAK_CLIENT_ID="admin-dashboard"
//
// Storage settings:
//
//	GATEHOUSE_STORAGE_TYPE="redis"  # memory, file, redis, s3
//	GATEHOUSE_REDIS_URL="redis://localhost:6379"
//
// Admin API:
//
//	GATEHOUSE_API_URL="http://localhost:8000/api/v1"
//	GATEHOUSE_ORGANIZATION_CACHE_TTL="5m"
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEHOUSE_OTEL_ENABLED="true"
//	GATEHOUSE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg.Auth.Provider, cfg.CallbackURL())
package config
