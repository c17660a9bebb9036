// Package config loads gateway configuration from the environment,
// following the teacher control plane's envStr/envInt/envBool idiom.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// Config holds all configuration for the gateway process.
type Config struct {
	Port    int
	Version string

	Auth AuthConfig

	Commerce CommerceConfig
	Identity IdentityConfig
	Secrets  SecretsConfig

	Telemetry TelemetryConfig

	CORSAllowedOrigins []string

	WSPath         string
	WSIdleTimeout  time.Duration
	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int

	DefaultAgentID    string
	NoResponseMessage string
}

// AuthConfig configures which of the four auth modes is active.
type AuthConfig struct {
	Mode              gwmodels.AuthMode
	Token             string // literal or kms:// reference
	Password          string // literal or kms:// reference
	AllowMeshIdentity bool
	MeshSuffix        string
}

// CommerceConfig configures the commerce (billing) back end client.
type CommerceConfig struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
	CacheTTL     time.Duration
}

// IdentityConfig configures the identity-provider client used by C4
// and the /auth/* OAuth-proxy endpoints.
type IdentityConfig struct {
	Issuer       string
	Audience     string
	ClientID     string
	ClientSecret string // literal or kms:// reference
	JWKSURL      string
}

// SecretsConfig configures the kms:// secret backend's machine login.
type SecretsConfig struct {
	LoginURL    string
	SecretsURL  string
	ClientID    string
	ClientToken string
}

// TelemetryConfig mirrors the teacher's telemetry config shape,
// extended with the gateway's own sampling and environment knobs.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Environment  string
	SampleRatio  float64
}

// Load reads configuration from environment variables with sensible
// defaults, matching the teacher's config.Load convention.
func Load() *Config {
	return &Config{
		Port:    envInt("GATEWAY_PORT", 8080),
		Version: envStr("GATEWAY_VERSION", "0.1.0"),
		Auth: AuthConfig{
			Mode:              gwmodels.AuthMode(envStr("GATEWAY_AUTH_MODE", "token")),
			Token:             envStr("GATEWAY_AUTH_TOKEN", ""),
			Password:          envStr("GATEWAY_AUTH_PASSWORD", ""),
			AllowMeshIdentity: envBool("GATEWAY_ALLOW_MESH_IDENTITY", false),
			MeshSuffix:        envStr("GATEWAY_MESH_SUFFIX", ".mesh.internal"),
		},
		Commerce: CommerceConfig{
			BaseURL:      envStr("COMMERCE_API_URL", ""),
			ServiceToken: envStr("COMMERCE_SERVICE_TOKEN", ""),
			Timeout:      envDuration("COMMERCE_TIMEOUT", 10*time.Second),
			CacheTTL:     envDuration("GATEWAY_BILLING_CACHE_TTL", 60*time.Second),
		},
		Identity: IdentityConfig{
			Issuer:       envStr("GATEWAY_IDENTITY_ISSUER", ""),
			Audience:     envStr("GATEWAY_IDENTITY_AUDIENCE", ""),
			ClientID:     envStr("GATEWAY_IDENTITY_CLIENT_ID", ""),
			ClientSecret: envStr("GATEWAY_IDENTITY_CLIENT_SECRET", ""),
			JWKSURL:      envStr("GATEWAY_IDENTITY_JWKS_URL", ""),
		},
		Secrets: SecretsConfig{
			LoginURL:    envStr("GATEWAY_KMS_LOGIN_URL", ""),
			SecretsURL:  envStr("GATEWAY_KMS_SECRETS_URL", ""),
			ClientID:    envStr("GATEWAY_KMS_CLIENT_ID", ""),
			ClientToken: envStr("GATEWAY_KMS_CLIENT_TOKEN", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "hanzo-gateway"),
			Environment:  envStr("GATEWAY_ENVIRONMENT", "development"),
			SampleRatio:  envFloat("GATEWAY_TRACE_SAMPLE_RATIO", 1.0),
		},
		CORSAllowedOrigins: envList("GATEWAY_CORS_ORIGINS"),
		WSPath:             envStr("GATEWAY_WS_PATH", "/"),
		WSIdleTimeout:      envDuration("GATEWAY_WS_IDLE_TIMEOUT", 90*time.Second),
		MaxBodyBytes:       int64(envInt("GATEWAY_MAX_BODY_BYTES", 2<<20)),
		RateLimitRPS:       envFloat("GATEWAY_RATE_LIMIT_RPS", 5),
		RateLimitBurst:     envInt("GATEWAY_RATE_LIMIT_BURST", 10),
		DefaultAgentID:     envStr("GATEWAY_DEFAULT_AGENT_ID", "default"),
		NoResponseMessage:  envStr("GATEWAY_NO_RESPONSE_MESSAGE", "No response from Hanzo Bot."),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
