// Hanzo Gateway — the multi-tenant agent gateway's entry point.
//
// It wires:
//   - shared-secret/JWT/mesh-identity connection authorization (C9)
//   - tenant resolution and the prepaid-balance billing gate (C5-C7)
//   - the best-effort usage-reporting queue (C8)
//   - the OpenAI-compatible chat-completions adapter (C12)
//   - the WebSocket node/operator broker (C11)
//   - an optional egress tunnel for exposing a public URL (C13)
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hanzoai/gateway/internal/agentengine"
	"github.com/hanzoai/gateway/internal/authconfig"
	"github.com/hanzoai/gateway/internal/billing"
	"github.com/hanzoai/gateway/internal/config"
	"github.com/hanzoai/gateway/internal/connauth"
	"github.com/hanzoai/gateway/internal/eventbus"
	"github.com/hanzoai/gateway/internal/gwhttp"
	"github.com/hanzoai/gateway/internal/identity"
	"github.com/hanzoai/gateway/internal/identityclient"
	"github.com/hanzoai/gateway/internal/origin"
	"github.com/hanzoai/gateway/internal/secrets"
	"github.com/hanzoai/gateway/internal/telemetry"
	"github.com/hanzoai/gateway/internal/tunnel"
	"github.com/hanzoai/gateway/internal/usage"
	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// Exit codes, per spec.md §6.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitSecretFailure = 2
	exitBindFailure   = 3
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()

	if cfg.Auth.Mode == "" {
		log.Error().Msg("gateway: GATEWAY_AUTH_MODE is required")
		os.Exit(exitConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		log.Error().Err(err).Msg("gateway: failed to initialize telemetry")
		os.Exit(exitConfigError)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	var resolver authconfig.SecretResolver
	if cfg.Secrets.LoginURL != "" {
		resolver = secrets.NewResolver(cfg.Secrets.LoginURL, cfg.Secrets.SecretsURL, cfg.Secrets.ClientID, cfg.Secrets.ClientToken)
	} else {
		resolver = literalResolver{}
	}

	resolved, err := authconfig.Resolve(ctx, gwmodels.AuthConfig{
		Mode:              cfg.Auth.Mode,
		Token:             cfg.Auth.Token,
		Password:          cfg.Auth.Password,
		AllowMeshIdentity: cfg.Auth.AllowMeshIdentity,
	}, resolver)
	if err != nil {
		log.Error().Err(err).Msg("gateway: failed to resolve auth secret")
		os.Exit(exitSecretFailure)
	}

	srv := gwhttp.NewServer(cfg.Version, resolved, cfg.Auth.AllowMeshIdentity, cfg.Auth.MeshSuffix)
	srv.OriginPolicy = origin.NewPolicy(cfg.CORSAllowedOrigins)
	srv.Limiter = connauth.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go srv.Limiter.RunSweeper(ctx, 5*time.Minute)
	srv.WSPath = cfg.WSPath
	srv.WSIdleTimeout = cfg.WSIdleTimeout
	srv.MaxBodyBytes = cfg.MaxBodyBytes
	srv.DefaultAgentID = cfg.DefaultAgentID
	srv.NoResponseMessage = cfg.NoResponseMessage

	if cfg.Identity.JWKSURL != "" {
		srv.Identity = identity.NewValidator(cfg.Identity.Issuer, cfg.Identity.Audience, cfg.Identity.JWKSURL)
		srv.IAMConfigured = true
	}

	if cfg.Identity.ClientID != "" {
		clientSecret := cfg.Identity.ClientSecret
		if resolved.Mode != "" {
			if v, rerr := resolver.Resolve(ctx, cfg.Identity.ClientSecret); rerr == nil {
				clientSecret = v
			}
		}
		srv.IdentityClient = identityclient.New(identityclient.Config{
			ClientID:     cfg.Identity.ClientID,
			ClientSecret: clientSecret,
			AuthURL:      cfg.Identity.Issuer + "/authorize",
			TokenURL:     cfg.Identity.Issuer + "/token",
			UserInfoURL:  cfg.Identity.Issuer + "/userinfo",
		})
	}

	var usageReporter *usage.Reporter
	if cfg.Commerce.BaseURL != "" {
		commerce := billing.NewClient(cfg.Commerce.BaseURL, cfg.Commerce.ServiceToken, cfg.Commerce.Timeout, cfg.Commerce.CacheTTL)
		srv.Gate = billing.NewGate(commerce)
		usageReporter = usage.NewReporter(commerce.ReportUsage)
	} else {
		usageReporter = usage.NewReporter(nil)
	}
	srv.Usage = usageReporter

	bus := eventbus.New()
	srv.Bus = bus
	srv.Engine = agentengine.NewReference(bus)

	var tunnelSupervisor *tunnel.Supervisor
	if provider := tunnel.Detect(); provider != gwmodels.TunnelNone {
		tunnelSupervisor = tunnel.New(srv.OriginPolicy)
		handle, terr := tunnelSupervisor.Start(ctx, gwmodels.TunnelConfig{
			Provider: provider,
			Port:     cfg.Port,
		})
		if terr != nil {
			log.Warn().Err(terr).Msg("gateway: tunnel start failed, continuing without a public URL")
		} else if handle != nil {
			log.Info().Str("public_url", handle.PublicURL).Str("provider", string(handle.Provider)).Msg("gateway: tunnel established")
		}
	}

	handler := gwhttp.NewRouter(srv)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE and WebSocket responses are long-lived
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("gateway: shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)

		if tunnelSupervisor != nil {
			tunnelSupervisor.StopAll()
		}
		usageReporter.Shutdown()
	}()

	log.Info().Int("port", cfg.Port).Str("auth_mode", string(cfg.Auth.Mode)).Msg("gateway: listening")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("gateway: server failed")
		os.Exit(exitBindFailure)
	}

	os.Exit(exitOK)
}

// literalResolver is used when no kms backend is configured: secret
// references are treated as literal values, matching the teacher's
// zero-config OSS mode.
type literalResolver struct{}

func (literalResolver) Resolve(_ context.Context, ref string) (string, error) {
	return ref, nil
}
