package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/servirhq/servir/internal/access"
	"github.com/servirhq/servir/internal/auth"
	"github.com/servirhq/servir/internal/billing"
	"github.com/servirhq/servir/internal/httpapi"
	"github.com/servirhq/servir/internal/identity"
	"github.com/servirhq/servir/internal/logger"
	"github.com/servirhq/servir/internal/store"
	postgresstore "github.com/servirhq/servir/internal/store/postgres"
	"github.com/servirhq/servir/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:3000" env:"SERVIR_LISTEN"`

	// CORS configuration
	CORSEnabled bool     `help:"enable CORS for API requests" default:"true" env:"SERVIR_CORS_ENABLED"`
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"*" env:"SERVIR_CORS_ORIGINS"`

	// Clerk configuration
	ClerkSecretKey     string `help:"Clerk backend API secret key" default:"" env:"SERVIR_CLERK_SECRET_KEY"`
	ClerkJWTPublicKey  string `help:"PEM-encoded Clerk JWT verification public key" default:"" env:"SERVIR_CLERK_JWT_PUBLIC_KEY"`
	ClerkWebhookSecret string `help:"Clerk webhook signing secret" default:"whsec_replace_me" env:"SERVIR_CLERK_WEBHOOK_SIGNING_SECRET"`
	IdentityMode       string `help:"identity gateway backend (memory or clerk)" default:"memory" env:"SERVIR_IDENTITY_MODE" enum:"memory,clerk"`

	// Billing enforcement configuration
	BillingEnforcementEnabled bool     `help:"enforce active subscriptions on gated routes" default:"true" env:"SERVIR_BILLING_ENFORCEMENT_ENABLED"`
	BillingActiveStatuses     []string `help:"subscription statuses treated as active" default:"active,trialing" env:"SERVIR_BILLING_ACTIVE_STATUSES"`
	BillingAllowedPaths       []string `help:"request path prefixes exempt from billing enforcement" default:"" env:"SERVIR_BILLING_ALLOWED_PATHS"`

	// Test auth (end-to-end test mode only)
	TestAuthEnabled bool   `help:"enable HMAC test auth header (testing only)" default:"false" env:"SERVIR_TEST_AUTH_ENABLED"`
	TestAuthSecret  string `help:"HMAC secret for the test auth header" default:"servir-e2e-secret" env:"SERVIR_TEST_AUTH_SECRET"`

	// Operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"SERVIR_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"SERVIR_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "servir-api", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Create stores based on store type
	var (
		requestStore store.OrganizationRequestStore
		billingStore store.BillingStore
	)

	switch c.StoreType {
	case "postgres":
		if c.PostgresStore.ConnString == "" {
			return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
		}

		// Shared connection pool for all PostgreSQL stores
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		requestStore, err = postgresstore.NewOrganizationRequestStore(ctx, pool)
		if err != nil {
			return fmt.Errorf("failed to create organization request store: %w", err)
		}
		billingStore, err = postgresstore.NewBillingStore(ctx, pool)
		if err != nil {
			return fmt.Errorf("failed to create billing store: %w", err)
		}

		log.Info().Msg("Using PostgreSQL stores with shared connection pool")

	default:
		requestStore = store.NewMemoryOrganizationRequestStore()
		billingStore = store.NewMemoryBillingStore()
		log.Info().Msg("Using in-memory stores")
	}

	// Identity gateway
	var gateway identity.Gateway
	switch c.IdentityMode {
	case "clerk":
		if c.ClerkSecretKey == "" {
			return errors.New("Clerk secret key is required in clerk identity mode (--clerk-secret-key or SERVIR_CLERK_SECRET_KEY)")
		}
		gateway = identity.NewClerkClient(c.ClerkSecretKey)
		log.Info().Msg("Using Clerk identity gateway")
	default:
		gateway = identity.NewMemoryGateway()
		log.Info().Msg("Using in-memory identity gateway")
	}

	testAuth := &auth.TestAuth{Enabled: c.TestAuthEnabled, Secret: c.TestAuthSecret}
	if c.TestAuthEnabled {
		log.Warn().Msg("Test auth is enabled. This should only be used in test environments!")
	}

	verifier, err := auth.NewSessionVerifier(c.ClerkJWTPublicKey, gateway, testAuth)
	if err != nil {
		return fmt.Errorf("failed to create session verifier: %w", err)
	}

	signatureVerifier, err := billing.NewSignatureVerifier(c.ClerkWebhookSecret)
	if err != nil {
		return fmt.Errorf("failed to create webhook signature verifier: %w", err)
	}

	metrics := telemetry.GetMetrics()

	accessService := access.NewService(requestStore, gateway, metrics)
	billingService := billing.NewService(billingStore, signatureVerifier, metrics)
	guard := billing.NewGuard(billing.GuardConfig{
		Enabled:            c.BillingEnforcementEnabled,
		ActiveStatuses:     c.BillingActiveStatuses,
		ExemptPathPrefixes: c.BillingAllowedPaths,
	}, billingStore)

	apiServer := httpapi.NewServer(httpapi.Config{
		Version:     globals.Version,
		CORSEnabled: c.CORSEnabled,
		CORSOrigins: c.CORSOrigins,
	}, accessService, billingService, guard, verifier, gateway)

	httpServer := configureHTTPServer(c.Listen, apiServer.Handler(log))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	return nil
}
