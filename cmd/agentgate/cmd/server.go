package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmcleod/agentgate/agent"
	"github.com/jmcleod/agentgate/api"
	"github.com/jmcleod/agentgate/auth"
	"github.com/jmcleod/agentgate/config"
	"github.com/jmcleod/agentgate/internal/origin"
	"github.com/jmcleod/agentgate/realtime"
	"github.com/jmcleod/agentgate/storage"
	bboltstorage "github.com/jmcleod/agentgate/storage/bbolt"
	"github.com/jmcleod/agentgate/storage/jsonfile"
	"github.com/jmcleod/agentgate/storage/memory"
	pgstorage "github.com/jmcleod/agentgate/storage/postgres"
)

var (
	port               int
	allowedOrigins     []string
	trustedProxies     []string
	storageDriver      string
	storageDir         string
	storageDSN         string
	protectRecords     bool
	tlsCert            string
	tlsKey             string
	auditWebhookURL    string
	auditWebhookHeader string
)

const limiterSweepInterval = time.Minute

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gateway server",
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8787, "Port to listen on")
	serverCmd.Flags().StringSliceVar(&allowedOrigins, "allowed-origins", nil, "Browser origins allowed for CORS and WebSockets")
	serverCmd.Flags().StringSliceVar(&trustedProxies, "trusted-proxies", nil, "CIDRs whose forwarding headers identify the client IP")
	serverCmd.Flags().StringVar(&storageDriver, "storage-driver", config.DriverJSONFile, "Record store: jsonfile, bbolt, postgres or memory")
	serverCmd.Flags().StringVar(&storageDir, "storage-dir", "datasource", "Directory for persistent records")
	serverCmd.Flags().StringVar(&storageDSN, "storage-dsn", "", "PostgreSQL connection string for the postgres driver")
	serverCmd.Flags().BoolVar(&protectRecords, "protect-records", false, "Require a session token on record routes")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().StringVar(&auditWebhookURL, "audit-webhook-url", "", "Forward audit events to this URL")
	serverCmd.Flags().StringVar(&auditWebhookHeader, "audit-webhook-header", "", `Header sent with audit webhooks, as "Name: value"`)
}

// flagOverrides returns the flags the user set, keyed by config path.
func flagOverrides(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	set := func(name, key string, v any) {
		if cmd.Flags().Changed(name) {
			out[key] = v
		}
	}
	set("port", "server.port", port)
	set("allowed-origins", "server.allowed_origins", allowedOrigins)
	set("trusted-proxies", "server.trusted_proxies", trustedProxies)
	set("tls-cert", "server.tls_cert", tlsCert)
	set("tls-key", "server.tls_key", tlsKey)
	set("storage-driver", "storage.driver", storageDriver)
	set("storage-dir", "storage.dir", storageDir)
	set("storage-dsn", "storage.dsn", storageDSN)
	set("protect-records", "auth.protect_records", protectRecords)
	set("audit-webhook-url", "audit.webhook_url", auditWebhookURL)
	set("audit-webhook-header", "audit.webhook_header", auditWebhookHeader)
	return out
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	loader := config.NewLoader(
		config.WithConfigFile(configFile),
		config.WithFlags(flagOverrides(cmd)),
		config.WithLogger(logger),
	)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	defer memguard.Purge()

	issuer, err := auth.NewIssuer([]byte(cfg.Auth.JWTSecret), auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	accounts, err := cfg.AuthAccounts()
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(accounts, issuer)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	repo, closeRepo, err := openRepository(cmd.Context(), cfg.Storage)
	if err != nil {
		return err
	}
	defer closeRepo()

	var ledger *api.ReplayLedger
	if cfg.Service.Idempotency {
		ledger, err = api.NewReplayLedger(cfg.Service.ReplayCapacity, cfg.Service.ReplayRetention,
			api.WithLedgerLogger(logger))
		if err != nil {
			return err
		}
	}
	guard, err := api.NewServiceKeyGuard(api.ServiceKeyConfig{
		Header:      cfg.Service.Header,
		Keys:        cfg.ServiceKeys(),
		Freshness:   cfg.Service.Freshness,
		Idempotency: cfg.Service.Idempotency,
		Ledger:      ledger,
	})
	if err != nil {
		return fmt.Errorf("failed to configure service keys: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := realtime.Init(
		realtime.WithLogger(logger),
		realtime.WithRateLimit(cfg.Realtime.RateLimit, cfg.Realtime.RateWindow),
		realtime.WithMetricsRegisterer(reg),
	)
	origins := origin.NewAllowlist(cfg.Server.AllowedOrigins)

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithRecordProtection(cfg.Auth.ProtectRecords),
		api.WithAgent(agent.NewClient(agent.Config{
			Endpoint: cfg.Agent.Endpoint,
			APIKey:   cfg.Agent.APIKey,
			UserID:   cfg.Agent.UserID,
			RPS:      cfg.Agent.RPS,
		})),
		api.WithMetricsRegisterer(reg),
		api.WithAlertHandler(func(e api.AlertEvent) {
			logger.Warn("security alert", "type", e.Type, "message", e.Message,
				"count", e.Count, "threshold", e.Threshold)
		}),
	}
	if cfg.Audit.WebhookURL != "" {
		opts = append(opts, api.WithAuditWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookHeader))
	}
	if len(cfg.Server.TrustedProxies) > 0 {
		opt, err := api.WithTrustedProxies(cfg.Server.TrustedProxies)
		if err != nil {
			return fmt.Errorf("invalid trusted proxies: %w", err)
		}
		opts = append(opts, opt)
	}
	a := api.New(verifier, issuer, guard, storage.NewRecords(repo), hub, opts...)
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ledger != nil {
		go ledger.Run(ctx, cfg.Service.ReplaySweep)
	}
	go a.RunMaintenance(ctx, limiterSweepInterval)

	if configFile != "" {
		err := loader.Watch(func(next *config.Config) {
			if err := guard.SetKeys(next.ServiceKeys()); err != nil {
				logger.Warn("service key rotation rejected", "error", err)
				return
			}
			logger.Info("service keys reloaded", "count", len(next.ServiceKeys()))
		})
		if err != nil {
			logger.Warn("config watch disabled", "error", err)
		}
		defer loader.StopWatching()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)
	r.Use(origins.CORS)

	r.Get("/health", api.Health(hub))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Handle("/ws", realtime.NewHandler(hub, issuer, origins))
	r.Mount("/api", a.Router())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.TLSCert != "" {
			err = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	printBanner()
	fmt.Printf("Starting server on port %d (storage: %s)...\n", cfg.Server.Port, cfg.Storage.Driver)

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by http.Server.
		if err := hub.Shutdown(shutdownCtx); err != nil {
			logger.Warn("realtime shutdown incomplete", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

// openRepository opens the configured record store and returns its closer.
func openRepository(ctx context.Context, cfg config.StorageConfig) (storage.Repository, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := pgstorage.NewRepositoryFromDSN(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open record storage: %w", err)
		}
		return store, store.Close, nil
	case config.DriverMemory:
		return memory.NewRepository(), noop, nil
	case config.DriverBBolt:
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.Dir, "agentgate.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open record storage: %w", err)
		}
		return store, store.Close, nil
	default:
		store, err := jsonfile.NewRepository(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open record storage: %w", err)
		}
		return store, noop, nil
	}
}
