package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vims-labs/claim-oracle/common/logging"
	"github.com/vims-labs/claim-oracle/common/messaging"
	natsclient "github.com/vims-labs/claim-oracle/common/messaging/nats"
	"github.com/vims-labs/claim-oracle/common/tokens"
	"github.com/vims-labs/claim-oracle/oracle/internal/config"
	"github.com/vims-labs/claim-oracle/oracle/internal/decision"
	"github.com/vims-labs/claim-oracle/oracle/internal/handlers"
	"github.com/vims-labs/claim-oracle/oracle/internal/health"
	"github.com/vims-labs/claim-oracle/oracle/internal/ingestion"
	"github.com/vims-labs/claim-oracle/oracle/internal/journal"
	"github.com/vims-labs/claim-oracle/oracle/internal/lease"
	"github.com/vims-labs/claim-oracle/oracle/internal/ledger"
	"github.com/vims-labs/claim-oracle/oracle/internal/metrics"
	oraclenats "github.com/vims-labs/claim-oracle/oracle/internal/nats"
	"github.com/vims-labs/claim-oracle/oracle/internal/records"
	"github.com/vims-labs/claim-oracle/oracle/internal/server"
	"github.com/vims-labs/claim-oracle/oracle/internal/service"
	"github.com/vims-labs/claim-oracle/oracle/internal/tracing"
	"github.com/vims-labs/claim-oracle/oracle/internal/verification"
	"github.com/vims-labs/claim-oracle/oracle/internal/writer"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	base := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(base)
	logger := base.Logger.With(logging.Service("claim-oracle"))

	if cfg.ReadOnly() {
		logger.Warn("no oracle key configured, ledger writes will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing: OTLP/gRPC export when tracing.endpoint is set.
	tp, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName: "claim-oracle",
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Error("failed to set up tracing", logging.Error(err))
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(flushCtx)
	}()
	if cfg.Tracing.Endpoint != "" {
		logger.Info("exporting traces", slog.String("endpoint", cfg.Tracing.Endpoint))
	}

	// Ledger session. Bootstrap runs in the background; the service starts
	// degraded and the reconnect loop takes over if bootstrap gives up.
	manager := ledger.NewManager(ledger.NewEthDialer(ledger.EthConfig{
		RPCURL:          cfg.Ledger.RPCURL,
		ContractAddress: cfg.Ledger.ContractAddress,
		OracleKey:       cfg.Ledger.OracleKey,
		ChainID:         cfg.Ledger.ChainID,
	}), ledger.Config{
		Endpoint:          cfg.Ledger.RPCURL,
		BootstrapAttempts: cfg.Ledger.BootstrapAttempts,
		BootstrapSpacing:  cfg.Ledger.BootstrapSpacing,
		ReconnectInterval: cfg.Ledger.ReconnectInterval,
		CallTimeout:       cfg.Ledger.CallTimeout,
		WriteTimeout:      cfg.Ledger.WriteTimeout,
	}, logger)
	manager.Start(ctx)
	defer manager.Close()

	engine, err := decision.NewEngine(decision.Policy{
		AutoApproveThreshold: cfg.Policy.AutoApproveThreshold,
		BasePayout:           cfg.Policy.BasePayout,
	})
	if err != nil {
		logger.Error("invalid decision policy", logging.Error(err))
		os.Exit(1)
	}

	recordsClient := records.New(cfg.Records.URL, cfg.Records.Timeout)
	verifier := verification.New(cfg.Verification.URL, cfg.Verification.Timeout, logger)
	commitWriter := writer.New(manager, logger)

	checker := health.NewChecker(health.DefaultTTL)
	probeClient := &http.Client{Timeout: 5 * time.Second}
	checker.Register("records", recordsClient.BaseURL(), health.HTTPProbe(probeClient, recordsClient.BaseURL()))
	checker.Register("verification", verifier.BaseURL(), health.HTTPProbe(probeClient, verifier.BaseURL()))

	// Decision journal
	var decisions journal.Journal = journal.NewMemoryJournal()
	if cfg.Journal.Enabled {
		logger.Info("running journal migrations")
		version, err := journal.Migrate(cfg.Journal.MigrationsURL, cfg.Journal.DatabaseURL)
		if err != nil {
			logger.Error("failed to run migrations", logging.Error(err))
			os.Exit(1)
		}
		logger.Info("journal migrations completed", slog.Uint64("version", uint64(version)))

		pg, err := journal.NewPostgresJournal(ctx, cfg.Journal.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", logging.Error(err))
			os.Exit(1)
		}
		decisions = pg
		checker.Register("journal", health.Endpoint(cfg.Journal.DatabaseURL), pg.Ping)
	} else {
		logger.Warn("journal disabled, decisions are kept in memory only")
	}
	defer decisions.Close()

	pipeline := service.NewPipeline(engine, recordsClient, verifier, manager, commitWriter, logger).
		WithJournal(decisions).
		WithTracerProvider(tp)

	// Cross-replica claim leases
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid redis url", logging.Error(err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		host, _ := os.Hostname()
		leases := lease.NewManager(rdb, fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]), cfg.Redis.LeaseTTL, logger)
		pipeline.WithLease(leases)
		checker.Register("redis", health.Endpoint(cfg.Redis.URL), leases.Ping)
	}

	ingestor := ingestion.New(manager, pipeline, ingestion.Config{
		PollInterval: cfg.Ingestion.PollInterval,
		StartHeight:  cfg.Ledger.StartHeight,
	}, logger)

	// Optional NATS: decision events, alerts and reprocess jobs
	var natsHandler *oraclenats.Handler
	if cfg.NATS.Enabled {
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
		natsCfg.ReconnectWait = cfg.NATS.ReconnectWait
		natsCfg.Logger = logger

		var (
			pub  messaging.Publisher
			sub  messaging.Subscriber
			ping health.Probe
		)
		if cfg.NATS.JetStream {
			js, err := natsclient.NewJetStreamClient(natsCfg)
			if err != nil {
				logger.Error("failed to connect to NATS", logging.Error(err))
				os.Exit(1)
			}
			defer js.Close()
			if err := js.EnsureStream(ctx, natsclient.ClaimAlertsStream); err != nil {
				logger.Error("failed to ensure alert stream", logging.Error(err))
				os.Exit(1)
			}
			pub, sub, ping = js, js, js.Ping
		} else {
			nc, err := natsclient.NewClient(natsCfg)
			if err != nil {
				logger.Error("failed to connect to NATS", logging.Error(err))
				os.Exit(1)
			}
			defer nc.Close()
			pub, sub, ping = nc, nc, nc.Ping
		}

		pipeline.WithPublisher(oraclenats.NewPublisher(pub))
		checker.Register("nats", health.Endpoint(cfg.NATS.URL), ping)

		natsHandler = oraclenats.NewHandler(sub, ingestor, logger)
		if err := natsHandler.Start(ctx); err != nil {
			logger.Error("failed to start NATS handler", logging.Error(err))
			os.Exit(1)
		}
		logger.Info("NATS messaging enabled", slog.String("url", cfg.NATS.URL))
	}

	ingestor.Start(ctx)

	handler := handlers.NewHandler(manager, ingestor, decisions, logger).
		WithHealthChecker(checker).
		WithTriggerLimit(cfg.Ops.TriggerRate, cfg.Ops.TriggerBurst)
	if cfg.Ops.JWTSecret != "" {
		handler.WithOperatorAuth(tokens.NewTokenGenerator(cfg.Ops.JWTSecret, tokens.DefaultTTL))
	} else {
		logger.Warn("ops.jwt_secret not set, operator endpoints are unauthenticated")
	}

	router := server.NewRouter(handler, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go reportLedgerState(ctx, manager)

	go func() {
		logger.Info("oracle listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", logging.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", logging.Error(err))
	}
	if natsHandler != nil {
		_ = natsHandler.Stop()
	}
	if err := ingestor.Stop(shutdownCtx); err != nil {
		logger.Warn("in-flight claims abandoned at shutdown", logging.Error(err))
	}

	logger.Info("oracle stopped")
}

// reportLedgerState keeps the connection gauge current between scrapes.
func reportLedgerState(ctx context.Context, m *ledger.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		metrics.BoolGauge(metrics.LedgerConnected, m.Connected())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
