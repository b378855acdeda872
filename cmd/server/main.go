// Package main runs the sniper daemon: the log stream monitor, the trade
// orchestrator and the HTTP control API in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"pumpsniper/internal/accounts"
	"pumpsniper/internal/config"
	"pumpsniper/internal/control"
	"pumpsniper/internal/executor"
	"pumpsniper/internal/logging"
	"pumpsniper/internal/monitor"
	"pumpsniper/internal/observability"
	"pumpsniper/internal/orchestrator"
	"pumpsniper/internal/solana"
	"pumpsniper/internal/storage"
	chstore "pumpsniper/internal/storage/clickhouse"
	"pumpsniper/internal/storage/memory"
	"pumpsniper/internal/storage/migrations"
	pebblestore "pumpsniper/internal/storage/pebble"
	pgstore "pumpsniper/internal/storage/postgres"
)

func main() {
	// Load .env file if exists; real environment variables win.
	_ = godotenv.Load()

	configPath := flag.String("config", envOrDefault("PUMPSNIPER_CONFIG", "config.yaml"), "Path to config.yaml")
	keystorePath := flag.String("keystore", envOrDefault("PUMPSNIPER_KEYSTORE", "wallets.json"), "Path to the encrypted wallet keystore")
	storageKind := flag.String("storage", envOrDefault("PUMPSNIPER_STORAGE", "pebble"), "Outcome storage: memory, pebble, postgres or clickhouse")
	pebbleDir := flag.String("pebble-dir", envOrDefault("PUMPSNIPER_PEBBLE_DIR", filepath.Join("data", "outcomes")), "Pebble data directory")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	listenAddr := flag.String("listen", envOrDefault("PUMPSNIPER_LISTEN", ":8080"), "Control API listen address")
	logLevel := flag.String("log-level", envOrDefault("PUMPSNIPER_LOG_LEVEL", "info"), "Log level")
	logConsole := flag.Bool("log-console", envBool("PUMPSNIPER_LOG_CONSOLE", false), "Human-readable console logs")
	logFile := flag.String("log-file", os.Getenv("PUMPSNIPER_LOG_FILE"), "Also write JSON logs to this file")
	autostart := flag.Bool("autostart", envBool("PUMPSNIPER_AUTOSTART", false), "Start sniping immediately")

	flag.Parse()

	logger, err := logging.New(logging.Options{Level: *logLevel, Console: *logConsole, File: *logFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, logger, runOptions{
		configPath:    *configPath,
		keystorePath:  *keystorePath,
		storageKind:   *storageKind,
		pebbleDir:     *pebbleDir,
		postgresDSN:   *postgresDSN,
		clickhouseDSN: *clickhouseDSN,
		listenAddr:    *listenAddr,
		autostart:     *autostart,
	}); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

type runOptions struct {
	configPath    string
	keystorePath  string
	storageKind   string
	pebbleDir     string
	postgresDSN   string
	clickhouseDSN string
	listenAddr    string
	autostart     bool
}

func run(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, opts runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return err
	}

	// Optional redis allow-list; nil interfaces keep it unset downstream.
	var (
		allowSource  config.AllowListSource
		allowControl control.AllowList
	)
	if cfg.Redis.Addr != "" {
		redisList, err := config.DialRedisAllowList(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisList.Close()
		allowSource, allowControl = redisList, redisList
		logger.Info("redis allow-list enabled", zap.String("addr", cfg.Redis.Addr), zap.String("key", cfg.Redis.Key))
	}

	provider := config.NewFileProvider(config.FileProviderOptions{
		Path:      opts.configPath,
		AllowList: allowSource,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("", reg)

	store, closeStore, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("outcome storage ready", zap.String("kind", opts.storageKind))

	keystore, err := accounts.OpenKeystore(accounts.KeystoreOptions{
		Path:       opts.keystorePath,
		Passphrase: os.Getenv("PUMPSNIPER_KEYSTORE_PASSPHRASE"),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("open keystore (passphrase from PUMPSNIPER_KEYSTORE_PASSPHRASE): %w", err)
	}

	rpc := solana.NewHTTPClient(cfg.RPC.HTTPEndpoint,
		solana.WithCommitment(cfg.RPC.Commitment),
		solana.WithLogger(logger),
	)
	exec, err := executor.New(executor.Options{
		RPC:             rpc,
		ProgramID:       cfg.RPC.ProgramID,
		ComputeUnits:    cfg.Executor.ComputeUnits,
		UnitPrice:       cfg.Executor.UnitPrice,
		PriorityFee:     cfg.Trade.PriorityFee,
		MaxSellAttempts: cfg.Executor.MaxSellAttempts,
		RetryBackoff:    cfg.Executor.RetryBackoff,
		SkipPreflight:   cfg.Executor.SkipPreflight,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return err
	}

	mon := monitor.New(monitor.Options{
		Endpoint:       cfg.RPC.WSEndpoint,
		Commitment:     solana.Commitment(cfg.RPC.Commitment),
		ReconnectDelay: cfg.Monitor.ReconnectDelay,
		MaxRetries:     cfg.Monitor.MaxRetries,
		Logger:         logger,
		Metrics:        metrics,
	})

	orch, err := orchestrator.New(orchestrator.Options{
		Source:              mon,
		Accounts:            keystore,
		Executor:            exec,
		Config:              provider,
		Store:               store,
		ProgramID:           cfg.RPC.ProgramID,
		TransientRetryPause: cfg.Executor.TransientPause,
		Logger:              logger,
		Metrics:             metrics,
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	api, err := control.NewServer(control.Options{
		Sniper:    orch,
		Config:    provider,
		Wallets:   keystore,
		Balances:  rpc,
		Outcomes:  store,
		AllowList: allowControl,
		Metrics:   observability.Handler(reg),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if opts.autostart {
		if err := orch.Start(ctx); err != nil {
			return fmt.Errorf("autostart: %w", err)
		}
	}

	go handleSignals(cancel, logger)

	return api.ListenAndServe(ctx, opts.listenAddr)
}

// handleSignals cancels on the first SIGINT/SIGTERM and exits hard on a
// second one or when graceful shutdown stalls.
func handleSignals(cancel context.CancelFunc, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	cancel()

	select {
	case sig := <-sigCh:
		logger.Warn("received second signal, forcing exit", zap.String("signal", sig.String()))
	case <-time.After(30 * time.Second):
		logger.Warn("graceful shutdown timed out after 30s, forcing exit")
	}
	os.Exit(1)
}

// openStore creates the outcome store selected by opts.storageKind.
func openStore(ctx context.Context, opts runOptions) (storage.OutcomeStore, func(), error) {
	switch opts.storageKind {
	case "memory":
		return memory.NewOutcomeStore(), func() {}, nil

	case "pebble":
		if err := os.MkdirAll(opts.pebbleDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create pebble dir: %w", err)
		}
		store, err := pebblestore.Open(opts.pebbleDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case "postgres":
		if opts.postgresDSN == "" {
			return nil, nil, errors.New("--postgres-dsn is required for postgres storage")
		}
		pool, err := pgstore.NewPool(ctx, opts.postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.NewOutcomeStore(pool), pool.Close, nil

	case "clickhouse":
		if opts.clickhouseDSN == "" {
			return nil, nil, errors.New("--clickhouse-dsn is required for clickhouse storage")
		}
		conn, err := migrations.RunClickhouseMigrations(ctx, opts.clickhouseDSN)
		if err != nil {
			return nil, nil, err
		}
		return chstore.NewOutcomeStore(conn), func() { _ = conn.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage %q", opts.storageKind)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
