// Package main runs the periodic orphan-adoption job: it scans auction rows
// missing on-chain identifiers and re-links them via the ledger's offchainId
// back-references.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-engine/internal/breaker"
	"auction-engine/internal/config"
	"auction-engine/internal/ledger"
	"auction-engine/internal/ledger/stub"
	"auction-engine/internal/observability"
	"auction-engine/internal/reconcile"
	"auction-engine/internal/rpccache"
	"auction-engine/internal/storage"
	"auction-engine/internal/storage/memory"
	"auction-engine/internal/storage/migrations"
	pgstore "auction-engine/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUCTION_CONFIG"), "Path to YAML config file")
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("LEDGER_RPC_ENDPOINT"), "Ledger JSON-RPC HTTP endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	interval := flag.Duration("interval", 0, "Adoption pass interval (overrides config)")
	once := flag.Bool("once", false, "Run a single pass and exit")
	flag.Parse()

	logger := log.New(os.Stdout, "[reconciler] ", log.LstdFlags)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if *rpcEndpoint != "" {
		cfg.Ledger.RPCURL = *rpcEndpoint
		cfg.Ledger.UseStub = false
	}
	if *postgresDSN != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = *postgresDSN
	}
	if *interval > 0 {
		cfg.Reconciler.Interval = *interval
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adopter, cleanup, err := buildAdopter(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer cleanup()

	if *once {
		n, err := adopter.RunOnce(ctx)
		if err != nil {
			logger.Fatalf("pass failed: %v", err)
		}
		observability.RecordReconcilePass(time.Now().Unix())
		for i := 0; i < n; i++ {
			observability.RecordOrphanAdopted()
		}
		logger.Printf("adopted %d orphan(s)", n)
		return
	}

	logger.Printf("running every %v", cfg.Reconciler.Interval)
	adopter.Run(ctx, cfg.Reconciler.Interval)
	logger.Println("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func buildAdopter(ctx context.Context, cfg *config.Config, logger *log.Logger) (*reconcile.Adopter, func(), error) {
	var led ledger.Reader
	if cfg.Ledger.UseStub {
		led = stub.New(time.Now().Unix())
		logger.Println("using stub ledger")
	} else {
		led = ledger.NewHTTPClient(cfg.Ledger.RPCURL,
			ledger.WithTimeout(cfg.Ledger.Timeout),
			ledger.WithMaxRetries(cfg.Ledger.MaxRetries),
			ledger.WithRetryDelay(cfg.Ledger.RetryDelay),
			ledger.WithMaxDelay(cfg.Ledger.MaxDelay),
		)
	}

	var auctions storage.AuctionStore
	cleanup := func() {}
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		auctions = pgstore.NewAuctionStore(pool)
		cleanup = pool.Close
	default:
		auctions = memory.NewAuctionStore()
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
	})
	reader := reconcile.NewChainReader(led, rpccache.New(), breakers.Get(breaker.ContractRead))

	adopter := reconcile.NewAdopter(reconcile.AdopterConfig{
		Reader:    reader,
		Auctions:  auctions,
		DBBreaker: breakers.Get(breaker.DatabaseOperations),
		BatchSize: cfg.Reconciler.BatchSize,
		Logger:    logger,
	})

	return adopter, cleanup, nil
}
