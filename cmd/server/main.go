// Package main runs the auction engine HTTP server: bid placement,
// identifier resolution, administrative on-chain creation, and health and
// metrics endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-engine/internal/bidding"
	"auction-engine/internal/breaker"
	"auction-engine/internal/chaintime"
	"auction-engine/internal/config"
	"auction-engine/internal/domain"
	"auction-engine/internal/ledger"
	"auction-engine/internal/ledger/stub"
	"auction-engine/internal/observability"
	"auction-engine/internal/reconcile"
	"auction-engine/internal/retry"
	"auction-engine/internal/rpccache"
	"auction-engine/internal/storage"
	"auction-engine/internal/storage/memory"
	"auction-engine/internal/storage/migrations"
	pgstore "auction-engine/internal/storage/postgres"

	chstorage "auction-engine/internal/storage/clickhouse"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUCTION_CONFIG"), "Path to YAML config file")
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("LEDGER_RPC_ENDPOINT"), "Ledger JSON-RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("LEDGER_WS_ENDPOINT"), "Ledger WebSocket endpoint for block heads")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the bid-attempt archive")
	listenAddr := flag.String("listen-addr", "", "HTTP listen address")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	useStub := flag.Bool("use-stub", false, "Use the in-memory stub ledger instead of a node")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	applyFlags(cfg, *rpcEndpoint, *wsEndpoint, *postgresDSN, *clickhouseDSN, *listenAddr, *useMemory, *useStub)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer app.close()

	go app.watchBreakers(ctx)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: app.routes(),
	}

	go func() {
		logger.Printf("listening on %s", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	logger.Println("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

// applyFlags overrides config fields from non-empty command-line values.
func applyFlags(cfg *config.Config, rpc, ws, pgDSN, chDSN, listen string, useMemory, useStub bool) {
	if rpc != "" {
		cfg.Ledger.RPCURL = rpc
		cfg.Ledger.UseStub = false
	}
	if ws != "" {
		cfg.Ledger.WSURL = ws
	}
	if pgDSN != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = pgDSN
	}
	if chDSN != "" {
		cfg.Archive.Enabled = true
		cfg.Archive.DSN = chDSN
	}
	if listen != "" {
		cfg.Server.ListenAddr = listen
	}
	if useMemory {
		cfg.Database.Driver = "memory"
		cfg.Database.DSN = ""
	}
	if useStub {
		cfg.Ledger.UseStub = true
	}
}

// app holds the wired engine components.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	ledger   ledger.Client
	breakers *breaker.Registry
	clock    *chaintime.Oracle
	auctions storage.AuctionStore
	bids     storage.BidStore
	resolver *reconcile.Resolver
	creator  *reconcile.Creator
	bidding  *bidding.Service

	pool   *pgstore.Pool
	chConn *chstorage.Conn
	heads  ledger.HeadSource
}

func buildApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	// Ledger client.
	var headSource ledger.HeadSource
	if cfg.Ledger.UseStub {
		st := stub.New(time.Now().Unix())
		a.ledger = st
		headSource = st
		logger.Println("using stub ledger")
	} else {
		a.ledger = ledger.NewHTTPClient(cfg.Ledger.RPCURL,
			ledger.WithTimeout(cfg.Ledger.Timeout),
			ledger.WithMaxRetries(cfg.Ledger.MaxRetries),
			ledger.WithRetryDelay(cfg.Ledger.RetryDelay),
			ledger.WithMaxDelay(cfg.Ledger.MaxDelay),
		)
		if cfg.Ledger.WSURL != "" {
			ws, err := ledger.NewWSHeadClient(ctx, cfg.Ledger.WSURL, nil)
			if err != nil {
				// Head streaming is an optimization; the oracle falls back
				// to RPC reads without it.
				logger.Printf("WARN: ws head client unavailable: %v", err)
			} else {
				headSource = ws
			}
		}
	}
	a.heads = headSource

	// Stores.
	var attempts storage.BidAttemptStore
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		a.pool = pool
		a.auctions = pgstore.NewAuctionStore(pool)
		a.bids = pgstore.NewBidStore(pool)
		logger.Println("using postgres storage")
	default:
		a.auctions = memory.NewAuctionStore()
		a.bids = memory.NewBidStore()
		logger.Println("using in-memory storage")
	}

	if cfg.Archive.Enabled {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Archive.DSN)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		a.chConn = conn
		attempts = chstorage.NewBidAttemptStore(conn)
		logger.Println("bid-attempt archive enabled")
	} else {
		attempts = memory.NewBidAttemptStore()
	}

	// Shared resilience state.
	a.breakers = breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
	})
	cache := rpccache.New()
	reader := reconcile.NewChainReader(a.ledger, cache, a.breakers.Get(breaker.ContractRead))

	a.clock = chaintime.New(a.ledger, a.breakers.Get(breaker.ContractRead), chaintime.Options{
		SkewTolerance: cfg.Timing.SkewTolerance,
		SafetyBuffer:  cfg.Timing.SafetyBuffer,
		HeadFreshness: cfg.Timing.HeadFreshness,
		Logger:        logger,
	})
	if headSource != nil {
		heads, err := headSource.SubscribeHeads(ctx)
		if err != nil {
			logger.Printf("WARN: head subscription failed: %v", err)
		} else {
			go a.clock.Run(ctx, heads)
		}
	}

	policy := retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
		Timeout:    cfg.Retry.Timeout,
		IsTerminal: ledger.IsTerminal,
	}

	a.creator = reconcile.NewCreator(reconcile.CreatorConfig{
		Ledger:      a.ledger,
		Clock:       a.clock,
		Auctions:    a.auctions,
		Reader:      reader,
		DBBreaker:   a.breakers.Get(breaker.DatabaseOperations),
		Policy:      policy,
		MinDuration: cfg.Timing.MinAuctionDuration,
		Logger:      logger,
	})
	a.resolver = reconcile.NewResolver(reconcile.ResolverConfig{
		Reader:   reader,
		Auctions: a.auctions,
		Creator:  a.creator,
		Clock:    a.clock,
		Breakers: a.breakers,
		Logger:   logger,
	})
	a.bidding = bidding.New(bidding.Config{
		Ledger:   a.ledger,
		Reader:   reader,
		Resolver: a.resolver,
		Clock:    a.clock,
		Auctions: a.auctions,
		Bids:     a.bids,
		Attempts: attempts,
		Breakers: a.breakers,
		Policy:   policy,
		Logger:   logger,
	})

	return a, nil
}

func (a *app) close() {
	if a.heads != nil {
		a.heads.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.chConn != nil {
		a.chConn.Close()
	}
}

// watchBreakers mirrors breaker states into the Prometheus gauges.
func (a *app) watchBreakers(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range a.breakers.Snapshots() {
				observability.UpdateBreakerState(string(s.Dependency), s.State)
			}
		}
	}
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auctions", a.handleCreateRecord)
	mux.HandleFunc("POST /auctions/{id}/onchain", a.handleCreateOnChain)
	mux.HandleFunc("GET /auctions/{id}/resolve", a.handleResolve)
	mux.HandleFunc("POST /auctions/{id}/settle", a.handleSettle)
	mux.HandleFunc("POST /auctions/{id}/cancel", a.handleCancel)
	mux.HandleFunc("POST /bids", a.handlePlaceBid)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())
	return mux
}

type createRecordRequest struct {
	ID          string  `json:"id"`
	StartingBid float64 `json:"startingBid"`
	EndTime     int64   `json:"endTime"`
	Seller      string  `json:"seller"`
}

func (a *app) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec := &domain.AuctionRecord{
		ID:          req.ID,
		StartingBid: req.StartingBid,
		EndTime:     req.EndTime,
		Seller:      req.Seller,
	}
	if err := a.auctions.Insert(r.Context(), rec); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rec.ID})
}

func (a *app) handleCreateOnChain(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, err := a.auctions.GetByID(r.Context(), id)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	onChainID, err := a.creator.Create(r.Context(), rec)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	observability.RecordAuctionCreated()
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "onChainId": onChainID})
}

func (a *app) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	started := time.Now()

	res, err := a.resolver.Resolve(r.Context(), id, nil, nil)
	if err != nil {
		observability.RecordCriticalFailure()
		writeError(w, http.StatusBadGateway, err)
		return
	}
	observability.RecordResolution(string(res.Step), "ok", time.Since(started).Seconds())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          id,
		"onChainId":   res.OnChainID,
		"step":        res.Step,
		"speculative": res.Speculative(),
	})
}

type placeBidRequest struct {
	AuctionID string  `json:"auctionId"`
	Bidder    string  `json:"bidder"`
	Amount    float64 `json:"amount"`
}

func (a *app) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AuctionID == "" || req.Bidder == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("auctionId, bidder and a positive amount are required"))
		return
	}

	started := time.Now()
	txHash, err := a.bidding.PlaceBid(r.Context(), req.AuctionID, req.Bidder, req.Amount)
	if err != nil {
		observability.RecordBidRejected(rejectReason(err))
		writeError(w, bidStatus(err), err)
		return
	}
	observability.RecordBidPlaced(time.Since(started).Seconds())
	writeJSON(w, http.StatusOK, map[string]string{"txHash": txHash})
}

func (a *app) handleSettle(w http.ResponseWriter, r *http.Request) {
	txHash, err := a.bidding.Settle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"txHash": txHash})
}

func (a *app) handleCancel(w http.ResponseWriter, r *http.Request) {
	txHash, err := a.bidding.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"txHash": txHash})
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshots := a.breakers.Snapshots()
	healthy := true
	for _, s := range snapshots {
		if s.State != "CLOSED" {
			healthy = false
		}
	}

	paused, err := a.ledger.Paused(r.Context())
	if err != nil {
		// Pause state is advisory; an unreachable contract already shows
		// up through the CONTRACT_READ breaker.
		paused = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy":  healthy,
		"paused":   paused,
		"breakers": snapshots,
	})
}

// bidStatus maps workflow errors onto HTTP statuses.
func bidStatus(err error) int {
	switch {
	case errors.Is(err, bidding.ErrBidBelowMinimum):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrAuctionEnded):
		return http.StatusConflict
	case errors.Is(err, breaker.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, bidding.ErrBidBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ledger.ErrAuctionEnded):
		return "auction_ended"
	case errors.Is(err, breaker.ErrDependencyUnavailable):
		return "dependency_unavailable"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrDuplicateKey):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
