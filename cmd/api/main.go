package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Goshimadev/HeroesMarketplace/internal/api"
	"github.com/Goshimadev/HeroesMarketplace/internal/config"
	"github.com/Goshimadev/HeroesMarketplace/internal/ledger"
	"github.com/Goshimadev/HeroesMarketplace/internal/log"
	"github.com/Goshimadev/HeroesMarketplace/internal/marketplace"
	"github.com/Goshimadev/HeroesMarketplace/internal/metrics"
	"github.com/Goshimadev/HeroesMarketplace/internal/registry"
	"github.com/Goshimadev/HeroesMarketplace/internal/repository"
	"github.com/Goshimadev/HeroesMarketplace/internal/store"
	"github.com/Goshimadev/HeroesMarketplace/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting marketplace API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"version", "v1.0.0",
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("hrs-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Event archive is optional; without a DSN events are only logged
	// and published, never persisted.
	var repo *repository.Repository
	if cfg.Database.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
		if err != nil {
			logger.Fatalw("Failed to open database", "error", err)
		}
		defer db.Close()

		repo = repository.NewRepository(db, logger)
		if err := repo.Ping(ctx); err != nil {
			logger.Fatalw("Database ping failed", "error", err)
		}
		logger.Infow("Event archive enabled")
	} else {
		logger.Warnw("HRS_POSTGRES_DSN not set, event archive disabled")
	}

	// Event bus; falls back to an in-process hub when Redis is down.
	bus, err := store.NewBus(cfg.Cache.RedisAddr, logger)
	if err != nil {
		logger.Fatalw("Failed to setup event bus", "error", err)
	}
	defer bus.Close()

	// In-memory collaborators. The registry and ledger sit behind
	// interfaces, so a chain-backed implementation can be swapped in
	// without touching the marketplace.
	assets := registry.NewCollection()
	token := ledger.NewToken()

	sinks := marketplace.Sinks{metricsObj.Sink(), bus.Sink()}
	if repo != nil {
		sinks = append(sinks, repo.Sink())
	}

	market := marketplace.New(assets, token, marketplace.Options{
		Owner:   cfg.Market.OwnerAddress,
		Account: cfg.Market.EscrowAccount,
		Config: marketplace.Config{
			AuctionDuration: cfg.Market.AuctionDuration,
			MinBids:         cfg.Market.MinBids,
		},
		Sink:   sinks,
		Logger: logger,
	})

	// Setup WebSocket hub for event streaming
	wsHub := ws.NewHub(bus, cfg.Security.CORSAllowedOrigins, logger, metricsObj)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go wsHub.Run(hubCtx)

	// Setup API handler and middleware
	handler := api.NewHandler(market, repo, bus, wsHub, cfg, logger, metricsObj)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Add metrics endpoint
	router.Handle("/metrics", metricsHandler)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}
