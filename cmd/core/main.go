// cmd/core/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"pressline/internal/api"
	"pressline/internal/catalog"
	"pressline/internal/config"
	"pressline/internal/costing"
	"pressline/internal/ledger"
	"pressline/internal/pricing"
	"pressline/internal/process"
	"pressline/internal/units"
	"pressline/pkg/eventstore"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := config.SetupTracing(ctx, cfg)
	if err != nil {
		config.LogError(logger, "main", "main", "setup tracing", nil, err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			config.LogError(logger, "main", "main", "shutdown tracing", nil, err)
		}
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	catalogSvc := catalog.NewService(db)
	pricingSvc := pricing.NewService(db)
	ledgerSvc := ledger.NewService(db, logger)
	es := eventstore.NewEventStore(db)
	processSvc := process.NewService(db, ledgerSvc, es, logger, process.WithLotPrefix(cfg.LotPrefix))

	costOpts := []costing.Option{
		costing.WithMaxDepth(cfg.BOMMaxDepth),
		costing.WithLogger(logger),
		costing.WithSnapshots(db),
	}
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, cost cache disabled")
		} else {
			costOpts = append(costOpts, costing.WithCache(costing.NewRedisCache(rdb), cfg.CostCacheTTL))
		}
	}
	costSvc := costing.NewEngine(catalogSvc, pricingSvc, costOpts...)

	router := api.NewRouter(api.Handlers{
		Catalog: catalog.NewHandler(catalogSvc),
		Costing: costing.NewHandler(costSvc),
		Units:   units.NewHandler(),
		Process: process.NewHandler(processSvc),
		Ledger:  ledger.NewHandler(ledgerSvc),
		Pricing: pricing.NewHandler(pricingSvc),
	}, api.Options{
		Logger:          logger,
		TransitionRate:  cfg.TransitionRatePerSec,
		TransitionBurst: cfg.TransitionBurst,
		Health:          db.PingContext,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			config.LogError(logger, "main", "main", "shutdown server", nil, err)
		}
	}()

	logger.WithField("port", cfg.Port).Info("Starting pressline core service")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Server failed: %v", err)
	}
}
