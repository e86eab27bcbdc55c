// cmd/chaos/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"pressline/internal/chaos"
	"pressline/internal/config"
	"pressline/internal/ledger"
	"pressline/internal/process"
	"pressline/pkg/eventstore"
)

func main() {
	workers := flag.Int("workers", 50, "concurrent callers per drill")
	observe := flag.Duration("observe", 10*time.Second, "how long to observe each drill")
	pause := flag.Duration("pause", 5*time.Second, "pause between drills")
	flag.Parse()

	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	led := ledger.NewService(db, logger)
	es := eventstore.NewEventStore(db)
	target := chaos.Target{
		DB:      db,
		Ledger:  led,
		Process: process.NewService(db, led, es, logger, process.WithLotPrefix(cfg.LotPrefix)),
		Events:  es,
	}

	engine := chaos.NewEngine(logger)
	for _, exp := range chaos.Drills(target, *workers, *observe) {
		engine.Register(exp)
	}

	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "consistency drills",
		Scenarios: engine.Experiments(),
		Pause:     *pause,
	})
	if err != nil {
		logger.Fatalf("Game day interrupted: %v", err)
	}
	if total := len(engine.Experiments()); held < total {
		logger.WithField("held", held).WithField("total", total).Error("some drills failed")
		os.Exit(1)
	}
}
