// cmd/migrate/main.go
package main

import (
	"database/sql"
	"flag"

	_ "github.com/lib/pq"

	"pressline/internal/config"
	"pressline/internal/migrations"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	flag.Parse()

	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if *down {
		if err := migrations.Down(db); err != nil {
			logger.Fatalf("Migration rollback failed: %v", err)
		}
		logger.Info("Rolled back one migration")
		return
	}

	if err := migrations.Up(db); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
	logger.Info("Migrations applied")
}
