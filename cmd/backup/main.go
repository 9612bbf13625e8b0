package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/oraclewatch/xrpusd/internal/backup"
	"github.com/oraclewatch/xrpusd/internal/core/config"
	"github.com/oraclewatch/xrpusd/internal/infra/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.RFC3339,
	})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := postgres.NewDB(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	mgr := backup.NewManager(db, cfg.Backup.Dir)
	result, err := mgr.Backup(ctx)
	if err != nil {
		if errors.Is(err, backup.ErrTableNotFound) {
			fmt.Fprintln(os.Stderr, "backup failed: price table not found")
		} else {
			fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("backup complete: %s (%d rows, %d bytes)\n",
		result.Path, result.RowCount, result.SizeBytes)
}
