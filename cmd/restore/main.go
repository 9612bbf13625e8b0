package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	db, err := postgres.NewDB(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	mgr := backup.NewManager(db, cfg.Backup.Dir)

	path := flag.Arg(0)
	if path == "" {
		path, err = selectBackup(mgr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
			os.Exit(1)
		}
	}

	result, err := mgr.Restore(ctx, path)
	if err != nil {
		switch {
		case errors.Is(err, backup.ErrInvalidFormat):
			fmt.Fprintf(os.Stderr, "restore failed: invalid backup format: %v\n", err)
		case errors.Is(err, backup.ErrRowCountMismatch):
			fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		default:
			fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		}
		os.Exit(1)
	}

	if result.Partial {
		fmt.Printf("restored %d rows; %s\n", result.RowsRestored, result.Message)
	} else {
		fmt.Printf("restored %d rows\n", result.RowsRestored)
	}
}

// selectBackup lists the backup directory and asks the operator to pick
// an artifact.
func selectBackup(mgr *backup.Manager) (string, error) {
	files, err := mgr.ListBackups()
	if errors.Is(err, backup.ErrNoBackups) {
		return "", errors.New("no backup found")
	}
	if err != nil {
		return "", err
	}

	fmt.Println("available backups:")
	for i, f := range files {
		fmt.Printf("  [%d] %s (%d bytes, %s)\n",
			i+1, f.Name, f.SizeBytes, f.ModTime.Format(time.RFC3339))
	}
	fmt.Print("select backup number: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read selection: %w", err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(files) {
		return "", fmt.Errorf("invalid selection %q", strings.TrimSpace(line))
	}
	return files[n-1].Path, nil
}
