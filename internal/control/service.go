// Package control wires the service's components together and manages
// their lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/oraclewatch/xrpusd/internal/core/config"
	"github.com/oraclewatch/xrpusd/internal/infra/ledger"
	redisclient "github.com/oraclewatch/xrpusd/internal/infra/redis"
	"github.com/oraclewatch/xrpusd/internal/infra/storage/postgres"
	"github.com/oraclewatch/xrpusd/internal/ingest/backfill"
	"github.com/oraclewatch/xrpusd/internal/ingest/gapscan"
	"github.com/oraclewatch/xrpusd/internal/ingest/health"
	"github.com/oraclewatch/xrpusd/internal/ingest/poller"
)

// maintenanceInterval spaces the periodic gap scan + backfill pass.
const maintenanceInterval = time.Hour

// Service owns every long-running component of the price watcher.
type Service struct {
	cfg          config.AppConfig
	db           *postgres.DB
	conn         *ledger.Conn
	poller       *poller.Poller
	detector     *gapscan.Detector
	backfiller   *backfill.Backfiller
	rescanWorker *backfill.Worker
	redisClient  *redisclient.Client
	healthServer *health.Server
	log          *slog.Logger
}

// NewService builds the service from configuration: database plus
// migrations, ledger connection, poller, gap detector, backfiller,
// optional redis rescan worker, and the health server.
func NewService(ctx context.Context, cfg config.AppConfig, rescanEnabled bool) (*Service, error) {
	db, err := postgres.NewDB(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	if err := goose.Up(db.DB.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	priceRepo := postgres.NewPriceRepo(db)
	gapRepo := postgres.NewGapRepo(db)

	providers := make([]ledger.Provider, 0, len(cfg.Ledger.Servers))
	for _, entry := range cfg.Ledger.Servers {
		if strings.HasPrefix(entry.URL, "ws://") || strings.HasPrefix(entry.URL, "wss://") {
			providers = append(providers, ledger.NewWSProvider(entry.Name, entry.URL))
		} else {
			providers = append(providers, ledger.NewHTTPProvider(entry.Name, entry.URL, 30*time.Second))
		}
	}
	conn := ledger.New(providers, cfg.Ledger.RequestInterval.Std())

	p := poller.New(poller.Config{
		Account:      cfg.Oracle.Account,
		Currency:     cfg.Oracle.Currency,
		PollInterval: cfg.Oracle.PollInterval.Std(),
		TxFetchLimit: cfg.Oracle.TxFetchLimit,
	}, conn, priceRepo)

	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(redisclient.Config{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
		})
		if err != nil {
			slog.Warn("Failed to connect to Redis, rescan queue disabled", "error", err)
			redisClient = nil
		}
	}

	var floor time.Time
	if cfg.Gaps.Floor != "" {
		floor, err = time.Parse(time.RFC3339, cfg.Gaps.Floor)
		if err != nil {
			return nil, fmt.Errorf("invalid gaps.floor: %w", err)
		}
	}

	var queue gapscan.RangeQueue
	if redisClient != nil {
		queue = redisClient
	}
	detector := gapscan.New(gapscan.Config{
		Threshold:  cfg.Gaps.Threshold.Std(),
		Floor:      floor,
		MaxPerScan: cfg.Gaps.MaxPerScan,
	}, priceRepo, gapRepo, queue)

	backfiller := backfill.New(backfill.Config{
		Account:         cfg.Oracle.Account,
		Currency:        cfg.Oracle.Currency,
		SampleSpacing:   cfg.Backfill.SampleSpacing,
		Stride:          cfg.Backfill.Stride,
		BootstrapWindow: cfg.Backfill.BootstrapWindow,
		LedgerDelay:     cfg.Backfill.LedgerDelay.Std(),
	}, conn, priceRepo, gapRepo)

	var rescanWorker *backfill.Worker
	if redisClient != nil && rescanEnabled {
		rescanWorker = backfill.NewWorker(backfill.WorkerConfig{}, redisClient, backfiller)
		slog.Info("Rescan worker initialized")
	}

	monitor := health.NewMonitor(
		db, conn, p, backfiller, priceRepo, gapRepo,
		3*cfg.Oracle.PollInterval.Std(),
	)
	healthServer := health.NewServer(monitor, cfg.Server.Port)

	return &Service{
		cfg:          cfg,
		db:           db,
		conn:         conn,
		poller:       p,
		detector:     detector,
		backfiller:   backfiller,
		rescanWorker: rescanWorker,
		redisClient:  redisClient,
		healthServer: healthServer,
		log:          slog.Default(),
	}, nil
}

// Start launches every component. Blocking loops run on their own
// goroutines; Start itself returns immediately.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.healthServer.Start(); err != nil && err != http.ErrServerClosed {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	s.db.StartMetricsCollector(ctx)

	if err := s.poller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	if s.rescanWorker != nil {
		go func() {
			if err := s.rescanWorker.Run(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("Rescan worker failed", "error", err)
			}
		}()
	}

	go s.runMaintenance(ctx)
	return nil
}

// runMaintenance periodically scans for gaps and runs a backfill pass.
// The first pass runs shortly after startup so an empty store bootstraps
// without waiting a full interval.
func (s *Service) runMaintenance(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(30 * time.Second):
	}
	s.maintain(ctx)

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maintain(ctx)
		}
	}
}

func (s *Service) maintain(ctx context.Context) {
	if _, err := s.detector.Scan(ctx); err != nil {
		s.log.Error("Gap scan failed", "error", err)
	}

	if _, err := s.backfiller.Run(ctx); err != nil {
		if err == backfill.ErrAlreadyRunning {
			s.log.Debug("Backfill pass still running, skipping")
		} else if ctx.Err() == nil {
			s.log.Error("Backfill pass failed", "error", err)
		}
	}
}

// Stop shuts the service down in dependency order.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service")

	s.poller.Stop()
	s.backfiller.Stop()
	s.conn.Disconnect()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if err := s.healthServer.Stop(ctx); err != nil {
		return err
	}
	return s.db.Close()
}
