package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/feedback-annotator/internal/config"
	"github.com/yungbote/feedback-annotator/internal/data/db"
	"github.com/yungbote/feedback-annotator/internal/data/runledger"
	"github.com/yungbote/feedback-annotator/internal/observability"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/platform/runlock"
	"github.com/yungbote/feedback-annotator/internal/sentiment"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
	"github.com/yungbote/feedback-annotator/internal/warehouse/bq"
	"github.com/yungbote/feedback-annotator/internal/warehouse/sqlstore"
)

type Clients struct {
	Warehouse warehouse.Client
	// SQL is the warehouse's gorm handle; nil for BigQuery.
	SQL     *gorm.DB
	Backend sentiment.Backend
	Lock    *runlock.Lock
	Redis   *redis.Client
	Ledger  runledger.Repo

	backendClose func() error
	ledgerDB     *gorm.DB
}

func wireClients(ctx context.Context, log *logger.Logger, cfg config.Config, m *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	// Warehouse
	switch cfg.Warehouse.Driver {
	case config.DriverBigQuery:
		wh, err := bq.New(ctx, log, bq.Config{
			ProjectID:   cfg.GCP.ProjectID,
			Dataset:     cfg.Warehouse.Dataset,
			Location:    cfg.Warehouse.Location,
			Credentials: cfg.GCP.Credentials,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init bigquery: %w", err)
		}
		c.Warehouse = wh
	default:
		store, err := sqlstore.Open(log, string(cfg.Warehouse.Driver), cfg.Warehouse.DSN)
		if err != nil {
			return Clients{}, fmt.Errorf("init %s warehouse: %w", cfg.Warehouse.Driver, err)
		}
		c.Warehouse, c.SQL = store, store.DB()
		registerDBStats(log, m, "warehouse", store.DB())
	}

	// Sentiment backend
	backend, closeBackend, err := sentiment.New(ctx, log, cfg, m)
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init sentiment backend: %w", err)
	}
	c.Backend, c.backendClose = backend, closeBackend

	// Redis run lock
	if cfg.Lock.Enabled() {
		lock, rdb, err := runlock.Dial(ctx, log, cfg.Lock.RedisAddr, cfg.Lock.Key, cfg.Lock.TTL())
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init run lock: %w", err)
		}
		c.Lock, c.Redis = lock, rdb
	}

	// Run ledger
	ledgerDB := c.SQL
	if dsn := strings.TrimSpace(cfg.LedgerDSN); dsn != "" {
		gdb, err := db.Open(log, ledgerDriver(dsn), dsn)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init run ledger db: %w", err)
		}
		c.ledgerDB, ledgerDB = gdb, gdb
		registerDBStats(log, m, "ledger", gdb)
	}
	if ledgerDB != nil {
		repo, err := runledger.New(ctx, ledgerDB, log)
		if err != nil {
			c.Close()
			return Clients{}, err
		}
		c.Ledger = repo
	}

	return c, nil
}

// ledgerDriver infers the gorm driver from a DSN: URLs and key=value strings
// are Postgres, anything else is a SQLite path.
func ledgerDriver(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return db.DriverPostgres
	}
	return db.DriverSQLite
}

func registerDBStats(log *logger.Logger, m *observability.Metrics, name string, gdb *gorm.DB) {
	if m == nil || gdb == nil {
		return
	}
	sqlDB, err := gdb.DB()
	if err == nil {
		err = m.RegisterDBStats(name, sqlDB)
	}
	if err != nil {
		log.Warn("DB stats collector not registered", "db", name, "error", err)
	}
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Lock != nil {
		_ = c.Lock.Close()
	}
	if c.backendClose != nil {
		_ = c.backendClose()
	}
	if c.ledgerDB != nil {
		_ = db.Close(c.ledgerDB)
	}
	if c.Warehouse != nil {
		_ = c.Warehouse.Close()
	}
}
