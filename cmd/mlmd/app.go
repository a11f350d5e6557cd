package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"mlm-network/internal/commission"
	"mlm-network/internal/config"
	"mlm-network/internal/database"
	"mlm-network/internal/graph"
	"mlm-network/internal/investment"
	"mlm-network/internal/ledger"
	"mlm-network/internal/logging"
	"mlm-network/internal/membership"
	"mlm-network/internal/store/pgstore"
)

// app holds the services every command is built from.
type app struct {
	cfg *config.Config
	log *logging.Logger
	db  *gorm.DB
	rdb *redis.Client

	store       *pgstore.Store
	ledger      *ledger.Ledger
	engine      *commission.Engine
	members     *membership.Service
	investments *investment.Service
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("could not load configuration: %w", err)
	}
	return cfg, nil
}

// loadApp is newApp for one-shot commands that need neither Redis nor the bot.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, false)
}

func newApp(ctx context.Context, cfg *config.Config, withRedis bool, ledgerOpts ...ledger.Option) (*app, error) {
	log := logging.NewLoggerFromEnv(cfg.Env)

	db, err := database.ConnectPostgres(cfg, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db, store: pgstore.New(db)}
	if withRedis {
		if a.rdb, err = database.ConnectRedis(ctx, cfg, log); err != nil {
			return nil, err
		}
	}

	g, err := graph.New(a.store, 0)
	if err != nil {
		return nil, err
	}
	opts := append([]ledger.Option{
		ledger.WithRetry(cfg.Commission.RetryMax, cfg.Commission.RetryInitialInterval),
	}, ledgerOpts...)
	a.ledger = ledger.New(a.store, log, opts...)
	a.engine = commission.NewEngine(cfg.Commission, a.store, g, a.ledger, log,
		commission.WithLocation(cfg.Location),
		commission.WithBatchSize(cfg.BatchSize),
	)
	a.members = membership.New(a.store, a.ledger, a.engine, log)
	a.investments = investment.New(a.store, a.ledger, cfg.Commission, cfg.BatchSize, log)
	return a, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	a.log.AtExit()
}
