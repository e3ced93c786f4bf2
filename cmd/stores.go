package cmd

import (
	"fmt"

	"github.com/jmehdipour/inference-gateway/internal/config"
	"github.com/jmehdipour/inference-gateway/internal/db"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/repository"
	"github.com/jmehdipour/inference-gateway/internal/repository/memstore"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// stores is the set of repositories selected by storage.driver.
type stores struct {
	keys      repository.APIKeysRepository
	quota     repository.QuotaRepository
	providers repository.ProvidersRepository
	usage     repository.UsageRepository
	reports   repository.UsageReportsRepository
	windows   repository.WindowsRepository
	// sessions is set only for in-memory counters; MySQL keeps anonymous history.
	sessions  repository.SessionCountersPruner

	closers []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func openStores(cfg config.Config) (*stores, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		keys := memstore.NewAPIKeys()
		usage := memstore.NewUsage()
		quota := memstore.NewQuota(keys)
		logger.Log.Warn("using in-memory storage; state is lost on restart")
		return &stores{
			keys:      keys,
			quota:     quota,
			sessions:  quota,
			providers: memstore.NewProviders(),
			usage:     usage,
			reports:   usage,
			windows:   memstore.NewWindows(),
		}, nil
	}

	s := &stores{}
	mysqlDB, err := openMySQL(cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, mysqlDB.Close)

	usage := repository.NewUsageRepository(mysqlDB)
	s.keys = repository.NewAPIKeysRepository(mysqlDB)
	s.quota = repository.NewQuotaRepository(mysqlDB)
	s.providers = repository.NewProvidersRepository(mysqlDB)
	s.usage = usage
	s.reports = usage

	if cfg.Redis.Addr != "" {
		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		s.closers = append(s.closers, redisClient.Close)
		s.windows = repository.NewRedisWindowsRepository(redisClient, cfg.Redis.KeyPrefix, cfg.Burst.Retention)
	} else {
		logger.Log.Warn("redis not configured; burst windows are per process")
		s.windows = memstore.NewWindows()
	}

	if cfg.ClickHouse.DSN != "" {
		chDB, err := openClickHouse(cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, chDB.Close)
		s.reports = repository.NewCHUsageRepository(chDB)
		logger.Log.Info("usage reports served from clickhouse")
	}
	return s, nil
}

func openMySQL(cfg config.Config) (*sqlx.DB, error) {
	mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	return mysqlDB, nil
}

func openClickHouse(cfg config.Config) (*sqlx.DB, error) {
	chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		logger.Log.Error("clickhouse connect", zap.Error(err))
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	return chDB, nil
}
