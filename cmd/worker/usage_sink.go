package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/inference-gateway/internal/config"
	"github.com/jmehdipour/inference-gateway/internal/db"
	"github.com/jmehdipour/inference-gateway/internal/kafka"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/metrics"
	"github.com/jmehdipour/inference-gateway/internal/repository"
	"github.com/jmehdipour/inference-gateway/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var usageSinkCmd = &cobra.Command{
	Use:   "usage-sink",
	Short: "Copy usage events from Kafka into ClickHouse",
	RunE:  runUsageSink,
}

func runUsageSink(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Encoding)
	defer func() { _ = logger.Log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	if !cfg.Kafka.Enabled() {
		return fmt.Errorf("kafka.brokers is empty")
	}

	// 2) analytics store
	chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer chDB.Close()

	// 3) kafka consumer
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.UsageTopic,
		GroupID:        cfg.Kafka.GroupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: cfg.Kafka.CommitInterval,
	})
	defer consumer.Close()

	w := worker.NewUsageSink(consumer, repository.NewCHUsageRepository(chDB))

	// tune knobs
	if cfg.UsageSink.BatchSize > 0 {
		w.BatchSize = cfg.UsageSink.BatchSize
	}
	if cfg.UsageSink.BatchWait > 0 {
		w.BatchWait = cfg.UsageSink.BatchWait
	}

	// 4) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("usage sink started",
		zap.String("topic", cfg.Kafka.UsageTopic),
		zap.String("group", cfg.Kafka.GroupID),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("batch_wait", w.BatchWait),
	)

	return w.Run(ctx)
}
