package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/accounting"
	"github.com/jmehdipour/inference-gateway/internal/config"
	"github.com/jmehdipour/inference-gateway/internal/dispatcher"
	httpSrv "github.com/jmehdipour/inference-gateway/internal/http"
	"github.com/jmehdipour/inference-gateway/internal/identity"
	"github.com/jmehdipour/inference-gateway/internal/kafka"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/metrics"
	"github.com/jmehdipour/inference-gateway/internal/provider"
	"github.com/jmehdipour/inference-gateway/internal/quota"
	"github.com/jmehdipour/inference-gateway/internal/ratelimit"
	"github.com/jmehdipour/inference-gateway/internal/service/gateway"
	"github.com/jmehdipour/inference-gateway/internal/service/keys"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		st, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		policy, err := provider.PolicyByName(cfg.Providers.SelectionPolicy)
		if err != nil {
			return fmt.Errorf("providers.selection_policy: %w", err)
		}
		registry := provider.NewRegistry(st.providers, provider.Config{
			FailureThreshold: cfg.Providers.FailureThreshold,
			Policy:           policy,
			RetryAfter:       cfg.Dispatcher.NoProviderRetryAfter,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Storage.Driver == config.StorageMemory {
			if err := seedProviders(ctx, registry, cfg.Providers.Seed); err != nil {
				return err
			}
		}

		upstream := dispatcher.NewOpenAIUpstream(&http.Client{})
		catalog := dispatcher.NewCatalog(upstream, cfg.Dispatcher.CatalogTTL)
		disp := dispatcher.New(upstream, catalog, registry, dispatcher.Config{Timeout: cfg.Dispatcher.Timeout})

		ledger := quota.NewLedger(st.quota)
		limiter := ratelimit.New(ratelimit.Config{Window: cfg.Burst.Window, Cap: cfg.Burst.Cap}, st.windows)

		var publisher accounting.Publisher
		if cfg.Kafka.Enabled() {
			producer := kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Kafka.UsageTopic,
				BatchTimeout: cfg.Kafka.BatchTimeout,
				Async:        cfg.Kafka.Async,
			})
			defer func() { _ = producer.Close() }()
			publisher = producer
		}
		accountant := accounting.New(st.usage, ledger, registry, publisher)

		gw := gateway.New(gateway.Deps{
			Ledger:     ledger,
			Limiter:    limiter,
			Registry:   registry,
			Dispatcher: disp,
			Catalog:    catalog,
			Accountant: accountant,
			Reports:    st.reports,
			Retries:    cfg.Dispatcher.Retries,
		})

		server := httpSrv.NewServer(httpSrv.Deps{
			Gateway:    gw,
			Keys:       keys.New(st.keys),
			Registry:   registry,
			Resolver:   identity.NewResolver(st.keys),
			Limiter:    limiter,
			AdminToken: cfg.HTTP.AdminToken,
			LogLevel:   cfg.Log.Level,
			BodyLimit:  cfg.HTTP.BodyLimit,
		})

		sweeper := &ratelimit.Sweeper{
			Store:     st.windows,
			Sessions:  st.sessions,
			Retention: cfg.Burst.Retention,
			Interval:  cfg.Burst.SweepInterval,
		}
		go sweeper.Run(ctx)

		probeRPS := cfg.Providers.ProbeRPS
		if probeRPS <= 0 {
			probeRPS = 1
		}
		prober := &provider.Prober{
			Registry: registry,
			Checker:  catalog,
			Interval: cfg.Providers.ProbeInterval,
			Timeout:  cfg.Providers.ProbeTimeout,
			Limiter:  rate.NewLimiter(rate.Limit(probeRPS), 1),
		}
		go prober.Run(ctx)

		errCh := make(chan error, 1)
		go func() {
			logger.Log.Info("starting http",
				zap.String("addr", cfg.HTTP.Addr),
				zap.String("storage", cfg.Storage.Driver),
				zap.Bool("usage_events", cfg.Kafka.Enabled()),
			)
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			logger.Log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil {
				logger.Log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}
