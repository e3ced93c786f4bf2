package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/config"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/provider"
	"github.com/jmehdipour/inference-gateway/internal/repository"
	"github.com/jmehdipour/inference-gateway/internal/service/keys"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const demoOwner = "0x000000000000000000000000000000000000dEaD"

var seedDemoKeys bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed providers from config and optional demo keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.Driver != config.StorageMySQL {
			return fmt.Errorf("seed needs storage.driver=mysql; memory storage is seeded by serve")
		}

		mysqlDB, err := openMySQL(cfg)
		if err != nil {
			return err
		}
		defer mysqlDB.Close()

		ctx := cmd.Context()
		registry := provider.NewRegistry(repository.NewProvidersRepository(mysqlDB), provider.Config{
			FailureThreshold: cfg.Providers.FailureThreshold,
		})
		if err := seedProviders(ctx, registry, cfg.Providers.Seed); err != nil {
			return err
		}

		if seedDemoKeys {
			if err := seedKeys(ctx, repository.NewAPIKeysRepository(mysqlDB)); err != nil {
				return err
			}
		}

		logger.Log.Info("seed completed", zap.Int("providers", len(cfg.Providers.Seed)))
		return nil
	},
}

func init() {
	seedCmd.Flags().BoolVar(&seedDemoKeys, "demo-keys", false, "issue a developer and an agent key for a demo owner")
}

// seedProviders registers each configured provider; names already present are skipped.
func seedProviders(ctx context.Context, registry *provider.Registry, seeds []config.ProviderSeed) error {
	for _, s := range seeds {
		p, err := registry.Register(ctx, provider.Registration{
			Name:       s.Name,
			Address:    s.Address,
			Owner:      s.Owner,
			Credential: s.Credential,
		})
		if apperr.Is(err, apperr.KindConflict) {
			logger.Log.Debug("seed: provider exists", zap.String("name", s.Name))
			continue
		}
		if err != nil {
			return fmt.Errorf("seed provider %q: %w", s.Name, err)
		}
		logger.Log.Info("seed: provider", zap.String("name", p.Name), zap.String("provider_id", p.ID))
	}
	return nil
}

// seedKeys issues demo keys once; an owner that already has keys is left alone.
func seedKeys(ctx context.Context, repo repository.APIKeysRepository) error {
	svc := keys.New(repo)
	existing, err := svc.List(ctx, demoOwner)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Log.Info("seed: demo keys exist", zap.Int("count", len(existing)))
		return nil
	}
	for _, kind := range []model.KeyKind{model.KindDeveloper, model.KindAgent} {
		k, err := svc.Create(ctx, demoOwner, "demo "+kind.String(), kind)
		if err != nil {
			return fmt.Errorf("seed %s key: %w", kind, err)
		}
		// printed once; the key is not retrievable later
		fmt.Printf("%s key: %s\n", kind, k.Key)
	}
	return nil
}
