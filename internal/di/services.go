package di

import (
	"context"
	"fmt"

	"github.com/aristath/rebalancer/internal/clientdata"
	"github.com/aristath/rebalancer/internal/clients/broker"
	"github.com/aristath/rebalancer/internal/clients/exchangerate"
	"github.com/aristath/rebalancer/internal/clients/valuation"
	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/allocation"
	"github.com/aristath/rebalancer/internal/modules/market_hours"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/modules/snapshots"
	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/pkg/retrier"
	"github.com/rs/zerolog"
)

// InitializeServices creates clients, repositories and services.
// brokerClient overrides the REST broker when non-nil.
func InitializeServices(container *Container, cfg *config.Config, brokerClient domain.BrokerClient, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Repositories
	container.ClientDataRepo = clientdata.NewRepository(container.ClientDataDB.Conn())
	container.SnapshotRepo = snapshots.NewRepository(container.SnapshotsDB.Conn(), log)
	container.OrderRepo = trading.NewOrderRepository(container.SnapshotsDB.Conn(), log)

	// Clients
	if brokerClient == nil {
		brokerClient = broker.NewClient(broker.Config{
			BaseURL:      cfg.BrokerBaseURL,
			Token:        cfg.BrokerToken,
			HomeCurrency: cfg.HomeCurrency,
		}, retrier.New(), log)
	}
	container.BrokerClient = brokerClient
	container.ValuationClient = valuation.NewClient(cfg.ValuationBaseURL, nil, log)
	container.ExchangeRateClient = exchangerate.NewClient(cfg.ExchangeRateBaseURL, container.ClientDataRepo, retrier.New(), log)

	// Services
	container.Canonicalizer = domain.NewCanonicalizer(cfg.TickerAliases)
	container.ValuationProvider = valuation.NewProvider(
		container.ValuationClient,
		container.ClientDataRepo,
		container.ExchangeRateClient,
		cfg.HomeCurrency,
		log,
	)
	container.AllocationBuilder = allocation.NewBuilder(container.ValuationProvider, log)
	container.Damper = snapshots.NewDamper(container.SnapshotRepo, log)
	container.RebalancingService = rebalancing.NewService(container.Canonicalizer, cfg.HomeCurrency, log)
	container.MarketHours = market_hours.NewService(market_hours.MOEX(cfg.Location()))
	container.SafetyService = trading.NewTradeSafetyService(container.MarketHours, container.OrderRepo, cfg.DryRun, log)
	container.Executor = trading.NewExecutor(
		container.BrokerClient,
		container.SafetyService,
		container.OrderRepo,
		cfg.OrderDelay,
		log,
	)

	catalogs := func() domain.InstrumentCatalog {
		return broker.NewCatalog(container.BrokerClient, container.Canonicalizer, container.ClientDataRepo, log)
	}
	container.Runner = rebalancing.NewRunner(
		container.BrokerClient,
		catalogs,
		container.AllocationBuilder,
		container.Damper,
		container.RebalancingService,
		container.Executor,
		container.MarketHours,
		container.Canonicalizer,
		cfg.DryRun,
		cfg.Location(),
		log,
	)

	if cfg.Backup.Enabled {
		store, err := reliability.NewS3Store(context.Background(), reliability.S3StoreConfig{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			store,
			container.Databases(),
			cfg.DataDir,
			cfg.Backup.Prefix,
			log,
		)
	}

	log.Info().Msg("Services initialized")
	return nil
}
