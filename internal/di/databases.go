// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	container := &Container{}

	// 1. snapshots.db - daily target snapshots and executed orders
	snapshotsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "snapshots.db"),
		Profile: database.ProfileStandard,
		Name:    database.NameSnapshots,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshots database: %w", err)
	}
	container.SnapshotsDB = snapshotsDB

	// 2. client_data.db - external API response cache (valuations, rates, instruments)
	clientDataDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "client_data.db"),
		Profile: database.ProfileCache,
		Name:    database.NameClientData,
	})
	if err != nil {
		snapshotsDB.Close()
		return nil, fmt.Errorf("failed to initialize client_data database: %w", err)
	}
	container.ClientDataDB = clientDataDB

	for _, db := range []*database.DB{snapshotsDB, clientDataDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s: %w", db.Name(), err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
