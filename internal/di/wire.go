// Package di provides dependency injection wiring and initialization.
package di

import (
	"fmt"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize databases
// 2. Initialize repositories, clients and services
//
// Jobs are registered separately by RegisterJobs once a scheduler exists.
// brokerClient is optional and replaces the REST broker (tests, dry runs).
func Wire(cfg *config.Config, log zerolog.Logger, brokerClient domain.BrokerClient) (*Container, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := InitializeServices(container, cfg, brokerClient, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, nil
}
