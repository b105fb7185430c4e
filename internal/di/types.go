// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/rebalancer/internal/clientdata"
	"github.com/aristath/rebalancer/internal/clients/exchangerate"
	"github.com/aristath/rebalancer/internal/clients/valuation"
	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/allocation"
	"github.com/aristath/rebalancer/internal/modules/market_hours"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/modules/snapshots"
	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/aristath/rebalancer/internal/reliability"
)

// Container holds all dependencies for the application.
// It is created by Wire() and passed to the server and scheduler.
type Container struct {
	// Databases
	SnapshotsDB  *database.DB
	ClientDataDB *database.DB

	// Clients
	BrokerClient       domain.BrokerClient
	ValuationClient    *valuation.Client
	ExchangeRateClient *exchangerate.Client

	// Repositories
	ClientDataRepo *clientdata.Repository
	SnapshotRepo   *snapshots.Repository
	OrderRepo      *trading.OrderRepository

	// Services
	Canonicalizer      *domain.Canonicalizer
	ValuationProvider  *valuation.Provider
	AllocationBuilder  *allocation.Builder
	Damper             *snapshots.Damper
	RebalancingService *rebalancing.Service
	MarketHours        *market_hours.Service
	SafetyService      *trading.TradeSafetyService
	Executor           *trading.Executor
	Runner             *rebalancing.Runner

	// Optional, nil when offsite backups are disabled
	BackupService *reliability.BackupService
}

// Databases returns every open database keyed by name
func (c *Container) Databases() map[string]*database.DB {
	databases := make(map[string]*database.DB, 2)
	if c.SnapshotsDB != nil {
		databases[database.NameSnapshots] = c.SnapshotsDB
	}
	if c.ClientDataDB != nil {
		databases[database.NameClientData] = c.ClientDataDB
	}
	return databases
}

// Close closes every open database
func (c *Container) Close() {
	for _, db := range c.Databases() {
		_ = db.Close()
	}
}
