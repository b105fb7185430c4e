// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for all databases (always absolute)
	LogLevel  string
	LogPretty bool
	Port      int
	DevMode   bool

	BrokerBaseURL       string
	BrokerToken         string
	HomeCurrency        string
	ValuationBaseURL    string
	ExchangeRateBaseURL string

	AccountsFile  string
	Schedule      string        // cron spec for rebalancing iterations
	OrderDelay    time.Duration // pause between two submitted orders
	DryRun        bool          // build plans without submitting orders
	Timezone      string        // exchange timezone for market hours and snapshot dates
	TickerAliases map[string]string

	MaintenanceSchedule string // cron spec for cleanup, retention and backups
	RetentionDays       int    // snapshots and order history older than this are deleted

	Backup   BackupConfig
	Accounts []Account
}

// BackupConfig holds offsite snapshot backup settings (S3-compatible storage)
type BackupConfig struct {
	Enabled         bool
	Endpoint        string // empty for AWS, set for R2/MinIO
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Retention       int // number of backups kept
}

// Load reads configuration from environment variables and the accounts file
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("REBALANCER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	aliases, err := parseAliases(getEnv("TICKER_ALIASES", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             absDataDir,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogPretty:           getEnvAsBool("LOG_PRETTY", false),
		Port:                getEnvAsInt("PORT", 8001),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		BrokerBaseURL:       getEnv("BROKER_BASE_URL", "https://invest-public-api.tinkoff.ru/rest"),
		BrokerToken:         getEnv("BROKER_TOKEN", ""),
		HomeCurrency:        strings.ToUpper(getEnv("HOME_CURRENCY", "RUB")),
		ValuationBaseURL:    getEnv("VALUATION_BASE_URL", ""),
		ExchangeRateBaseURL: getEnv("EXCHANGE_RATE_BASE_URL", ""),
		AccountsFile:        getEnv("ACCOUNTS_FILE", filepath.Join(absDataDir, "accounts.yaml")),
		Schedule:            getEnv("REBALANCE_SCHEDULE", "@every 1h"),
		OrderDelay:          getEnvAsDuration("ORDER_DELAY", 3*time.Second),
		DryRun:              getEnvAsBool("DRY_RUN", false),
		Timezone:            getEnv("MARKET_TIMEZONE", "Europe/Moscow"),
		TickerAliases:       aliases,
		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "0 30 3 * * *"),
		RetentionDays:       getEnvAsInt("RETENTION_DAYS", 90),
		Backup:              loadBackupConfig(),
	}

	if _, err := os.Stat(cfg.AccountsFile); err == nil {
		accounts, err := LoadAccounts(cfg.AccountsFile)
		if err != nil {
			return nil, err
		}
		cfg.Accounts = accounts
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat accounts file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Schedule == "" {
		return fmt.Errorf("REBALANCE_SCHEDULE must not be empty")
	}
	if c.MaintenanceSchedule == "" {
		return fmt.Errorf("MAINTENANCE_SCHEDULE must not be empty")
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS must be >= 1, got %d", c.RetentionDays)
	}
	if c.OrderDelay < 0 {
		return fmt.Errorf("ORDER_DELAY must be >= 0, got %s", c.OrderDelay)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid MARKET_TIMEZONE %q: %w", c.Timezone, err)
	}
	if len(c.Accounts) > 0 && c.BrokerToken == "" && !c.DryRun {
		return fmt.Errorf("BROKER_TOKEN is required when accounts are configured")
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("BACKUP_BUCKET is required when backups are enabled")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for _, account := range c.Accounts {
		if seen[account.ID] {
			return fmt.Errorf("duplicate account id %q", account.ID)
		}
		seen[account.ID] = true
		if err := account.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Location returns the exchange timezone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Account returns the account with the given id
func (c *Config) Account(id string) (Account, bool) {
	for _, account := range c.Accounts {
		if account.ID == id {
			return account, true
		}
	}
	return Account{}, false
}

func loadBackupConfig() BackupConfig {
	return BackupConfig{
		Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
		Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
		Region:          getEnv("BACKUP_REGION", "auto"),
		Bucket:          getEnv("BACKUP_BUCKET", ""),
		Prefix:          getEnv("BACKUP_PREFIX", "rebalancer"),
		AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
		Retention:       getEnvAsInt("BACKUP_RETENTION", 14),
	}
}

// parseAliases reads "OLD=NEW,OLD2=NEW2"
func parseAliases(value string) (map[string]string, error) {
	aliases := make(map[string]string)
	if strings.TrimSpace(value) == "" {
		return aliases, nil
	}
	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid TICKER_ALIASES entry %q, expected OLD=NEW", pair)
		}
		aliases[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return aliases, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
