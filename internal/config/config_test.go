package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/modules/allocation"
	"github.com/aristath/rebalancer/internal/modules/funding"
	"github.com/aristath/rebalancer/internal/modules/margin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accountsYAML = `
- id: "2000000001"
  name: main
  mode: marketcap
  desired_wallet:
    TBRU: 50
    TMON: 50
  damping_multiplier: 25
  min_profit_percent: 2.5
  balance_interval: 30m
  market_close: "18:40"
  margin:
    enabled: true
    multiplier: 1.5
    free_threshold: 5000
    max_margin_size: 20000
    strategy: keep_if_below_threshold
  funding:
    enabled: true
    restricted_tickers: [TMON]
    min_rebalance_percent: 1
- id: "2000000002"
  desired_wallet:
    TGLD: 100
`

func TestParseAccounts(t *testing.T) {
	accounts, err := ParseAccounts([]byte(accountsYAML))
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	primary := accounts[0]
	assert.Equal(t, "2000000001", primary.ID)
	assert.Equal(t, allocation.ModeMarketCap, primary.Mode)
	assert.Equal(t, 50.0, primary.DesiredWallet["TBRU"])
	assert.Equal(t, 25.0, primary.DampingMultiplier)
	require.NotNil(t, primary.MinProfitPercent)
	assert.Equal(t, 2.5, *primary.MinProfitPercent)
	assert.Equal(t, 30*time.Minute, primary.BalanceInterval)
	assert.Equal(t, margin.StrategyKeepIfBelowThreshold, primary.Margin.Strategy)
	assert.Equal(t, 1.5, primary.Margin.Multiplier)
	assert.Equal(t, []string{"TMON"}, primary.Funding.RestrictedTickers)
	assert.Equal(t, funding.ModeProfitRanked, primary.Funding.Mode, "funding mode defaults to profit_ranked")
	assert.NoError(t, primary.Validate())

	minimal := accounts[1]
	assert.Equal(t, allocation.ModeManual, minimal.Mode)
	assert.Equal(t, DefaultBalanceInterval, minimal.BalanceInterval)
	assert.Nil(t, minimal.MinProfitPercent)
	assert.False(t, minimal.Margin.Enabled)
	assert.NoError(t, minimal.Validate())
}

func TestParseAccounts_InvalidYAML(t *testing.T) {
	_, err := ParseAccounts([]byte("- id: [unterminated"))
	assert.Error(t, err)
}

func TestAccountValidate(t *testing.T) {
	valid := func() Account {
		return Account{ID: "1", DesiredWallet: map[string]float64{"TBRU": 100}, Mode: allocation.ModeManual}
	}

	tests := []struct {
		name   string
		mutate func(a *Account)
		errMsg string
	}{
		{"valid", func(a *Account) {}, ""},
		{"missing id", func(a *Account) { a.ID = "" }, "account id is required"},
		{"empty wallet", func(a *Account) { a.DesiredWallet = nil }, "desired_wallet is empty"},
		{"negative weight", func(a *Account) { a.DesiredWallet["TBRU"] = -1 }, "negative weight"},
		{"unknown mode", func(a *Account) { a.Mode = "astrology" }, "unknown desired wallet mode"},
		{"damping too high", func(a *Account) { a.DampingMultiplier = 150 }, "damping_multiplier"},
		{"bad close", func(a *Account) { a.MarketClose = "6pm" }, "market_close"},
		{"bad margin", func(a *Account) { a.Margin = margin.Config{Enabled: true, Multiplier: 0.5} }, "multiplier"},
		{"bad funding", func(a *Account) { a.Funding = funding.Config{Enabled: true, Mode: "random"} }, "unknown funding mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid()
			tt.mutate(&a)
			err := a.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	accountsFile := filepath.Join(dir, "accounts.yaml")
	require.NoError(t, os.WriteFile(accountsFile, []byte(accountsYAML), 0644))

	t.Setenv("REBALANCER_DATA_DIR", dir)
	t.Setenv("ACCOUNTS_FILE", accountsFile)
	t.Setenv("BROKER_TOKEN", "t.secret")
	t.Setenv("ORDER_DELAY", "500ms")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("TICKER_ALIASES", "OLD=NEW, FOO = BAR")
	t.Setenv("MARKET_TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 500*time.Millisecond, cfg.OrderDelay)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "@every 1h", cfg.Schedule)
	assert.Equal(t, "RUB", cfg.HomeCurrency)
	assert.Equal(t, map[string]string{"OLD": "NEW", "FOO": "BAR"}, cfg.TickerAliases)
	assert.Len(t, cfg.Accounts, 2)
	assert.Equal(t, time.UTC, cfg.Location())

	account, ok := cfg.Account("2000000002")
	assert.True(t, ok)
	assert.Equal(t, 100.0, account.DesiredWallet["TGLD"])
	_, ok = cfg.Account("missing")
	assert.False(t, ok)
}

func TestLoad_MissingAccountsFileIsAllowed(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REBALANCER_DATA_DIR", dir)
	t.Setenv("ACCOUNTS_FILE", filepath.Join(dir, "nope.yaml"))
	t.Setenv("MARKET_TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Accounts)
	assert.Equal(t, 3*time.Second, cfg.OrderDelay)
	assert.Equal(t, 90, cfg.RetentionDays)
	assert.Equal(t, "0 30 3 * * *", cfg.MaintenanceSchedule)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Schedule:            "@every 1h",
			MaintenanceSchedule: "@daily",
			RetentionDays:       30,
			Timezone:            "UTC",
			OrderDelay:          time.Second,
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Accounts = []Account{{ID: "1", DesiredWallet: map[string]float64{"A": 1}}}
	assert.ErrorContains(t, cfg.Validate(), "BROKER_TOKEN")

	cfg.DryRun = true
	assert.NoError(t, cfg.Validate())

	cfg.Accounts = append(cfg.Accounts, cfg.Accounts[0])
	assert.ErrorContains(t, cfg.Validate(), "duplicate account id")

	cfg = base()
	cfg.Backup.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "BACKUP_BUCKET")

	cfg = base()
	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.RetentionDays = 0
	assert.ErrorContains(t, cfg.Validate(), "RETENTION_DAYS")
}

func TestParseAliases(t *testing.T) {
	aliases, err := parseAliases("")
	require.NoError(t, err)
	assert.Empty(t, aliases)

	_, err = parseAliases("TCS")
	assert.Error(t, err)
}
