package config

import (
	"fmt"
	"os"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/allocation"
	"github.com/aristath/rebalancer/internal/modules/funding"
	"github.com/aristath/rebalancer/internal/modules/margin"
	"gopkg.in/yaml.v3"
)

// DefaultBalanceInterval is used when an account does not set balance_interval
const DefaultBalanceInterval = time.Hour

// Account is the immutable configuration of one brokerage account
type Account struct {
	ID            string            `yaml:"id" json:"id"`
	Name          string            `yaml:"name" json:"name"`
	DesiredWallet domain.Allocation `yaml:"desired_wallet" json:"desired_wallet"`
	Mode          allocation.Mode   `yaml:"mode" json:"mode"`
	// DampingMultiplier limits allocation movement per day, 0 disables damping
	DampingMultiplier float64 `yaml:"damping_multiplier" json:"damping_multiplier"`
	// MinProfitPercent blocks sells below this profit when set
	MinProfitPercent *float64      `yaml:"min_profit_percent" json:"min_profit_percent,omitempty"`
	BalanceInterval  time.Duration `yaml:"balance_interval" json:"balance_interval"`
	// MarketClose overrides the exchange close time, "HH:MM" in the market timezone
	MarketClose string         `yaml:"market_close" json:"market_close,omitempty"`
	Margin      margin.Config  `yaml:"margin" json:"margin"`
	Funding     funding.Config `yaml:"funding" json:"funding"`
}

// Validate checks the account configuration
func (a Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if len(a.DesiredWallet) == 0 {
		return fmt.Errorf("account %s: desired_wallet is empty", a.ID)
	}
	for ticker, pct := range a.DesiredWallet {
		if pct < 0 {
			return fmt.Errorf("account %s: negative weight for %s", a.ID, ticker)
		}
	}
	if _, err := allocation.ParseMode(string(a.Mode)); err != nil {
		return fmt.Errorf("account %s: %w", a.ID, err)
	}
	if a.DampingMultiplier < 0 || a.DampingMultiplier > 100 {
		return fmt.Errorf("account %s: damping_multiplier must be within [0, 100]", a.ID)
	}
	if a.BalanceInterval < 0 {
		return fmt.Errorf("account %s: balance_interval must be >= 0", a.ID)
	}
	if a.MarketClose != "" {
		if _, err := time.Parse("15:04", a.MarketClose); err != nil {
			return fmt.Errorf("account %s: market_close must be HH:MM: %w", a.ID, err)
		}
	}
	if err := a.Margin.Validate(); err != nil {
		return fmt.Errorf("account %s: %w", a.ID, err)
	}
	if err := a.Funding.Validate(); err != nil {
		return fmt.Errorf("account %s: %w", a.ID, err)
	}
	return nil
}

// LoadAccounts reads the YAML accounts file: a list of accounts
func LoadAccounts(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	return ParseAccounts(data)
}

// ParseAccounts decodes accounts and applies defaults
func ParseAccounts(data []byte) ([]Account, error) {
	var accounts []Account
	if err := yaml.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}

	for i := range accounts {
		if accounts[i].Mode == "" {
			accounts[i].Mode = allocation.ModeManual
		}
		if accounts[i].BalanceInterval == 0 {
			accounts[i].BalanceInterval = DefaultBalanceInterval
		}
		if accounts[i].Funding.Enabled && accounts[i].Funding.Mode == "" {
			accounts[i].Funding.Mode = funding.ModeProfitRanked
		}
		if accounts[i].Margin.Enabled && accounts[i].Margin.Strategy == "" {
			accounts[i].Margin.Strategy = margin.StrategyAlwaysRemove
		}
	}
	return accounts, nil
}
