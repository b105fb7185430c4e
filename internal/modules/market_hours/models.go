package market_hours

import "time"

// TradingHours represents regular trading hours for an exchange
type TradingHours struct {
	OpenHour    int // Hour (0-23)
	OpenMinute  int // Minute (0-59)
	CloseHour   int // Hour (0-23)
	CloseMinute int // Minute (0-59)
}

// FixedDateHoliday represents a holiday on a fixed date
type FixedDateHoliday struct {
	Month int // 1-12
	Day   int // 1-31
}

// ExchangeConfig represents the configuration of the exchange orders go to
type ExchangeConfig struct {
	Code         string
	Name         string
	TradingHours TradingHours
	Timezone     *time.Location
	Holidays     []FixedDateHoliday
}

// MarketStatus represents the current status of a market
type MarketStatus struct {
	Open      bool   `json:"open"`
	Exchange  string `json:"exchange"`
	Timezone  string `json:"timezone"`
	ClosesAt  string `json:"closes_at,omitempty"`  // Time when market closes (if open)
	OpensAt   string `json:"opens_at,omitempty"`   // Time when market opens (if closed)
	OpensDate string `json:"opens_date,omitempty"` // Date when market opens (if closed and opens tomorrow or later)
}

// MOEX returns the Moscow Exchange main session calendar in the given timezone
func MOEX(loc *time.Location) ExchangeConfig {
	if loc == nil {
		loc = time.UTC
	}
	return ExchangeConfig{
		Code: "MOEX",
		Name: "Moscow Exchange",
		TradingHours: TradingHours{
			OpenHour: 10, OpenMinute: 0,
			CloseHour: 18, CloseMinute: 50,
		},
		Timezone: loc,
		Holidays: []FixedDateHoliday{
			{Month: 1, Day: 1},
			{Month: 1, Day: 2},
			{Month: 1, Day: 7},
			{Month: 2, Day: 23},
			{Month: 3, Day: 8},
			{Month: 5, Day: 1},
			{Month: 5, Day: 9},
			{Month: 6, Day: 12},
			{Month: 11, Day: 4},
			{Month: 12, Day: 31},
		},
	}
}
