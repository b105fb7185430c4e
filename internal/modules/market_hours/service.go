// Package market_hours provides the trading calendar of the exchange.
package market_hours

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Service answers trading calendar questions for one exchange
type Service struct {
	config ExchangeConfig

	mu           sync.Mutex
	holidayCache map[int]map[string]bool // year -> date set
}

// NewService creates a new market hours service
func NewService(config ExchangeConfig) *Service {
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	return &Service{
		config:       config,
		holidayCache: make(map[int]map[string]bool),
	}
}

// Exchange returns the exchange configuration
func (s *Service) Exchange() ExchangeConfig {
	return s.config
}

// IsTradingDay reports whether the exchange trades on the date of t
func (s *Service) IsTradingDay(t time.Time) bool {
	marketTime := t.In(s.config.Timezone)
	if marketTime.Weekday() == time.Saturday || marketTime.Weekday() == time.Sunday {
		return false
	}
	return !s.isHoliday(marketTime)
}

// IsMarketOpen checks if the market is open for trading at t
func (s *Service) IsMarketOpen(t time.Time) bool {
	if !s.IsTradingDay(t) {
		return false
	}
	marketTime := t.In(s.config.Timezone)
	openTime := s.at(marketTime, s.config.TradingHours.OpenHour, s.config.TradingHours.OpenMinute)
	closeTime := s.at(marketTime, s.config.TradingHours.CloseHour, s.config.TradingHours.CloseMinute)

	// Market is open in [open, close)
	return !marketTime.Before(openTime) && marketTime.Before(closeTime)
}

// CloseTime returns the close of the session on the date of t. override is an
// optional "HH:MM" close in the exchange timezone.
func (s *Service) CloseTime(t time.Time, override string) (time.Time, error) {
	marketTime := t.In(s.config.Timezone)
	hour, minute := s.config.TradingHours.CloseHour, s.config.TradingHours.CloseMinute
	if override != "" {
		clock, err := time.Parse("15:04", override)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid close time %q: %w", override, err)
		}
		hour, minute = clock.Hour(), clock.Minute()
	}
	return s.at(marketTime, hour, minute), nil
}

// Holidays returns the holidays of a year in date order
func (s *Service) Holidays(year int) []string {
	set := s.holidaysForYear(year)
	dates := make([]string, 0, len(set))
	for date := range set {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// GetMarketStatus returns detailed status for the market at t
func (s *Service) GetMarketStatus(t time.Time) *MarketStatus {
	marketTime := t.In(s.config.Timezone)
	status := &MarketStatus{
		Open:     s.IsMarketOpen(t),
		Exchange: s.config.Code,
		Timezone: s.config.Timezone.String(),
	}

	if status.Open {
		closeTime := s.at(marketTime, s.config.TradingHours.CloseHour, s.config.TradingHours.CloseMinute)
		status.ClosesAt = closeTime.Format("15:04")
		return status
	}

	if nextOpen := s.findNextTradingSession(marketTime); nextOpen != nil {
		status.OpensAt = nextOpen.Format("15:04")
		if nextOpen.YearDay() != marketTime.YearDay() || nextOpen.Year() != marketTime.Year() {
			status.OpensDate = nextOpen.Format("2006-01-02")
		}
	}
	return status
}

// findNextTradingSession finds the next time the market will open, up to two weeks ahead
func (s *Service) findNextTradingSession(marketTime time.Time) *time.Time {
	for i := 0; i < 14; i++ {
		day := marketTime.AddDate(0, 0, i)
		if !s.IsTradingDay(day) {
			continue
		}
		openTime := s.at(day, s.config.TradingHours.OpenHour, s.config.TradingHours.OpenMinute)
		if i == 0 && !marketTime.Before(openTime) {
			continue
		}
		return &openTime
	}
	return nil
}

func (s *Service) isHoliday(marketTime time.Time) bool {
	return s.holidaysForYear(marketTime.Year())[marketTime.Format("2006-01-02")]
}

func (s *Service) holidaysForYear(year int) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if holidays, ok := s.holidayCache[year]; ok {
		return holidays
	}

	holidays := make(map[string]bool, len(s.config.Holidays))
	for _, h := range s.config.Holidays {
		date := time.Date(year, time.Month(h.Month), h.Day, 0, 0, 0, 0, s.config.Timezone)
		holidays[date.Format("2006-01-02")] = true
	}
	s.holidayCache[year] = holidays
	return holidays
}

func (s *Service) at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, s.config.Timezone)
}
