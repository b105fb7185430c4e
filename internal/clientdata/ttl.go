package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Fund AUM and market cap move slowly relative to the rebalancing cadence
	TTLValuationMetrics = 24 * time.Hour

	// Instrument metadata (lot size, currency) rarely changes
	TTLInstrument = 7 * 24 * time.Hour

	TTLExchangeRate = time.Hour
)
