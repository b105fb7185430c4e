package snapshots

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/allocation"
	"github.com/rs/zerolog"
)

// Damper limits how far an allocation can move from the one persisted earlier
// the same day. A multiplier of 0 disables damping, 100 jumps straight to the
// new allocation.
type Damper struct {
	store Store
	log   zerolog.Logger
}

// NewDamper creates a new damper
func NewDamper(store Store, log zerolog.Logger) *Damper {
	return &Damper{
		store: store,
		log:   log.With().Str("service", "diff_damper").Logger(),
	}
}

// ClampMultiplier bounds a damping multiplier to [0, 100]
func ClampMultiplier(m float64) float64 {
	if math.IsNaN(m) {
		return 0
	}
	return math.Max(0, math.Min(100, m))
}

// Apply blends fresh with today's snapshot. Without a snapshot, with damping
// disabled, or when the snapshot cannot be read, fresh is returned unchanged.
func (d *Damper) Apply(
	ctx context.Context,
	accountID string,
	now time.Time,
	fresh domain.Allocation,
	multiplier float64,
) domain.Allocation {
	m := ClampMultiplier(multiplier)
	if m == 0 {
		return fresh.Clone()
	}

	date := DateKey(now)
	prior, err := d.store.Read(ctx, accountID, date)
	if err != nil {
		d.log.Warn().Err(err).Str("account_id", accountID).Msg("Failed to read snapshot, skipping damping")
		return fresh.Clone()
	}
	if prior == nil || len(prior.Allocation) == 0 {
		d.log.Debug().Str("account_id", accountID).Str("date", date).Msg("No snapshot for today, skipping damping")
		return fresh.Clone()
	}

	return Blend(prior.Allocation, fresh, m)
}

// Blend interpolates every ticker of either allocation from prior toward fresh
// by m percent, clamps at zero and renormalizes to 100. fresh is normalized
// first so both sides are on the same scale.
func Blend(prior, fresh domain.Allocation, m float64) domain.Allocation {
	m = ClampMultiplier(m)
	target := allocation.Normalize(fresh)

	out := make(domain.Allocation, len(prior)+len(target))
	for ticker := range prior {
		out[ticker] = 0
	}
	for ticker := range target {
		out[ticker] = 0
	}
	for ticker := range out {
		from := prior[ticker]
		to := target[ticker]
		out[ticker] = math.Max(0, from+(to-from)*m/100)
	}

	return allocation.Normalize(out)
}

// Persist replaces today's snapshot with the final allocation
func (d *Damper) Persist(ctx context.Context, accountID string, now time.Time, final domain.Allocation) error {
	snapshot := Snapshot{
		AccountID:  accountID,
		Date:       DateKey(now),
		Allocation: final.Clone(),
		UpdatedAt:  now,
	}
	if err := d.store.Write(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}
