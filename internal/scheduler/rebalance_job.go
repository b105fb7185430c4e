package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/rs/zerolog"
)

// AccountRunner runs one account iteration
type AccountRunner interface {
	Run(ctx context.Context, account config.Account, opts rebalancing.RunOptions) (*rebalancing.IterationResult, error)
}

// RebalanceJob runs an iteration for every configured account, one after the
// other. A failing account is logged and the remaining accounts still run.
type RebalanceJob struct {
	ctx      context.Context
	accounts []config.Account
	runner   AccountRunner
	log      zerolog.Logger
}

// NewRebalanceJob creates a new rebalance job. ctx bounds every scheduled run.
func NewRebalanceJob(ctx context.Context, accounts []config.Account, runner AccountRunner, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		ctx:      ctx,
		accounts: accounts,
		runner:   runner,
		log:      log.With().Str("job", "rebalance").Logger(),
	}
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "rebalance"
}

// Run executes one iteration per account
func (j *RebalanceJob) Run() error {
	return j.RunContext(j.ctx)
}

// RunContext executes one iteration per account and returns the joined
// failures. An account whose iteration is already running elsewhere is skipped,
// not failed. Cancelling ctx stops before the next account.
func (j *RebalanceJob) RunContext(ctx context.Context) error {
	var errs []error
	succeeded, skipped := 0, 0

	for _, account := range j.accounts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		result, err := j.runner.Run(ctx, account, rebalancing.RunOptions{})
		if errors.Is(err, rebalancing.ErrIterationInProgress) {
			skipped++
			j.log.Warn().Str("account_id", account.ID).Msg("Account iteration already running, skipped")
			continue
		}
		if err != nil {
			j.log.Error().Err(err).Str("account_id", account.ID).Msg("Account iteration failed, continuing with next account")
			errs = append(errs, fmt.Errorf("account %s: %w", account.ID, err))
			continue
		}

		succeeded++
		event := j.log.Info().
			Str("account_id", account.ID).
			Bool("executed", result.Executed).
			Dur("duration", result.Duration)
		if result.Plan != nil {
			event = event.Str("plan_id", result.Plan.ID).Int("orders", len(result.Plan.Entries))
		}
		if result.SkipReason != "" {
			event = event.Str("skip_reason", result.SkipReason)
		}
		event.Msg("Account iteration finished")
	}

	j.log.Info().
		Int("accounts", len(j.accounts)).
		Int("succeeded", succeeded).
		Int("skipped", skipped).
		Int("failed", len(errs)).
		Msg("Rebalance run completed")

	return errors.Join(errs...)
}
