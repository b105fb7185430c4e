package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/aristath/rebalancer/internal/modules/allocation"
	"github.com/aristath/rebalancer/internal/modules/funding"
	"github.com/aristath/rebalancer/internal/modules/margin"
	"github.com/aristath/rebalancer/internal/modules/snapshots"
	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/rs/zerolog"
)

// ErrIterationInProgress is returned when a submitting iteration for the same
// account is already running
var ErrIterationInProgress = errors.New("iteration already in progress")

// CatalogFactory returns a fresh instrument catalog for one iteration
type CatalogFactory func() domain.InstrumentCatalog

// Calendar is the trading calendar an iteration consults
type Calendar interface {
	IsMarketOpen(t time.Time) bool
	CloseTime(t time.Time, override string) (time.Time, error)
}

// RunOptions changes what an iteration is allowed to do
type RunOptions struct {
	// Preview builds the plan only: nothing is submitted or persisted
	Preview bool
}

// IterationResult is the outcome of one account iteration
type IterationResult struct {
	AccountID  string            `json:"account_id"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration"`
	Built      allocation.Result `json:"built"`
	Damped     domain.Allocation `json:"damped"`
	Plan       *Plan             `json:"plan"`
	Executed   bool              `json:"executed"`
	SkipReason string            `json:"skip_reason,omitempty"`
	Execution  *trading.Report   `json:"execution,omitempty"`
	Final      domain.Allocation `json:"final"`
}

// Runner runs account iterations: build, damp, assemble, execute, persist
type Runner struct {
	broker       domain.BrokerClient
	catalogs     CatalogFactory
	builder      *allocation.Builder
	damper       *snapshots.Damper
	service      *Service
	executor     *trading.Executor
	calendar     Calendar
	canonicalize *domain.Canonicalizer
	dryRun       bool
	location     *time.Location
	now          func() time.Time
	log          zerolog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// NewRunner creates a new iteration runner
func NewRunner(
	broker domain.BrokerClient,
	catalogs CatalogFactory,
	builder *allocation.Builder,
	damper *snapshots.Damper,
	service *Service,
	executor *trading.Executor,
	calendar Calendar,
	canonicalize *domain.Canonicalizer,
	dryRun bool,
	location *time.Location,
	log zerolog.Logger,
) *Runner {
	if location == nil {
		location = time.UTC
	}
	return &Runner{
		broker:       broker,
		catalogs:     catalogs,
		builder:      builder,
		damper:       damper,
		service:      service,
		executor:     executor,
		calendar:     calendar,
		canonicalize: canonicalize,
		dryRun:       dryRun,
		location:     location,
		now:          time.Now,
		log:          log.With().Str("service", "iteration").Logger(),
		running:      make(map[string]bool),
	}
}

// acquire marks accountID as running. It reports false when another
// submitting iteration for the account holds it.
func (r *Runner) acquire(accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[accountID] {
		return false
	}
	r.running[accountID] = true
	return true
}

func (r *Runner) release(accountID string) {
	r.mu.Lock()
	delete(r.running, accountID)
	r.mu.Unlock()
}

// Run performs one iteration for an account. A StrictDataError from the
// desired wallet builder is returned wrapped and halts the iteration.
// Submitting iterations of one account never overlap: a second one returns
// ErrIterationInProgress without touching the broker. Previews are not serialized.
func (r *Runner) Run(ctx context.Context, account config.Account, opts RunOptions) (*IterationResult, error) {
	log := r.log.With().Str("account_id", account.ID).Bool("preview", opts.Preview).Logger()
	if !opts.Preview {
		if !r.acquire(account.ID) {
			log.Warn().Msg("Iteration already running for account, skipping")
			return nil, fmt.Errorf("account %s: %w", account.ID, ErrIterationInProgress)
		}
		defer r.release(account.ID)
	}

	start := time.Now()
	now := r.now().In(r.location)

	result, err := r.run(ctx, account, opts, now, log)

	status := "success"
	var strictErr *allocation.StrictDataError
	switch {
	case errors.As(err, &strictErr):
		status = "strict_data_error"
	case err != nil:
		status = "failed"
	}
	metrics.IterationsTotal.WithLabelValues(account.ID, status).Inc()
	metrics.IterationDuration.WithLabelValues(account.ID).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error().Err(err).Str("status", status).Msg("Rebalancing iteration failed")
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (r *Runner) run(
	ctx context.Context,
	account config.Account,
	opts RunOptions,
	now time.Time,
	log zerolog.Logger,
) (*IterationResult, error) {
	result := &IterationResult{AccountID: account.ID, StartedAt: now}

	wallet, err := r.broker.GetPortfolio(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	wallet = r.canonicalize.Wallet(wallet)

	built, err := r.builder.Build(ctx, account.Mode, r.canonicalize.Allocation(account.DesiredWallet))
	if err != nil {
		return nil, fmt.Errorf("failed to build desired wallet: %w", err)
	}
	result.Built = built

	desired := r.canonicalize.Allocation(built.Allocation)
	damped := r.damper.Apply(ctx, account.ID, now, desired, account.DampingMultiplier)
	result.Damped = damped

	marginPlanner := margin.NewPlanner(account.Margin, log)
	fundingPlanner := funding.NewPlanner(account.Funding, r.canonicalize, log)

	var unwind *margin.UnwindDecision
	if account.Margin.Enabled {
		closeAt, err := r.calendar.CloseTime(now, account.MarketClose)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve market close: %w", err)
		}
		positions := marginPlanner.IdentifyMarginPositions(wallet, allocation.Normalize(damped))
		decision := marginPlanner.UnwindDecision(positions, account.Margin.Strategy, now, account.BalanceInterval, closeAt)
		unwind = &decision
	}

	plan, err := r.service.Assemble(ctx, Request{
		AccountID:        account.ID,
		Wallet:           wallet,
		Desired:          damped,
		Catalog:          r.catalogs(),
		Margin:           marginPlanner,
		Funding:          fundingPlanner,
		MinProfitPercent: account.MinProfitPercent,
		Unwind:           unwind,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assemble plan: %w", err)
	}
	result.Plan = plan
	result.Final = plan.Projected

	if opts.Preview {
		result.SkipReason = "preview"
		return result, nil
	}

	switch {
	case len(plan.Entries) == 0:
		result.SkipReason = "nothing to trade"
	case r.dryRun:
		result.SkipReason = "dry run"
	case r.executor == nil:
		result.SkipReason = "no executor"
	case !r.calendar.IsMarketOpen(now):
		result.SkipReason = "market closed"
	default:
		held := make(map[string]int, len(wallet))
		for _, pos := range wallet {
			if !pos.IsCash() && pos.InstrumentID != "" {
				held[pos.InstrumentID] = pos.WholeLots()
			}
		}
		report := r.executor.Execute(ctx, plan.ID, plan.Orders(), held)
		result.Execution = &report
		result.Executed = true
		result.Final = r.finalPercentages(ctx, account.ID, plan, report)
	}
	if result.SkipReason != "" {
		log.Info().Str("plan_id", plan.ID).Str("reason", result.SkipReason).Msg("Orders not submitted")
	}

	if account.DampingMultiplier > 0 {
		if err := r.damper.Persist(ctx, account.ID, now, damped); err != nil {
			log.Error().Err(err).Msg("Failed to persist damped allocation")
		}
	}

	log.Info().
		Str("plan_id", plan.ID).
		Int("entries", len(plan.Entries)).
		Bool("executed", result.Executed).
		Msg("Rebalancing iteration completed")

	return result, nil
}

// finalPercentages reads the portfolio after execution and falls back to the
// simulated outcome when it cannot be fetched
func (r *Runner) finalPercentages(ctx context.Context, accountID string, plan *Plan, report trading.Report) domain.Allocation {
	if report.Submitted == 0 {
		return plan.Projected
	}
	wallet, err := r.broker.GetPortfolio(ctx, accountID)
	if err != nil {
		r.log.Warn().Err(err).Str("account_id", accountID).Msg("Failed to refresh portfolio, reporting simulated percentages")
		return plan.Projected
	}
	return FinalPercentages(r.canonicalize.Wallet(wallet))
}
