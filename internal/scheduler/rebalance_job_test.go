package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	failures map[string]error
	seen     []string
	cancel   context.CancelFunc
}

func (r *scriptedRunner) Run(_ context.Context, account config.Account, opts rebalancing.RunOptions) (*rebalancing.IterationResult, error) {
	r.seen = append(r.seen, account.ID)
	if r.cancel != nil {
		r.cancel()
	}
	if err := r.failures[account.ID]; err != nil {
		return nil, err
	}
	return &rebalancing.IterationResult{
		AccountID:  account.ID,
		Plan:       &rebalancing.Plan{ID: "plan-" + account.ID},
		SkipReason: "market closed",
	}, nil
}

func accounts(ids ...string) []config.Account {
	out := make([]config.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, config.Account{ID: id})
	}
	return out
}

func TestRebalanceJob_RunsEveryAccountInOrder(t *testing.T) {
	runner := &scriptedRunner{}
	job := NewRebalanceJob(context.Background(), accounts("a", "b", "c"), runner, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Equal(t, []string{"a", "b", "c"}, runner.seen)
	assert.Equal(t, "rebalance", job.Name())
}

func TestRebalanceJob_FailureDoesNotStopOtherAccounts(t *testing.T) {
	brokerDown := errors.New("broker down")
	runner := &scriptedRunner{failures: map[string]error{"a": brokerDown}}
	job := NewRebalanceJob(context.Background(), accounts("a", "b"), runner, zerolog.Nop())

	err := job.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, brokerDown)
	assert.Contains(t, err.Error(), "account a")
	assert.Equal(t, []string{"a", "b"}, runner.seen)
}

func TestRebalanceJob_StopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &scriptedRunner{cancel: cancel}
	job := NewRebalanceJob(ctx, accounts("a", "b"), runner, zerolog.Nop())

	err := job.Run()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, runner.seen)
}

func TestRebalanceJob_SkipsAccountAlreadyRunning(t *testing.T) {
	busy := fmt.Errorf("account a: %w", rebalancing.ErrIterationInProgress)
	runner := &scriptedRunner{failures: map[string]error{"a": busy}}
	job := NewRebalanceJob(context.Background(), accounts("a", "b"), runner, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Equal(t, []string{"a", "b"}, runner.seen)
}
