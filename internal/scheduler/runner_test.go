package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vault-rebalancer/internal/ability"
	"github.com/vault-rebalancer/internal/config"
	"github.com/vault-rebalancer/internal/logging"
	"github.com/vault-rebalancer/internal/models"
)

type countingHandler struct {
	mu   sync.Mutex
	runs []string // schedule ids in run order
	err  error
}

func (h *countingHandler) Run(ctx context.Context, ec *ability.ExecutionContext, scheduleID string) (*models.SwapRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, scheduleID)
	if h.err != nil {
		return nil, h.err
	}
	return &models.SwapRecord{ID: "swap", ScheduleID: scheduleID, Success: true}, nil
}

func (h *countingHandler) runCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs)
}

func newTestRunner(store JobStore, handler JobRunner) *Runner {
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	return NewRunner(
		store,
		handler,
		&config.ChainConfig{ChainID: 8453, Network: "base"},
		&config.AbilityConfig{},
		&config.SchedulerConfig{PollInterval: 10 * time.Millisecond},
		logger,
	)
}

func seedDueJob(t *testing.T, store *memoryStore, wallet string) *models.ScheduledJob {
	t.Helper()
	due := time.Now().UTC().Add(-time.Minute)
	job := &models.ScheduledJob{
		ID:            "sched-" + wallet[2:6],
		WalletAddress: wallet,
		IntervalHuman: "hourly",
		Enabled:       true,
		NextRunAt:     &due,
		UpdatedAt:     time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestRunnerExecutesDueJobAndReArms(t *testing.T) {
	store := newMemoryStore()
	handler := &countingHandler{}
	job := seedDueJob(t, store, testWallet)

	runner := newTestRunner(store, handler)
	runner.Start(context.Background())

	require.Eventually(t, func() bool {
		return handler.runCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	runner.Stop()

	updated, err := store.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now().UTC()))
	assert.NotNil(t, updated.LastRunAt)
	assert.Nil(t, updated.FailReason)
}

func TestRunnerDoesNotFireClaimedJobTwice(t *testing.T) {
	store := newMemoryStore()
	handler := &countingHandler{}
	seedDueJob(t, store, testWallet)

	runner := newTestRunner(store, handler)
	runner.Start(context.Background())

	// Give the poll loop several ticks; the claim cleared next_run_at so the
	// job must fire exactly once until it is re-armed in the future
	time.Sleep(150 * time.Millisecond)
	runner.Stop()

	assert.Equal(t, 1, handler.runCount())
}

func TestRunnerRecordsFailureWithReason(t *testing.T) {
	store := newMemoryStore()
	handler := &countingHandler{err: fmt.Errorf("ability failure: %s", strings.Repeat("x", 1000))}
	job := seedDueJob(t, store, testWallet)

	runner := newTestRunner(store, handler)
	runner.Start(context.Background())

	require.Eventually(t, func() bool {
		return handler.runCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	runner.Stop()

	updated, err := store.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.FailReason)
	assert.LessOrEqual(t, len(*updated.FailReason), maxFailReasonLen)
	assert.NotNil(t, updated.LastFailedAt)
	// Failed runs still get re-armed for the next regular firing
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now().UTC()))
}

func TestRunnerRearmsOrphanedClaimOnStart(t *testing.T) {
	store := newMemoryStore()
	handler := &countingHandler{}

	// An enabled job with no next firing is a claim left behind by a process
	// that died mid-run; a fresh runner must pick it up again
	job := seedDueJob(t, store, testWallet)
	job.NextRunAt = nil
	require.NoError(t, store.Update(context.Background(), job))

	runner := newTestRunner(store, handler)
	runner.Start(context.Background())

	require.Eventually(t, func() bool {
		return handler.runCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	runner.Stop()

	updated, err := store.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now().UTC()))
}

func TestRunnerSkipsDisabledJobs(t *testing.T) {
	store := newMemoryStore()
	handler := &countingHandler{}
	job := seedDueJob(t, store, testWallet)
	job.Enabled = false
	require.NoError(t, store.Update(context.Background(), job))

	runner := newTestRunner(store, handler)
	runner.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	runner.Stop()

	assert.Equal(t, 0, handler.runCount())
}
