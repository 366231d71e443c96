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
	"github.com/vault-rebalancer/internal/errors"
	"github.com/vault-rebalancer/internal/models"
)

// memoryStore is an in-memory JobStore for manager and runner tests
type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.ScheduledJob // keyed by id
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[string]*models.ScheduledJob)}
}

func (s *memoryStore) Create(ctx context.Context, job *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.WalletAddress == strings.ToLower(job.WalletAddress) {
			return fmt.Errorf("duplicate key value violates unique constraint")
		}
	}
	job.WalletAddress = strings.ToLower(job.WalletAddress)
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *memoryStore) Update(ctx context.Context, job *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s not found", job.ID)
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *memoryStore) FindByWallet(ctx context.Context, walletAddress string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.WalletAddress == strings.ToLower(walletAddress) {
			clone := *job
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) FindByID(ctx context.Context, id string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		clone := *job
		return &clone, nil
	}
	return nil, nil
}

func (s *memoryStore) ListByWallet(ctx context.Context, walletAddress string) ([]*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScheduledJob
	for _, job := range s.jobs {
		if job.WalletAddress == strings.ToLower(walletAddress) {
			clone := *job
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memoryStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []*models.ScheduledJob
	for _, job := range s.jobs {
		if len(claimed) >= limit {
			break
		}
		if job.Enabled && job.NextRunAt != nil && !job.NextRunAt.After(now) {
			job.NextRunAt = nil
			clone := *job
			claimed = append(claimed, &clone)
		}
	}
	return claimed, nil
}

func (s *memoryStore) RearmOrphans(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rearmed int64
	for _, job := range s.jobs {
		if job.Enabled && job.NextRunAt == nil {
			at := now
			job.NextRunAt = &at
			job.UpdatedAt = now
			rearmed++
		}
	}
	return rearmed, nil
}

func (s *memoryStore) RecordRunSuccess(ctx context.Context, id string, finishedAt, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	job.LastRunAt = &finishedAt
	job.NextRunAt = &nextRunAt
	job.FailReason = nil
	return nil
}

func (s *memoryStore) RecordRunFailure(ctx context.Context, id string, failedAt time.Time, reason string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	job.LastFailedAt = &failedAt
	job.FailReason = &reason
	job.NextRunAt = &nextRunAt
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type fakeLiquidator struct {
	err   error
	calls []string // "scheduleID:receiver"
}

func (f *fakeLiquidator) Liquidate(ctx context.Context, ec *ability.ExecutionContext, scheduleID, receiverAddress string) (*models.SwapRecord, error) {
	f.calls = append(f.calls, scheduleID+":"+receiverAddress)
	if f.err != nil {
		return nil, f.err
	}
	return &models.SwapRecord{
		ID:         "swap-1",
		ScheduleID: scheduleID,
		Success:    true,
	}, nil
}

const (
	testWallet   = "0x2222222222222222222222222222222222222222"
	testReceiver = "0x5555555555555555555555555555555555555555"
)

func newTestManager(store JobStore, liquidator Liquidator) *Manager {
	return NewManager(
		store,
		liquidator,
		&config.ChainConfig{ChainID: 8453, Network: "base"},
		&config.AbilityConfig{},
		"weekly",
	)
}

func TestCreateJobFindOrCreate(t *testing.T) {
	store := newMemoryStore()
	mgr := newTestManager(store, &fakeLiquidator{})
	ctx := context.Background()

	first, err := mgr.CreateJob(ctx, testWallet, "my schedule", "daily")
	require.NoError(t, err)
	assert.True(t, first.Enabled)
	assert.Equal(t, "daily", first.IntervalHuman)
	require.NotNil(t, first.NextRunAt)

	// Second create reuses the row, re-arms, and switches the interval
	second, err := mgr.CreateJob(ctx, testWallet, "", "weekly")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "weekly", second.IntervalHuman)
	assert.Equal(t, "my schedule", second.Name)
	assert.True(t, second.Enabled)
	assert.Equal(t, 1, store.count())
}

func TestCreateJobReactivatesDisabled(t *testing.T) {
	store := newMemoryStore()
	mgr := newTestManager(store, &fakeLiquidator{})
	ctx := context.Background()

	created, err := mgr.CreateJob(ctx, testWallet, "", "daily")
	require.NoError(t, err)

	_, err = mgr.DisableJob(ctx, testWallet)
	require.NoError(t, err)

	reactivated, err := mgr.CreateJob(ctx, testWallet, "", "daily")
	require.NoError(t, err)
	assert.Equal(t, created.ID, reactivated.ID)
	assert.True(t, reactivated.Enabled)
	assert.NotNil(t, reactivated.NextRunAt)
}

func TestCreateJobValidation(t *testing.T) {
	mgr := newTestManager(newMemoryStore(), &fakeLiquidator{})
	ctx := context.Background()

	_, err := mgr.CreateJob(ctx, "not-an-address", "", "daily")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidAddress, err.(*errors.CategorizedError).Code)

	_, err = mgr.CreateJob(ctx, testWallet, "", "fortnightly")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParameter, err.(*errors.CategorizedError).Code)
}

func TestCreateJobDefaultInterval(t *testing.T) {
	mgr := newTestManager(newMemoryStore(), &fakeLiquidator{})

	job, err := mgr.CreateJob(context.Background(), testWallet, "", "")
	require.NoError(t, err)
	assert.Equal(t, "weekly", job.IntervalHuman)
}

func TestFindJobMustExist(t *testing.T) {
	mgr := newTestManager(newMemoryStore(), &fakeLiquidator{})
	ctx := context.Background()

	job, err := mgr.FindJob(ctx, testWallet, false)
	require.NoError(t, err)
	assert.Nil(t, job)

	_, err = mgr.FindJob(ctx, testWallet, true)
	require.Error(t, err)
	catErr := err.(*errors.CategorizedError)
	assert.Equal(t, errors.CodeScheduleNotFound, catErr.Code)
	assert.Contains(t, catErr.Message, testWallet)
}

func TestDisableJobIdempotent(t *testing.T) {
	store := newMemoryStore()
	mgr := newTestManager(store, &fakeLiquidator{})
	ctx := context.Background()

	// Disabling a schedule that never existed is a no-op, not an error
	job, err := mgr.DisableJob(ctx, testWallet)
	require.NoError(t, err)
	assert.Nil(t, job)

	_, err = mgr.CreateJob(ctx, testWallet, "", "daily")
	require.NoError(t, err)

	disabled, err := mgr.DisableJob(ctx, testWallet)
	require.NoError(t, err)
	require.NotNil(t, disabled)
	assert.False(t, disabled.Enabled)
	assert.Nil(t, disabled.NextRunAt)

	// Disabling twice changes nothing
	again, err := mgr.DisableJob(ctx, testWallet)
	require.NoError(t, err)
	assert.False(t, again.Enabled)
}

func TestEnableJobMustExist(t *testing.T) {
	store := newMemoryStore()
	mgr := newTestManager(store, &fakeLiquidator{})
	ctx := context.Background()

	_, err := mgr.EnableJob(ctx, testWallet)
	require.Error(t, err)

	_, err = mgr.CreateJob(ctx, testWallet, "", "daily")
	require.NoError(t, err)
	_, err = mgr.DisableJob(ctx, testWallet)
	require.NoError(t, err)

	enabled, err := mgr.EnableJob(ctx, testWallet)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	assert.NotNil(t, enabled.NextRunAt)
}

func TestEditJobReArmsOnlyOnChange(t *testing.T) {
	store := newMemoryStore()
	mgr := newTestManager(store, &fakeLiquidator{})
	ctx := context.Background()

	created, err := mgr.CreateJob(ctx, testWallet, "", "daily")
	require.NoError(t, err)
	originalNext := *created.NextRunAt

	// Same interval: updated_at moves, next firing does not
	same, err := mgr.EditJob(ctx, testWallet, "daily")
	require.NoError(t, err)
	assert.Equal(t, originalNext, *same.NextRunAt)
	assert.True(t, same.UpdatedAt.After(created.CreatedAt) || same.UpdatedAt.Equal(created.CreatedAt))

	changed, err := mgr.EditJob(ctx, testWallet, "hourly")
	require.NoError(t, err)
	assert.Equal(t, "hourly", changed.IntervalHuman)
	assert.NotEqual(t, originalNext, *changed.NextRunAt)
}

func TestEditJobMissingAndInvalid(t *testing.T) {
	mgr := newTestManager(newMemoryStore(), &fakeLiquidator{})
	ctx := context.Background()

	_, err := mgr.EditJob(ctx, testWallet, "daily")
	require.Error(t, err)
	assert.Equal(t, errors.CodeScheduleNotFound, err.(*errors.CategorizedError).Code)

	_, err = mgr.CreateJob(ctx, testWallet, "", "daily")
	require.NoError(t, err)

	_, err = mgr.EditJob(ctx, testWallet, "whenever")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParameter, err.(*errors.CategorizedError).Code)
}

func TestCancelJobLiquidatesAndDeletes(t *testing.T) {
	store := newMemoryStore()
	liq := &fakeLiquidator{}
	mgr := newTestManager(store, liq)
	ctx := context.Background()

	created, err := mgr.CreateJob(ctx, testWallet, "", "daily")
	require.NoError(t, err)

	record, err := mgr.CancelJob(ctx, testWallet, testReceiver)
	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.Equal(t, []string{created.ID + ":" + testReceiver}, liq.calls)
	assert.Equal(t, 0, store.count())
}

func TestCancelJobLiquidationFailureKeepsDisabledJob(t *testing.T) {
	store := newMemoryStore()
	liq := &fakeLiquidator{err: fmt.Errorf("redeem reverted")}
	mgr := newTestManager(store, liq)
	ctx := context.Background()

	_, err := mgr.CreateJob(ctx, testWallet, "", "daily")
	require.NoError(t, err)

	_, err = mgr.CancelJob(ctx, testWallet, "")
	require.Error(t, err)

	// The schedule survives, disabled, so the cancel can be retried
	assert.Equal(t, 1, store.count())
	job, err := mgr.FindJob(ctx, testWallet, true)
	require.NoError(t, err)
	assert.False(t, job.Enabled)
}

func TestCancelJobValidatesReceiver(t *testing.T) {
	mgr := newTestManager(newMemoryStore(), &fakeLiquidator{})

	_, err := mgr.CancelJob(context.Background(), testWallet, "not-an-address")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidAddress, err.(*errors.CategorizedError).Code)
}

func TestCancelJobAbsentIsNoOp(t *testing.T) {
	liq := &fakeLiquidator{}
	mgr := newTestManager(newMemoryStore(), liq)

	// Cancel is retry-safe like disable: a schedule that is already gone
	// is treated as success, and no liquidation runs
	record, err := mgr.CancelJob(context.Background(), testWallet, "")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Empty(t, liq.calls)

	// A second cancel after a completed one behaves the same way
	_, err = mgr.CreateJob(context.Background(), testWallet, "", "daily")
	require.NoError(t, err)
	_, err = mgr.CancelJob(context.Background(), testWallet, "")
	require.NoError(t, err)

	record, err = mgr.CancelJob(context.Background(), testWallet, "")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Len(t, liq.calls, 1)
}
