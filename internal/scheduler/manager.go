package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vault-rebalancer/internal/ability"
	"github.com/vault-rebalancer/internal/config"
	"github.com/vault-rebalancer/internal/errors"
	"github.com/vault-rebalancer/internal/logging"
	"github.com/vault-rebalancer/internal/models"
	"github.com/vault-rebalancer/internal/storage"
)

// JobStore is the persistence surface the scheduler depends on
type JobStore interface {
	Create(ctx context.Context, job *models.ScheduledJob) error
	Update(ctx context.Context, job *models.ScheduledJob) error
	FindByWallet(ctx context.Context, walletAddress string) (*models.ScheduledJob, error)
	FindByID(ctx context.Context, id string) (*models.ScheduledJob, error)
	ListByWallet(ctx context.Context, walletAddress string) ([]*models.ScheduledJob, error)
	Delete(ctx context.Context, id string) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error)
	RearmOrphans(ctx context.Context, now time.Time) (int64, error)
	RecordRunSuccess(ctx context.Context, id string, finishedAt, nextRunAt time.Time) error
	RecordRunFailure(ctx context.Context, id string, failedAt time.Time, reason string, nextRunAt time.Time) error
}

// Liquidator exits all positions for a wallet when its schedule is cancelled
type Liquidator interface {
	Liquidate(ctx context.Context, ec *ability.ExecutionContext, scheduleID, receiverAddress string) (*models.SwapRecord, error)
}

// Manager implements schedule lifecycle operations. Schedules are keyed by
// wallet address; a wallet has at most one.
type Manager struct {
	store           JobStore
	liquidator      Liquidator
	chainCfg        *config.ChainConfig
	abilityCfg      *config.AbilityConfig
	defaultInterval string
	now             func() time.Time
}

// NewManager creates a schedule manager
func NewManager(store JobStore, liquidator Liquidator, chainCfg *config.ChainConfig, abilityCfg *config.AbilityConfig, defaultInterval string) *Manager {
	return &Manager{
		store:           store,
		liquidator:      liquidator,
		chainCfg:        chainCfg,
		abilityCfg:      abilityCfg,
		defaultInterval: defaultInterval,
		now:             time.Now,
	}
}

// CreateJob finds or creates the schedule for a wallet. An existing schedule
// is re-armed and enabled rather than duplicated, so calling this twice is
// an idempotent activate.
func (m *Manager) CreateJob(ctx context.Context, walletAddress, name, interval string) (*models.ScheduledJob, error) {
	if err := storage.ValidateAddress(walletAddress); err != nil {
		return nil, errors.NewInvalidAddressError(walletAddress)
	}
	if interval == "" {
		interval = m.defaultInterval
	}
	if _, err := ParseInterval(interval); err != nil {
		return nil, errors.NewInvalidParameterError("interval", err.Error())
	}

	now := m.now().UTC()
	nextRun, _ := NextRun(now, interval)

	job, err := m.store.FindByWallet(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if job != nil {
		job.IntervalHuman = interval
		job.Enabled = true
		job.NextRunAt = &nextRun
		job.UpdatedAt = now
		if name != "" {
			job.Name = name
		}
		if err := m.store.Update(ctx, job); err != nil {
			return nil, err
		}
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"scheduleId":    job.ID,
			"walletAddress": job.WalletAddress,
		}).Info("Reactivated existing schedule")
		return job, nil
	}

	job = &models.ScheduledJob{
		ID:            uuid.New().String(),
		WalletAddress: walletAddress,
		Name:          name,
		IntervalHuman: interval,
		Enabled:       true,
		NextRunAt:     &nextRun,
		UpdatedAt:     now,
		CreatedAt:     now,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"scheduleId":    job.ID,
		"walletAddress": job.WalletAddress,
		"interval":      interval,
	}).Info("Created schedule")
	return job, nil
}

// FindJob returns a wallet's schedule. With mustExist set, a missing
// schedule is an error naming the wallet; otherwise nil is returned.
func (m *Manager) FindJob(ctx context.Context, walletAddress string, mustExist bool) (*models.ScheduledJob, error) {
	job, err := m.store.FindByWallet(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if job == nil && mustExist {
		return nil, errors.NewScheduleNotFoundError(walletAddress)
	}
	return job, nil
}

// FindJobByID returns a schedule by id, or nil when absent
func (m *Manager) FindJobByID(ctx context.Context, id string) (*models.ScheduledJob, error) {
	return m.store.FindByID(ctx, id)
}

// ListJobsByWallet returns a wallet's schedules. At most one exists, but the
// result is a collection.
func (m *Manager) ListJobsByWallet(ctx context.Context, walletAddress string) ([]*models.ScheduledJob, error) {
	return m.store.ListByWallet(ctx, walletAddress)
}

// EnableJob re-enables a wallet's schedule and re-arms the next firing
func (m *Manager) EnableJob(ctx context.Context, walletAddress string) (*models.ScheduledJob, error) {
	job, err := m.FindJob(ctx, walletAddress, true)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	nextRun, err := NextRun(now, job.IntervalHuman)
	if err != nil {
		return nil, errors.NewInvalidParameterError("interval", err.Error())
	}

	job.Enabled = true
	job.NextRunAt = &nextRun
	job.UpdatedAt = now
	if err := m.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// DisableJob disables a wallet's schedule. Disabling a schedule that does
// not exist is not an error; the result is nil.
func (m *Manager) DisableJob(ctx context.Context, walletAddress string) (*models.ScheduledJob, error) {
	job, err := m.store.FindByWallet(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	job.Enabled = false
	job.NextRunAt = nil
	job.UpdatedAt = m.now().UTC()
	if err := m.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// EditJob changes a schedule's interval. The next firing is re-armed only
// when the interval actually changed; updated_at is always touched.
func (m *Manager) EditJob(ctx context.Context, walletAddress, newInterval string) (*models.ScheduledJob, error) {
	job, err := m.FindJob(ctx, walletAddress, true)
	if err != nil {
		return nil, err
	}
	if _, err := ParseInterval(newInterval); err != nil {
		return nil, errors.NewInvalidParameterError("interval", err.Error())
	}

	now := m.now().UTC()
	if job.IntervalHuman != newInterval {
		nextRun, _ := NextRun(now, newInterval)
		job.IntervalHuman = newInterval
		job.NextRunAt = &nextRun
	}
	job.UpdatedAt = now

	if err := m.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// CancelJob tears a schedule down: disable it, liquidate every position the
// wallet holds, optionally pay the balance out to a receiver, then remove
// the schedule. The ledger keeps the liquidation record after the schedule
// row is gone. Cancelling a wallet with no schedule is a no-op, like
// DisableJob, so a client retrying a cancel that already completed still
// succeeds.
func (m *Manager) CancelJob(ctx context.Context, walletAddress, receiverAddress string) (*models.SwapRecord, error) {
	if receiverAddress != "" {
		if err := storage.ValidateAddress(receiverAddress); err != nil {
			return nil, errors.NewInvalidAddressError(receiverAddress)
		}
	}

	job, err := m.FindJob(ctx, walletAddress, false)
	if err != nil {
		return nil, err
	}
	if job == nil {
		logging.FromContext(ctx).WithField("walletAddress", walletAddress).
			Debug("Cancel of absent schedule, nothing to do")
		return nil, nil
	}

	// Stop future firings before touching funds
	if _, err := m.DisableJob(ctx, walletAddress); err != nil {
		return nil, err
	}

	ec := ability.NewExecutionContext(m.chainCfg, m.abilityCfg, job.WalletAddress)
	record, err := m.liquidator.Liquidate(ctx, ec, job.ID, receiverAddress)
	if err != nil {
		// The schedule stays disabled but present so the cancel can be retried
		return nil, err
	}

	if err := m.store.Delete(ctx, job.ID); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"scheduleId":    job.ID,
		"walletAddress": job.WalletAddress,
		"redeems":       len(record.Redeems),
	}).Info("Cancelled schedule and liquidated positions")
	return record, nil
}
