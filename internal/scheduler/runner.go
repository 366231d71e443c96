package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/vault-rebalancer/internal/ability"
	"github.com/vault-rebalancer/internal/config"
	"github.com/vault-rebalancer/internal/logging"
	"github.com/vault-rebalancer/internal/models"
)

// JobRunner executes one rebalancing pass for a wallet
type JobRunner interface {
	Run(ctx context.Context, ec *ability.ExecutionContext, scheduleID string) (*models.SwapRecord, error)
}

const (
	claimBatchSize = 10
	maxConcurrent  = 4
	// fail_reason column budget; full errors go to the log
	maxFailReasonLen = 512
)

// Runner polls for due schedules and executes them. Claiming clears
// next_run_at atomically, so two runner instances never fire the same
// wallet, and a claimed job is re-armed only after its run finishes.
type Runner struct {
	store      JobStore
	handler    JobRunner
	chainCfg   *config.ChainConfig
	abilityCfg *config.AbilityConfig

	pollInterval time.Duration
	logger       *logging.Logger

	sem    chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a schedule runner
func NewRunner(store JobStore, handler JobRunner, chainCfg *config.ChainConfig, abilityCfg *config.AbilityConfig, schedulerCfg *config.SchedulerConfig, logger *logging.Logger) *Runner {
	return &Runner{
		store:        store,
		handler:      handler,
		chainCfg:     chainCfg,
		abilityCfg:   abilityCfg,
		pollInterval: schedulerCfg.PollInterval,
		logger:       logger.WithField("component", "scheduler"),
		sem:          make(chan struct{}, maxConcurrent),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the poll loop. It returns immediately; jobs run on worker
// goroutines until Stop is called. Schedules left claimed by a previous
// process that died mid-run are re-armed first so they fire again.
func (r *Runner) Start(ctx context.Context) {
	rearmed, err := r.store.RearmOrphans(ctx, time.Now().UTC())
	if err != nil {
		r.logger.WithError(err).Error("Failed to re-arm orphaned schedules")
	} else if rearmed > 0 {
		r.logger.WithField("rearmed", rearmed).Warn("Re-armed schedules orphaned by an unclean shutdown")
	}

	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.WithField("pollInterval", r.pollInterval).Info("Schedule runner started")
}

// Stop halts the poll loop and waits for in-flight jobs to finish
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("Schedule runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.dispatchDue(ctx)
		}
	}
}

func (r *Runner) dispatchDue(ctx context.Context) {
	jobs, err := r.store.ClaimDue(ctx, time.Now().UTC(), claimBatchSize)
	if err != nil {
		r.logger.WithError(err).Error("Failed to claim due schedules")
		return
	}
	if len(jobs) == 0 {
		return
	}

	r.logger.WithField("claimed", len(jobs)).Debug("Claimed due schedules")
	for _, job := range jobs {
		r.sem <- struct{}{}
		r.wg.Add(1)
		go func(job *models.ScheduledJob) {
			defer r.wg.Done()
			defer func() { <-r.sem }()
			r.runJob(ctx, job)
		}(job)
	}
}

// runJob executes one claimed schedule and re-arms it. Failures are recorded
// with a short reason and wait for the next regular firing; there is no
// automatic retry.
func (r *Runner) runJob(ctx context.Context, job *models.ScheduledJob) {
	logger := r.logger.WithFields(map[string]interface{}{
		"scheduleId":    job.ID,
		"walletAddress": job.WalletAddress,
	})
	ctx = logging.WithLogger(ctx, logger)

	ec := ability.NewExecutionContext(r.chainCfg, r.abilityCfg, job.WalletAddress)
	_, runErr := r.handler.Run(ctx, ec, job.ID)

	finishedAt := time.Now().UTC()
	nextRun, err := NextRun(finishedAt, job.IntervalHuman)
	if err != nil {
		// Interval was validated on write; treat corruption as a daily retry
		logger.WithError(err).Error("Stored interval is invalid")
		nextRun = finishedAt.Add(24 * time.Hour)
	}

	if runErr != nil {
		reason := runErr.Error()
		if len(reason) > maxFailReasonLen {
			reason = reason[:maxFailReasonLen]
		}
		if err := r.store.RecordRunFailure(ctx, job.ID, finishedAt, reason, nextRun); err != nil {
			logger.WithError(err).Error("Failed to record run failure")
		}
		return
	}

	if err := r.store.RecordRunSuccess(ctx, job.ID, finishedAt, nextRun); err != nil {
		logger.WithError(err).Error("Failed to record run success")
	}
}
