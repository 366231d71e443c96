package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vault-rebalancer/internal/models"
	"github.com/vault-rebalancer/internal/types"
)

// Ethereum address regex pattern (0x followed by 40 hexadecimal characters)
var ethereumAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ValidateAddress validates an Ethereum address format
func ValidateAddress(address string) error {
	if !ethereumAddressRegex.MatchString(address) {
		return &types.ServiceError{
			Code:    "INVALID_ADDRESS",
			Message: fmt.Sprintf("invalid address format: %s (must be 0x followed by 40 hexadecimal characters)", address),
			Details: map[string]any{
				"address": address,
				"format":  "0x[a-fA-F0-9]{40}",
			},
		}
	}
	return nil
}

// JobRepository handles scheduled job persistence. A NULL next_run_at on an
// enabled job marks a run currently in flight, which is what keeps a single
// wallet from being fired concurrently with itself.
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new scheduled job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, wallet_address, name, interval_human, enabled,
	next_run_at, last_run_at, last_failed_at, fail_reason, updated_at, created_at`

func scanJob(row pgx.Row) (*models.ScheduledJob, error) {
	var job models.ScheduledJob
	err := row.Scan(
		&job.ID,
		&job.WalletAddress,
		&job.Name,
		&job.IntervalHuman,
		&job.Enabled,
		&job.NextRunAt,
		&job.LastRunAt,
		&job.LastFailedAt,
		&job.FailReason,
		&job.UpdatedAt,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Create inserts a new scheduled job. The unique index on wallet_address
// enforces the one-job-per-wallet invariant at the database level.
func (r *JobRepository) Create(ctx context.Context, job *models.ScheduledJob) error {
	if err := ValidateAddress(job.WalletAddress); err != nil {
		return err
	}
	job.WalletAddress = strings.ToLower(job.WalletAddress)

	query := `
		INSERT INTO scheduled_jobs (
			id, wallet_address, name, interval_human, enabled,
			next_run_at, last_run_at, last_failed_at, fail_reason, updated_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.WalletAddress,
		job.Name,
		job.IntervalHuman,
		job.Enabled,
		job.NextRunAt,
		job.LastRunAt,
		job.LastFailedAt,
		job.FailReason,
		job.UpdatedAt,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled job: %w", err)
	}
	return nil
}

// Update persists mutable job fields
func (r *JobRepository) Update(ctx context.Context, job *models.ScheduledJob) error {
	query := `
		UPDATE scheduled_jobs
		SET name = $2, interval_human = $3, enabled = $4, next_run_at = $5,
			last_run_at = $6, last_failed_at = $7, fail_reason = $8, updated_at = $9
		WHERE id = $1
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.Name,
		job.IntervalHuman,
		job.Enabled,
		job.NextRunAt,
		job.LastRunAt,
		job.LastFailedAt,
		job.FailReason,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled job: %w", err)
	}
	return nil
}

// FindByWallet retrieves the job for a wallet, or nil when none exists
func (r *JobRepository) FindByWallet(ctx context.Context, walletAddress string) (*models.ScheduledJob, error) {
	if err := ValidateAddress(walletAddress); err != nil {
		return nil, err
	}
	walletAddress = strings.ToLower(walletAddress)

	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE wallet_address = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, walletAddress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found, return nil without error
		}
		return nil, fmt.Errorf("failed to find scheduled job: %w", err)
	}
	return job, nil
}

// FindByID retrieves a job by id, or nil when none exists
func (r *JobRepository) FindByID(ctx context.Context, id string) (*models.ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find scheduled job: %w", err)
	}
	return job, nil
}

// ListByWallet returns all jobs for a wallet. The uniqueness invariant makes
// this 0 or 1 rows, but the interface returns a collection for robustness.
func (r *JobRepository) ListByWallet(ctx context.Context, walletAddress string) ([]*models.ScheduledJob, error) {
	if err := ValidateAddress(walletAddress); err != nil {
		return nil, err
	}
	walletAddress = strings.ToLower(walletAddress)

	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE wallet_address = $1 ORDER BY created_at`

	rows, err := r.db.Pool().Query(ctx, query, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Delete removes a job row
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM scheduled_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled job: %w", err)
	}
	return nil
}

// ClaimDue atomically claims up to limit due jobs by clearing next_run_at.
// SKIP LOCKED keeps concurrent runner instances from claiming the same row.
func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	query := `
		UPDATE scheduled_jobs
		SET next_run_at = NULL, updated_at = $1
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE enabled = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
			ORDER BY next_run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns + `
	`

	rows, err := r.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RearmOrphans re-arms enabled jobs whose claim was never resolved. A
// claimed job carries a NULL next_run_at while its run is in flight; if the
// process dies before the run is recorded, the row would otherwise never
// match ClaimDue again. Called once at runner startup.
func (r *JobRepository) RearmOrphans(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE scheduled_jobs
		SET next_run_at = $1, updated_at = $1
		WHERE enabled = TRUE AND next_run_at IS NULL
	`
	tag, err := r.db.Pool().Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to re-arm orphaned jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecordRunSuccess stamps a finished run and re-arms the next firing
func (r *JobRepository) RecordRunSuccess(ctx context.Context, id string, finishedAt, nextRunAt time.Time) error {
	query := `
		UPDATE scheduled_jobs
		SET last_run_at = $2, next_run_at = $3, fail_reason = NULL, updated_at = $2
		WHERE id = $1
	`
	_, err := r.db.Pool().Exec(ctx, query, id, finishedAt, nextRunAt)
	if err != nil {
		return fmt.Errorf("failed to record run success: %w", err)
	}
	return nil
}

// RecordRunFailure stamps a failed run with its reason and re-arms the next
// firing. The runner does not retry automatically.
func (r *JobRepository) RecordRunFailure(ctx context.Context, id string, failedAt time.Time, reason string, nextRunAt time.Time) error {
	query := `
		UPDATE scheduled_jobs
		SET last_failed_at = $2, fail_reason = $3, next_run_at = $4, updated_at = $2
		WHERE id = $1
	`
	_, err := r.db.Pool().Exec(ctx, query, id, failedAt, reason, nextRunAt)
	if err != nil {
		return fmt.Errorf("failed to record run failure: %w", err)
	}
	return nil
}
