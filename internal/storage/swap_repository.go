package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vault-rebalancer/internal/models"
	"github.com/vault-rebalancer/internal/types"
)

// SwapRepository handles swap ledger persistence in ClickHouse. Records are
// append-only; there is no update path.
type SwapRepository struct {
	db *ClickHouseDB
}

// NewSwapRepository creates a new swap ledger repository
func NewSwapRepository(db *ClickHouseDB) *SwapRepository {
	return &SwapRepository{db: db}
}

// Insert appends one swap record to the ledger. Nested result lists are
// stored as JSON strings so the row stays flat and the schema stable.
func (r *SwapRepository) Insert(ctx context.Context, record *models.SwapRecord) error {
	redeems, err := json.Marshal(record.Redeems)
	if err != nil {
		return fmt.Errorf("failed to marshal redeems: %w", err)
	}
	deposits, err := json.Marshal(record.Deposits)
	if err != nil {
		return fmt.Errorf("failed to marshal deposits: %w", err)
	}
	transfers, err := json.Marshal(record.Transfers)
	if err != nil {
		return fmt.Errorf("failed to marshal transfers: %w", err)
	}
	topVault, err := marshalOptional(record.TopVault)
	if err != nil {
		return fmt.Errorf("failed to marshal top vault: %w", err)
	}
	userPositions, err := marshalOptional(record.UserPositions)
	if err != nil {
		return fmt.Errorf("failed to marshal user positions: %w", err)
	}
	tokenBalance, err := marshalOptional(record.TokenBalance)
	if err != nil {
		return fmt.Errorf("failed to marshal token balance: %w", err)
	}

	query := `
		INSERT INTO swap_records (
			id, schedule_id, wallet_address, success,
			redeems, deposits, transfers,
			top_vault, user_positions, token_balance, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = r.db.Conn().Exec(ctx, query,
		record.ID,
		record.ScheduleID,
		record.WalletAddress,
		boolToUInt8(record.Success),
		string(redeems),
		string(deposits),
		string(transfers),
		topVault,
		userPositions,
		tokenBalance,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert swap record: %w", err)
	}
	return nil
}

// ListBySchedule returns ledger entries for a schedule, newest first
func (r *SwapRepository) ListBySchedule(ctx context.Context, scheduleID string, limit, skip int) ([]*models.SwapRecord, error) {
	query := `
		SELECT id, schedule_id, wallet_address, success,
			redeems, deposits, transfers,
			top_vault, user_positions, token_balance, created_at
		FROM swap_records
		WHERE schedule_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	return r.list(ctx, query, scheduleID, limit, skip)
}

// ListByWallet returns ledger entries for a wallet across all of its past
// and present schedules, newest first
func (r *SwapRepository) ListByWallet(ctx context.Context, walletAddress string, limit, skip int) ([]*models.SwapRecord, error) {
	query := `
		SELECT id, schedule_id, wallet_address, success,
			redeems, deposits, transfers,
			top_vault, user_positions, token_balance, created_at
		FROM swap_records
		WHERE wallet_address = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	return r.list(ctx, query, walletAddress, limit, skip)
}

func (r *SwapRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.SwapRecord, error) {
	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query swap records: %w", err)
	}
	defer rows.Close()

	var records []*models.SwapRecord
	for rows.Next() {
		var (
			record        models.SwapRecord
			success       uint8
			redeems       string
			deposits      string
			transfers     string
			topVault      string
			userPositions string
			tokenBalance  string
		)
		err := rows.Scan(
			&record.ID,
			&record.ScheduleID,
			&record.WalletAddress,
			&success,
			&redeems,
			&deposits,
			&transfers,
			&topVault,
			&userPositions,
			&tokenBalance,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swap record: %w", err)
		}

		record.Success = success == 1
		if err := json.Unmarshal([]byte(redeems), &record.Redeems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal redeems: %w", err)
		}
		if err := json.Unmarshal([]byte(deposits), &record.Deposits); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deposits: %w", err)
		}
		if err := json.Unmarshal([]byte(transfers), &record.Transfers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transfers: %w", err)
		}
		record.TopVault, err = unmarshalOptional[types.VaultInfo](topVault)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal top vault: %w", err)
		}
		record.UserPositions, err = unmarshalOptional[types.UserPositions](userPositions)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal user positions: %w", err)
		}
		record.TokenBalance, err = unmarshalOptional[types.TokenBalance](tokenBalance)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal token balance: %w", err)
		}

		records = append(records, &record)
	}
	return records, rows.Err()
}

// CountBySchedule returns the number of ledger entries for a schedule
func (r *SwapRepository) CountBySchedule(ctx context.Context, scheduleID string) (uint64, error) {
	var count uint64
	query := `SELECT count() FROM swap_records WHERE schedule_id = ?`
	if err := r.db.Conn().QueryRow(ctx, query, scheduleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count swap records: %w", err)
	}
	return count, nil
}

func marshalOptional[T any](v *T) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalOptional[T any](data string) (*T, error) {
	if data == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
