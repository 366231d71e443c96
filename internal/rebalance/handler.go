package rebalance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vault-rebalancer/internal/ability"
	"github.com/vault-rebalancer/internal/chain"
	"github.com/vault-rebalancer/internal/config"
	"github.com/vault-rebalancer/internal/logging"
	"github.com/vault-rebalancer/internal/market"
	"github.com/vault-rebalancer/internal/models"
	"github.com/vault-rebalancer/internal/types"
)

// Ledger persists swap records
type Ledger interface {
	Insert(ctx context.Context, record *models.SwapRecord) error
}

// Handler runs the rebalancing job for one wallet at a time. All of its
// dependencies are injected; nothing here reads global state.
type Handler struct {
	market    market.VaultSource
	abilities ability.Invoker
	chain     chain.Reader
	ledger    Ledger

	chainID           int64
	tokenAddress      string
	confirmations     int
	minDepositBalance float64
	minImprovementPct float64

	// positionFallbacks counts job runs that proceeded without position data
	// because the position fetch failed
	positionFallbacks atomic.Uint64
}

// NewHandler creates a rebalancing job handler
func NewHandler(
	vaultSource market.VaultSource,
	abilities ability.Invoker,
	chainReader chain.Reader,
	ledger Ledger,
	chainCfg *config.ChainConfig,
	rebalanceCfg *config.RebalanceConfig,
) *Handler {
	return &Handler{
		market:            vaultSource,
		abilities:         abilities,
		chain:             chainReader,
		ledger:            ledger,
		chainID:           chainCfg.ChainID,
		tokenAddress:      chainCfg.USDCAddress,
		confirmations:     chainCfg.Confirmations,
		minDepositBalance: rebalanceCfg.MinimumDepositBalance,
		minImprovementPct: rebalanceCfg.MinimumYieldImprovementPct,
	}
}

// PositionFallbacks reports how many runs proceeded without position data
func (h *Handler) PositionFallbacks() uint64 {
	return h.positionFallbacks.Load()
}

// Run executes one rebalancing pass: move funds out of underperforming
// vaults, then deposit the idle balance into the current top vault. The
// ledger record is written only when the whole pass succeeds; partial
// results accumulate in the record regardless, so persisting failed runs
// too would only take an extra Insert on the error path.
func (h *Handler) Run(ctx context.Context, ec *ability.ExecutionContext, scheduleID string) (*models.SwapRecord, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"scheduleId":    scheduleID,
		"walletAddress": ec.WalletAddress,
	})
	logger.Info("Starting rebalancing run")

	topVault, positions, err := h.fetchMarketState(ctx, ec.WalletAddress)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch top vault")
		return nil, err
	}

	record := newRecord(scheduleID, ec.WalletAddress)
	record.TopVault = topVault
	record.UserPositions = positions

	if positions != nil {
		suboptimal := SelectSuboptimalPositions(positions.VaultPositions, topVault, h.minImprovementPct)
		logger.WithFields(map[string]interface{}{
			"held":       len(positions.VaultPositions),
			"suboptimal": len(suboptimal),
		}).Debug("Selected positions to exit")

		if err := h.redeemPositions(ctx, ec, suboptimal, record); err != nil {
			logger.WithError(err).Error("Redeem loop failed")
			return nil, err
		}
	}

	balance, err := h.chain.ERC20Balance(ctx, h.tokenAddress, ec.WalletAddress)
	if err != nil {
		logger.WithError(err).Error("Failed to read token balance")
		return nil, err
	}
	record.TokenBalance = balance

	if h.aboveDepositThreshold(balance) {
		deposit, err := h.approveAndDeposit(ctx, ec, topVault, balance)
		if err != nil {
			logger.WithError(err).Error("Deposit failed")
			return nil, err
		}
		record.Deposits = append(record.Deposits, *deposit)
	} else {
		logger.WithField("balance", balance.Balance).Debug("Balance below deposit threshold, leaving idle")
	}

	record.Success = true
	if err := h.ledger.Insert(ctx, record); err != nil {
		logger.WithError(err).Error("Failed to persist swap record")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"redeems":  len(record.Redeems),
		"deposits": len(record.Deposits),
	}).Info("Rebalancing run complete")
	return record, nil
}

// Liquidate exits every position the wallet holds and optionally sends the
// resulting balance to a receiver. Used when a schedule is cancelled. Unlike
// Run, a position fetch failure is fatal here: claiming a full liquidation
// without position data would strand funds.
func (h *Handler) Liquidate(ctx context.Context, ec *ability.ExecutionContext, scheduleID, receiverAddress string) (*models.SwapRecord, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"scheduleId":    scheduleID,
		"walletAddress": ec.WalletAddress,
	})
	logger.Info("Starting full liquidation")

	positions, err := h.market.GetUserPositions(ctx, h.chainID, ec.WalletAddress)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch positions for liquidation")
		return nil, err
	}

	record := newRecord(scheduleID, ec.WalletAddress)
	record.UserPositions = positions

	if positions != nil {
		held := make([]types.VaultPosition, 0, len(positions.VaultPositions))
		for _, vp := range positions.VaultPositions {
			if hasShares(vp.State.Shares) {
				held = append(held, vp)
			}
		}
		if err := h.redeemPositions(ctx, ec, held, record); err != nil {
			logger.WithError(err).Error("Liquidation redeem loop failed")
			return nil, err
		}
	}

	balance, err := h.chain.ERC20Balance(ctx, h.tokenAddress, ec.WalletAddress)
	if err != nil {
		logger.WithError(err).Error("Failed to read token balance")
		return nil, err
	}
	record.TokenBalance = balance

	if receiverAddress != "" && balance.Balance != "0" {
		transfer, err := h.transferBalance(ctx, ec, balance, receiverAddress)
		if err != nil {
			logger.WithError(err).Error("Payout transfer failed")
			return nil, err
		}
		record.Transfers = append(record.Transfers, *transfer)
	}

	record.Success = true
	if err := h.ledger.Insert(ctx, record); err != nil {
		logger.WithError(err).Error("Failed to persist swap record")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"redeems":   len(record.Redeems),
		"transfers": len(record.Transfers),
	}).Info("Liquidation complete")
	return record, nil
}

// fetchMarketState fetches the top vault and the wallet's positions
// concurrently. A missing top vault fails the run since there would be no
// deposit target; a position fetch failure degrades to "no positions" so
// idle balances still get deposited.
func (h *Handler) fetchMarketState(ctx context.Context, walletAddress string) (*types.VaultInfo, *types.UserPositions, error) {
	var (
		wg        sync.WaitGroup
		topVault  *types.VaultInfo
		topErr    error
		positions *types.UserPositions
		posErr    error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		topVault, topErr = h.market.GetTopVault(ctx, h.chainID)
	}()
	go func() {
		defer wg.Done()
		positions, posErr = h.market.GetUserPositions(ctx, h.chainID, walletAddress)
	}()
	wg.Wait()

	if topErr != nil {
		return nil, nil, topErr
	}
	if posErr != nil {
		h.positionFallbacks.Add(1)
		logging.FromContext(ctx).WithError(posErr).WithField("walletAddress", walletAddress).
			Warn("Position fetch failed, proceeding as if no positions are held")
		positions = nil
	}
	return topVault, positions, nil
}

// aboveDepositThreshold reports whether the balance strictly exceeds the
// configured minimum, scaled to the token's raw units. Exactly at the
// threshold stays idle.
func (h *Handler) aboveDepositThreshold(balance *types.TokenBalance) bool {
	bal, err := decimal.NewFromString(balance.Balance)
	if err != nil {
		return false
	}
	threshold := decimal.NewFromFloat(h.minDepositBalance).Shift(int32(balance.Decimals))
	return bal.GreaterThan(threshold)
}

func newRecord(scheduleID, walletAddress string) *models.SwapRecord {
	return &models.SwapRecord{
		ID:            uuid.New().String(),
		ScheduleID:    scheduleID,
		WalletAddress: walletAddress,
		Redeems:       []models.RedeemResult{},
		Deposits:      []models.DepositResult{},
		Transfers:     []models.TransferResult{},
		CreatedAt:     time.Now().UTC(),
	}
}
