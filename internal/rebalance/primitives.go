package rebalance

import (
	"context"
	"fmt"
	"time"

	"github.com/vault-rebalancer/internal/ability"
	"github.com/vault-rebalancer/internal/models"
	"github.com/vault-rebalancer/internal/types"
)

// redeemPositions redeems each position in sequence, appending results to
// the record as they complete. Transactions for one wallet must not overlap
// or they race on the nonce, so there is no concurrency here. The first
// failure aborts the loop; completed redeems stay in the record.
func (h *Handler) redeemPositions(ctx context.Context, ec *ability.ExecutionContext, positions []types.VaultPosition, record *models.SwapRecord) error {
	for _, vp := range positions {
		// ERC-4626 vault shares always carry 18 decimals
		shares, err := types.FormatShares(vp.State.Shares)
		if err != nil {
			return fmt.Errorf("invalid shares %q for vault %s: %w", vp.State.Shares, vp.Vault.Address, err)
		}

		params := ability.VaultParams{
			Operation:    types.OperationRedeem,
			VaultAddress: vp.Vault.Address,
			Amount:       shares,
		}

		if err := h.abilities.PrecheckVault(ctx, ec, params); err != nil {
			return err
		}
		exec, err := h.abilities.ExecuteVault(ctx, ec, params)
		if err != nil {
			return err
		}
		if err := h.chain.WaitForTransaction(ctx, exec.TxHash, h.confirmations); err != nil {
			return err
		}

		record.Redeems = append(record.Redeems, models.RedeemResult{
			VaultAddress: vp.Vault.Address,
			Amount:       shares,
			TxHash:       exec.TxHash,
			Operation:    string(types.OperationRedeem),
			Timestamp:    time.Now().Unix(),
		})
	}
	return nil
}

// approveAndDeposit grants the vault an allowance for the full balance and
// deposits it. The approval wait is skipped when the existing allowance
// already covered the amount and no transaction was submitted.
func (h *Handler) approveAndDeposit(ctx context.Context, ec *ability.ExecutionContext, vault *types.VaultInfo, balance *types.TokenBalance) (*models.DepositResult, error) {
	approvalParams := ability.ApprovalParams{
		TokenAddress:   balance.Address,
		SpenderAddress: vault.Address,
		Amount:         balance.Balance,
		TokenDecimals:  balance.Decimals,
	}

	if err := h.abilities.PrecheckApproval(ctx, ec, approvalParams); err != nil {
		return nil, err
	}
	approval, err := h.abilities.ExecuteApproval(ctx, ec, approvalParams)
	if err != nil {
		return nil, err
	}
	if approval.ApprovalTxHash != "" {
		if err := h.chain.WaitForTransaction(ctx, approval.ApprovalTxHash, h.confirmations); err != nil {
			return nil, err
		}
	}

	amount, err := types.FormatUnits(balance.Balance, balance.Decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", balance.Balance, err)
	}

	depositParams := ability.VaultParams{
		Operation:    types.OperationDeposit,
		VaultAddress: vault.Address,
		Amount:       amount,
	}

	if err := h.abilities.PrecheckVault(ctx, ec, depositParams); err != nil {
		return nil, err
	}
	exec, err := h.abilities.ExecuteVault(ctx, ec, depositParams)
	if err != nil {
		return nil, err
	}
	if err := h.chain.WaitForTransaction(ctx, exec.TxHash, h.confirmations); err != nil {
		return nil, err
	}

	return &models.DepositResult{
		Approval: models.ApprovalResult{
			ApprovedAmount: approval.ApprovedAmount,
			ApprovalTxHash: approval.ApprovalTxHash,
			SpenderAddress: approval.SpenderAddress,
			TokenAddress:   approval.TokenAddress,
			TokenDecimals:  approval.TokenDecimals,
		},
		Deposit: models.DepositSubResult{
			VaultAddress: vault.Address,
			Amount:       amount,
			TxHash:       exec.TxHash,
			Operation:    string(types.OperationDeposit),
			Timestamp:    time.Now().Unix(),
		},
	}, nil
}

// transferBalance sends the full token balance to the receiver
func (h *Handler) transferBalance(ctx context.Context, ec *ability.ExecutionContext, balance *types.TokenBalance, receiverAddress string) (*models.TransferResult, error) {
	amount, err := types.FormatUnits(balance.Balance, balance.Decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", balance.Balance, err)
	}

	params := ability.TransferParams{
		TokenAddress:    balance.Address,
		ReceiverAddress: receiverAddress,
		Amount:          amount,
	}

	if err := h.abilities.PrecheckTransfer(ctx, ec, params); err != nil {
		return nil, err
	}
	exec, err := h.abilities.ExecuteTransfer(ctx, ec, params)
	if err != nil {
		return nil, err
	}
	if err := h.chain.WaitForTransaction(ctx, exec.TxHash, h.confirmations); err != nil {
		return nil, err
	}

	return &models.TransferResult{
		TokenAddress:    balance.Address,
		ReceiverAddress: receiverAddress,
		Amount:          amount,
		TxHash:          exec.TxHash,
		Timestamp:       time.Now().Unix(),
	}, nil
}
