package models

import (
	"time"

	"github.com/vault-rebalancer/internal/types"
)

// RedeemResult records one completed vault redemption within a job run.
// Amount is the human-unit decimal string that was passed to the ability.
type RedeemResult struct {
	VaultAddress string `json:"vaultAddress"`
	Amount       string `json:"amount"`
	TxHash       string `json:"txHash"`
	Operation    string `json:"operation"`
	Timestamp    int64  `json:"timestamp"`
}

// ApprovalResult records the allowance sub-step of a deposit. ApprovalTxHash
// is empty when the existing allowance already covered the amount and no
// transaction was submitted.
type ApprovalResult struct {
	ApprovedAmount string `json:"approvedAmount"`
	ApprovalTxHash string `json:"approvalTxHash,omitempty"`
	SpenderAddress string `json:"spenderAddress"`
	TokenAddress   string `json:"tokenAddress"`
	TokenDecimals  int    `json:"tokenDecimals"`
}

// DepositSubResult records the vault-deposit sub-step of a deposit
type DepositSubResult struct {
	VaultAddress string `json:"vaultAddress"`
	Amount       string `json:"amount"`
	TxHash       string `json:"txHash"`
	Operation    string `json:"operation"`
	Timestamp    int64  `json:"timestamp"`
}

// DepositResult pairs the approval and deposit sub-steps of one deposit
type DepositResult struct {
	Approval ApprovalResult   `json:"approval"`
	Deposit  DepositSubResult `json:"deposit"`
}

// TransferResult records a final-liquidation payout to a receiver address
type TransferResult struct {
	TokenAddress    string `json:"tokenAddress"`
	ReceiverAddress string `json:"receiverAddress"`
	Amount          string `json:"amount"`
	TxHash          string `json:"txHash"`
	Timestamp       int64  `json:"timestamp"`
}

// SwapRecord is the immutable ledger entry for one job run. It is written
// once, never mutated, and keeps every sub-result gathered during the run.
// All amounts are base-10 integer or decimal strings, never floats.
type SwapRecord struct {
	ID            string               `json:"id"`
	ScheduleID    string               `json:"scheduleId"`
	WalletAddress string               `json:"walletAddress"`
	Success       bool                 `json:"success"`
	Redeems       []RedeemResult       `json:"redeems"`
	Deposits      []DepositResult      `json:"deposits"`
	Transfers     []TransferResult     `json:"transfers"`
	TopVault      *types.VaultInfo     `json:"topVault,omitempty"`
	UserPositions *types.UserPositions `json:"userPositions,omitempty"`
	TokenBalance  *types.TokenBalance  `json:"tokenBalance,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
}
