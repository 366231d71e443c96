package ability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vault-rebalancer/internal/config"
	"github.com/vault-rebalancer/internal/errors"
	"github.com/vault-rebalancer/internal/types"
)

// VaultParams parameterizes a vault deposit or redeem
type VaultParams struct {
	Operation    types.VaultOperation `json:"operation"`
	VaultAddress string               `json:"vaultAddress"`
	// Amount is a human-unit decimal string, e.g. "12.5"
	Amount string `json:"amount"`
}

// ApprovalParams parameterizes an ERC-20 allowance grant
type ApprovalParams struct {
	TokenAddress   string `json:"tokenAddress"`
	SpenderAddress string `json:"spenderAddress"`
	Amount         string `json:"tokenAmount"`
	TokenDecimals  int    `json:"tokenDecimals"`
}

// TransferParams parameterizes an ERC-20 transfer
type TransferParams struct {
	TokenAddress    string `json:"tokenAddress"`
	ReceiverAddress string `json:"to"`
	Amount          string `json:"amount"`
}

// VaultExecution is the result of an executed vault operation
type VaultExecution struct {
	TxHash string `json:"txHash"`
}

// ApprovalExecution is the result of an executed approval. ApprovalTxHash is
// empty when the existing allowance already covered the amount.
type ApprovalExecution struct {
	ApprovedAmount string `json:"approvedAmount"`
	ApprovalTxHash string `json:"approvalTxHash,omitempty"`
	SpenderAddress string `json:"spenderAddress"`
	TokenAddress   string `json:"tokenAddress"`
	TokenDecimals  int    `json:"tokenDecimals"`
}

// TransferExecution is the result of an executed transfer
type TransferExecution struct {
	TxHash string `json:"txHash"`
}

// Invoker is the ability service surface the rebalancer depends on
type Invoker interface {
	PrecheckVault(ctx context.Context, ec *ExecutionContext, params VaultParams) error
	ExecuteVault(ctx context.Context, ec *ExecutionContext, params VaultParams) (*VaultExecution, error)
	PrecheckApproval(ctx context.Context, ec *ExecutionContext, params ApprovalParams) error
	ExecuteApproval(ctx context.Context, ec *ExecutionContext, params ApprovalParams) (*ApprovalExecution, error)
	PrecheckTransfer(ctx context.Context, ec *ExecutionContext, params TransferParams) error
	ExecuteTransfer(ctx context.Context, ec *ExecutionContext, params TransferParams) (*TransferExecution, error)
}

// Client is the HTTP client for the ability service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new ability service client
func NewClient(cfg *config.AbilityConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// envelope is the wire shape every ability endpoint responds with. Result is
// decoded per primitive once success is established.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// invocation wraps primitive params with the execution context fields the
// ability service expects alongside them
type invocation struct {
	Params           any    `json:"params"`
	DelegatorAddress string `json:"delegatorAddress"`
	DelegateeAddress string `json:"delegateeAddress"`
	ChainID          int64  `json:"chainId"`
	Chain            string `json:"chain"`
	RPCURL           string `json:"rpcUrl,omitempty"`
	GasSponsor       bool   `json:"gasSponsor"`
	GasSponsorAPIKey string `json:"gasSponsorApiKey,omitempty"`
	GasSponsorPolicy string `json:"gasSponsorPolicyId,omitempty"`
}

// PrecheckVault validates a deposit or redeem before execution
func (c *Client) PrecheckVault(ctx context.Context, ec *ExecutionContext, params VaultParams) error {
	step := fmt.Sprintf("vault %s precheck", params.Operation)
	var result struct {
		AmountValid bool `json:"amountValid"`
	}
	if err := c.invoke(ctx, "/abilities/vault/precheck", ec, params, true, step, &result); err != nil {
		return err
	}
	if !result.AmountValid {
		return errors.NewAbilityError(step, fmt.Sprintf("amount %s rejected for vault %s", params.Amount, params.VaultAddress))
	}
	return nil
}

// ExecuteVault submits a deposit or redeem transaction
func (c *Client) ExecuteVault(ctx context.Context, ec *ExecutionContext, params VaultParams) (*VaultExecution, error) {
	step := fmt.Sprintf("vault %s execute", params.Operation)
	var result VaultExecution
	if err := c.invoke(ctx, "/abilities/vault/execute", ec, params, false, step, &result); err != nil {
		return nil, err
	}
	if result.TxHash == "" {
		return nil, errors.NewAbilityError(step, "execution returned no transaction hash")
	}
	return &result, nil
}

// PrecheckApproval validates an allowance grant before execution
func (c *Client) PrecheckApproval(ctx context.Context, ec *ExecutionContext, params ApprovalParams) error {
	var result struct{}
	return c.invoke(ctx, "/abilities/erc20-approval/precheck", ec, params, true, "approval precheck", &result)
}

// ExecuteApproval grants the spender an allowance, skipping the transaction
// when the current allowance already suffices
func (c *Client) ExecuteApproval(ctx context.Context, ec *ExecutionContext, params ApprovalParams) (*ApprovalExecution, error) {
	var result ApprovalExecution
	if err := c.invoke(ctx, "/abilities/erc20-approval/execute", ec, params, false, "approval execute", &result); err != nil {
		return nil, err
	}
	if result.ApprovedAmount == "" {
		return nil, errors.NewAbilityError("approval execute", "execution returned no approved amount")
	}
	return &result, nil
}

// PrecheckTransfer validates a token transfer before execution
func (c *Client) PrecheckTransfer(ctx context.Context, ec *ExecutionContext, params TransferParams) error {
	step := "transfer precheck"
	var result struct {
		AmountValid bool `json:"amountValid"`
	}
	if err := c.invoke(ctx, "/abilities/erc20-transfer/precheck", ec, params, true, step, &result); err != nil {
		return err
	}
	if !result.AmountValid {
		return errors.NewAbilityError(step, fmt.Sprintf("amount %s rejected for transfer to %s", params.Amount, params.ReceiverAddress))
	}
	return nil
}

// ExecuteTransfer submits a token transfer transaction
func (c *Client) ExecuteTransfer(ctx context.Context, ec *ExecutionContext, params TransferParams) (*TransferExecution, error) {
	step := "transfer execute"
	var result TransferExecution
	if err := c.invoke(ctx, "/abilities/erc20-transfer/execute", ec, params, false, step, &result); err != nil {
		return nil, err
	}
	if result.TxHash == "" {
		return nil, errors.NewAbilityError(step, "execution returned no transaction hash")
	}
	return &result, nil
}

// invoke posts one ability call and decodes the typed result. Prechecks get
// the RPC URL so the service can simulate against current chain state;
// executions route through the service's own infrastructure.
func (c *Client) invoke(ctx context.Context, path string, ec *ExecutionContext, params any, withRPC bool, step string, dest any) error {
	inv := invocation{
		Params:           params,
		DelegatorAddress: ec.WalletAddress,
		DelegateeAddress: ec.DelegateeAddress,
		ChainID:          ec.ChainID,
		Chain:            ec.Network,
		GasSponsor:       ec.GasSponsor,
		GasSponsorAPIKey: ec.GasSponsorAPIKey,
		GasSponsorPolicy: ec.GasSponsorPolicyID,
	}
	if withRPC {
		inv.RPCURL = ec.RPCURL
	}

	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to marshal invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewAbilityError(step, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewAbilityError(step, fmt.Sprintf("status %d: %s", resp.StatusCode, string(raw)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.NewAbilityError(step, fmt.Sprintf("malformed response: %s", string(raw)))
	}
	if !env.Success || env.Error != "" {
		// Keep the raw response; ability failures are diagnosed from it
		return errors.NewAbilityError(step, string(raw))
	}

	if err := json.Unmarshal(env.Result, dest); err != nil {
		return errors.NewAbilityError(step, fmt.Sprintf("unexpected result shape: %s", string(raw)))
	}
	return nil
}

var _ Invoker = (*Client)(nil)
