package ability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vault-rebalancer/internal/config"
	"github.com/vault-rebalancer/internal/errors"
	"github.com/vault-rebalancer/internal/types"
)

func newTestSetup(t *testing.T, handler http.HandlerFunc) (*Client, *ExecutionContext) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(&config.AbilityConfig{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})
	ec := NewExecutionContext(
		&config.ChainConfig{ChainID: 8453, Network: "base", RPCURL: "https://rpc.example"},
		&config.AbilityConfig{DelegateeAddress: "0x4444444444444444444444444444444444444444"},
		"0x2222222222222222222222222222222222222222",
	)
	return client, ec
}

func TestPrecheckVaultSendsRPCURL(t *testing.T) {
	client, ec := newTestSetup(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/abilities/vault/precheck", r.URL.Path)

		var inv map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&inv))
		assert.Equal(t, "https://rpc.example", inv["rpcUrl"])
		assert.Equal(t, "0x2222222222222222222222222222222222222222", inv["delegatorAddress"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  map[string]interface{}{"amountValid": true},
		})
	})

	err := client.PrecheckVault(context.Background(), ec, VaultParams{
		Operation:    types.OperationRedeem,
		VaultAddress: "0x3333333333333333333333333333333333333333",
		Amount:       "5.0",
	})
	assert.NoError(t, err)
}

func TestExecuteVaultOmitsRPCURL(t *testing.T) {
	client, ec := newTestSetup(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/abilities/vault/execute", r.URL.Path)

		var inv map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&inv))
		_, hasRPC := inv["rpcUrl"]
		assert.False(t, hasRPC)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  map[string]interface{}{"txHash": "0xabc"},
		})
	})

	exec, err := client.ExecuteVault(context.Background(), ec, VaultParams{
		Operation:    types.OperationDeposit,
		VaultAddress: "0x3333333333333333333333333333333333333333",
		Amount:       "60",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", exec.TxHash)
}

func TestPrecheckVaultInvalidAmount(t *testing.T) {
	client, ec := newTestSetup(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  map[string]interface{}{"amountValid": false},
		})
	})

	err := client.PrecheckVault(context.Background(), ec, VaultParams{
		Operation:    types.OperationRedeem,
		VaultAddress: "0x3333333333333333333333333333333333333333",
		Amount:       "5.0",
	})
	require.Error(t, err)

	catErr, ok := err.(*errors.CategorizedError)
	require.True(t, ok)
	assert.Equal(t, errors.CodeAbilityFailure, catErr.Code)
}

func TestExecuteVaultFailureKeepsRawResponse(t *testing.T) {
	client, ec := newTestSetup(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "insufficient shares",
		})
	})

	_, err := client.ExecuteVault(context.Background(), ec, VaultParams{
		Operation:    types.OperationRedeem,
		VaultAddress: "0x3333333333333333333333333333333333333333",
		Amount:       "5.0",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient shares")
}

func TestExecuteApprovalAllowanceSufficed(t *testing.T) {
	client, ec := newTestSetup(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result": map[string]interface{}{
				"approvedAmount": "60000000",
				"spenderAddress": "0x3333333333333333333333333333333333333333",
				"tokenAddress":   "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
				"tokenDecimals":  6,
			},
		})
	})

	exec, err := client.ExecuteApproval(context.Background(), ec, ApprovalParams{
		TokenAddress:   "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		SpenderAddress: "0x3333333333333333333333333333333333333333",
		Amount:         "60000000",
		TokenDecimals:  6,
	})
	require.NoError(t, err)
	assert.Equal(t, "60000000", exec.ApprovedAmount)
	assert.Empty(t, exec.ApprovalTxHash)
}

func TestExecuteTransfer(t *testing.T) {
	client, ec := newTestSetup(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/abilities/erc20-transfer/execute", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  map[string]interface{}{"txHash": "0xdef"},
		})
	})

	exec, err := client.ExecuteTransfer(context.Background(), ec, TransferParams{
		TokenAddress:    "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		ReceiverAddress: "0x5555555555555555555555555555555555555555",
		Amount:          "60.5",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xdef", exec.TxHash)
}
