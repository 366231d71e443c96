// Package chain provides read access to the target EVM network. The service
// never signs transactions itself; abilities submit them on behalf of the
// wallet, and this package is used to confirm them and to read balances.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vault-rebalancer/internal/config"
	"github.com/vault-rebalancer/internal/errors"
	"github.com/vault-rebalancer/internal/logging"
	"github.com/vault-rebalancer/internal/types"
)

// Reader provides chain read operations
type Reader interface {
	WaitForTransaction(ctx context.Context, txHash string, confirmations int) error
	ERC20Balance(ctx context.Context, tokenAddress, ownerAddress string) (*types.TokenBalance, error)
}

// ERC-20 function selectors
var (
	balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}
	decimalsSelector  = []byte{0x31, 0x3c, 0xe5, 0x67}
)

// Client reads from the target chain over a JSON-RPC endpoint
type Client struct {
	eth          *ethclient.Client
	chainID      int64
	pollInterval time.Duration
}

// NewClient dials the configured RPC endpoint and verifies the chain id
// matches the configuration
func NewClient(ctx context.Context, cfg *config.ChainConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC endpoint: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("RPC endpoint is chain %d, expected %d", chainID.Int64(), cfg.ChainID)
	}

	return &Client{
		eth:          eth,
		chainID:      cfg.ChainID,
		pollInterval: 2 * time.Second,
	}, nil
}

// Close releases the underlying RPC connection
func (c *Client) Close() {
	c.eth.Close()
}

// WaitForTransaction blocks until the transaction has the requested number of
// confirmations. A reverted transaction is an error; a missing receipt keeps
// polling until the context expires.
func (c *Client) WaitForTransaction(ctx context.Context, txHash string, confirmations int) error {
	logger := logging.FromContext(ctx).WithField("txHash", txHash)
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err != nil && err != ethereum.NotFound {
			return fmt.Errorf("failed to fetch receipt for %s: %w", txHash, err)
		}

		if receipt != nil {
			if receipt.Status != 1 {
				return errors.NewChainConfirmationError(txHash)
			}

			head, err := c.eth.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch head block: %w", err)
			}

			confirmed := confirmationDepth(head, receipt.BlockNumber.Uint64())
			if confirmed >= uint64(confirmations) {
				logger.WithField("confirmations", confirmed).Debug("Transaction confirmed")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for transaction %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ERC20Balance reads a wallet's token balance and the token's decimals
func (c *Client) ERC20Balance(ctx context.Context, tokenAddress, ownerAddress string) (*types.TokenBalance, error) {
	token := common.HexToAddress(tokenAddress)
	owner := common.HexToAddress(ownerAddress)

	balanceData, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: EncodeBalanceOfCall(owner),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed for %s: %w", tokenAddress, err)
	}

	decimalsData, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: decimalsSelector,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("decimals call failed for %s: %w", tokenAddress, err)
	}

	balance := new(big.Int).SetBytes(balanceData)
	decimals := new(big.Int).SetBytes(decimalsData)

	return &types.TokenBalance{
		Address:  tokenAddress,
		Balance:  balance.String(),
		Decimals: int(decimals.Int64()),
	}, nil
}

// confirmationDepth counts confirmations with the inclusion block as the
// first. A load-balanced RPC can report a head behind the inclusion block;
// that reads as zero confirmations rather than underflowing.
func confirmationDepth(head, inclusion uint64) uint64 {
	if head < inclusion {
		return 0
	}
	return head - inclusion + 1
}

// EncodeBalanceOfCall builds the calldata for balanceOf(address)
func EncodeBalanceOfCall(owner common.Address) []byte {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	return data
}

var _ Reader = (*Client)(nil)
