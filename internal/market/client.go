// Package market queries the vault market API for yield data and wallet
// positions. The API speaks GraphQL over HTTP POST.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vault-rebalancer/internal/config"
	"github.com/vault-rebalancer/internal/errors"
	"github.com/vault-rebalancer/internal/retry"
	"github.com/vault-rebalancer/internal/types"
)

// VaultSource provides vault market data lookups
type VaultSource interface {
	GetTopVault(ctx context.Context, chainID int64) (*types.VaultInfo, error)
	GetUserPositions(ctx context.Context, chainID int64, walletAddress string) (*types.UserPositions, error)
}

// Client is the HTTP GraphQL client for the vault market API
type Client struct {
	baseURL           string
	assetSymbol       string
	minTotalAssetsUSD float64
	httpClient        *http.Client
	retryConfig       *retry.Config
}

// NewClient creates a new market API client
func NewClient(cfg *config.MarketConfig, minTotalAssetsUSD float64) *Client {
	return &Client{
		baseURL:           cfg.BaseURL,
		assetSymbol:       cfg.AssetSymbol,
		minTotalAssetsUSD: minTotalAssetsUSD,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryConfig: retry.DefaultConfig(),
	}
}

const topVaultQuery = `
query TopVault($first: Int, $orderBy: VaultOrderBy, $orderDirection: OrderDirection, $where: VaultFilters) {
  vaults(first: $first, orderBy: $orderBy, orderDirection: $orderDirection, where: $where) {
    items {
      id
      address
      name
      symbol
      whitelisted
      asset { address decimals name symbol }
      chain { id network }
      state { apy avgApy avgNetApy netApy }
    }
  }
}`

const userPositionsQuery = `
query UserPositions($where: VaultPositionFilters) {
  vaultPositions(where: $where) {
    items {
      user {
        address
        vaultPositions {
          state { shares assets assetsUsd }
          vault {
            id
            address
            name
            symbol
            whitelisted
            asset { address decimals name symbol }
            chain { id network }
            state { apy avgApy avgNetApy netApy }
          }
        }
      }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type vaultsResponse struct {
	Data struct {
		Vaults struct {
			Items []types.VaultInfo `json:"items"`
		} `json:"vaults"`
	} `json:"data"`
	Errors []graphQLError `json:"errors,omitempty"`
}

type positionsResponse struct {
	Data struct {
		VaultPositions struct {
			Items []struct {
				User struct {
					Address        string                `json:"address"`
					VaultPositions []types.VaultPosition `json:"vaultPositions"`
				} `json:"user"`
			} `json:"items"`
		} `json:"vaultPositions"`
	} `json:"data"`
	Errors []graphQLError `json:"errors,omitempty"`
}

// GetTopVault returns the highest net-APY whitelisted vault for the
// configured asset on the given chain. An empty result is an error because
// every rebalancing decision needs a deposit target.
func (c *Client) GetTopVault(ctx context.Context, chainID int64) (*types.VaultInfo, error) {
	req := graphQLRequest{
		Query: topVaultQuery,
		Variables: map[string]any{
			"first":          1,
			"orderBy":        "NetApy",
			"orderDirection": "Desc",
			"where": map[string]any{
				"assetSymbol_in":     []string{c.assetSymbol},
				"chainId_in":         []int64{chainID},
				"totalAssetsUsd_gte": c.minTotalAssetsUSD,
				"whitelisted":        true,
			},
		},
	}

	var resp vaultsResponse
	if err := c.post(ctx, req, &resp); err != nil {
		return nil, errors.NewMarketError("top vault query", err)
	}
	if len(resp.Errors) > 0 {
		return nil, errors.NewMarketError("top vault query", fmt.Errorf("graphql: %s", resp.Errors[0].Message))
	}
	if len(resp.Data.Vaults.Items) == 0 {
		return nil, errors.NewNoVaultFoundError(c.assetSymbol, chainID)
	}

	vault := resp.Data.Vaults.Items[0]
	return &vault, nil
}

// GetUserPositions returns the vault positions a wallet holds on the given
// chain, filtered to positions with at least one share. Returns nil when the
// wallet has no positions.
func (c *Client) GetUserPositions(ctx context.Context, chainID int64, walletAddress string) (*types.UserPositions, error) {
	req := graphQLRequest{
		Query: userPositionsQuery,
		Variables: map[string]any{
			"where": map[string]any{
				"chainId_in": []int64{chainID},
				// shares is an integer field, so gte 1 means more than zero
				"shares_gte":     1,
				"userAddress_in": []string{walletAddress},
			},
		},
	}

	var resp positionsResponse
	if err := c.post(ctx, req, &resp); err != nil {
		return nil, errors.NewMarketError("user positions query", err)
	}
	if len(resp.Errors) > 0 {
		return nil, errors.NewMarketError("user positions query", fmt.Errorf("graphql: %s", resp.Errors[0].Message))
	}
	if len(resp.Data.VaultPositions.Items) == 0 {
		return nil, nil
	}

	// The userAddress_in filter narrows this to a single user
	user := resp.Data.VaultPositions.Items[0].User
	return &types.UserPositions{
		WalletAddress:  user.Address,
		VaultPositions: user.VaultPositions,
	}, nil
}

func (c *Client) post(ctx context.Context, gqlReq graphQLRequest, dest any) error {
	body, err := json.Marshal(gqlReq)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	result := retry.WithExponentialBackoff(ctx, c.retryConfig, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
		}

		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
	if !result.Success {
		return fmt.Errorf("request failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}

var _ VaultSource = (*Client)(nil)
