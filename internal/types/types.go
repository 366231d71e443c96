// Package types provides common type definitions for the vault rebalancer system.
package types

// ChainID represents supported blockchain networks
type ChainID string

const (
	// ChainBase represents the Base network
	ChainBase ChainID = "base"
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
)

// VaultOperation represents the kind of vault action an ability performs
type VaultOperation string

const (
	// OperationDeposit deposits the underlying asset into a vault
	OperationDeposit VaultOperation = "deposit"
	// OperationRedeem redeems vault shares back into the underlying asset
	OperationRedeem VaultOperation = "redeem"
)

// APYMetric selects which yield figure the decision engine ranks vaults by
type APYMetric string

const (
	// MetricNetAPY is the annualized yield net of protocol fees
	MetricNetAPY APYMetric = "netApy"
	// MetricAvgNetAPY is the trailing average of net APY
	MetricAvgNetAPY APYMetric = "avgNetApy"
)

// VaultAsset describes the underlying asset a vault accepts
type VaultAsset struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
}

// VaultChain identifies the network a vault is deployed on
type VaultChain struct {
	ID      int64  `json:"id"`
	Network string `json:"network"`
}

// VaultState holds a vault's yield figures at query time
type VaultState struct {
	APY       float64 `json:"apy"`
	AvgAPY    float64 `json:"avgApy"`
	AvgNetAPY float64 `json:"avgNetApy"`
	NetAPY    float64 `json:"netApy"`
}

// VaultInfo is a read-only snapshot of a lending vault
type VaultInfo struct {
	ID          string     `json:"id"`
	Address     string     `json:"address"`
	Name        string     `json:"name"`
	Symbol      string     `json:"symbol"`
	Asset       VaultAsset `json:"asset"`
	Chain       VaultChain `json:"chain"`
	State       VaultState `json:"state"`
	Whitelisted bool       `json:"whitelisted"`
}

// PositionState holds the share quantity of one vault position.
// Shares is a raw integer decimal string; vault shares follow a fixed
// 18-decimal convention regardless of the underlying asset decimals.
type PositionState struct {
	Shares    string `json:"shares"`
	AssetsUSD string `json:"assetsUsd,omitempty"`
	Assets    string `json:"assets,omitempty"`
}

// VaultPosition represents one (vault, shares) pair held by a wallet
type VaultPosition struct {
	Vault VaultInfo     `json:"vault"`
	State PositionState `json:"state"`
}

// UserPositions is the set of vault positions a wallet currently holds
type UserPositions struct {
	WalletAddress  string          `json:"walletAddress"`
	VaultPositions []VaultPosition `json:"vaultPositions"`
}

// TokenBalance represents a wallet's on-chain balance of an ERC-20 token.
// Balance is a raw integer decimal string, never a float.
type TokenBalance struct {
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Decimals int    `json:"decimals"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
