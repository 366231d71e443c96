// Package ability invokes the delegated-signing ability service that submits
// transactions on behalf of user wallets. Every primitive follows the same
// two-phase shape: precheck validates the request against current chain
// state, execute submits the transaction.
package ability

import (
	"github.com/vault-rebalancer/internal/config"
)

// ExecutionContext carries everything an ability invocation needs to act for
// one wallet. It is built once per job run and passed down explicitly; the
// values never change mid-run.
type ExecutionContext struct {
	WalletAddress      string
	DelegateeAddress   string
	ChainID            int64
	Network            string
	RPCURL             string
	GasSponsor         bool
	GasSponsorAPIKey   string
	GasSponsorPolicyID string
}

// NewExecutionContext builds the per-wallet invocation context from static
// configuration
func NewExecutionContext(chainCfg *config.ChainConfig, abilityCfg *config.AbilityConfig, walletAddress string) *ExecutionContext {
	return &ExecutionContext{
		WalletAddress:      walletAddress,
		DelegateeAddress:   abilityCfg.DelegateeAddress,
		ChainID:            chainCfg.ChainID,
		Network:            chainCfg.Network,
		RPCURL:             chainCfg.RPCURL,
		GasSponsor:         abilityCfg.GasSponsor,
		GasSponsorAPIKey:   abilityCfg.GasSponsorAPIKey,
		GasSponsorPolicyID: abilityCfg.GasSponsorPolicyID,
	}
}
