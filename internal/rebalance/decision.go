// Package rebalance implements the yield-optimization job: decide which
// vault positions underperform, move funds out of them, and deposit the idle
// balance into the current best vault.
package rebalance

import (
	"math/big"

	"github.com/vault-rebalancer/internal/types"
)

// SelectSuboptimalPositions returns the positions whose vault yield trails
// the top vault by strictly more than the improvement threshold. Positions
// without shares are never selected, and input order is preserved.
//
// The comparison intentionally ignores fees, gas cost, and projected
// earnings over the holding period.
func SelectSuboptimalPositions(positions []types.VaultPosition, topVault *types.VaultInfo, minImprovementPct float64) []types.VaultPosition {
	topNetAPY := topVault.State.NetAPY
	threshold := minImprovementPct / 100

	var suboptimal []types.VaultPosition
	for _, vp := range positions {
		if !hasShares(vp.State.Shares) {
			continue
		}
		if topNetAPY > vp.Vault.State.NetAPY+threshold {
			suboptimal = append(suboptimal, vp)
		}
	}
	return suboptimal
}

func hasShares(shares string) bool {
	if shares == "" {
		return false
	}
	n, ok := new(big.Int).SetString(shares, 10)
	if !ok {
		return false
	}
	return n.Sign() > 0
}
