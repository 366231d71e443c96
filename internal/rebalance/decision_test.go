package rebalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vault-rebalancer/internal/types"
)

func vaultWithAPY(address string, netAPY float64) types.VaultInfo {
	return types.VaultInfo{
		Address: address,
		State:   types.VaultState{NetAPY: netAPY},
	}
}

func position(vaultAddress string, netAPY float64, shares string) types.VaultPosition {
	return types.VaultPosition{
		Vault: vaultWithAPY(vaultAddress, netAPY),
		State: types.PositionState{Shares: shares},
	}
}

func TestSelectSuboptimalPositions(t *testing.T) {
	topVault := vaultWithAPY("0xt0p", 0.08)

	positions := []types.VaultPosition{
		position("0xa", 0.02, "100"),  // clearly behind
		position("0xb", 0.075, "100"), // within 1% of the top
		position("0xc", 0.05, "100"),  // behind by 3%
	}

	selected := SelectSuboptimalPositions(positions, &topVault, 1)
	assert.Len(t, selected, 2)
	assert.Equal(t, "0xa", selected[0].Vault.Address)
	assert.Equal(t, "0xc", selected[1].Vault.Address)
}

func TestSelectSuboptimalPositionsStrictBoundary(t *testing.T) {
	topVault := vaultWithAPY("0xt0p", 0.06)

	// Exactly at threshold: top 6%, position 5%, improvement threshold 1%.
	// 0.06 > 0.05 + 0.01 is false, so the position stays put.
	atBoundary := []types.VaultPosition{position("0xa", 0.05, "100")}
	assert.Empty(t, SelectSuboptimalPositions(atBoundary, &topVault, 1))

	// A hair under the boundary gets selected
	justUnder := []types.VaultPosition{position("0xa", 0.0499, "100")}
	assert.Len(t, SelectSuboptimalPositions(justUnder, &topVault, 1), 1)
}

func TestSelectSuboptimalPositionsSkipsZeroShares(t *testing.T) {
	topVault := vaultWithAPY("0xt0p", 0.10)

	positions := []types.VaultPosition{
		position("0xa", 0.01, "0"),
		position("0xb", 0.01, ""),
		position("0xc", 0.01, "not-a-number"),
		position("0xd", 0.01, "1"),
	}

	selected := SelectSuboptimalPositions(positions, &topVault, 1)
	assert.Len(t, selected, 1)
	assert.Equal(t, "0xd", selected[0].Vault.Address)
}

func TestSelectSuboptimalPositionsPreservesOrder(t *testing.T) {
	topVault := vaultWithAPY("0xt0p", 0.20)

	positions := []types.VaultPosition{
		position("0xc", 0.03, "100"),
		position("0xa", 0.01, "100"),
		position("0xb", 0.02, "100"),
	}

	selected := SelectSuboptimalPositions(positions, &topVault, 1)
	assert.Equal(t, []string{"0xc", "0xa", "0xb"}, []string{
		selected[0].Vault.Address,
		selected[1].Vault.Address,
		selected[2].Vault.Address,
	})
}

func TestSelectSuboptimalPositionsMissingAPYTreatedAsZero(t *testing.T) {
	topVault := vaultWithAPY("0xt0p", 0.08)

	// No state on the held vault means zero yield, which is suboptimal
	positions := []types.VaultPosition{position("0xa", 0, "100")}
	assert.Len(t, SelectSuboptimalPositions(positions, &topVault, 1), 1)
}
