package api

import (
	"net/http"

	"github.com/vault-rebalancer/internal/logging"
	"github.com/vault-rebalancer/internal/types"
)

// handleTopVault returns the current best vault for the configured asset.
// The response is served from a short-lived cache when available; job runs
// never read this cache, only the API does.
func (s *Server) handleTopVault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cacheKey string
	if s.cache != nil {
		cacheKey = s.cache.GenerateTopVaultKey(s.config.AssetSymbol, int(s.config.ChainID))

		var cached types.VaultInfo
		hit, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Top vault cache read failed")
		}
		if hit {
			respondJSON(w, http.StatusOK, map[string]interface{}{"vault": cached, "cached": true})
			return
		}
	}

	vault, err := s.vaultSource.GetTopVault(ctx, s.config.ChainID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, vault); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Top vault cache write failed")
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"vault": vault, "cached": false})
}
