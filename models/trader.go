package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TraderInfo is a trader registration as stored by the hook contract.
type TraderInfo struct {
	Tier         Tier
	RegisteredAt *big.Int
	Expiry       *big.Int
	Commitment   common.Hash
}

func (t *TraderInfo) IsRegistered() bool {
	return t.Tier > TierIneligible
}

// IsActive reports whether the registration is still usable at block.
func (t *TraderInfo) IsActive(block uint64) bool {
	if !t.IsRegistered() || t.Expiry == nil {
		return false
	}
	return new(big.Int).SetUint64(block).Cmp(t.Expiry) < 0
}

// TierConfig is the per-tier swap policy configured on the hook.
type TierConfig struct {
	FeeBps       uint32
	MaxTradeSize *big.Int
	Enabled      bool
}

// FeePercent converts basis points to a fraction, matching what the panels display.
func (c *TierConfig) FeePercent() float64 {
	return float64(c.FeeBps) / 10000
}

type HookInfo struct {
	HookAddress common.Address
	Admin       common.Address
	Relayer     common.Address
}
