package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// HoldCostDelta is the effect of one swap before decimal normalization.
// Hold is in raw target-token units; Cost is raw other-token units times
// the other token's price, still scaled by 10^Decimals.
type HoldCostDelta struct {
	Hold     *big.Int
	Cost     decimal.Decimal
	Decimals int32
}

// ZeroDelta is the contribution of a skipped or unpriced swap.
func ZeroDelta() HoldCostDelta {
	return HoldCostDelta{Hold: big.NewInt(0), Cost: decimal.Zero}
}

// AggregateResult is the final hold and cost for one wallet and token.
type AggregateResult struct {
	Hold decimal.Decimal
	Cost decimal.Decimal
}

// CostReport is the persisted / printed outcome of one reconstruction run.
type CostReport struct {
	Wallet        string    `json:"wallet"`
	Token         string    `json:"token"`
	Hold          string    `json:"hold"`
	HoldTokens    string    `json:"hold_tokens"`
	Cost          string    `json:"cost"`
	Block         uint64    `json:"block"`
	Pairs         int       `json:"pairs"`
	Swaps         int       `json:"swaps"`
	Skipped       int       `json:"skipped"`
	MissingPrices int       `json:"missing_prices"`
	ComputedAt    time.Time `json:"computed_at"`
}
