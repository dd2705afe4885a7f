package costbasis

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"costbasis/internal/model"
)

// Report renders the result for output and persistence. decimals is the
// target token's decimals, used only for the human-readable hold.
func (r *Result) Report(wallet, token common.Address, decimals uint8, now time.Time) model.CostReport {
	skipped := 0
	for _, n := range r.Skipped {
		skipped += n
	}
	return model.CostReport{
		Wallet:        model.AddressKey(wallet),
		Token:         model.AddressKey(token),
		Hold:          r.Hold.String(),
		HoldTokens:    r.Hold.Shift(-int32(decimals)).String(),
		Cost:          r.Cost.String(),
		Block:         r.Block,
		Pairs:         r.Pairs,
		Swaps:         r.Swaps,
		Skipped:       skipped,
		MissingPrices: r.MissingPrices,
		ComputedAt:    now.UTC(),
	}
}
