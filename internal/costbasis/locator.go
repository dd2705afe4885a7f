package costbasis

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"costbasis/internal/model"
	"costbasis/internal/scan"
	"costbasis/internal/uniswap"
)

// Locator finds the Swap logs of a pair that paid out to a wallet.
type Locator struct {
	scanner *scan.Scanner
}

func NewLocator(scanner *scan.Scanner) *Locator {
	return &Locator{scanner: scanner}
}

// FindSwaps scans the pair's Swap logs from its deploy block with the wallet
// bound to the indexed to argument.
func (l *Locator) FindSwaps(ctx context.Context, pair model.Pair, wallet common.Address, upTo uint64) ([]types.Log, error) {
	filter := scan.EventFilter("swap", pair.Address, uniswap.SwapTopic, nil, &wallet)
	return l.scanner.Scan(ctx, filter, pair.DeployBlock, upTo)
}
