package costbasis

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"costbasis/internal/scan"
	"costbasis/internal/uniswap"
)

// Provider is the chain access a reconstruction run needs. *chain.Client implements it.
type Provider interface {
	scan.LogSource
	uniswap.Caller
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// SkipReason explains why a located swap contributed nothing.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipNotRouter      SkipReason = "not_router"
	SkipTokenNotInPath SkipReason = "token_not_in_path"
	SkipNativeSwap     SkipReason = "native_swap"
	SkipUnknownMethod  SkipReason = "unknown_method"
)

// Observer receives per-transaction outcomes of a run.
type Observer interface {
	SwapSkipped(reason SkipReason)
	SwapFolded()
	MissingPrice(token common.Address, bucket uint64)
}

type nopObserver struct{}

func (nopObserver) SwapSkipped(SkipReason)              {}
func (nopObserver) SwapFolded()                         {}
func (nopObserver) MissingPrice(common.Address, uint64) {}
