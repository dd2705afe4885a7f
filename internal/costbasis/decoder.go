package costbasis

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"costbasis/internal/model"
	"costbasis/internal/uniswap"
)

// PoolReader resolves hop pools and their orientation.
type PoolReader interface {
	GetPair(ctx context.Context, a, b common.Address) (common.Address, error)
	Token0(ctx context.Context, pool common.Address) (common.Address, error)
}

// TradeDecoder turns a router transaction and its receipt into a DecodedSwap.
type TradeDecoder struct {
	router common.Address
	pools  PoolReader
}

func NewTradeDecoder(router common.Address, pools PoolReader) *TradeDecoder {
	return &TradeDecoder{router: router, pools: pools}
}

// Decode returns the swap, or a SkipReason when the transaction does not
// trade target through a supported router method. A hop whose pool emitted
// no Swap log fails with *DecodeError.
func (d *TradeDecoder) Decode(ctx context.Context, tx *types.Transaction, receipt *types.Receipt, target common.Address) (*model.DecodedSwap, SkipReason, error) {
	if tx.To() == nil || *tx.To() != d.router {
		return nil, SkipNotRouter, nil
	}

	call, err := uniswap.DecodeRouterCall(tx.Data())
	if err != nil {
		return nil, SkipNone, &DecodeError{TxHash: tx.Hash(), Hop: -1, Reason: err.Error()}
	}
	if call.Kind == model.TradeUnknown {
		return nil, SkipUnknownMethod, nil
	}
	source, destination := call.Path[0], call.Path[len(call.Path)-1]
	if source != target && destination != target {
		return nil, SkipTokenNotInPath, nil
	}
	if call.Kind == model.TradeNative {
		return nil, SkipNativeSwap, nil
	}

	swaps, err := receiptSwaps(receipt)
	if err != nil {
		return nil, SkipNone, &DecodeError{TxHash: tx.Hash(), Hop: -1, Reason: err.Error()}
	}

	hops := make([]model.HopMatch, 0, len(call.Path)-1)
	for i := 0; i+1 < len(call.Path); i++ {
		tokenIn, tokenOut := call.Path[i], call.Path[i+1]
		pool, err := d.pools.GetPair(ctx, tokenIn, tokenOut)
		if err != nil {
			return nil, SkipNone, fmt.Errorf("get pair %s/%s: %w", tokenIn.Hex(), tokenOut.Hex(), err)
		}

		// Matching is by pool address only; the first Swap log of the pool wins.
		event, ok := firstSwapOf(swaps, pool)
		if pool == (common.Address{}) || !ok {
			return nil, SkipNone, &DecodeError{TxHash: tx.Hash(), Hop: i, Pool: pool, Reason: ReasonNoSwapEvent}
		}

		token0, err := d.pools.Token0(ctx, pool)
		if err != nil {
			return nil, SkipNone, fmt.Errorf("token0 of %s: %w", pool.Hex(), err)
		}
		amountIn, amountOut := orient(event, tokenIn == token0)
		hops = append(hops, model.HopMatch{
			TokenIn:   tokenIn,
			TokenOut:  tokenOut,
			Pool:      pool,
			Event:     event,
			AmountIn:  amountIn,
			AmountOut: amountOut,
		})
	}

	var blockNumber uint64
	if receipt.BlockNumber != nil {
		blockNumber = receipt.BlockNumber.Uint64()
	}
	return &model.DecodedSwap{
		TxHash:      tx.Hash(),
		BlockNumber: blockNumber,
		Call:        call,
		Hops:        hops,
	}, SkipNone, nil
}

// orient picks the hop amounts: the input side of the token sold into the
// pool and the output side of the other token.
func orient(event model.SwapEvent, tokenInIsToken0 bool) (*big.Int, *big.Int) {
	if tokenInIsToken0 {
		return event.Amount0In, event.Amount1Out
	}
	return event.Amount1In, event.Amount0Out
}

func receiptSwaps(receipt *types.Receipt) ([]model.SwapEvent, error) {
	if receipt == nil {
		return nil, fmt.Errorf("missing receipt")
	}
	var swaps []model.SwapEvent
	for _, log := range receipt.Logs {
		if log == nil || len(log.Topics) == 0 || log.Topics[0] != uniswap.SwapTopic {
			continue
		}
		swap, err := uniswap.DecodeSwap(*log)
		if err != nil {
			return nil, fmt.Errorf("swap log %d: %w", log.Index, err)
		}
		swaps = append(swaps, swap)
	}
	return swaps, nil
}

func firstSwapOf(swaps []model.SwapEvent, pool common.Address) (model.SwapEvent, bool) {
	for _, swap := range swaps {
		if swap.Pool == pool {
			return swap, true
		}
	}
	return model.SwapEvent{}, false
}
