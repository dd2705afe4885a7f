package costbasis

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"costbasis/internal/model"
	"costbasis/internal/price"
)

// DecimalsReader returns token decimals.
type DecimalsReader interface {
	TokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error)
}

// Accumulator converts decoded swaps into hold and cost deltas.
type Accumulator struct {
	tokens   DecimalsReader
	oracle   price.Oracle
	observer Observer
	logger   *zap.Logger
}

func NewAccumulator(tokens DecimalsReader, oracle price.Oracle, observer Observer, logger *zap.Logger) *Accumulator {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accumulator{
		tokens:   tokens,
		oracle:   oracle,
		observer: observer,
		logger:   logger,
	}
}

// Fold prices the counter leg of swap on the UTC day of blockTimestamp.
//
// Selling target gives hold = -amountIn and cost = -(amountOut * price(destination)).
// Buying target gives hold = +amountOut and cost = +(amountIn * price(source)).
// Cost stays in raw counter-token units; Decimals carries the counter token's
// scale. priced is false when the oracle had no price, in which case the
// delta is zero.
func (a *Accumulator) Fold(ctx context.Context, swap *model.DecodedSwap, target common.Address, blockTimestamp uint64) (delta model.HoldCostDelta, priced bool, err error) {
	selling := swap.Source() == target
	if !selling && swap.Destination() != target {
		return model.ZeroDelta(), true, nil
	}

	counter, hold, paid := swap.Source(), swap.AmountOut(), swap.AmountIn()
	if selling {
		counter, hold, paid = swap.Destination(), swap.AmountIn(), swap.AmountOut()
	}

	bucket := price.DateBucket(blockTimestamp)
	unitPrice, err := a.oracle.Price(ctx, counter, price.Day(blockTimestamp))
	if err != nil {
		return model.HoldCostDelta{}, false, fmt.Errorf("price %s on %d: %w", counter.Hex(), bucket, err)
	}
	if unitPrice.IsZero() {
		a.observer.MissingPrice(counter, bucket)
		a.logger.Debug("no price for swap counter token",
			zap.String("tx", swap.TxHash.Hex()),
			zap.String("token", counter.Hex()),
			zap.Uint64("bucket", bucket),
		)
		return model.ZeroDelta(), false, nil
	}

	meta, err := a.tokens.TokenMeta(ctx, counter)
	if err != nil {
		return model.HoldCostDelta{}, false, fmt.Errorf("decimals of %s: %w", counter.Hex(), err)
	}

	holdDelta := new(big.Int).Set(hold)
	costDelta := decimal.NewFromBigInt(paid, 0).Mul(unitPrice)
	if selling {
		holdDelta.Neg(holdDelta)
		costDelta = costDelta.Neg()
	}
	return model.HoldCostDelta{
		Hold:     holdDelta,
		Cost:     costDelta,
		Decimals: int32(meta.Decimals),
	}, true, nil
}

// Totals is a running sum of deltas. Costs are summed per decimals scale and
// each bucket is divided once in Result.
type Totals struct {
	hold    *big.Int
	buckets map[int32]decimal.Decimal
}

func NewTotals() *Totals {
	return &Totals{hold: new(big.Int), buckets: make(map[int32]decimal.Decimal)}
}

// Add folds one delta into the totals.
func (t *Totals) Add(delta model.HoldCostDelta) {
	if delta.Hold != nil {
		t.hold.Add(t.hold, delta.Hold)
	}
	if delta.Cost.IsZero() {
		return
	}
	t.buckets[delta.Decimals] = t.buckets[delta.Decimals].Add(delta.Cost)
}

// Result returns hold in raw target units and cost in reference currency.
func (t *Totals) Result() model.AggregateResult {
	cost := decimal.Zero
	for decimals, sum := range t.buckets {
		cost = cost.Add(sum.Shift(-decimals))
	}
	return model.AggregateResult{
		Hold: decimal.NewFromBigInt(t.hold, 0),
		Cost: cost,
	}
}

// Aggregate sums deltas in any order.
func Aggregate(deltas []model.HoldCostDelta) model.AggregateResult {
	totals := NewTotals()
	for _, delta := range deltas {
		totals.Add(delta)
	}
	return totals.Result()
}
