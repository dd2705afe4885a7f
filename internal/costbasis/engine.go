package costbasis

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"costbasis/internal/model"
	"costbasis/internal/price"
	"costbasis/internal/retry"
	"costbasis/internal/scan"
	"costbasis/internal/uniswap"
)

// Config holds the per-deployment settings of a reconstruction run.
type Config struct {
	Factory            common.Address
	FactoryDeployBlock uint64
	Router             common.Address
	// PairWindowSize is the window of the PairCreated scans; 0 scans in one window.
	PairWindowSize  uint64
	PairConcurrency int
	TxConcurrency   int
	Retry           retry.Policy
}

// Result is the outcome of one run.
type Result struct {
	model.AggregateResult
	Block         uint64
	Pairs         int
	Swaps         int
	Skipped       map[SkipReason]int
	MissingPrices int
}

// Engine reconstructs the hold and cost of a wallet in a token.
type Engine struct {
	cfg      Config
	provider Provider
	scanner  *scan.Scanner
	oracle   price.Oracle
	observer Observer
	logger   *zap.Logger
}

func NewEngine(cfg Config, provider Provider, scanner *scan.Scanner, oracle price.Oracle, observer Observer, logger *zap.Logger) *Engine {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PairConcurrency <= 0 {
		cfg.PairConcurrency = 1
	}
	if cfg.TxConcurrency <= 0 {
		cfg.TxConcurrency = 1
	}
	return &Engine{
		cfg:      cfg,
		provider: provider,
		scanner:  scanner,
		oracle:   oracle,
		observer: observer,
		logger:   logger,
	}
}

type located struct {
	hash  common.Hash
	block uint64
}

// Compute runs discovery, swap location, decoding and aggregation up to the
// current head. Any scan or decode failure aborts the run without a result.
func (e *Engine) Compute(ctx context.Context, wallet, token common.Address) (*Result, error) {
	var head uint64
	if err := e.withRetry(ctx, "block number", func(ctx context.Context) error {
		var err error
		head, err = e.provider.LatestBlockNumber(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}

	// Caches live for one run.
	reader := uniswap.NewReader(e.provider, e.cfg.Factory, e.cfg.Retry, e.logger)
	discovery := NewDiscovery(e.scanner, e.cfg.Factory, e.cfg.FactoryDeployBlock, e.cfg.PairWindowSize, e.scanner.Config().Concurrency, e.logger)

	pairs, err := discovery.FindPairs(ctx, token, head)
	if err != nil {
		return nil, fmt.Errorf("find pairs: %w", err)
	}
	result := &Result{
		AggregateResult: Aggregate(nil),
		Block:           head,
		Pairs:           len(pairs),
		Skipped:         make(map[SkipReason]int),
	}
	if len(pairs) == 0 {
		return result, nil
	}

	txs, err := e.locate(ctx, pairs, wallet, head)
	if err != nil {
		return nil, err
	}
	e.logger.Info("swaps located",
		zap.String("wallet", wallet.Hex()),
		zap.String("token", token.Hex()),
		zap.Int("pairs", len(pairs)),
		zap.Int("txs", len(txs)),
	)

	decoder := NewTradeDecoder(e.cfg.Router, reader)
	accumulator := NewAccumulator(reader, e.oracle, e.observer, e.logger)

	deltas := make([]model.HoldCostDelta, len(txs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.TxConcurrency)
	for i, tx := range txs {
		g.Go(func() error {
			delta, skip, priced, err := e.process(gctx, decoder, accumulator, tx, token)
			if err != nil {
				return err
			}
			deltas[i] = delta

			mu.Lock()
			defer mu.Unlock()
			switch {
			case skip != SkipNone:
				result.Skipped[skip]++
			case !priced:
				result.MissingPrices++
			default:
				result.Swaps++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.AggregateResult = Aggregate(deltas)
	e.logger.Info("cost basis computed",
		zap.String("wallet", wallet.Hex()),
		zap.String("token", token.Hex()),
		zap.String("hold", result.Hold.String()),
		zap.String("cost", result.Cost.String()),
		zap.Int("swaps", result.Swaps),
		zap.Int("missing_prices", result.MissingPrices),
		zap.Uint64("block", head),
	)
	return result, nil
}

// locate scans every pair for swaps paid to wallet and returns the distinct
// transactions ordered by block.
func (e *Engine) locate(ctx context.Context, pairs []model.Pair, wallet common.Address, head uint64) ([]located, error) {
	locator := NewLocator(e.scanner)
	seen := make(map[common.Hash]uint64)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PairConcurrency)
	for _, pair := range pairs {
		g.Go(func() error {
			logs, err := locator.FindSwaps(gctx, pair, wallet, head)
			if err != nil {
				return fmt.Errorf("find swaps of pair %s: %w", pair.Address.Hex(), err)
			}
			mu.Lock()
			for _, log := range logs {
				seen[log.TxHash] = log.BlockNumber
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	txs := make([]located, 0, len(seen))
	for hash, block := range seen {
		txs = append(txs, located{hash: hash, block: block})
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].block != txs[j].block {
			return txs[i].block < txs[j].block
		}
		return txs[i].hash.Hex() < txs[j].hash.Hex()
	})
	return txs, nil
}

func (e *Engine) process(ctx context.Context, decoder *TradeDecoder, accumulator *Accumulator, loc located, token common.Address) (model.HoldCostDelta, SkipReason, bool, error) {
	var (
		tx      *types.Transaction
		receipt *types.Receipt
	)
	if err := e.withRetry(ctx, "transaction", func(ctx context.Context) error {
		var err error
		tx, err = e.provider.TransactionByHash(ctx, loc.hash)
		return err
	}); err != nil {
		return model.HoldCostDelta{}, SkipNone, false, fmt.Errorf("transaction %s: %w", loc.hash.Hex(), err)
	}
	if err := e.withRetry(ctx, "receipt", func(ctx context.Context) error {
		var err error
		receipt, err = e.provider.TransactionReceipt(ctx, loc.hash)
		return err
	}); err != nil {
		return model.HoldCostDelta{}, SkipNone, false, fmt.Errorf("receipt %s: %w", loc.hash.Hex(), err)
	}

	swap, skip, err := decoder.Decode(ctx, tx, receipt, token)
	if err != nil {
		return model.HoldCostDelta{}, SkipNone, false, err
	}
	if skip != SkipNone {
		e.observer.SwapSkipped(skip)
		e.logger.Debug("swap skipped", zap.String("tx", loc.hash.Hex()), zap.String("reason", string(skip)))
		return model.ZeroDelta(), skip, true, nil
	}

	if swap.BlockNumber == 0 {
		swap.BlockNumber = loc.block
	}
	var timestamp uint64
	if err := e.withRetry(ctx, "block timestamp", func(ctx context.Context) error {
		var err error
		timestamp, err = e.provider.BlockTimestamp(ctx, swap.BlockNumber)
		return err
	}); err != nil {
		return model.HoldCostDelta{}, SkipNone, false, fmt.Errorf("block %d timestamp: %w", swap.BlockNumber, err)
	}

	delta, priced, err := accumulator.Fold(ctx, swap, token, timestamp)
	if err != nil {
		return model.HoldCostDelta{}, SkipNone, false, fmt.Errorf("fold tx %s: %w", loc.hash.Hex(), err)
	}
	if priced {
		e.observer.SwapFolded()
	}
	return delta, SkipNone, priced, nil
}

func (e *Engine) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	return retry.Do(ctx, e.cfg.Retry, func(attempt int, err error) {
		e.logger.Warn("provider call failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}, fn)
}
