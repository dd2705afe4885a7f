package costbasis

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"costbasis/internal/model"
	"costbasis/internal/scan"
	"costbasis/internal/uniswap"
)

// Discovery finds every factory pair that contains a token.
type Discovery struct {
	scanner     *scan.Scanner
	factory     common.Address
	deployBlock uint64
	windowSize  uint64
	concurrency int
	logger      *zap.Logger
}

// NewDiscovery builds a Discovery. windowSize 0 scans the factory history in one window.
func NewDiscovery(scanner *scan.Scanner, factory common.Address, deployBlock, windowSize uint64, concurrency int, logger *zap.Logger) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{
		scanner:     scanner,
		factory:     factory,
		deployBlock: deployBlock,
		windowSize:  windowSize,
		concurrency: concurrency,
		logger:      logger,
	}
}

// FindPairs scans PairCreated with token as token0 and then as token1.
// A token without pairs yields an empty slice.
func (d *Discovery) FindPairs(ctx context.Context, token common.Address, upTo uint64) ([]model.Pair, error) {
	filters := []scan.Filter{
		scan.EventFilter("pair_created_token0", d.factory, uniswap.PairCreatedTopic, &token),
		scan.EventFilter("pair_created_token1", d.factory, uniswap.PairCreatedTopic, nil, &token),
	}

	var pairs []model.Pair
	for _, filter := range filters {
		logs, err := d.scanner.ScanWindows(ctx, filter, d.deployBlock, upTo, d.windowSize, d.concurrency)
		if err != nil {
			return nil, err
		}
		for _, log := range logs {
			pair, err := uniswap.DecodePairCreated(log)
			if err != nil {
				return nil, fmt.Errorf("decode pair created in tx %s: %w", log.TxHash.Hex(), err)
			}
			pairs = append(pairs, pair)
		}
	}

	d.logger.Info("pairs discovered",
		zap.String("token", token.Hex()),
		zap.Int("pairs", len(pairs)),
		zap.Uint64("to_block", upTo),
	)
	return pairs, nil
}
