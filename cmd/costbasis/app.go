package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"costbasis/internal/api"
	"costbasis/internal/chain"
	"costbasis/internal/config"
	"costbasis/internal/costbasis"
	"costbasis/internal/holder"
	"costbasis/internal/metrics"
	"costbasis/internal/model"
	"costbasis/internal/price"
	"costbasis/internal/retry"
	"costbasis/internal/scan"
	"costbasis/internal/storage/postgres"
	"costbasis/internal/uniswap"
)

var (
	_ costbasis.Provider  = (*chain.Client)(nil)
	_ holder.BalanceStore = (*postgres.Store)(nil)
	_ api.BalanceStore    = (*postgres.Store)(nil)
)

// app holds the collaborators shared by every command.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	client   *chain.Client
	recorder *metrics.Recorder
	scanner  *scan.Scanner
	reader   *uniswap.Reader
	redis    *redis.Client
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*app, error) {
	client, err := chain.NewClient(ctx, cfg.Chain.RPCURL, chain.Options{RequestTimeout: cfg.Chain.RequestTimeout})
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}

	factory, _, err := cfg.Uniswap.Addresses()
	if err != nil {
		client.Close()
		return nil, err
	}

	recorder := metrics.NewRecorder(reg)
	scanner := scan.NewScanner(scan.Config{
		WindowSize:   cfg.Scan.WindowSize,
		Concurrency:  cfg.Scan.Concurrency,
		Attempts:     cfg.Scan.Attempts,
		RetryBackoff: cfg.Scan.RetryBackoff,
	}, client, recorder, logger)

	logger.Info("connected",
		zap.String("rpc", cfg.Chain.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.Uint64("window_size", cfg.Scan.WindowSize),
		zap.Int("concurrency", cfg.Scan.Concurrency),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		recorder: recorder,
		scanner:  scanner,
		reader:   uniswap.NewReader(client, factory, retryPolicy(cfg.Scan), logger),
	}, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.client.Close()
}

// engine builds the reconstruction engine with the configured price source.
func (a *app) engine() (*costbasis.Engine, error) {
	factory, router, err := a.cfg.Uniswap.Addresses()
	if err != nil {
		return nil, err
	}
	return costbasis.NewEngine(costbasis.Config{
		Factory:            factory,
		FactoryDeployBlock: a.cfg.Uniswap.FactoryDeployBlock,
		Router:             router,
		PairWindowSize:     a.cfg.Uniswap.PairWindowSize,
		PairConcurrency:    a.cfg.Uniswap.PairConcurrency,
		TxConcurrency:      a.cfg.Uniswap.TxConcurrency,
		Retry:              retryPolicy(a.cfg.Scan),
	}, a.client, a.scanner, a.oracle(), a.recorder, a.logger), nil
}

func (a *app) oracle() price.Oracle {
	pc := a.cfg.Price
	var source price.Oracle
	switch pc.Source {
	case config.PriceSourceSubgraph:
		source = price.NewSubgraph(pc.SubgraphURL)
	default:
		source = price.NewCoinGecko(pc.CoinGeckoURL, a.reader, a.logger)
	}

	if pc.RedisAddr != "" && a.redis == nil {
		a.redis = price.NewRedisClient(pc.RedisAddr, pc.RedisPassword, pc.RedisDB)
	}
	a.logger.Info("price oracle",
		zap.String("source", pc.Source),
		zap.Bool("redis", a.redis != nil),
	)
	return price.NewCached(source, a.redis, pc.CacheTTL, a.logger)
}

// report runs one reconstruction and renders its report.
func (a *app) report(ctx context.Context, engine *costbasis.Engine, wallet, token common.Address) (model.CostReport, error) {
	start := time.Now()
	result, err := engine.Compute(ctx, wallet, token)
	a.recorder.ObserveRun("cost", start, err)
	if err != nil {
		return model.CostReport{}, err
	}
	meta, err := a.reader.TokenMeta(ctx, token)
	if err != nil {
		return model.CostReport{}, fmt.Errorf("token metadata: %w", err)
	}
	return result.Report(wallet, token, meta.Decimals, time.Now()), nil
}

func addressFlag(cmd *cobra.Command, name string) (common.Address, error) {
	value, _ := cmd.Flags().GetString(name)
	if value == "" {
		return common.Address{}, fmt.Errorf("--%s is required", name)
	}
	return model.ParseAddress(value)
}

func retryPolicy(cfg config.ScanConfig) retry.Policy {
	return retry.Policy{Attempts: cfg.Attempts, BaseDelay: cfg.RetryBackoff}
}
