package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"costbasis/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "costbasis",
		Short:        "Uniswap V2 wallet cost basis reconstruction",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	costCmd := &cobra.Command{
		Use:   "cost",
		Short: "Reconstruct the hold and cost of a wallet in a token",
		RunE:  runCost,
	}
	addChainFlags(costCmd.Flags())
	addPriceFlags(costCmd.Flags())
	costCmd.Flags().String("wallet", "", "wallet address")
	costCmd.Flags().String("token", "", "target token address")
	costCmd.Flags().String("out", "", "optional JSONL file the report is appended to")
	costCmd.Flags().String("pg-dsn", "", "optional Postgres DSN the report is saved to")
	root.AddCommand(costCmd)

	holdersCmd := &cobra.Command{
		Use:   "holders",
		Short: "Track ERC20 holder balances in Postgres",
	}
	trackCmd := &cobra.Command{
		Use:   "track",
		Short: "Collect every holder of a token and read their balances",
		RunE:  runHoldersTrack,
	}
	trackCmd.Flags().Uint64("from", 0, "first block to scan for transfers")
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Refresh balances touched since the last scan",
		RunE:  runHoldersUpdate,
	}
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run update on an interval until interrupted",
		RunE:  runHoldersMonitor,
	}
	monitorCmd.Flags().Duration("monitor-interval", time.Minute, "interval between updates")
	for _, cmd := range []*cobra.Command{trackCmd, updateCmd, monitorCmd} {
		addChainFlags(cmd.Flags())
		addHolderFlags(cmd.Flags())
		cmd.Flags().String("token", "", "token address")
		holdersCmd.AddCommand(cmd)
	}
	root.AddCommand(holdersCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve cost reports and holder balances over HTTP",
		RunE:  runServe,
	}
	addChainFlags(serveCmd.Flags())
	addPriceFlags(serveCmd.Flags())
	serveCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for holder balances")
	serveCmd.Flags().String("listen", ":8080", "listen address")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "Ethereum RPC URL")
	flags.Duration("request-timeout", 30*time.Second, "timeout of a single RPC request")
	flags.Uint64("window-size", 2000, "blocks per log query")
	flags.Int("concurrency", 10, "log queries per batch")
	flags.Int("attempts", 3, "attempts per query before failing")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func addPriceFlags(flags *pflag.FlagSet) {
	flags.String("factory", config.DefaultFactory, "Uniswap V2 factory address")
	flags.Uint64("factory-deploy-block", config.DefaultFactoryDeployBlock, "factory deployment block")
	flags.String("router", config.DefaultRouter, "Uniswap V2 router address")
	flags.Uint64("pair-window-size", 0, "blocks per PairCreated query, 0 scans in one query")
	flags.Int("tx-concurrency", 8, "transactions decoded concurrently")
	flags.String("price-source", config.PriceSourceCoinGecko, "price source (coingecko, subgraph)")
	flags.String("redis-addr", "", "optional redis address for the price cache")
	flags.Duration("price-cache-ttl", 24*time.Hour, "redis price cache TTL")
}

func addHolderFlags(flags *pflag.FlagSet) {
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.Uint64("collect-batch", 10000, "blocks scanned before the cursor advances")
	flags.Int("page-size", 1000, "stored holders refreshed per page")
	flags.Int("balance-chunk", 100, "concurrent balanceOf reads")
}

// setup loads the configuration and logger of a command.
func setup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
