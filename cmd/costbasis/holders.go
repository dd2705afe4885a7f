package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"costbasis/internal/config"
	"costbasis/internal/holder"
	"costbasis/internal/storage/postgres"
)

func runHoldersTrack(cmd *cobra.Command, _ []string) error {
	from, _ := cmd.Flags().GetUint64("from")
	return withTracker(cmd, "track", func(ctx context.Context, tracker *holder.Tracker, token common.Address, _ config.Config) error {
		return tracker.Track(ctx, token, from)
	})
}

func runHoldersUpdate(cmd *cobra.Command, _ []string) error {
	return withTracker(cmd, "update", func(ctx context.Context, tracker *holder.Tracker, token common.Address, _ config.Config) error {
		return tracker.Update(ctx, token)
	})
}

func runHoldersMonitor(cmd *cobra.Command, _ []string) error {
	return withTracker(cmd, "monitor", func(ctx context.Context, tracker *holder.Tracker, token common.Address, cfg config.Config) error {
		return tracker.Monitor(ctx, token, cfg.Holder.MonitorInterval)
	})
}

// withTracker wires a holder tracker to Postgres and the chain and runs fn.
func withTracker(cmd *cobra.Command, kind string, fn func(context.Context, *holder.Tracker, common.Address, config.Config) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("pg-dsn is required")
	}
	token, err := addressFlag(cmd, "token")
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := postgres.NewStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	tracker := holder.NewTracker(holder.Config{
		CollectBatch: cfg.Holder.CollectBatch,
		PageSize:     cfg.Holder.PageSize,
		BalanceChunk: cfg.Holder.BalanceChunk,
	}, a.scanner, a.client, a.reader, store, a.recorder, logger)

	logger.Info("holders start",
		zap.String("command", kind),
		zap.String("token", token.Hex()),
		zap.Uint64("collect_batch", cfg.Holder.CollectBatch),
	)
	return fn(ctx, tracker, token, cfg)
}
