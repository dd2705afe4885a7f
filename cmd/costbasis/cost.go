package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"costbasis/internal/model"
	"costbasis/internal/storage"
	"costbasis/internal/storage/postgres"
)

func runCost(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	wallet, err := addressFlag(cmd, "wallet")
	if err != nil {
		return err
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

	engine, err := a.engine()
	if err != nil {
		return err
	}

	logger.Info("cost start",
		zap.String("wallet", wallet.Hex()),
		zap.String("token", token.Hex()),
		zap.String("price_source", cfg.Price.Source),
	)

	report, err := a.report(ctx, engine, wallet, token)
	if err != nil {
		return err
	}

	if cfg.Out != "" {
		if err := storage.NewJsonlStorage(cfg.Out).PutReports([]model.CostReport{report}); err != nil {
			return err
		}
	}
	if cfg.Postgres.DSN != "" {
		if err := saveReport(ctx, cfg.Postgres.DSN, report); err != nil {
			return err
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func saveReport(ctx context.Context, dsn string, report model.CostReport) error {
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	return store.SaveCostReport(ctx, report)
}
