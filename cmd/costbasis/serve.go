package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"costbasis/internal/api"
	"costbasis/internal/costbasis"
	"costbasis/internal/model"
	"costbasis/internal/storage/postgres"
)

// engineReporter adapts the engine to the HTTP handler.
type engineReporter struct {
	app    *app
	engine *costbasis.Engine
}

func (r engineReporter) Report(ctx context.Context, wallet, token common.Address) (model.CostReport, error) {
	return r.app.report(ctx, r.engine, wallet, token)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.engine()
	if err != nil {
		return err
	}

	var balances api.BalanceStore
	if cfg.Postgres.DSN != "" {
		store, err := postgres.NewStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		balances = store
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(engineReporter{app: a, engine: engine}, balances, logger)
	server := &http.Server{
		Addr:              cfg.Serve.Listen,
		Handler:           handler.Router(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serve start", zap.String("listen", cfg.Serve.Listen), zap.Bool("balances", balances != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("serve shutdown")
	return server.Shutdown(shutdownCtx)
}
