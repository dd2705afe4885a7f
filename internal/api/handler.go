package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"costbasis/internal/model"
)

// Reporter computes the cost report of a wallet in a token.
type Reporter interface {
	Report(ctx context.Context, wallet, token common.Address) (model.CostReport, error)
}

// BalanceStore reads tracked holder balances.
type BalanceStore interface {
	TokenByAddress(ctx context.Context, address string) (model.Token, bool, error)
	Balance(ctx context.Context, tokenID int64, address string) (model.Balance, bool, error)
}

// Handler serves cost reports and holder balances.
type Handler struct {
	reporter Reporter
	balances BalanceStore
	logger   *zap.Logger
}

// NewHandler builds a Handler. balances may be nil, in which case the
// balance endpoint answers 503.
func NewHandler(reporter Reporter, balances BalanceStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reporter: reporter, balances: balances, logger: logger}
}

// Router registers the routes. gatherer backs /metrics when non-nil.
func (h *Handler) Router(gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/healthz", h.Health)
	r.GET("/v1/wallets/:wallet/tokens/:token/cost", h.GetCost)
	r.GET("/v1/tokens/:token/balances/:holder", h.GetBalance)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) GetCost(c *gin.Context) {
	wallet, ok := addressParam(c, "wallet")
	if !ok {
		return
	}
	token, ok := addressParam(c, "token")
	if !ok {
		return
	}

	report, err := h.reporter.Report(c.Request.Context(), wallet, token)
	if err != nil {
		h.logger.Error("cost report failed",
			zap.String("wallet", wallet.Hex()),
			zap.String("token", token.Hex()),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to compute cost: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) GetBalance(c *gin.Context) {
	if h.balances == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "balance store not configured"})
		return
	}
	token, ok := addressParam(c, "token")
	if !ok {
		return
	}
	holder, ok := addressParam(c, "holder")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	tracked, found, err := h.balances.TokenByAddress(ctx, model.AddressKey(token))
	if err != nil {
		h.logger.Error("load token failed", zap.String("token", token.Hex()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load token"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not tracked"})
		return
	}

	balance, found, err := h.balances.Balance(ctx, tracked.ID, model.AddressKey(holder))
	if err != nil {
		h.logger.Error("load balance failed", zap.String("holder", holder.Hex()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load balance"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "holder not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":        tracked.Address,
		"holder":       balance.Address,
		"balance":      balance.Balance,
		"scanned_upto": tracked.LastScannedBlock,
	})
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func addressParam(c *gin.Context, name string) (common.Address, bool) {
	value := strings.TrimSpace(c.Param(name))
	if !common.IsHexAddress(value) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " address"})
		return common.Address{}, false
	}
	return common.HexToAddress(value), true
}
