package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"costbasis/internal/model"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// SymbolSource resolves on-chain token metadata.
type SymbolSource interface {
	TokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error)
}

// CoinGecko prices tokens from the CoinGecko daily history endpoint. Tokens
// are mapped to coin ids through their on-chain symbol.
type CoinGecko struct {
	baseURL string
	client  *http.Client
	symbols SymbolSource
	logger  *zap.Logger

	mu       sync.Mutex
	symbolID map[string]string
}

// NewCoinGecko builds a CoinGecko oracle. An empty baseURL uses the public API.
func NewCoinGecko(baseURL string, symbols SymbolSource, logger *zap.Logger) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoinGecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		symbols: symbols,
		logger:  logger,
	}
}

func (c *CoinGecko) Price(ctx context.Context, token common.Address, day time.Time) (decimal.Decimal, error) {
	id, err := c.coinID(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	if id == "" {
		return decimal.Zero, nil
	}

	query := url.Values{}
	query.Set("date", day.UTC().Format("02-01-2006"))
	query.Set("localization", "false")
	endpoint := fmt.Sprintf("%s/coins/%s/history?%s", c.baseURL, url.PathEscape(id), query.Encode())

	var result struct {
		MarketData *struct {
			CurrentPrice map[string]decimal.Decimal `json:"current_price"`
		} `json:"market_data"`
	}
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return decimal.Zero, fmt.Errorf("fetch %s history: %w", id, err)
	}
	if result.MarketData == nil {
		return decimal.Zero, nil
	}
	return result.MarketData.CurrentPrice["usd"], nil
}

func (c *CoinGecko) coinID(ctx context.Context, token common.Address) (string, error) {
	ids, err := c.coinList(ctx)
	if err != nil {
		return "", fmt.Errorf("load coingecko coin list: %w", err)
	}
	if c.symbols == nil {
		return "", fmt.Errorf("symbol source is nil")
	}
	meta, err := c.symbols.TokenMeta(ctx, token)
	if err != nil {
		return "", fmt.Errorf("token symbol: %w", err)
	}
	id := ids[strings.ToLower(meta.Symbol)]
	if id == "" {
		c.logger.Debug("no coingecko id for symbol", zap.String("token", token.Hex()), zap.String("symbol", meta.Symbol))
	}
	return id, nil
}

// coinList loads the symbol -> id table once. A failed load is retried on the next call.
func (c *CoinGecko) coinList(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.symbolID != nil {
		return c.symbolID, nil
	}
	var coins []struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/coins/list", &coins); err != nil {
		return nil, err
	}
	// Symbols are not unique; the last listed coin wins.
	ids := make(map[string]string, len(coins))
	for _, coin := range coins {
		ids[strings.ToLower(coin.Symbol)] = coin.ID
	}
	c.logger.Info("coingecko coin list loaded", zap.Int("coins", len(coins)))
	c.symbolID = ids
	return ids, nil
}

func (c *CoinGecko) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coingecko api returned status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
