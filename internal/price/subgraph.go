package price

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"costbasis/internal/model"
)

const DefaultSubgraphURL = "https://api.thegraph.com/subgraphs/name/uniswap/uniswap-v2"

// Subgraph prices tokens from the Uniswap V2 subgraph tokenDayDatas entity.
type Subgraph struct {
	endpoint string
	client   *http.Client
}

// NewSubgraph builds a subgraph oracle. An empty endpoint uses the hosted Uniswap V2 subgraph.
func NewSubgraph(endpoint string) *Subgraph {
	if endpoint == "" {
		endpoint = DefaultSubgraphURL
	}
	return &Subgraph{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *Subgraph) Price(ctx context.Context, token common.Address, day time.Time) (decimal.Decimal, error) {
	query := fmt.Sprintf(`{tokenDayDatas(where:{date:%d,token:"%s"}){priceUSD}}`, day.UTC().Unix(), model.AddressKey(token))
	body, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": map[string]interface{}{},
	})
	if err != nil {
		return decimal.Zero, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("subgraph returned status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			TokenDayDatas []struct {
				PriceUSD decimal.Decimal `json:"priceUSD"`
			} `json:"tokenDayDatas"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("decode subgraph response: %w", err)
	}
	if len(result.Errors) > 0 {
		messages := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			messages = append(messages, e.Message)
		}
		return decimal.Zero, fmt.Errorf("subgraph query failed: %s", strings.Join(messages, "; "))
	}
	if len(result.Data.TokenDayDatas) == 0 {
		return decimal.Zero, nil
	}
	return result.Data.TokenDayDatas[0].PriceUSD, nil
}
