package price

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"costbasis/internal/model"
)

func TestDateBucket(t *testing.T) {
	if got := DateBucket(1617171792); got != 1617148800 {
		t.Fatalf("bucket mismatch: %d", got)
	}
	if got := DateBucket(1617148800); got != 1617148800 {
		t.Fatalf("midnight should map to itself: %d", got)
	}
	day := Day(1617171792)
	if day.Format("2006-01-02T15:04:05Z07:00") != "2021-03-31T00:00:00Z" {
		t.Fatalf("day mismatch: %s", day)
	}
}

type staticSymbols map[common.Address]string

func (s staticSymbols) TokenMeta(_ context.Context, token common.Address) (model.TokenMeta, error) {
	return model.TokenMeta{Address: token.Hex(), Decimals: 18, Symbol: s[token]}, nil
}

func TestCoinGeckoHistory(t *testing.T) {
	uni := common.HexToAddress("0x1f9840a85d5af5bf1d1762f925bdaddc4201f984")
	unknown := common.HexToAddress("0x0000000000000000000000000000000000000bad")

	var listCalls, historyCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/coins/list":
			atomic.AddInt32(&listCalls, 1)
			w.Write([]byte(`[{"id":"uni-old","symbol":"uni"},{"id":"uniswap","symbol":"uni"},{"id":"tether","symbol":"usdt"}]`))
		case r.URL.Path == "/coins/uniswap/history":
			atomic.AddInt32(&historyCalls, 1)
			if r.URL.Query().Get("date") != "31-03-2021" || r.URL.Query().Get("localization") != "false" {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			w.Write([]byte(`{"id":"uniswap","market_data":{"current_price":{"usd":29.53,"eur":25.1}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	oracle := NewCoinGecko(server.URL, staticSymbols{uni: "UNI", unknown: "NOPE"}, nil)
	day := Day(1617171792)

	price, err := oracle.Price(context.Background(), uni, day)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("29.53")) {
		t.Fatalf("price mismatch: %s", price)
	}

	price, err = oracle.Price(context.Background(), unknown, day)
	if err != nil {
		t.Fatalf("unknown price: %v", err)
	}
	if !price.IsZero() {
		t.Fatalf("unknown symbol should price at zero: %s", price)
	}

	if listCalls != 1 || historyCalls != 1 {
		t.Fatalf("unexpected calls: list=%d history=%d", listCalls, historyCalls)
	}
}

func TestCoinGeckoStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	oracle := NewCoinGecko(server.URL, staticSymbols{}, nil)
	if _, err := oracle.Price(context.Background(), common.Address{}, Day(0)); err == nil {
		t.Fatalf("expected status error")
	}
}

func TestSubgraphPrice(t *testing.T) {
	token := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !strings.Contains(req.Query, "date:1617148800") || !strings.Contains(req.Query, `token:"0x6b175474e89094c44da98b954eedeac495271d0f"`) {
			t.Errorf("unexpected query: %s", req.Query)
		}
		w.Write([]byte(`{"data":{"tokenDayDatas":[{"priceUSD":"1.0012"}]}}`))
	}))
	defer server.Close()

	oracle := NewSubgraph(server.URL)
	price, err := oracle.Price(context.Background(), token, Day(1617171792))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("1.0012")) {
		t.Fatalf("price mismatch: %s", price)
	}
}

func TestSubgraphEmptyIsZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"tokenDayDatas":[]}}`))
	}))
	defer server.Close()

	price, err := NewSubgraph(server.URL).Price(context.Background(), common.Address{1}, Day(1617171792))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.IsZero() {
		t.Fatalf("expected zero: %s", price)
	}
}

func TestSubgraphErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"indexing error"}]}`))
	}))
	defer server.Close()

	if _, err := NewSubgraph(server.URL).Price(context.Background(), common.Address{1}, Day(0)); err == nil {
		t.Fatalf("expected graphql error")
	}
}

type countingOracle struct {
	calls int32
	price decimal.Decimal
}

func (o *countingOracle) Price(context.Context, common.Address, time.Time) (decimal.Decimal, error) {
	atomic.AddInt32(&o.calls, 1)
	return o.price, nil
}

func TestCachedMemoizesZeroPrices(t *testing.T) {
	next := &countingOracle{price: decimal.Zero}
	cached := NewCached(next, nil, 0, nil)
	token := common.HexToAddress("0x01")

	for i := 0; i < 3; i++ {
		price, err := cached.Price(context.Background(), token, Day(1617171792))
		if err != nil {
			t.Fatalf("price: %v", err)
		}
		if !price.IsZero() {
			t.Fatalf("expected zero: %s", price)
		}
	}
	if _, err := cached.Price(context.Background(), token, Day(1617171792+secondsPerDay)); err != nil {
		t.Fatalf("price: %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected one lookup per day, got %d", next.calls)
	}
}

func TestRedisKey(t *testing.T) {
	key := RedisKey(common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Day(1617171792))
	if key != "price:0x6b175474e89094c44da98b954eedeac495271d0f:1617148800" {
		t.Fatalf("key mismatch: %s", key)
	}
}
