package costbasis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"costbasis/internal/retry"
	"costbasis/internal/scan"
	"costbasis/internal/uniswap"
)

type fakeChain struct {
	mu          sync.Mutex
	head        uint64
	logs        []types.Log
	txs         map[common.Hash]*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	timestamps  map[uint64]uint64
	calls       map[string][]byte
	filterCalls int
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{
		head:       head,
		txs:        make(map[common.Hash]*types.Transaction),
		receipts:   make(map[common.Hash]*types.Receipt),
		timestamps: make(map[uint64]uint64),
		calls:      make(map[string][]byte),
	}
}

func (c *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	return c.head, nil
}

func (c *fakeChain) FilterLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterCalls++

	from, to := query.FromBlock.Uint64(), query.ToBlock.Uint64()
	var out []types.Log
	for _, log := range c.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if !matchAddress(query.Addresses, log.Address) || !matchTopics(query.Topics, log.Topics) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func matchAddress(addresses []common.Address, address common.Address) bool {
	if len(addresses) == 0 {
		return true
	}
	for _, candidate := range addresses {
		if candidate == address {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, options := range filter {
		if len(options) == 0 {
			continue
		}
		found := false
		for _, option := range options {
			if option == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *fakeChain) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return tx, nil
}

func (c *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (c *fakeChain) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.timestamps[number]
	if !ok {
		return 0, fmt.Errorf("unknown block %d", number)
	}
	return ts, nil
}

func (c *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, ok := c.calls[callKey(*msg.To, msg.Data)]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return resp, nil
}

func callKey(to common.Address, data []byte) string {
	return fmt.Sprintf("%s:%x", to.Hex(), data)
}

type scenario struct {
	t       *testing.T
	chain   *fakeChain
	factory common.Address
	router  common.Address
	wallet  common.Address
	nonce   uint64
}

var (
	tokenA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tokenC = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

	poolAB = common.HexToAddress("0x00000000000000000000000000000000000a00b0")
	poolAC = common.HexToAddress("0x00000000000000000000000000000000000a00c0")
	poolBC = common.HexToAddress("0x00000000000000000000000000000000000b00c0")
)

const swapTimestamp = 1617171792

func newScenario(t *testing.T) *scenario {
	t.Helper()
	s := &scenario{
		t:       t,
		chain:   newFakeChain(1000),
		factory: common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"),
		router:  common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
		wallet:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}
	for _, token := range []common.Address{tokenA, tokenB, tokenC} {
		s.addToken(token, 18)
	}
	return s
}

func (s *scenario) setCall(to common.Address, parsed abi.ABI, method string, args []interface{}, out ...interface{}) {
	s.t.Helper()
	data, err := parsed.Pack(method, args...)
	if err != nil {
		s.t.Fatalf("pack %s: %v", method, err)
	}
	resp, err := parsed.Methods[method].Outputs.Pack(out...)
	if err != nil {
		s.t.Fatalf("pack %s reply: %v", method, err)
	}
	s.chain.calls[callKey(to, data)] = resp
}

func (s *scenario) addToken(token common.Address, decimals uint8) {
	erc20ABI, err := uniswap.ERC20ABI()
	if err != nil {
		s.t.Fatalf("abi parse: %v", err)
	}
	s.setCall(token, erc20ABI, "decimals", nil, decimals)
}

// addPair registers a factory pair of a and b created at block.
func (s *scenario) addPair(a, b, pool common.Address, block uint64) {
	s.t.Helper()
	factoryABI, err := uniswap.FactoryABI()
	if err != nil {
		s.t.Fatalf("abi parse: %v", err)
	}
	pairABI, err := uniswap.PairABI()
	if err != nil {
		s.t.Fatalf("abi parse: %v", err)
	}

	token0, token1 := a, b
	if token0.Cmp(token1) > 0 {
		token0, token1 = token1, token0
	}
	data, err := factoryABI.Events["PairCreated"].Inputs.NonIndexed().Pack(pool, big.NewInt(int64(len(s.chain.logs)+1)))
	if err != nil {
		s.t.Fatalf("pack pair created: %v", err)
	}
	s.chain.logs = append(s.chain.logs, types.Log{
		Address:     s.factory,
		Topics:      []common.Hash{uniswap.PairCreatedTopic, addressTopic(token0), addressTopic(token1)},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BytesToHash(pool.Bytes()),
	})

	s.setCall(s.factory, factoryABI, "getPair", []interface{}{a, b}, pool)
	s.setCall(s.factory, factoryABI, "getPair", []interface{}{b, a}, pool)
	s.setCall(pool, pairABI, "token0", nil, token0)
}

// swapLog builds a pool Swap log paying out to recipient.
func (s *scenario) swapLog(pool, recipient common.Address, amount0In, amount1In, amount0Out, amount1Out *big.Int) types.Log {
	s.t.Helper()
	pairABI, err := uniswap.PairABI()
	if err != nil {
		s.t.Fatalf("abi parse: %v", err)
	}
	data, err := pairABI.Events["Swap"].Inputs.NonIndexed().Pack(amount0In, amount1In, amount0Out, amount1Out)
	if err != nil {
		s.t.Fatalf("pack swap: %v", err)
	}
	return types.Log{
		Address: pool,
		Topics:  []common.Hash{uniswap.SwapTopic, addressTopic(s.router), addressTopic(recipient)},
		Data:    data,
	}
}

// routerInput packs a router call.
func (s *scenario) routerInput(method string, args ...interface{}) []byte {
	s.t.Helper()
	routerABI, err := uniswap.RouterABI()
	if err != nil {
		s.t.Fatalf("abi parse: %v", err)
	}
	input, err := routerABI.Pack(method, args...)
	if err != nil {
		s.t.Fatalf("pack %s: %v", method, err)
	}
	return input
}

// addTx mines a transaction to `to` at block with the given receipt logs.
// Logs are indexed so a scan can find them.
func (s *scenario) addTx(block uint64, to common.Address, input []byte, logs ...types.Log) common.Hash {
	s.nonce++
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    s.nonce,
		To:       &to,
		Gas:      300000,
		GasPrice: big.NewInt(1),
		Data:     input,
	})
	hash := tx.Hash()

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(block),
	}
	for i := range logs {
		log := logs[i]
		log.TxHash = hash
		log.BlockNumber = block
		log.Index = uint(i)
		s.chain.logs = append(s.chain.logs, log)
		receipt.Logs = append(receipt.Logs, &log)
	}
	s.chain.txs[hash] = tx
	s.chain.receipts[hash] = receipt
	s.chain.timestamps[block] = swapTimestamp
	return hash
}

func (s *scenario) engine(oracle priceTable) *Engine {
	scanner := scan.NewScanner(scan.Config{
		WindowSize:   100,
		Concurrency:  3,
		Attempts:     2,
		RetryBackoff: time.Millisecond,
	}, s.chain, nil, zap.NewNop())
	return NewEngine(Config{
		Factory:            s.factory,
		FactoryDeployBlock: 1,
		Router:             s.router,
		PairConcurrency:    2,
		TxConcurrency:      2,
		Retry:              retry.Policy{Attempts: 2, BaseDelay: time.Millisecond},
	}, s.chain, scanner, oracle, nil, zap.NewNop())
}

type priceTable map[common.Address]decimal.Decimal

func (p priceTable) Price(_ context.Context, token common.Address, _ time.Time) (decimal.Decimal, error) {
	return p[token], nil
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func deadline() *big.Int {
	return big.NewInt(1700000000)
}

func newTestReader(s *scenario) *uniswap.Reader {
	return uniswap.NewReader(s.chain, s.factory, retry.Policy{Attempts: 1}, zap.NewNop())
}
