package holder

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"costbasis/internal/model"
	"costbasis/internal/scan"
	"costbasis/internal/uniswap"
)

type memStore struct {
	mu       sync.Mutex
	tokens   map[string]*model.Token
	balances map[int64]map[string]string
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]*model.Token), balances: make(map[int64]map[string]string)}
}

func (s *memStore) AddToken(_ context.Context, address string, cursor uint64) (model.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.tokens[address]; ok {
		return *token, nil
	}
	s.nextID++
	token := &model.Token{ID: s.nextID, Address: address, LastScannedBlock: cursor}
	s.tokens[address] = token
	s.balances[token.ID] = make(map[string]string)
	return *token, nil
}

func (s *memStore) TokenByAddress(_ context.Context, address string) (model.Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[address]
	if !ok {
		return model.Token{}, false, nil
	}
	return *token, true, nil
}

func (s *memStore) UpdateTokenCursor(_ context.Context, tokenID int64, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.ID == tokenID {
			token.LastScannedBlock = block
			return nil
		}
	}
	return fmt.Errorf("token %d not found", tokenID)
}

func (s *memStore) InsertBalances(_ context.Context, tokenID int64, addresses []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, address := range addresses {
		if _, ok := s.balances[tokenID][address]; !ok {
			s.balances[tokenID][address] = "0"
		}
	}
	return nil
}

func (s *memStore) UpsertBalances(_ context.Context, balances []model.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range balances {
		s.balances[b.TokenID][b.Address] = b.Balance
	}
	return nil
}

func (s *memStore) CountBalances(_ context.Context, tokenID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.balances[tokenID]), nil
}

func (s *memStore) ListAddresses(_ context.Context, tokenID int64, limit, offset int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []string
	for address := range s.balances[tokenID] {
		all = append(all, address)
	}
	sort.Strings(all)
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

type transferChain struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries []scan.BlockRange
}

func (c *transferChain) LatestBlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *transferChain) FilterLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	from, to := query.FromBlock.Uint64(), query.ToBlock.Uint64()
	c.queries = append(c.queries, scan.BlockRange{From: from, To: to})
	var out []types.Log
	for _, log := range c.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to && log.Address == query.Addresses[0] {
			out = append(out, log)
		}
	}
	return out, nil
}

type balanceTable struct {
	mu     sync.Mutex
	values map[common.Address]int64
	reads  int
}

func (b *balanceTable) BalanceOf(_ context.Context, _, holder common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	return big.NewInt(b.values[holder]), nil
}

type countingRecorder struct {
	mu sync.Mutex
	n  int
}

func (r *countingRecorder) BalancesRefreshed(n int) {
	r.mu.Lock()
	r.n += n
	r.mu.Unlock()
}

var (
	token = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x0000000000000000000000000000000000000ca1")
)

func transferLog(t *testing.T, block uint64, from, to common.Address, value int64) types.Log {
	t.Helper()
	erc20ABI, err := uniswap.ERC20ABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	data, err := erc20ABI.Events["Transfer"].Inputs.NonIndexed().Pack(big.NewInt(value))
	if err != nil {
		t.Fatalf("pack transfer: %v", err)
	}
	return types.Log{
		Address:     token,
		Topics:      []common.Hash{uniswap.TransferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        data,
		BlockNumber: block,
	}
}

func newTestTracker(chain *transferChain, balances *balanceTable, store *memStore, recorder Recorder) *Tracker {
	scanner := scan.NewScanner(scan.Config{WindowSize: 50, Concurrency: 2, Attempts: 1, RetryBackoff: time.Millisecond}, chain, nil, nil)
	return NewTracker(Config{CollectBatch: 100, PageSize: 2, BalanceChunk: 2}, scanner, chain, balances, store, recorder, nil)
}

func TestTrackCollectsAndRefreshes(t *testing.T) {
	chain := &transferChain{head: 250}
	chain.logs = []types.Log{
		transferLog(t, 10, common.Address{}, alice, 100),
		transferLog(t, 120, alice, bob, 40),
		transferLog(t, 240, bob, carol, 15),
		transferLog(t, 260, carol, alice, 1),
	}
	balances := &balanceTable{values: map[common.Address]int64{alice: 60, bob: 25, carol: 15}}
	store := newMemStore()
	recorder := &countingRecorder{}

	tracker := newTestTracker(chain, balances, store, recorder)
	if err := tracker.Track(context.Background(), token, 1); err != nil {
		t.Fatalf("track: %v", err)
	}

	tracked, ok, _ := store.TokenByAddress(context.Background(), model.AddressKey(token))
	if !ok || tracked.LastScannedBlock != 250 {
		t.Fatalf("cursor mismatch: %+v", tracked)
	}
	got := store.balances[tracked.ID]
	if len(got) != 3 || got[model.AddressKey(alice)] != "60" || got[model.AddressKey(bob)] != "25" || got[model.AddressKey(carol)] != "15" {
		t.Fatalf("balances mismatch: %v", got)
	}
	if recorder.n != 3 {
		t.Fatalf("recorder mismatch: %d", recorder.n)
	}

	// Chunks [1,100] [101,200] [201,250], each split into windows of 50.
	covered := uint64(0)
	for _, q := range chain.queries {
		covered += q.Len()
		if q.From < 1 || q.To > 250 {
			t.Fatalf("query outside range: %+v", q)
		}
	}
	if covered != 250 {
		t.Fatalf("expected 250 scanned blocks, got %d", covered)
	}
}

func TestUpdateRefreshesTouchedHolders(t *testing.T) {
	chain := &transferChain{head: 100}
	chain.logs = []types.Log{transferLog(t, 50, common.Address{}, alice, 100)}
	balances := &balanceTable{values: map[common.Address]int64{alice: 100}}
	store := newMemStore()

	tracker := newTestTracker(chain, balances, store, nil)
	if err := tracker.Track(context.Background(), token, 1); err != nil {
		t.Fatalf("track: %v", err)
	}
	readsAfterTrack := balances.reads

	chain.logs = append(chain.logs, transferLog(t, 150, alice, bob, 30))
	chain.head = 160
	balances.values[alice] = 70
	balances.values[bob] = 30

	if err := tracker.Update(context.Background(), token); err != nil {
		t.Fatalf("update: %v", err)
	}
	tracked, _, _ := store.TokenByAddress(context.Background(), model.AddressKey(token))
	if tracked.LastScannedBlock != 160 {
		t.Fatalf("cursor mismatch: %d", tracked.LastScannedBlock)
	}
	got := store.balances[tracked.ID]
	if got[model.AddressKey(alice)] != "70" || got[model.AddressKey(bob)] != "30" {
		t.Fatalf("balances mismatch: %v", got)
	}
	if balances.reads-readsAfterTrack != 2 {
		t.Fatalf("expected two balance reads, got %d", balances.reads-readsAfterTrack)
	}
}

func TestUpdateUntrackedToken(t *testing.T) {
	tracker := newTestTracker(&transferChain{head: 10}, &balanceTable{}, newMemStore(), nil)
	if err := tracker.Update(context.Background(), token); err == nil {
		t.Fatalf("expected error for untracked token")
	}
}

func TestMonitorStopsOnCancel(t *testing.T) {
	chain := &transferChain{head: 10}
	store := newMemStore()
	tracker := newTestTracker(chain, &balanceTable{}, store, nil)
	if _, err := store.AddToken(context.Background(), model.AddressKey(token), 0); err != nil {
		t.Fatalf("add token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := tracker.Monitor(ctx, token, 5*time.Millisecond); err != nil {
		t.Fatalf("monitor: %v", err)
	}
	tracked, _, _ := store.TokenByAddress(context.Background(), model.AddressKey(token))
	if tracked.LastScannedBlock != 10 {
		t.Fatalf("cursor mismatch: %d", tracked.LastScannedBlock)
	}
}

func TestExtractAddressesSkipsZero(t *testing.T) {
	logs := []types.Log{
		transferLog(t, 1, common.Address{}, bob, 5),
		transferLog(t, 2, bob, alice, 1),
		transferLog(t, 3, alice, common.Address{}, 1),
	}
	got, err := ExtractAddresses(logs)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 2 || got[0] != alice || got[1] != bob {
		t.Fatalf("addresses mismatch: %v", got)
	}
}
