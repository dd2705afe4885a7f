package scan

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

type fakeSource struct {
	head uint64
	// failures per window start block, decremented on each failed call.
	failures map[uint64]int
	delay    time.Duration

	mu       sync.Mutex
	calls    []BlockRange
	inFlight int32
	maxSeen  int32
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	window := BlockRange{From: q.FromBlock.Uint64(), To: q.ToBlock.Uint64()}
	f.mu.Lock()
	f.calls = append(f.calls, window)
	remaining := f.failures[window.From]
	if remaining > 0 {
		f.failures[window.From] = remaining - 1
	}
	f.mu.Unlock()
	if remaining > 0 {
		return nil, errors.New("rpc unavailable")
	}

	// One log per block keeps coverage checks simple.
	logs := make([]types.Log, 0, window.Len())
	for b := window.From; b <= window.To; b++ {
		logs = append(logs, types.Log{BlockNumber: b})
	}
	return logs, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	failures int
	windows  int
}

func (o *recordingObserver) QueryFailed(string, BlockRange, int, error) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func (o *recordingObserver) WindowScanned(string, BlockRange, int) {
	o.mu.Lock()
	o.windows++
	o.mu.Unlock()
}

var testFilter = EventFilter("test", common.HexToAddress("0x1111111111111111111111111111111111111111"), common.Hash{1})

func newTestScanner(source *fakeSource, observer Observer, attempts int) *Scanner {
	return NewScanner(Config{
		WindowSize:   10,
		Concurrency:  3,
		Attempts:     attempts,
		RetryBackoff: time.Microsecond,
	}, source, observer, zap.NewNop())
}

func TestScanCollectsEveryBlockOnce(t *testing.T) {
	source := &fakeSource{head: 1000, delay: time.Millisecond}
	observer := &recordingObserver{}
	scanner := newTestScanner(source, observer, 3)

	logs, err := scanner.Scan(context.Background(), testFilter, 5, 104)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(logs) != 100 {
		t.Fatalf("expected 100 logs, got %d", len(logs))
	}
	blocks := make([]int, 0, len(logs))
	for _, log := range logs {
		blocks = append(blocks, int(log.BlockNumber))
	}
	sort.Ints(blocks)
	for i, b := range blocks {
		if b != 5+i {
			t.Fatalf("block %d missing or duplicated (got %d)", 5+i, b)
		}
	}
	if observer.windows != 10 {
		t.Fatalf("expected 10 windows, got %d", observer.windows)
	}
	if max := atomic.LoadInt32(&source.maxSeen); max > 3 {
		t.Fatalf("concurrency bound exceeded: %d", max)
	}
}

func TestScanClampsToHead(t *testing.T) {
	source := &fakeSource{head: 50}
	scanner := newTestScanner(source, nil, 1)

	logs, err := scanner.Scan(context.Background(), testFilter, 45, 500)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(logs) != 6 {
		t.Fatalf("expected 6 logs, got %d", len(logs))
	}

	logs, err = scanner.Scan(context.Background(), testFilter, 60, 500)
	if err != nil {
		t.Fatalf("scan past head: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("expected no logs past head, got %d", len(logs))
	}
}

func TestScanRetriesWithinBudget(t *testing.T) {
	source := &fakeSource{head: 100, failures: map[uint64]int{20: 2}}
	observer := &recordingObserver{}
	scanner := newTestScanner(source, observer, 3)

	logs, err := scanner.Scan(context.Background(), testFilter, 0, 39)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(logs) != 40 {
		t.Fatalf("expected 40 logs, got %d", len(logs))
	}
	if observer.failures != 2 {
		t.Fatalf("expected 2 reported failures, got %d", observer.failures)
	}
}

func TestScanFailsFastWhenBudgetExhausted(t *testing.T) {
	source := &fakeSource{head: 100, failures: map[uint64]int{10: 3}}
	scanner := newTestScanner(source, nil, 3)

	logs, err := scanner.Scan(context.Background(), testFilter, 0, 99)
	if err == nil {
		t.Fatalf("expected scan error")
	}
	if logs != nil {
		t.Fatalf("expected no partial logs, got %d", len(logs))
	}

	var scanErr *ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("expected ScanError, got %T", err)
	}
	var queryErr *QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected QueryError inside, got %v", err)
	}
	if queryErr.Window != (BlockRange{From: 10, To: 19}) || queryErr.Attempts != 3 {
		t.Fatalf("query error mismatch: %+v", queryErr)
	}

	for _, call := range source.calls {
		if call.From >= 30 {
			t.Fatalf("window %+v of a later batch was queried", call)
		}
	}
}

func TestEventFilterTopics(t *testing.T) {
	contract := common.HexToAddress("0x2222222222222222222222222222222222222222")
	wallet := common.HexToAddress("0x3333333333333333333333333333333333333333")
	topic0 := common.HexToHash("0x01")

	q := EventFilter("swap", contract, topic0, nil, &wallet).Query(BlockRange{From: 1, To: 2})
	if len(q.Topics) != 3 || q.Topics[1] != nil || q.Topics[2][0] != common.BytesToHash(wallet.Bytes()) {
		t.Fatalf("topics mismatch: %+v", q.Topics)
	}
	if q.FromBlock.Uint64() != 1 || q.ToBlock.Uint64() != 2 || q.Addresses[0] != contract {
		t.Fatalf("query mismatch: %+v", q)
	}

	q = EventFilter("created", contract, topic0, &wallet, nil).Query(BlockRange{From: 1, To: 2})
	if len(q.Topics) != 2 {
		t.Fatalf("trailing wildcard not trimmed: %+v", q.Topics)
	}
}
