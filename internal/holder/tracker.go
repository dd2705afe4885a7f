package holder

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"costbasis/internal/model"
	"costbasis/internal/scan"
	"costbasis/internal/uniswap"
)

// BalanceStore persists tracked tokens and holder balances.
type BalanceStore interface {
	AddToken(ctx context.Context, address string, cursor uint64) (model.Token, error)
	TokenByAddress(ctx context.Context, address string) (model.Token, bool, error)
	UpdateTokenCursor(ctx context.Context, tokenID int64, block uint64) error
	InsertBalances(ctx context.Context, tokenID int64, addresses []string) error
	UpsertBalances(ctx context.Context, balances []model.Balance) error
	CountBalances(ctx context.Context, tokenID int64) (int, error)
	ListAddresses(ctx context.Context, tokenID int64, limit, offset int) ([]string, error)
}

// BalanceReader reads ERC20 balances from chain.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, holder common.Address, block *big.Int) (*big.Int, error)
}

// Recorder is notified of refreshed balances.
type Recorder interface {
	BalancesRefreshed(n int)
}

// Config sizes the tracker work units.
type Config struct {
	// CollectBatch is the number of blocks scanned before the cursor advances.
	CollectBatch uint64
	// PageSize is the number of stored holders refreshed per page.
	PageSize int
	// BalanceChunk bounds concurrent balanceOf reads.
	BalanceChunk int
}

// Tracker maintains holder balances of ERC20 tokens from Transfer logs.
type Tracker struct {
	cfg      Config
	scanner  *scan.Scanner
	source   scan.LogSource
	balances BalanceReader
	store    BalanceStore
	recorder Recorder
	logger   *zap.Logger
}

func NewTracker(cfg Config, scanner *scan.Scanner, source scan.LogSource, balances BalanceReader, store BalanceStore, recorder Recorder, logger *zap.Logger) *Tracker {
	if cfg.CollectBatch == 0 {
		cfg.CollectBatch = 10000
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.BalanceChunk <= 0 {
		cfg.BalanceChunk = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		cfg:      cfg,
		scanner:  scanner,
		source:   source,
		balances: balances,
		store:    store,
		recorder: recorder,
		logger:   logger,
	}
}

// Track registers token, collects every holder from fromBlock to head and
// then refreshes the balance of every stored holder. A token that is already
// tracked resumes from its cursor.
func (t *Tracker) Track(ctx context.Context, token common.Address, fromBlock uint64) error {
	cursor := fromBlock
	if cursor > 0 {
		cursor--
	}
	tracked, err := t.store.AddToken(ctx, model.AddressKey(token), cursor)
	if err != nil {
		return fmt.Errorf("add token: %w", err)
	}

	if err := t.collect(ctx, token, tracked, func(ctx context.Context, holders []common.Address) error {
		return t.store.InsertBalances(ctx, tracked.ID, addressKeys(holders))
	}); err != nil {
		return err
	}

	total, err := t.store.CountBalances(ctx, tracked.ID)
	if err != nil {
		return fmt.Errorf("count balances: %w", err)
	}
	for offset := 0; offset < total; offset += t.cfg.PageSize {
		page, err := t.store.ListAddresses(ctx, tracked.ID, t.cfg.PageSize, offset)
		if err != nil {
			return fmt.Errorf("list holders: %w", err)
		}
		holders := make([]common.Address, 0, len(page))
		for _, address := range page {
			holder, err := model.ParseAddress(address)
			if err != nil {
				return err
			}
			holders = append(holders, holder)
		}
		if err := t.refresh(ctx, token, tracked.ID, holders); err != nil {
			return err
		}
	}

	t.logger.Info("token tracked", zap.String("token", token.Hex()), zap.Int("holders", total))
	return nil
}

// Update scans transfers since the token cursor and refreshes the balance of
// every address they touched.
func (t *Tracker) Update(ctx context.Context, token common.Address) error {
	tracked, ok, err := t.store.TokenByAddress(ctx, model.AddressKey(token))
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if !ok {
		return fmt.Errorf("token %s is not tracked", token.Hex())
	}
	return t.collect(ctx, token, tracked, func(ctx context.Context, holders []common.Address) error {
		return t.refresh(ctx, token, tracked.ID, holders)
	})
}

// Monitor runs Update every interval until ctx is cancelled. Failed updates
// are logged and retried on the next tick.
func (t *Tracker) Monitor(ctx context.Context, token common.Address, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := t.Update(ctx, token); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Error("holder update failed", zap.String("token", token.Hex()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// collect walks (cursor, head] in CollectBatch chunks, hands the holders of
// each chunk to handle and advances the cursor after each chunk.
func (t *Tracker) collect(ctx context.Context, token common.Address, tracked model.Token, handle func(context.Context, []common.Address) error) error {
	head, err := t.source.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}

	filter := scan.EventFilter("transfer", token, uniswap.TransferTopic)
	cursor := tracked.LastScannedBlock
	for cursor < head {
		from := cursor + 1
		to := head
		if head-cursor > t.cfg.CollectBatch {
			to = cursor + t.cfg.CollectBatch
		}

		logs, err := t.scanner.Scan(ctx, filter, from, to)
		if err != nil {
			return err
		}
		holders, err := ExtractAddresses(logs)
		if err != nil {
			return err
		}
		if err := handle(ctx, holders); err != nil {
			return err
		}
		if err := t.store.UpdateTokenCursor(ctx, tracked.ID, to); err != nil {
			return fmt.Errorf("update cursor: %w", err)
		}

		t.logger.Info("transfers collected",
			zap.String("token", token.Hex()),
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Int("logs", len(logs)),
			zap.Int("holders", len(holders)),
		)
		cursor = to
	}
	return nil
}

// refresh reads the balances of holders in chunks of BalanceChunk concurrent
// calls and upserts them.
func (t *Tracker) refresh(ctx context.Context, token common.Address, tokenID int64, holders []common.Address) error {
	for start := 0; start < len(holders); start += t.cfg.BalanceChunk {
		end := start + t.cfg.BalanceChunk
		if end > len(holders) {
			end = len(holders)
		}
		chunk := holders[start:end]

		balances := make([]model.Balance, len(chunk))
		g, gctx := errgroup.WithContext(ctx)
		for i, holder := range chunk {
			g.Go(func() error {
				value, err := t.balances.BalanceOf(gctx, token, holder, nil)
				if err != nil {
					return fmt.Errorf("balance of %s: %w", holder.Hex(), err)
				}
				balances[i] = model.Balance{
					TokenID: tokenID,
					Address: model.AddressKey(holder),
					Balance: value.String(),
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := t.store.UpsertBalances(ctx, balances); err != nil {
			return fmt.Errorf("upsert balances: %w", err)
		}
		if t.recorder != nil {
			t.recorder.BalancesRefreshed(len(balances))
		}
	}
	return nil
}

// ExtractAddresses returns the distinct non-zero senders and receivers of
// Transfer logs in address order.
func ExtractAddresses(logs []types.Log) ([]common.Address, error) {
	seen := make(map[common.Address]struct{})
	for _, log := range logs {
		transfer, err := uniswap.DecodeTransfer(log)
		if err != nil {
			return nil, fmt.Errorf("decode transfer in tx %s: %w", log.TxHash.Hex(), err)
		}
		for _, addr := range []common.Address{transfer.From, transfer.To} {
			if addr != (common.Address{}) {
				seen[addr] = struct{}{}
			}
		}
	}

	out := make([]common.Address, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out, nil
}

func addressKeys(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = model.AddressKey(addr)
	}
	return out
}
