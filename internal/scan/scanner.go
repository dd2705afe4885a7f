package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"costbasis/internal/retry"
)

// LogSource is the part of the chain provider a scan needs.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// Observer receives scan progress and failed query attempts.
type Observer interface {
	QueryFailed(filter string, window BlockRange, attempt int, err error)
	WindowScanned(filter string, window BlockRange, logs int)
}

// Config holds the default scan shape and retry budget.
type Config struct {
	WindowSize   uint64
	Concurrency  int
	Attempts     int
	RetryBackoff time.Duration
}

// Scanner collects logs over large block ranges in bounded concurrent batches.
type Scanner struct {
	cfg      Config
	source   LogSource
	observer Observer
	logger   *zap.Logger
}

// NewScanner builds a Scanner with its dependencies.
func NewScanner(cfg Config, source LogSource, observer Observer, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Scanner{
		cfg:      cfg,
		source:   source,
		observer: observer,
		logger:   logger,
	}
}

// Config returns the scanner defaults.
func (s *Scanner) Config() Config {
	return s.cfg
}

// Scan collects logs in [from, to] using the configured window size and concurrency.
func (s *Scanner) Scan(ctx context.Context, filter Filter, from, to uint64) ([]types.Log, error) {
	return s.ScanWindows(ctx, filter, from, to, s.cfg.WindowSize, s.cfg.Concurrency)
}

// ScanWindows collects logs in [from, to]. The range is clamped to the chain
// head, split into windows of windowSize blocks (0 means a single window) and
// dispatched in sequential batches of at most concurrency windows. A window
// that exhausts its retries aborts the scan and no logs are returned.
func (s *Scanner) ScanWindows(ctx context.Context, filter Filter, from, to, windowSize uint64, concurrency int) ([]types.Log, error) {
	if s.source == nil {
		return nil, fmt.Errorf("log source is nil")
	}
	if filter.Query == nil {
		return nil, fmt.Errorf("filter %q has no query", filter.Name)
	}

	var head uint64
	err := retry.Do(ctx, s.policy(), func(attempt int, err error) {
		s.logger.Warn("latest block failed", zap.Int("attempt", attempt), zap.Error(err))
	}, func(ctx context.Context) error {
		var err error
		head, err = s.source.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get latest block: %w", err)
	}
	if to > head {
		to = head
	}
	if from > to {
		s.logger.Debug("nothing to scan", zap.String("filter", filter.Name), zap.Uint64("from", from), zap.Uint64("to", to))
		return nil, nil
	}

	if windowSize == 0 {
		windowSize = to - from + 1
	}
	windows, err := SplitRange(from, to, windowSize)
	if err != nil {
		return nil, err
	}

	var events []types.Log
	for _, batch := range Batches(windows, concurrency) {
		results := make([][]types.Log, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, window := range batch {
			g.Go(func() error {
				logs, err := s.query(gctx, filter, window)
				if err != nil {
					return err
				}
				results[i] = logs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			failed := BlockRange{From: from, To: to}
			var qe *QueryError
			if errors.As(err, &qe) {
				failed = qe.Window
			}
			s.logger.Error("scan aborted",
				zap.String("filter", filter.Name),
				zap.Uint64("from", failed.From),
				zap.Uint64("to", failed.To),
				zap.Error(err),
			)
			return nil, &ScanError{Name: filter.Name, Range: BlockRange{From: from, To: to}, Err: err}
		}
		for _, logs := range results {
			events = append(events, logs...)
		}
	}

	s.logger.Debug("scan complete",
		zap.String("filter", filter.Name),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("windows", len(windows)),
		zap.Int("logs", len(events)),
	)

	return events, nil
}

func (s *Scanner) query(ctx context.Context, filter Filter, window BlockRange) ([]types.Log, error) {
	var logs []types.Log
	policy := s.policy()
	err := retry.Do(ctx, policy, func(attempt int, err error) {
		s.observer.QueryFailed(filter.Name, window, attempt, err)
		s.logger.Warn("filter logs failed",
			zap.String("filter", filter.Name),
			zap.Uint64("from", window.From),
			zap.Uint64("to", window.To),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}, func(ctx context.Context) error {
		var err error
		logs, err = s.source.FilterLogs(ctx, filter.Query(window))
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &QueryError{Window: window, Attempts: policy.Attempts, Err: err}
	}

	s.observer.WindowScanned(filter.Name, window, len(logs))
	return logs, nil
}

func (s *Scanner) policy() retry.Policy {
	attempts := s.cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.Policy{Attempts: attempts, BaseDelay: s.cfg.RetryBackoff}
}

type nopObserver struct{}

func (nopObserver) QueryFailed(string, BlockRange, int, error) {}
func (nopObserver) WindowScanned(string, BlockRange, int)      {}
