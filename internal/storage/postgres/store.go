package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"costbasis/internal/model"
)

//go:embed schema.sql
var schema string

// Store persists tracked tokens, holder balances and cost reports.
// Addresses are stored lowercase without the 0x prefix.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// AddToken registers a token. An already tracked token keeps its cursor.
func (s *Store) AddToken(ctx context.Context, address string, cursor uint64) (model.Token, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tokens (address, last_scanned_block, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (address) DO UPDATE SET updated_at = now()
		RETURNING id, address, last_scanned_block, updated_at
	`, storeKey(address), int64(cursor))
	return scanToken(row)
}

// TokenByID returns a tracked token.
func (s *Store) TokenByID(ctx context.Context, id int64) (model.Token, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, address, last_scanned_block, updated_at FROM tokens WHERE id=$1`, id)
	return scanOptionalToken(row)
}

// TokenByAddress returns a tracked token.
func (s *Store) TokenByAddress(ctx context.Context, address string) (model.Token, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, address, last_scanned_block, updated_at FROM tokens WHERE address=$1`, storeKey(address))
	return scanOptionalToken(row)
}

// UpdateTokenCursor stores the last fully scanned block of a token.
func (s *Store) UpdateTokenCursor(ctx context.Context, tokenID int64, block uint64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tokens SET last_scanned_block = $2, updated_at = now() WHERE id = $1
	`, tokenID, int64(block))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("token %d not found", tokenID)
	}
	return nil
}

// InsertBalances adds zero balances for addresses not yet known.
func (s *Store) InsertBalances(ctx context.Context, tokenID int64, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, address := range addresses {
		batch.Queue(`
			INSERT INTO balances (token_id, address, balance, updated_at)
			VALUES ($1, $2, 0, now())
			ON CONFLICT (token_id, address) DO NOTHING
		`, tokenID, storeKey(address))
	}
	return s.sendBatch(ctx, batch, len(addresses))
}

// UpsertBalances writes balances, replacing existing ones.
func (s *Store) UpsertBalances(ctx context.Context, balances []model.Balance) error {
	if len(balances) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range balances {
		batch.Queue(`
			INSERT INTO balances (token_id, address, balance, updated_at)
			VALUES ($1, $2, $3::text::numeric, now())
			ON CONFLICT (token_id, address)
			DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()
		`, b.TokenID, storeKey(b.Address), b.Balance)
	}
	return s.sendBatch(ctx, batch, len(balances))
}

// CountBalances returns the number of known holders of a token.
func (s *Store) CountBalances(ctx context.Context, tokenID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM balances WHERE token_id=$1`, tokenID).Scan(&n)
	return n, err
}

// ListAddresses pages through the holders of a token in address order.
func (s *Store) ListAddresses(ctx context.Context, tokenID int64, limit, offset int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address FROM balances WHERE token_id=$1 ORDER BY address LIMIT $2 OFFSET $3
	`, tokenID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, err
		}
		out = append(out, fromStoreKey(address))
	}
	return out, rows.Err()
}

// Balance returns the stored raw balance of a holder.
func (s *Store) Balance(ctx context.Context, tokenID int64, address string) (model.Balance, bool, error) {
	var balance string
	row := s.pool.QueryRow(ctx, `
		SELECT balance::text FROM balances WHERE token_id=$1 AND address=$2
	`, tokenID, storeKey(address))
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Balance{}, false, nil
		}
		return model.Balance{}, false, err
	}
	return model.Balance{TokenID: tokenID, Address: fromStoreKey(storeKey(address)), Balance: balance}, true, nil
}

// SaveCostReport upserts the latest report of a wallet and token.
func (s *Store) SaveCostReport(ctx context.Context, r model.CostReport) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cost_reports (
			wallet, token, hold, hold_tokens, cost, block_number, pairs, swaps, skipped, missing_prices, computed_at
		) VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (wallet, token)
		DO UPDATE SET
			hold = EXCLUDED.hold,
			hold_tokens = EXCLUDED.hold_tokens,
			cost = EXCLUDED.cost,
			block_number = EXCLUDED.block_number,
			pairs = EXCLUDED.pairs,
			swaps = EXCLUDED.swaps,
			skipped = EXCLUDED.skipped,
			missing_prices = EXCLUDED.missing_prices,
			computed_at = EXCLUDED.computed_at
	`,
		storeKey(r.Wallet),
		storeKey(r.Token),
		r.Hold,
		r.HoldTokens,
		r.Cost,
		int64(r.Block),
		r.Pairs,
		r.Swaps,
		r.Skipped,
		r.MissingPrices,
		r.ComputedAt,
	)
	return err
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func scanToken(row pgx.Row) (model.Token, error) {
	var (
		token  model.Token
		cursor int64
	)
	if err := row.Scan(&token.ID, &token.Address, &cursor, &token.UpdatedAt); err != nil {
		return model.Token{}, err
	}
	token.Address = fromStoreKey(token.Address)
	token.LastScannedBlock = uint64(cursor)
	return token, nil
}

func scanOptionalToken(row pgx.Row) (model.Token, bool, error) {
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Token{}, false, nil
		}
		return model.Token{}, false, err
	}
	return token, true, nil
}

func storeKey(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	return strings.TrimPrefix(address, "0x")
}

func fromStoreKey(key string) string {
	return "0x" + key
}
