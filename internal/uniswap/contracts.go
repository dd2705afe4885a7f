package uniswap

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"costbasis/internal/model"
	"costbasis/internal/retry"
)

// Caller executes read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader performs factory, pair and ERC20 reads. Results that never change
// (pool orientation, pair addresses, token metadata) are cached, so a
// Reader is meant to live for one run.
type Reader struct {
	caller  Caller
	factory common.Address
	policy  retry.Policy
	logger  *zap.Logger

	orientation *OrientationCache
	pairs       *PairCache
	tokens      *TokenMetaCache
}

// NewReader builds a Reader. Every call is retried under policy.
func NewReader(caller Caller, factory common.Address, policy retry.Policy, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		caller:      caller,
		factory:     factory,
		policy:      policy,
		logger:      logger,
		orientation: NewOrientationCache(),
		pairs:       NewPairCache(),
		tokens:      NewTokenMetaCache(),
	}
}

// Token0 returns the pool's token0 address.
func (r *Reader) Token0(ctx context.Context, pool common.Address) (common.Address, error) {
	if token0, ok := r.orientation.Get(pool); ok {
		return token0, nil
	}
	pairABI, err := PairABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse pair abi: %w", err)
	}
	values, err := r.call(ctx, pool, pairABI, "token0", nil)
	if err != nil {
		return common.Address{}, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("token0: %w", err)
	}
	r.orientation.Set(pool, token0)
	return token0, nil
}

// GetPair returns the factory pool for (a, b). The zero address means no pool exists.
func (r *Reader) GetPair(ctx context.Context, a, b common.Address) (common.Address, error) {
	if pool, ok := r.pairs.Get(a, b); ok {
		return pool, nil
	}
	factoryABI, err := FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	values, err := r.call(ctx, r.factory, factoryABI, "getPair", nil, a, b)
	if err != nil {
		return common.Address{}, err
	}
	pool, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("getPair: %w", err)
	}
	r.pairs.Set(a, b, pool)
	return pool, nil
}

// AllPairsLength returns the number of pools created by the factory.
func (r *Reader) AllPairsLength(ctx context.Context) (uint64, error) {
	factoryABI, err := FactoryABI()
	if err != nil {
		return 0, fmt.Errorf("parse factory abi: %w", err)
	}
	values, err := r.call(ctx, r.factory, factoryABI, "allPairsLength", nil)
	if err != nil {
		return 0, err
	}
	length, err := asBigInt(values[0])
	if err != nil {
		return 0, fmt.Errorf("allPairsLength: %w", err)
	}
	return length.Uint64(), nil
}

// AllPairs returns the pool at index i of the factory registry.
func (r *Reader) AllPairs(ctx context.Context, i uint64) (common.Address, error) {
	factoryABI, err := FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	values, err := r.call(ctx, r.factory, factoryABI, "allPairs", nil, new(big.Int).SetUint64(i))
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

// BalanceOf returns holder's raw token balance at block (nil for latest).
func (r *Reader) BalanceOf(ctx context.Context, token, holder common.Address, block *big.Int) (*big.Int, error) {
	erc20ABI, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := r.call(ctx, token, erc20ABI, "balanceOf", block, holder)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// TokenMeta loads decimals, symbol and name. Decimals are required; symbol
// and name fall back to the bytes32 encoding and are left empty on failure.
func (r *Reader) TokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	if meta, ok := r.tokens.Get(token); ok {
		return meta, nil
	}
	meta := model.TokenMeta{Address: token.Hex()}

	stringABI, err := ERC20ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := r.call(ctx, token, stringABI, "decimals", nil)
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals
	meta.Symbol = r.textField(ctx, token, "symbol", stringABI, bytes32ABI)
	meta.Name = r.textField(ctx, token, "name", stringABI, bytes32ABI)

	r.tokens.Set(token, meta)
	return meta, nil
}

func (r *Reader) textField(ctx context.Context, token common.Address, method string, stringABI, bytes32ABI abi.ABI) string {
	values, err := r.callOnce(ctx, token, stringABI, method, nil)
	if err == nil {
		if text, ok := values[0].(string); ok {
			return text
		}
	}
	values, err = r.callOnce(ctx, token, bytes32ABI, method, nil)
	if err == nil {
		if text, ok := bytes32ToString(values[0]); ok {
			return text
		}
	}
	r.logger.Debug("token text call failed", zap.String("token", token.Hex()), zap.String("method", method), zap.Error(err))
	return ""
}

func (r *Reader) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	var values []interface{}
	err := retry.Do(ctx, r.policy, func(attempt int, err error) {
		r.logger.Warn("contract call failed",
			zap.String("contract", to.Hex()),
			zap.String("method", method),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}, func(ctx context.Context) error {
		var err error
		values, err = r.callOnce(ctx, to, parsed, method, block, args...)
		return err
	})
	return values, err
}

func (r *Reader) callOnce(ctx context.Context, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	if r.caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := r.caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
