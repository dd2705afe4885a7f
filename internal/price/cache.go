package price

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"costbasis/internal/model"
)

type cacheKey struct {
	token common.Address
	day   int64
}

// Cached memoizes an Oracle in memory and, when a redis client is given,
// in redis under price:<token>:<bucket>. Zero prices are cached too.
type Cached struct {
	next   Oracle
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu     sync.RWMutex
	memory map[cacheKey]decimal.Decimal
}

// NewCached wraps next. rdb may be nil; ttl 0 keeps redis entries forever.
func NewCached(next Oracle, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{
		next:   next,
		redis:  rdb,
		ttl:    ttl,
		logger: logger,
		memory: make(map[cacheKey]decimal.Decimal),
	}
}

func (c *Cached) Price(ctx context.Context, token common.Address, day time.Time) (decimal.Decimal, error) {
	key := cacheKey{token: token, day: day.UTC().Unix()}

	c.mu.RLock()
	price, ok := c.memory[key]
	c.mu.RUnlock()
	if ok {
		return price, nil
	}

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, RedisKey(token, day)).Result()
		switch {
		case err == nil:
			if price, err := decimal.NewFromString(cached); err == nil {
				c.remember(key, price)
				return price, nil
			}
			c.logger.Warn("invalid cached price", zap.String("key", RedisKey(token, day)), zap.String("value", cached))
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("redis price lookup failed", zap.String("token", token.Hex()), zap.Error(err))
		}
	}

	price, err := c.next.Price(ctx, token, day)
	if err != nil {
		return decimal.Zero, err
	}
	c.remember(key, price)

	if c.redis != nil {
		if err := c.redis.Set(ctx, RedisKey(token, day), price.String(), c.ttl).Err(); err != nil {
			c.logger.Warn("redis price store failed", zap.String("token", token.Hex()), zap.Error(err))
		}
	}
	return price, nil
}

func (c *Cached) remember(key cacheKey, price decimal.Decimal) {
	c.mu.Lock()
	c.memory[key] = price
	c.mu.Unlock()
}

// RedisKey returns the redis key of a token price on a day.
func RedisKey(token common.Address, day time.Time) string {
	return fmt.Sprintf("price:%s:%d", model.AddressKey(token), day.UTC().Unix())
}

// NewRedisClient builds a redis client for the price cache.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
