package price

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const secondsPerDay = 86400

// Oracle returns the USD price of a token on a UTC day. A zero price means
// the oracle has no market data for that token and day.
type Oracle interface {
	Price(ctx context.Context, token common.Address, day time.Time) (decimal.Decimal, error)
}

// DateBucket aligns a unix timestamp to UTC midnight.
func DateBucket(ts uint64) uint64 {
	return ts - ts%secondsPerDay
}

// Day returns the UTC midnight of the day containing ts.
func Day(ts uint64) time.Time {
	return time.Unix(int64(DateBucket(ts)), 0).UTC()
}
