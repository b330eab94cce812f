package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyoco/updownbot/internal/domain"
)

// quoteTTL bounds staleness: up/down markets expire within hours, so a
// quote that outlives its market is garbage either way.
const quoteTTL = 6 * time.Hour

// QuoteCache implements domain.QuoteCache using Redis hashes. Each
// token's latest quote is a hash at "quote:{tokenID}" with fields
// "bid", "ask", and "ts" (Unix nanoseconds). Missing bid or ask fields
// mean that side of the book has not been observed yet.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(tokenID string) string {
	return "quote:" + tokenID
}

// SetQuote stores the latest best bid/ask for a token. Nil sides are
// left untouched so a one-sided update never erases the other side.
func (qc *QuoteCache) SetQuote(ctx context.Context, tokenID string, bid, ask *float64, ts time.Time) error {
	key := quoteKey(tokenID)

	fields := map[string]interface{}{
		"ts": strconv.FormatInt(ts.UnixNano(), 10),
	}
	if bid != nil {
		fields["bid"] = strconv.FormatFloat(*bid, 'f', -1, 64)
	}
	if ask != nil {
		fields["ask"] = strconv.FormatFloat(*ask, 'f', -1, 64)
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", tokenID, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a token. It returns
// domain.ErrNotFound when the token has never been quoted.
func (qc *QuoteCache) GetQuote(ctx context.Context, tokenID string) (bid, ask *float64, ts time.Time, err error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(tokenID)).Result()
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("redis: get quote %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return nil, nil, time.Time{}, domain.ErrNotFound
	}

	if s, ok := vals["bid"]; ok {
		if v, perr := strconv.ParseFloat(s, 64); perr == nil {
			bid = &v
		}
	}
	if s, ok := vals["ask"]; ok {
		if v, perr := strconv.ParseFloat(s, 64); perr == nil {
			ask = &v
		}
	}
	if s, ok := vals["ts"]; ok {
		if nano, perr := strconv.ParseInt(s, 10, 64); perr == nil {
			ts = time.Unix(0, nano)
		}
	}
	return bid, ask, ts, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
