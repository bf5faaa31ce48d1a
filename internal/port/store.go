// Package port declares the contracts between the engine core and its
// adapters, following the capability set the matching pipeline needs from
// the shared key-value store.
package port

import (
	"context"
	"errors"
	"time"

	"github.com/ShiningRay/exchange-engine/internal/domain"
)

// ErrStore wraps every failure caused by a lost connection or a timed-out
// store operation.
var ErrStore = errors.New("store unavailable")

// Tx batches writes that must land atomically. Operations are buffered and
// applied all-or-nothing when the surrounding Txn commits.
type Tx interface {
	HashSet(key string, fields map[string]any)
	ZAdd(key string, score float64, member string)
	ZRem(key, member string)
	ListPushLeft(key, value string)
	ListTrim(key string, start, stop int64)
	SetAdd(key, member string)
	Expire(key string, ttl time.Duration)
}

// Store is the capability surface over the shared key-value store.
//
// Ordered sets rank members by score; equal scores keep insertion order,
// which yields time priority as long as a single writer inserts for a
// given key. Lists are addressed with index 0 at the head (left).
type Store interface {
	// Txn executes the writes buffered by fn atomically.
	Txn(ctx context.Context, fn func(tx Tx) error) error

	Get(ctx context.Context, key string) (string, error)
	Incr(ctx context.Context, key string) (int64, error)

	HashSet(ctx context.Context, key string, fields map[string]any) error
	HashGet(ctx context.Context, key, field string) (string, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key, member string) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRangeByScore(ctx context.Context, key string, lo, hi float64) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key string, lo, hi float64) error
	ZCard(ctx context.Context, key string) (int64, error)

	ListPushLeft(ctx context.Context, key, value string) error
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListLen(ctx context.Context, key string) (int64, error)
	// ListPopRightBlocking waits up to timeout for a tail element and
	// returns ("", nil) when none arrives.
	ListPopRightBlocking(ctx context.Context, key string, timeout time.Duration) (string, error)

	SetAdd(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetIsMember(ctx context.Context, key, member string) (bool, error)

	// Keys is for telemetry only; never used on hot paths.
	Keys(ctx context.Context, pattern string) ([]string, error)

	Ping(ctx context.Context) error
}

// Archiver receives terminal orders and executed trades for long-term
// retention outside the store.
type Archiver interface {
	ArchiveOrder(ctx context.Context, o *domain.Order) error
	ArchiveTrade(ctx context.Context, t *domain.Trade) error
}
