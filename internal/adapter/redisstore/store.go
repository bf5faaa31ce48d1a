// Package redisstore implements port.Store on Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ShiningRay/exchange-engine/internal/port"
)

var _ port.Store = (*Store)(nil)

type Store struct {
	client *redis.Client
}

// New connects to the store at url (redis:// form) and verifies the
// connection. poolSize should cover one connection per symbol processor
// plus the API handlers.
func New(ctx context.Context, url string, poolSize int) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse url: %w", err)
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: connect: %w", err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client, used when the caller owns the
// connection pool.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error { return s.client.Close() }

func wrap(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	return fmt.Errorf("%w: %v", port.ErrStore, err)
}

type pipeTx struct {
	pipe redis.Pipeliner
	ctx  context.Context
}

func (t *pipeTx) HashSet(key string, fields map[string]any) { t.pipe.HSet(t.ctx, key, fields) }
func (t *pipeTx) ZAdd(key string, score float64, member string) {
	t.pipe.ZAdd(t.ctx, key, redis.Z{Score: score, Member: member})
}
func (t *pipeTx) ZRem(key, member string)        { t.pipe.ZRem(t.ctx, key, member) }
func (t *pipeTx) ListPushLeft(key, value string) { t.pipe.LPush(t.ctx, key, value) }
func (t *pipeTx) ListTrim(key string, start, stop int64) {
	t.pipe.LTrim(t.ctx, key, start, stop)
}
func (t *pipeTx) SetAdd(key, member string) { t.pipe.SAdd(t.ctx, key, member) }
func (t *pipeTx) Expire(key string, ttl time.Duration) {
	if ttl > 0 {
		t.pipe.Expire(t.ctx, key, ttl)
	}
}

// Txn runs fn inside MULTI/EXEC so the buffered writes land all-or-nothing.
func (s *Store) Txn(ctx context.Context, fn func(tx port.Tx) error) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return fn(&pipeTx{pipe: pipe, ctx: ctx})
	})
	return wrap(err)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, wrap(err)
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	return n, wrap(err)
}

func (s *Store) HashSet(ctx context.Context, key string, fields map[string]any) error {
	return wrap(s.client.HSet(ctx, key, fields).Err())
}

func (s *Store) HashGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, wrap(err)
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	return m, wrap(err)
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return wrap(s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (s *Store) ZRem(ctx context.Context, key, member string) error {
	return wrap(s.client.ZRem(ctx, key, member).Err())
}

func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := s.client.ZRange(ctx, key, start, stop).Result()
	return v, wrap(err)
}

func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := s.client.ZRevRange(ctx, key, start, stop).Result()
	return v, wrap(err)
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, lo, hi float64) ([]string, error) {
	v, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(lo),
		Max: formatScore(hi),
	}).Result()
	return v, wrap(err)
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, lo, hi float64) error {
	return wrap(s.client.ZRemRangeByScore(ctx, key, formatScore(lo), formatScore(hi)).Err())
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	return n, wrap(err)
}

func (s *Store) ListPushLeft(ctx context.Context, key, value string) error {
	return wrap(s.client.LPush(ctx, key, value).Err())
}

func (s *Store) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return wrap(s.client.LTrim(ctx, key, start, stop).Err())
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := s.client.LRange(ctx, key, start, stop).Result()
	return v, wrap(err)
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	return n, wrap(err)
}

func (s *Store) ListPopRightBlocking(ctx context.Context, key string, timeout time.Duration) (string, error) {
	v, err := s.client.BRPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", wrap(err)
	}
	// BRPop returns [key, value].
	return v[1], nil
}

func (s *Store) SetAdd(ctx context.Context, key, member string) error {
	return wrap(s.client.SAdd(ctx, key, member).Err())
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	v, err := s.client.SMembers(ctx, key).Result()
	return v, wrap(err)
}

func (s *Store) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	return ok, wrap(err)
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	v, err := s.client.Keys(ctx, pattern).Result()
	return v, wrap(err)
}

func (s *Store) Ping(ctx context.Context) error {
	return wrap(s.client.Ping(ctx).Err())
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
