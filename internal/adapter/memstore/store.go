// Package memstore is an in-memory port.Store used by tests. It mirrors
// the store semantics the engine relies on: ordered sets keep insertion
// order between equal scores, lists are head-left, and Txn batches apply
// under a single lock.
package memstore

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/ShiningRay/exchange-engine/internal/port"
)

var _ port.Store = (*Store)(nil)

type zentry struct {
	member string
	score  float64
	seq    uint64
}

type Store struct {
	mu       sync.Mutex
	hashes   map[string]map[string]string
	zsets    map[string][]zentry
	lists    map[string][]string
	sets     map[string]map[string]struct{}
	counters map[string]int64
	seq      uint64
	failErr  error
}

func New() *Store {
	return &Store{
		hashes:   make(map[string]map[string]string),
		zsets:    make(map[string][]zentry),
		lists:    make(map[string][]string),
		sets:     make(map[string]map[string]struct{}),
		counters: make(map[string]int64),
	}
}

// FailWith makes every subsequent operation return err; pass nil to heal.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *Store) check() error { return s.failErr }

type op func(s *Store)

type memTx struct {
	ops []op
}

func (t *memTx) HashSet(key string, fields map[string]any) {
	t.ops = append(t.ops, func(s *Store) { s.hashSetLocked(key, fields) })
}

func (t *memTx) ZAdd(key string, score float64, member string) {
	t.ops = append(t.ops, func(s *Store) { s.zaddLocked(key, score, member) })
}

func (t *memTx) ZRem(key, member string) {
	t.ops = append(t.ops, func(s *Store) { s.zremLocked(key, member) })
}

func (t *memTx) ListPushLeft(key, value string) {
	t.ops = append(t.ops, func(s *Store) {
		s.lists[key] = append([]string{value}, s.lists[key]...)
	})
}

func (t *memTx) ListTrim(key string, start, stop int64) {
	t.ops = append(t.ops, func(s *Store) { s.listTrimLocked(key, start, stop) })
}

func (t *memTx) SetAdd(key, member string) {
	t.ops = append(t.ops, func(s *Store) { s.setAddLocked(key, member) })
}

func (t *memTx) Expire(key string, ttl time.Duration) {
	// retention is not modelled in the test store
}

func (s *Store) Txn(ctx context.Context, fn func(tx port.Tx) error) error {
	tx := &memTx{}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	for _, apply := range tx.ops {
		apply(s)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return "", err
	}
	if n, ok := s.counters[key]; ok {
		return formatInt(n), nil
	}
	return "", nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	s.counters[key]++
	return s.counters[key], nil
}

func (s *Store) hashSetLocked(key string, fields map[string]any) {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = toString(v)
	}
}

func (s *Store) HashSet(ctx context.Context, key string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.hashSetLocked(key, fields)
	return nil
}

func (s *Store) HashGet(ctx context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return "", err
	}
	return s.hashes[key][field], nil
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (s *Store) zaddLocked(key string, score float64, member string) {
	entries := s.zsets[key]
	for i := range entries {
		if entries[i].member == member {
			entries[i].score = score
			s.sortLocked(key)
			return
		}
	}
	s.seq++
	s.zsets[key] = append(entries, zentry{member: member, score: score, seq: s.seq})
	s.sortLocked(key)
}

func (s *Store) sortLocked(key string) {
	entries := s.zsets[key]
	// insertion sort keeps equal scores in insertion order
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			if entries[j].score < entries[j-1].score ||
				(entries[j].score == entries[j-1].score && entries[j].seq < entries[j-1].seq) {
				entries[j], entries[j-1] = entries[j-1], entries[j]
			} else {
				break
			}
		}
	}
}

func (s *Store) zremLocked(key, member string) {
	entries := s.zsets[key]
	for i := range entries {
		if entries[i].member == member {
			s.zsets[key] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.zaddLocked(key, score, member)
	return nil
}

func (s *Store) ZRem(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.zremLocked(key, member)
	return nil
}

func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	entries := s.zsets[key]
	lo, hi, ok := normalize(start, stop, int64(len(entries)))
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, hi-lo+1)
	for _, e := range entries[lo : hi+1] {
		out = append(out, e.member)
	}
	return out, nil
}

func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	entries := s.zsets[key]
	n := int64(len(entries))
	lo, hi, ok := normalize(start, stop, n)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, entries[n-1-i].member)
	}
	return out, nil
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, lo, hi float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []string
	for _, e := range s.zsets[key] {
		if e.score >= lo && e.score <= hi {
			out = append(out, e.member)
		}
	}
	return out, nil
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, lo, hi float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	entries := s.zsets[key]
	kept := entries[:0]
	for _, e := range entries {
		if e.score < lo || e.score > hi {
			kept = append(kept, e)
		}
	}
	s.zsets[key] = kept
	return nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	return int64(len(s.zsets[key])), nil
}

func (s *Store) ListPushLeft(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.lists[key] = append([]string{value}, s.lists[key]...)
	return nil
}

func (s *Store) listTrimLocked(key string, start, stop int64) {
	l := s.lists[key]
	lo, hi, ok := normalize(start, stop, int64(len(l)))
	if !ok {
		s.lists[key] = nil
		return
	}
	s.lists[key] = append([]string(nil), l[lo:hi+1]...)
}

func (s *Store) ListTrim(ctx context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.listTrimLocked(key, start, stop)
	return nil
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	l := s.lists[key]
	lo, hi, ok := normalize(start, stop, int64(len(l)))
	if !ok {
		return nil, nil
	}
	return append([]string(nil), l[lo:hi+1]...), nil
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	return int64(len(s.lists[key])), nil
}

func (s *Store) ListPopRightBlocking(ctx context.Context, key string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if err := s.check(); err != nil {
			s.mu.Unlock()
			return "", err
		}
		if l := s.lists[key]; len(l) > 0 {
			v := l[len(l)-1]
			s.lists[key] = l[:len(l)-1]
			s.mu.Unlock()
			return v, nil
		}
		s.mu.Unlock()
		if time.Now().After(deadline) {
			return "", nil
		}
		select {
		case <-ctx.Done():
			return "", nil
		case <-time.After(time.Millisecond):
		}
	}
}

func (s *Store) setAddLocked(key, member string) {
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
}

func (s *Store) SetAdd(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.setAddLocked(key, member)
	return nil
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	_, ok := s.sets[key][member]
	return ok, nil
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	collect := func(key string) {
		if ok, _ := path.Match(pattern, key); ok {
			seen[key] = struct{}{}
		}
	}
	for k := range s.hashes {
		collect(k)
	}
	for k := range s.zsets {
		collect(k)
	}
	for k := range s.lists {
		collect(k)
	}
	for k := range s.sets {
		collect(k)
	}
	for k := range s.counters {
		collect(k)
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check()
}

func normalize(start, stop, n int64) (int64, int64, bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }
