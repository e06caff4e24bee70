package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/refresh"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every Redis client error.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrConflict is returned when a transaction kept losing to concurrent
	// writers.
	ErrConflict = errors.New("redisstore: transaction conflict")
)

var errNestedTx = errors.New("redisstore: nested transactions are not supported")

const (
	defaultPrefix = "rt"
	maxTxAttempts = 4
)

// Store is a Redis-backed refresh.Store. It is safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ refresh.Store = (*Store)(nil)

// New returns a Store using keys under prefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) recordKey(id string) string {
	return s.prefix + ":rt:" + id
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":ru:" + userID
}

// txKey is never written. WithinTx WATCHes it first so a cluster client
// can route the transaction to the slot every other key shares.
func (s *Store) txKey() string {
	return s.prefix + ":tx"
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
}

func (s *Store) Find(ctx context.Context, id string) (*refresh.Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	rec, ok, err := decode(id, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, refresh.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) Save(ctx context.Context, rec refresh.Record) error {
	return s.WithinTx(ctx, func(ctx context.Context, tx refresh.Store) error {
		return tx.Save(ctx, rec)
	})
}

func (s *Store) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	var changed bool
	err := s.WithinTx(ctx, func(ctx context.Context, tx refresh.Store) error {
		var err error
		changed, err = tx.Revoke(ctx, id, at)
		return err
	})
	return changed, err
}

func (s *Store) Supersede(ctx context.Context, id, replacedBy string, at time.Time) (bool, error) {
	var changed bool
	err := s.WithinTx(ctx, func(ctx context.Context, tx refresh.Store) error {
		var err error
		changed, err = tx.Supersede(ctx, id, replacedBy, at)
		return err
	})
	return changed, err
}

func (s *Store) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	var n int64
	err := s.WithinTx(ctx, func(ctx context.Context, tx refresh.Store) error {
		var err error
		n, err = tx.RevokeAllForUser(ctx, userID, at)
		return err
	})
	return n, err
}

// WithinTx runs fn with every key it reads WATCHed and commits its writes in
// one MULTI/EXEC. When a watched key changes before EXEC, fn runs again
// against fresh state.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx refresh.Store) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.redis.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{store: s, rtx: rtx, pending: make(map[string]refresh.Record)}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return tx.commit(ctx)
		}, s.txKey())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// redisTx buffers writes. Reads go through the WATCHing connection.
type redisTx struct {
	store   *Store
	rtx     *redis.Tx
	pending map[string]refresh.Record
	stale   map[string][]string
}

func (t *redisTx) lookup(ctx context.Context, id string) (refresh.Record, bool, error) {
	if rec, ok := t.pending[id]; ok {
		return rec, true, nil
	}
	key := t.store.recordKey(id)
	if err := t.rtx.Watch(ctx, key).Err(); err != nil {
		return refresh.Record{}, false, unavailable(err)
	}
	fields, err := t.rtx.HGetAll(ctx, key).Result()
	if err != nil {
		return refresh.Record{}, false, unavailable(err)
	}
	return decode(id, fields)
}

func (t *redisTx) Find(ctx context.Context, id string) (*refresh.Record, error) {
	rec, ok, err := t.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, refresh.ErrNotFound
	}
	return &rec, nil
}

func (t *redisTx) Save(ctx context.Context, rec refresh.Record) error {
	if rec.ID == "" || rec.UserID == "" {
		return errors.New("redisstore: record requires id and user id")
	}
	_, exists, err := t.lookup(ctx, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		return refresh.ErrDuplicate
	}
	t.pending[rec.ID] = rec
	return nil
}

func (t *redisTx) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	return t.Supersede(ctx, id, "", at)
}

func (t *redisTx) Supersede(ctx context.Context, id, replacedBy string, at time.Time) (bool, error) {
	rec, ok, err := t.lookup(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, refresh.ErrNotFound
	}
	if rec.Revoked() {
		return false, nil
	}
	revokedAt := at
	rec.RevokedAt = &revokedAt
	rec.ReplacedBy = replacedBy
	t.pending[id] = rec
	return true, nil
}

func (t *redisTx) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	key := t.store.userKey(userID)
	if err := t.rtx.Watch(ctx, key).Err(); err != nil {
		return 0, unavailable(err)
	}
	ids, err := t.rtx.SMembers(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	for id, rec := range t.pending {
		if rec.UserID == userID {
			ids = append(ids, id)
		}
	}

	var n int64
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		rec, ok, err := t.lookup(ctx, id)
		if err != nil {
			return 0, err
		}
		if !ok {
			// Expired records leave their id behind in the user set.
			if t.stale == nil {
				t.stale = make(map[string][]string)
			}
			t.stale[userID] = append(t.stale[userID], id)
			continue
		}
		if rec.Revoked() || rec.Expired(at) {
			continue
		}
		revokedAt := at
		rec.RevokedAt = &revokedAt
		t.pending[id] = rec
		n++
	}
	return n, nil
}

func (t *redisTx) WithinTx(context.Context, func(context.Context, refresh.Store) error) error {
	return errNestedTx
}

func (t *redisTx) commit(ctx context.Context) error {
	if len(t.pending) == 0 && len(t.stale) == 0 {
		return nil
	}
	_, err := t.rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, rec := range t.pending {
			key := t.store.recordKey(id)
			pipe.HSet(ctx, key, encode(rec))
			pipe.PExpireAt(ctx, key, rec.ExpiresAt)
			pipe.SAdd(ctx, t.store.userKey(rec.UserID), id)
		}
		for userID, ids := range t.stale {
			members := make([]any, len(ids))
			for i, id := range ids {
				members[i] = id
			}
			pipe.SRem(ctx, t.store.userKey(userID), members...)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return unavailable(err)
	}
	return err
}
