package redisstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/refresh"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test"), mr
}

func record(id, userID string, now time.Time) refresh.Record {
	return refresh.Record{
		ID:        id,
		UserID:    userID,
		TokenHash: refresh.HashToken("token-" + id),
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
}

func TestSaveFindRoundTrip(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec := record("r1", "u1", now)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Find(ctx, "r1")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got.UserID != "u1" || got.TokenHash != rec.TokenHash || got.Revoked() {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("times not preserved: %+v", got)
	}
	if !got.MatchesToken("token-r1") {
		t.Fatal("expected stored hash to match the token")
	}

	ttl := mr.TTL("test:rt:r1")
	if ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected record to expire with the token, ttl=%s", ttl)
	}
	if !mr.Exists("test:ru:u1") {
		t.Fatal("expected user index key")
	}

	if err := s.Save(ctx, rec); !errors.Is(err, refresh.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestFindUnknownAndCorrupt(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	if _, err := s.Find(ctx, "missing"); !errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mr.HSet("test:rt:bad", "user", "u1", "hash", "abc", "exp", "not-a-number", "created", "0")
	if _, err := s.Find(ctx, "bad"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestSupersedeFirstCallerWins(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	now := time.Now()
	if err := s.Save(ctx, record("r1", "u1", now)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	changed, err := s.Supersede(ctx, "r1", "r2", now)
	if err != nil || !changed {
		t.Fatalf("expected first supersede to win, changed=%v err=%v", changed, err)
	}
	changed, err = s.Supersede(ctx, "r1", "r3", now)
	if err != nil || changed {
		t.Fatalf("expected second supersede to lose, changed=%v err=%v", changed, err)
	}

	got, err := s.Find(ctx, "r1")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if !got.Rotated() || got.ReplacedBy != "r2" {
		t.Fatalf("expected rotation to r2, got %+v", got)
	}

	if _, err := s.Revoke(ctx, "missing", now); !errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	now := time.Now()

	lapsed := record("a3", "alice", now)
	lapsed.ExpiresAt = now.Add(10 * time.Minute)
	for _, rec := range []refresh.Record{
		record("a1", "alice", now),
		record("a2", "alice", now),
		lapsed,
		record("b1", "bob", now),
	} {
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if _, err := s.Revoke(ctx, "a2", now); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	mr.Del("test:rt:a2")

	// a3 has expired by the clock but its key has not been evicted yet.
	n, err := s.RevokeAllForUser(ctx, "alice", now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 newly revoked record, got %d", n)
	}
	if rec, err := s.Find(ctx, "a3"); err != nil || rec.Revoked() {
		t.Fatalf("expired record must not be revoked, rec=%+v err=%v", rec, err)
	}

	members, err := mr.Members("test:ru:alice")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 2 || members[0] != "a1" || members[1] != "a3" {
		t.Fatalf("expected stale id pruned, got %v", members)
	}

	bob, err := s.Find(ctx, "b1")
	if err != nil || bob.Revoked() {
		t.Fatalf("other users must be untouched, rec=%+v err=%v", bob, err)
	}
}

func TestWithinTxRollsBackAndRejectsNesting(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	now := time.Now()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx refresh.Store) error {
		if err := tx.Save(ctx, record("r1", "u1", now)); err != nil {
			return err
		}
		if _, err := tx.Find(ctx, "r1"); err != nil {
			t.Fatalf("expected pending record visible inside tx: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, err := s.Find(ctx, "r1"); !errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx refresh.Store) error {
		return tx.WithinTx(ctx, func(context.Context, refresh.Store) error { return nil })
	})
	if !errors.Is(err, errNestedTx) {
		t.Fatalf("expected nested tx rejection, got %v", err)
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	now := time.Now()
	if err := s.Save(ctx, record("r0", "u1", now)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const n = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int64
		start   = make(chan struct{})
		lost    = errors.New("lost")
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			next := record("r1-"+string(rune('a'+i)), "u1", now)
			err := s.WithinTx(ctx, func(ctx context.Context, tx refresh.Store) error {
				changed, err := tx.Supersede(ctx, "r0", next.ID, now)
				if err != nil {
					return err
				}
				if !changed {
					return lost
				}
				return tx.Save(ctx, next)
			})
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, lost), errors.Is(err, ErrConflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
}

func TestRedisFailureIsWrapped(t *testing.T) {
	s, mr := newStore(t)
	mr.SetError("ERR injected failure")

	if _, err := s.Find(context.Background(), "r1"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestClusterClientTransactions(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = rdb.Close() })
	s := New(rdb, "{refresh}")
	ctx := context.Background()
	now := time.Now()

	if err := s.Save(ctx, record("r1", "u1", now)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	err := s.WithinTx(ctx, func(ctx context.Context, tx refresh.Store) error {
		ok, err := tx.Supersede(ctx, "r1", "r2", now)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatal("expected first supersede to win")
		}
		return tx.Save(ctx, record("r2", "u1", now))
	})
	if err != nil {
		t.Fatalf("rotation failed: %v", err)
	}
	if ok, err := s.Supersede(ctx, "r1", "r3", now); err != nil || ok {
		t.Fatalf("replayed supersede: ok=%v err=%v", ok, err)
	}
	n, err := s.RevokeAllForUser(ctx, "u1", now)
	if err != nil || n != 1 {
		t.Fatalf("RevokeAllForUser: n=%d err=%v", n, err)
	}
	if !mr.Exists("{refresh}:rt:r2") {
		t.Fatal("expected keys under the hash-tagged prefix")
	}
}
