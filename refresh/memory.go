package refresh

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Writers, including whole transactions,
// are serialized by one lock; readers outside a transaction never observe
// uncommitted changes.
type MemoryStore struct {
	writeMu sync.Mutex

	mu      sync.RWMutex
	records map[string]Record
	byUser  map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		byUser:  make(map[string]map[string]struct{}),
	}
}

// Len reports the number of stored records, revoked ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	return s.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		return tx.Save(ctx, rec)
	})
}

func (s *MemoryStore) Find(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.clone()
	return &out, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	var changed bool
	err := s.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		changed, err = tx.Revoke(ctx, id, at)
		return err
	})
	return changed, err
}

func (s *MemoryStore) Supersede(ctx context.Context, id, replacedBy string, at time.Time) (bool, error) {
	var changed bool
	err := s.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		changed, err = tx.Supersede(ctx, id, replacedBy, at)
		return err
	})
	return changed, err
}

func (s *MemoryStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	var n int64
	err := s.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		n, err = tx.RevokeAllForUser(ctx, userID, at)
		return err
	})
	return n, err
}

// WithinTx holds the write lock for the duration of fn and applies the
// transaction's changes only when fn returns nil without panicking.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := &memoryTx{parent: s, pending: make(map[string]Record)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range tx.pending {
		s.records[id] = rec
		ids, ok := s.byUser[rec.UserID]
		if !ok {
			ids = make(map[string]struct{})
			s.byUser[rec.UserID] = ids
		}
		ids[id] = struct{}{}
	}
	return nil
}

// memoryTx buffers writes until commit. The parent's write lock is held by the
// enclosing WithinTx, so committed state cannot change underneath it.
type memoryTx struct {
	parent  *MemoryStore
	pending map[string]Record
}

var errNestedTx = errors.New("refresh: nested transactions are not supported")

func (t *memoryTx) lookup(id string) (Record, bool) {
	if rec, ok := t.pending[id]; ok {
		return rec, true
	}
	t.parent.mu.RLock()
	defer t.parent.mu.RUnlock()
	rec, ok := t.parent.records[id]
	if ok {
		rec = rec.clone()
	}
	return rec, ok
}

func (t *memoryTx) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" || rec.UserID == "" {
		return errors.New("refresh: record requires id and user id")
	}
	if _, exists := t.lookup(rec.ID); exists {
		return ErrDuplicate
	}
	t.pending[rec.ID] = rec.clone()
	return nil
}

func (t *memoryTx) Find(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := t.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.clone()
	return &out, nil
}

func (t *memoryTx) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	return t.Supersede(ctx, id, "", at)
}

func (t *memoryTx) Supersede(ctx context.Context, id, replacedBy string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rec, ok := t.lookup(id)
	if !ok {
		return false, ErrNotFound
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

func (t *memoryTx) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ids := make(map[string]struct{})
	t.parent.mu.RLock()
	for id := range t.parent.byUser[userID] {
		ids[id] = struct{}{}
	}
	t.parent.mu.RUnlock()
	for id, rec := range t.pending {
		if rec.UserID == userID {
			ids[id] = struct{}{}
		}
	}

	var n int64
	for id := range ids {
		rec, _ := t.lookup(id)
		if !rec.Active(at) {
			continue
		}
		revokedAt := at
		rec.RevokedAt = &revokedAt
		t.pending[id] = rec
		n++
	}
	return n, nil
}

func (t *memoryTx) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return errNestedTx
}

var _ Store = (*MemoryStore)(nil)
