package authcore

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/refresh"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct horse battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeUsers struct {
	mu     sync.Mutex
	byID   map[string]UserRecord
	nextID int

	lookupErr error
	lookups   int
	rehashes  int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[string]UserRecord)}
}

func (f *fakeUsers) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return UserRecord{}, f.lookupErr
	}
	id := strings.ToLower(strings.TrimSpace(identifier))
	for _, u := range f.byID {
		if strings.ToLower(u.Username) == id || strings.ToLower(u.Email) == id {
			return u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (f *fakeUsers) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return UserRecord{}, f.lookupErr
	}
	u, ok := f.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) CreateUser(_ context.Context, in CreateUserInput) (UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if strings.EqualFold(u.Username, in.Username) || strings.EqualFold(u.Email, in.Email) {
			return UserRecord{}, ErrAccountExists
		}
	}
	f.nextID++
	u := UserRecord{
		UserID:       "user-" + strconv.Itoa(f.nextID),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
	}
	f.byID[u.UserID] = u
	return u, nil
}

func (f *fakeUsers) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = newHash
	f.byID[userID] = u
	f.rehashes++
	return nil
}

func (f *fakeUsers) put(u UserRecord) {
	f.mu.Lock()
	f.byID[u.UserID] = u
	f.mu.Unlock()
}

func (f *fakeUsers) get(userID string) UserRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[userID]
}

func (f *fakeUsers) setLookupErr(err error) {
	f.mu.Lock()
	f.lookupErr = err
	f.mu.Unlock()
}

// testConfig keeps Argon2 cheap and leaves every rate policy off so tests
// opt into throttling explicitly.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.RateLimit.Login = RatePolicy{}
	cfg.RateLimit.Register = RatePolicy{}
	cfg.RateLimit.Refresh = RatePolicy{}
	cfg.Metrics.Enabled = true
	return cfg
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	users  *fakeUsers
	store  *refresh.MemoryStore
	clock  *testClock
}

type envOption func(*Builder)

func withSink(sink AuditSink) envOption {
	return func(b *Builder) { b.WithAuditSink(sink) }
}

func newTestEnv(t testing.TB, cfg Config, opts ...envOption) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	env := &testEnv{
		mr:    mr,
		rdb:   rdb,
		users: newFakeUsers(),
		store: refresh.NewMemoryStore(),
		clock: newTestClock(),
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRefreshStore(env.store).
		WithUserProvider(env.users).
		WithClock(env.clock)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

// addUser stores a user whose password is testPassword, hashed with the
// engine's own parameters.
func (env *testEnv) addUser(t testing.TB, userID, username string) UserRecord {
	t.Helper()
	hash, err := env.engine.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	u := UserRecord{
		UserID:       userID,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
	}
	env.users.put(u)
	return u
}

func (env *testEnv) login(t testing.TB, username string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), Credentials{Identifier: username, Password: testPassword})
	if err != nil {
		t.Fatalf("login %s failed: %v", username, err)
	}
	return res
}
