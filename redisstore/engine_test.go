package redisstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type oneUser struct {
	mu  sync.Mutex
	rec authcore.UserRecord
}

func (u *oneUser) GetUserByIdentifier(_ context.Context, identifier string) (authcore.UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.rec.UserID == "" || identifier != u.rec.Username {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return u.rec, nil
}

func (u *oneUser) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if userID != u.rec.UserID {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return u.rec, nil
}

func (u *oneUser) CreateUser(_ context.Context, in authcore.CreateUserInput) (authcore.UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.rec.UserID != "" {
		return authcore.UserRecord{}, authcore.ErrAccountExists
	}
	u.rec = authcore.UserRecord{UserID: "u1", Username: in.Username, Email: in.Email, PasswordHash: in.PasswordHash}
	return u.rec, nil
}

func (u *oneUser) UpdatePasswordHash(_ context.Context, _, newHash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rec.PasswordHash = newHash
	return nil
}

func TestEngineRotationOnRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.RevokeAllOnReuse = true

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRefreshStore(redisstore.New(rdb, "{refresh}")).
		WithUserProvider(&oneUser{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	first, err := engine.Register(ctx, authcore.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	second, err := engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	_, err = engine.Refresh(ctx, first.RefreshToken)
	var reuse *authcore.ReuseError
	if !errors.As(err, &reuse) || reuse.UserID != "u1" {
		t.Fatalf("expected reuse error for u1, got %v", err)
	}

	if _, err := engine.Refresh(ctx, second.RefreshToken); !errors.Is(err, authcore.ErrTokenRevoked) {
		t.Fatalf("expected escalation to revoke the successor, got %v", err)
	}
}
