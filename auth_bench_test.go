package authcore

import (
	"context"
	"testing"
)

func BenchmarkAuthorize(b *testing.B) {
	env := newTestEnv(b, testConfig())
	env.addUser(b, "u1", "alice")
	res := env.login(b, "alice")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.Authorize(context.Background(), res.AccessToken); err != nil {
			b.Fatalf("authorize failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	env := newTestEnv(b, testConfig())
	env.addUser(b, "u1", "alice")
	refreshToken := env.login(b, "alice").RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := env.engine.Refresh(context.Background(), refreshToken)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		refreshToken = next.RefreshToken
	}
}

func BenchmarkLogin(b *testing.B) {
	env := newTestEnv(b, testConfig())
	env.addUser(b, "u1", "alice")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := env.login(b, "alice")
		_ = env.engine.Logout(context.Background(), res.RefreshTokenID)
	}
}
