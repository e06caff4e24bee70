package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

// drain closes the engine, flushing the dispatcher, and returns every event
// the sink received.
func drain(env *testEnv, sink *ChannelSink) []AuditEvent {
	env.engine.Close()
	var events []AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func auditConfig() Config {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	return cfg
}

func eventsOfType(events []AuditEvent, eventType string) []AuditEvent {
	var out []AuditEvent
	for _, ev := range events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	env := newTestEnv(t, testConfig(), withSink(sink))
	env.addUser(t, "u1", "alice")

	_, _ = env.engine.Login(WithClientIP(context.Background(), "203.0.113.1"), Credentials{Identifier: "alice", Password: "wrong password"})
	env.engine.Close()

	if sink.count.Load() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.count.Load())
	}
}

func TestAuditLoginEventsCarryOrigin(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnv(t, auditConfig(), withSink(sink))
	env.addUser(t, "u1", "alice")
	ctx := WithClientIP(context.Background(), "198.51.100.33")

	_, _ = env.engine.Login(ctx, Credentials{Identifier: "alice", Password: "wrong password"})
	res, err := env.engine.Login(ctx, Credentials{Identifier: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	events := drain(env, sink)

	failures := eventsOfType(events, auditEventLoginFailure)
	if len(failures) != 1 {
		t.Fatalf("expected one login_failure, got %d", len(failures))
	}
	if failures[0].Error != string(auditErrInvalidCredentials) || failures[0].Success {
		t.Fatalf("unexpected failure event: %+v", failures[0])
	}

	successes := eventsOfType(events, auditEventLoginSuccess)
	if len(successes) != 1 {
		t.Fatalf("expected one login_success, got %d", len(successes))
	}
	ev := successes[0]
	if ev.IP != "198.51.100.33" || ev.UserID != "u1" || ev.TokenID != res.RefreshTokenID {
		t.Fatalf("unexpected success event: %+v", ev)
	}
	if !ev.Timestamp.Equal(env.clock.Now().UTC()) {
		t.Fatalf("expected engine clock timestamp, got %v", ev.Timestamp)
	}
}

func TestAuditReuseAndRevocationEvents(t *testing.T) {
	cfg := auditConfig()
	cfg.Security.RevokeAllOnReuse = true
	sink := NewChannelSink(64)
	env := newTestEnv(t, cfg, withSink(sink))
	env.addUser(t, "u1", "alice")
	ctx := context.Background()

	res := env.login(t, "alice")
	env.login(t, "alice")
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected reuse, got %v", err)
	}

	events := drain(env, sink)

	reuse := eventsOfType(events, auditEventRefreshReuseDetected)
	if len(reuse) != 1 {
		t.Fatalf("expected one reuse event, got %d", len(reuse))
	}
	if reuse[0].TokenID != res.RefreshTokenID || reuse[0].Error != string(auditErrRefreshReuse) {
		t.Fatalf("unexpected reuse event: %+v", reuse[0])
	}
	if reuse[0].Metadata["revoked"] != "2" {
		t.Fatalf("expected two tokens revoked by escalation, got %q", reuse[0].Metadata["revoked"])
	}

	refreshed := eventsOfType(events, auditEventRefreshSuccess)
	if len(refreshed) != 1 || refreshed[0].Metadata["replaced_by"] == "" {
		t.Fatalf("expected refresh_success with successor id, got %+v", refreshed)
	}
}

func TestAuditRateLimitEvent(t *testing.T) {
	cfg := auditConfig()
	cfg.RateLimit.Register = RatePolicy{Limit: 1, Window: time.Minute}
	sink := NewChannelSink(64)
	env := newTestEnv(t, cfg, withSink(sink))
	ctx := WithClientIP(context.Background(), "192.0.2.10")

	_, _ = env.engine.Register(ctx, RegisterRequest{Username: "erin", Email: "erin@example.com", Password: testPassword})
	_, err := env.engine.Register(ctx, RegisterRequest{Username: "frank", Email: "frank@example.com", Password: testPassword})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}

	events := eventsOfType(drain(env, sink), auditEventRateLimitTriggered)
	if len(events) != 1 {
		t.Fatalf("expected one rate limit event, got %d", len(events))
	}
	if events[0].Metadata["bucket"] != "register" || events[0].Metadata["retry_after"] != "60" {
		t.Fatalf("unexpected metadata: %+v", events[0].Metadata)
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	env := newTestEnv(t, auditConfig(), withSink(sink))
	env.addUser(t, "u1", "alice")
	ctx := context.Background()

	res := env.login(t, "alice")
	next, err := env.engine.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	_, _ = env.engine.Refresh(ctx, res.RefreshToken)
	_ = env.engine.LogoutTokens(ctx, next.RefreshToken, next.AccessToken)
	env.engine.Close()

	if !buf.Contains("refresh_reuse_detected") {
		t.Fatal("expected audit output to contain the reuse event")
	}
	needles := []string{
		testPassword,
		res.RefreshToken,
		res.AccessToken,
		next.RefreshToken,
		next.AccessToken,
		env.users.get("u1").PasswordHash,
	}
	for _, needle := range needles {
		if buf.Contains(needle) {
			t.Fatalf("sensitive value leaked in audit output: %.12q...", needle)
		}
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{&RateLimitError{Bucket: "login"}, auditErrRateLimited},
		{&ReuseError{}, auditErrRefreshReuse},
		{ErrTokenRevoked, auditErrRevoked},
		{ErrTokenExpired, auditErrExpired},
		{ErrTokenInvalid, auditErrInvalidToken},
		{&InfrastructureError{Op: "x", Timeout: true}, auditErrTimeout},
		{&InfrastructureError{Op: "x"}, auditErrUnavailable},
		{errors.New("boom"), auditErrInternal},
	}
	for _, tc := range cases {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(string(b.buf), v)
}
