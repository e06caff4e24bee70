// Command authcore-loadtest drives an Engine with concurrent authorize and
// refresh traffic and checks that a refresh token replayed in parallel
// rotates exactly once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/redisstore"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const loadPassword = "load-test-password"

type sessionState struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func main() {
	var (
		users       = flag.Int("users", 50, "number of accounts to register")
		sessions    = flag.Int("sessions", 500, "number of sessions to open")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase")
		raceWidth   = flag.Int("race-width", 16, "goroutines replaying one refresh token")
		raceRounds  = flag.Int("race-rounds", 100, "sessions used for the replay race")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		storeKind   = flag.String("store", "memory", "refresh store: memory or redis")
	)
	flag.Parse()

	if *users <= 0 || *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *raceWidth <= 1 {
		fmt.Fprintln(os.Stderr, "users, sessions, concurrency and ops must be > 0, race-width > 1")
		os.Exit(2)
	}
	if *storeKind != "memory" && *storeKind != "redis" {
		fmt.Fprintln(os.Stderr, "store must be memory or redis")
		os.Exit(2)
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var client redis.UniversalClient
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	engine, err := newEngine(client, newStore(*storeKind, client))
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()

	fmt.Printf("seeding %d users, %d sessions...\n", *users, *sessions)
	startSeed := time.Now()
	states, err := seed(ctx, engine, *users, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authorizeStats := runAuthorizePhase(ctx, engine, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)

	rounds := *raceRounds
	if rounds > len(states) {
		rounds = len(states)
	}
	race, err := runRacePhase(ctx, engine, states[:rounds], *raceWidth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "race phase: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("authorize", authorizeStats)
	printStats("refresh", refreshStats)
	fmt.Printf("race: rounds=%d width=%d winners=%d reuse=%d violations=%d\n",
		race.rounds, race.width, race.winners, race.reuse, race.violations)

	if race.violations > 0 {
		os.Exit(1)
	}
}

func newStore(kind string, client redis.UniversalClient) refresh.Store {
	if kind == "redis" {
		return redisstore.New(client, "{loadtest}")
	}
	return refresh.NewMemoryStore()
}

func newEngine(client redis.UniversalClient, store refresh.Store) (*authcore.Engine, error) {
	cfg := authcore.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.Login = authcore.RatePolicy{}
	cfg.RateLimit.Register = authcore.RatePolicy{}
	cfg.Metrics.Enabled = true

	return authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithRefreshStore(store).
		WithUserProvider(newUserTable()).
		Build()
}

func seed(ctx context.Context, engine *authcore.Engine, users, sessions int) ([]sessionState, error) {
	for i := 0; i < users; i++ {
		name := "user" + strconv.Itoa(i)
		_, err := engine.Register(ctx, authcore.RegisterRequest{
			Username: name,
			Email:    name + "@load.test",
			Password: loadPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}

	states := make([]sessionState, sessions)
	for i := range states {
		res, err := engine.Login(ctx, authcore.Credentials{
			Identifier: "user" + strconv.Itoa(i%users),
			Password:   loadPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		states[i].access = res.AccessToken
		states[i].refresh = res.RefreshToken
	}
	return states, nil
}

type sampler struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  int64
}

func (s *sampler) record(d time.Duration, err error) {
	if err != nil {
		atomic.AddInt64(&s.failures, 1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

// runPhase runs op ops times across concurrency workers.
func runPhase(ops, concurrency int, salt int64, op func(r *rand.Rand) error) phaseStats {
	var (
		cursor int64
		s      = &sampler{latencies: make([]time.Duration, 0, ops)}
		g      errgroup.Group
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		worker := int64(w)
		g.Go(func() error {
			r := rand.New(rand.NewSource(time.Now().UnixNano() + worker*salt))
			for atomic.AddInt64(&cursor, 1) <= int64(ops) {
				t0 := time.Now()
				err := op(r)
				s.record(time.Since(t0), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return computeStats(time.Since(start), s.latencies, s.failures)
}

func runAuthorizePhase(ctx context.Context, engine *authcore.Engine, states []sessionState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 7919, func(r *rand.Rand) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		token := state.access
		state.mu.Unlock()

		_, err := engine.Authorize(ctx, token)
		return err
	})
}

func runRefreshPhase(ctx context.Context, engine *authcore.Engine, states []sessionState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 6151, func(r *rand.Rand) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()

		res, err := engine.Refresh(ctx, state.refresh)
		if err != nil {
			return err
		}
		state.access = res.AccessToken
		state.refresh = res.RefreshToken
		return nil
	})
}

type raceStats struct {
	rounds     int
	width      int
	winners    int
	reuse      int
	violations int
}

// runRacePhase presents each session's current refresh token from width
// goroutines at once. Every round must produce exactly one winner.
func runRacePhase(ctx context.Context, engine *authcore.Engine, states []sessionState, width int) (raceStats, error) {
	out := raceStats{rounds: len(states), width: width}

	for i := range states {
		token := states[i].refresh

		var (
			winners int64
			reuse   int64
			start   = make(chan struct{})
			g       errgroup.Group
		)
		for w := 0; w < width; w++ {
			g.Go(func() error {
				<-start
				_, err := engine.Refresh(ctx, token)
				switch {
				case err == nil:
					atomic.AddInt64(&winners, 1)
				case errors.Is(err, authcore.ErrRefreshReuse):
					atomic.AddInt64(&reuse, 1)
				default:
					return err
				}
				return nil
			})
		}
		close(start)
		if err := g.Wait(); err != nil {
			return out, err
		}

		out.winners += int(winners)
		out.reuse += int(reuse)
		if winners != 1 {
			out.violations++
		}
	}
	return out, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

// userTable is an in-memory UserProvider for load generation.
type userTable struct {
	mu     sync.RWMutex
	byID   map[string]authcore.UserRecord
	byName map[string]string
}

func newUserTable() *userTable {
	return &userTable{
		byID:   make(map[string]authcore.UserRecord),
		byName: make(map[string]string),
	}
}

func (u *userTable) GetUserByIdentifier(_ context.Context, identifier string) (authcore.UserRecord, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	id, ok := u.byName[strings.ToLower(identifier)]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return u.byID[id], nil
}

func (u *userTable) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	rec, ok := u.byID[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return rec, nil
}

func (u *userTable) CreateUser(_ context.Context, in authcore.CreateUserInput) (authcore.UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	name, email := strings.ToLower(in.Username), strings.ToLower(in.Email)
	if _, ok := u.byName[name]; ok {
		return authcore.UserRecord{}, authcore.ErrAccountExists
	}
	if _, ok := u.byName[email]; ok {
		return authcore.UserRecord{}, authcore.ErrAccountExists
	}
	rec := authcore.UserRecord{
		UserID:       "u" + strconv.Itoa(len(u.byID)+1),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
	}
	u.byID[rec.UserID] = rec
	u.byName[name] = rec.UserID
	u.byName[email] = rec.UserID
	return rec, nil
}

func (u *userTable) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, ok := u.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	rec.PasswordHash = newHash
	u.byID[userID] = rec
	return nil
}
