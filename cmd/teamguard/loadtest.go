package main

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/MrEthical07/teamguard"
)

type seededSession struct {
	mu  sync.Mutex
	req teamguard.RequestInfo
}

// loadtest seeds sessions through a real engine and drives ValidateSession and
// RotateSession against them from concurrent workers.
func loadtest(c *cli.Context) error {
	sessions, concurrency, ops := c.Int(flagSessions), c.Int(flagConcurrency), c.Int(flagOps)
	if sessions <= 0 || concurrency <= 0 || ops <= 0 {
		return errors.New("sessions, concurrency and ops must be > 0")
	}
	ctx := c.Context

	var client redis.UniversalClient
	if addr := c.String(flagRedisAddr); addr != "" {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
	} else {
		mr, err := miniredis.Run()
		if err != nil {
			return errors.Wrap(err, "error starting miniredis")
		}
		defer mr.Close()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	}
	defer client.Close()

	cfg := teamguard.DefaultConfig()
	cfg.Security.ProductionMode = false
	cfg.Audit.Enabled = false
	cfg.Session.IdleTimeout = 0
	engine, err := teamguard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(noUsers{}).
		Build()
	if err != nil {
		return errors.Wrap(err, "error building engine")
	}
	defer engine.Close()

	states := make([]seededSession, sessions)
	fmt.Printf("seeding %d sessions...\n", sessions)
	startSeed := time.Now()
	for i := range states {
		req := teamguard.RequestInfo{
			IP:        fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xff, (i>>8)&0xff, i&0xff),
			UserAgent: "teamguard-loadtest",
		}
		grant, err := engine.CreateSession(ctx, fmt.Sprintf("u-%d", i%1000), req)
		if err != nil {
			return errors.Wrap(err, "error seeding session")
		}
		req.SessionToken, req.DeviceID = grant.Token, grant.Fingerprint
		states[i].req = req
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validate := runPhase(ops, concurrency, func(r *rand.Rand) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		req := s.req
		s.mu.Unlock()
		v, err := engine.ValidateSession(ctx, req)
		if err == nil && !v.Valid {
			err = v.Reason.Err()
		}
		return err
	})
	rotate := runPhase(ops, concurrency, func(r *rand.Rand) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		defer s.mu.Unlock()
		grant, err := engine.RotateSession(ctx, s.req.SessionToken, s.req)
		if err == nil {
			s.req.SessionToken = grant.Token
		}
		return err
	})

	fmt.Println("---- results ----")
	printStats("validate", validate)
	printStats("rotate", rotate)
	return nil
}

func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for atomic.AddInt64(&cursor, 1) <= int64(ops) {
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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

// percentile expects samples sorted ascending.
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
	return samples[(len(samples)-1)*p/100]
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

// noUsers satisfies the engine's credential dependency; session operations never
// consult it.
type noUsers struct{}

func (noUsers) GetUserByIdentifier(context.Context, string) (teamguard.UserRecord, error) {
	return teamguard.UserRecord{}, teamguard.ErrUserNotFound
}

func (noUsers) GetUserByID(context.Context, string) (teamguard.UserRecord, error) {
	return teamguard.UserRecord{}, teamguard.ErrUserNotFound
}

func (noUsers) UpdatePasswordHash(context.Context, string, string) error {
	return teamguard.ErrUserNotFound
}

func (noUsers) SetLocked(context.Context, string, bool) error {
	return teamguard.ErrUserNotFound
}
