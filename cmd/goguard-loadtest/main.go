package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		keys        = flag.Int("keys", 10000, "number of distinct counters in the spread phase")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		limit       = flag.Int64("limit", 100, "reservations allowed per window")
		window      = flag.Duration("window", time.Hour, "sliding window length")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "goguard-loadtest", "counter key prefix")
	)
	flag.Parse()

	if *keys <= 0 || *concurrency <= 0 || *ops <= 0 || *limit <= 0 {
		fmt.Fprintln(os.Stderr, "keys, concurrency, ops, and limit must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store, err := ratelimit.NewRedisStore(client, ratelimit.Config{
		Window: *window,
		Limit:  *limit,
		Block:  *window,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "store init failed: %v\n", err)
		os.Exit(1)
	}
	limiter, err := ratelimit.NewLimiter("loadtest", store, ratelimit.WithPrefix(*prefix))
	if err != nil {
		fmt.Fprintf(os.Stderr, "limiter init failed: %v\n", err)
		os.Exit(1)
	}

	hotKey := fmt.Sprintf("hot-%d", time.Now().UnixNano())
	hot := runPhase(ctx, *ops, *concurrency, func(int, *rand.Rand) (bool, error) {
		return reserve(ctx, limiter, hotKey)
	})

	base := time.Now().UnixNano()
	spread := runPhase(ctx, *ops, *concurrency, func(_ int, r *rand.Rand) (bool, error) {
		return reserve(ctx, limiter, fmt.Sprintf("spread-%d-%d", base, r.Intn(*keys)))
	})

	fmt.Println("---- results ----")
	printStats("hot-key", hot)
	printStats("spread", spread)

	if hot.allowed > *limit {
		fmt.Fprintf(os.Stderr, "FAIL: hot key admitted %d reservations, limit is %d\n", hot.allowed, *limit)
		os.Exit(1)
	}
	if *ops >= int(*limit) && hot.failures == 0 && hot.allowed != *limit {
		fmt.Fprintf(os.Stderr, "FAIL: hot key admitted %d reservations, expected exactly %d\n", hot.allowed, *limit)
		os.Exit(1)
	}
	fmt.Printf("hot key admitted %d of %d attempts (limit %d)\n", hot.allowed, hot.ops, *limit)
}

// reserve reports whether a reservation was taken. Denials are not failures.
func reserve(ctx context.Context, limiter *ratelimit.Limiter, part string) (bool, error) {
	_, err := limiter.Reserve(ctx, part)
	if err == nil {
		return true, nil
	}
	if ratelimit.IsRateLimited(err) {
		return false, nil
	}
	return false, err
}

type phaseStats struct {
	total    time.Duration
	ops      int
	allowed  int64
	denied   int64
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ctx context.Context, ops, concurrency int, op func(int, *rand.Rand) (bool, error)) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		allowed   int64
		denied    int64
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
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops || ctx.Err() != nil {
					return
				}
				t0 := time.Now()
				ok, err := op(i, r)
				d := time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case ok:
					atomic.AddInt64(&allowed, 1)
				default:
					atomic.AddInt64(&denied, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	s := computeStats(time.Since(start), latencies)
	s.allowed = allowed
	s.denied = denied
	s.failures = failures
	return s
}

func computeStats(total time.Duration, samples []time.Duration) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:   total,
		ops:     len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
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
	fmt.Printf("%s: ops=%d allowed=%d denied=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.allowed,
		s.denied,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
