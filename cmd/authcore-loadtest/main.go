// Command authcore-loadtest seeds a session store and drives concurrent
// validate traffic (get + renew-if-needed touch) against it, reporting
// latency percentiles. Without -redis-addr (or REDIS_ADDR) it runs against
// an embedded miniredis; pass -backend memory to exercise the in-process
// store instead.
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

	"github.com/glowme/authcore/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "validate operations to run")
		backend     = flag.String("backend", "redis", "session backend: redis or memory")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "glow", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	cfg := session.Config{
		Backend: session.Backend(*backend),
		Prefix:  *prefix,
	}

	var (
		client  redis.UniversalClient
		cleanup func()
	)
	if cfg.Backend == session.BackendRedis {
		addr := *redisAddr
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		if addr == "" {
			mr, err := miniredis.Run()
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
				os.Exit(1)
			}
			addr = mr.Addr()
			cleanup = mr.Close
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	}
	if cleanup != nil {
		defer cleanup()
	}

	store, err := session.New(cfg, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store init: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("seeding %d sessions (%s backend)...\n", *sessions, *backend)
	ids := make([]string, *sessions)
	seedStart := time.Now()
	for i := range ids {
		sess, err := store.Create(ctx, int64(i%1000)+1)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed: %v\n", err)
			os.Exit(1)
		}
		ids[i] = sess.SessionID
	}
	fmt.Printf("seeded in %s\n", time.Since(seedStart).Round(time.Millisecond))

	fmt.Printf("running %d validate ops with %d workers...\n", *ops, *concurrency)

	var (
		wg       sync.WaitGroup
		next     atomic.Int64
		failures atomic.Int64
	)
	latencies := make([][]time.Duration, *concurrency)
	runStart := time.Now()

	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(worker) + 1))
			for {
				n := next.Add(1)
				if n > int64(*ops) {
					return
				}

				sid := ids[rng.Intn(len(ids))]
				start := time.Now()
				if _, err := store.Get(ctx, sid); err != nil {
					failures.Add(1)
					continue
				}
				if _, err := store.Touch(ctx, sid); err != nil {
					failures.Add(1)
					continue
				}
				latencies[worker] = append(latencies[worker], time.Since(start))
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(runStart)

	var all []time.Duration
	for _, l := range latencies {
		all = append(all, l...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	fmt.Printf("done in %s (%.0f ops/sec, %d failures)\n",
		elapsed.Round(time.Millisecond),
		float64(len(all))/elapsed.Seconds(),
		failures.Load(),
	)
	if len(all) > 0 {
		fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n",
			percentile(all, 0.50), percentile(all, 0.95), percentile(all, 0.99), all[len(all)-1])
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
