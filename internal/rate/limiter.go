// Package rate implements the sliding-window login rate limiter. State is
// process-local and lost on restart by design: the limiter slows credential
// stuffing, it is not a hard guarantee, and it must never block legitimate
// logins when degraded (fail open).
package rate

import (
	"strings"
	"sync"
	"time"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	Enabled  bool
	MaxFails int
	Window   time.Duration
}

// Decision reports the outcome of an admission check.
type Decision struct {
	Limited    bool
	RetryAfter time.Duration

	// Scope names the bucket that tripped: "ip" or "ip_account".
	Scope string
	// Hits is the bucket length at decision time.
	Hits int
}

// Limiter tracks login failures in sliding windows keyed by client IP and
// by (IP, account) pair. Each bucket is an ordered sequence of failure
// timestamps pruned lazily on check, which avoids the burst admission a
// fixed window allows at its boundary.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string][]time.Time

	// now is swapped in tests to simulate the clock.
	now func() time.Time
}

// New creates a [Limiter] with the given tuning.
func New(cfg Config) *Limiter {
	if cfg.MaxFails <= 0 {
		cfg.MaxFails = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check prunes both relevant buckets to the trailing window and reports
// whether the attempt is admitted. When a bucket is full, RetryAfter is
// computed from the oldest timestamp still inside the window, never less
// than one second.
func (l *Limiter) Check(ip, account string) Decision {
	if !l.cfg.Enabled {
		return Decision{}
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, k := range []struct {
		key   string
		scope string
	}{
		{ipKey(ip), "ip"},
		{ipAccountKey(ip, account), "ip_account"},
	} {
		bucket := l.pruneLocked(k.key, now)
		if len(bucket) >= l.cfg.MaxFails {
			retry := bucket[0].Add(l.cfg.Window).Sub(now)
			if retry < time.Second {
				retry = time.Second
			}
			return Decision{
				Limited:    true,
				RetryAfter: retry,
				Scope:      k.scope,
				Hits:       len(bucket),
			}
		}
	}

	return Decision{}
}

// RecordFailure appends the current timestamp to the IP bucket and the
// (IP, account) bucket.
func (l *Limiter) RecordFailure(ip, account string) {
	if !l.cfg.Enabled {
		return
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range []string{ipKey(ip), ipAccountKey(ip, account)} {
		bucket := l.pruneLocked(key, now)
		l.buckets[key] = append(bucket, now)
	}
}

// ClearOnSuccess drops the (IP, account) bucket after a successful login.
// The IP-wide bucket is deliberately kept: one good login from a shared
// address must not reset protection for other accounts being guessed from
// the same address.
func (l *Limiter) ClearOnSuccess(ip, account string) {
	if !l.cfg.Enabled {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, ipAccountKey(ip, account))
}

// Enabled reports whether the limiter participates in admission at all.
func (l *Limiter) Enabled() bool {
	return l.cfg.Enabled
}

// pruneLocked discards entries older than the window and drops empty
// buckets from the map. Caller holds l.mu.
func (l *Limiter) pruneLocked(key string, now time.Time) []time.Time {
	bucket := l.buckets[key]
	cutoff := now.Add(-l.cfg.Window)

	i := 0
	for i < len(bucket) && !bucket[i].After(cutoff) {
		i++
	}
	if i > 0 {
		bucket = bucket[i:]
		if len(bucket) == 0 {
			delete(l.buckets, key)
			return nil
		}
		l.buckets[key] = bucket
	}

	return bucket
}

func ipKey(ip string) string {
	return "ip:" + ip
}

func ipAccountKey(ip, account string) string {
	return "ip_account:" + ip + ":" + strings.ToLower(account)
}
