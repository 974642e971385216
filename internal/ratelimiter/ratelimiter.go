// Package ratelimiter admits or refuses new requests with token buckets.
//
// The FastCGI backend consults a Limiter on every BeginRequest. A refused
// request is answered with EndRequest(Overloaded) instead of being queued,
// so Allow is the only admission call on the hot path.
package ratelimiter

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every connection.
//
// It wraps golang.org/x/time/rate:
//   - Tokens refill at the configured requests per second
//   - Each admitted BeginRequest consumes one token
//   - Burst is the bucket capacity, so short spikes above the sustained
//     rate are admitted
//   - An empty bucket refuses instead of waiting
//
// A zero rate disables limiting, and a nil *Limiter admits everything, so
// callers never need to check whether limiting is configured.
//
// Thread safety:
// All methods are safe for concurrent use, including Update while other
// goroutines call Allow.
type Limiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

// New creates a limiter with the given sustained rate and burst.
//
// Parameters:
//   - requestsPerSecond: sustained rate (tokens added per second)
//   - burst: bucket capacity in tokens
//
// Special cases:
//   - requestsPerSecond = 0: no limiting (rate.Inf)
//   - burst = 0 with a non-zero rate: raised to 1, since a zero-capacity
//     bucket would refuse everything
//
// Example:
//
//	// 500 req/s sustained, spikes of up to 1000
//	limiter := New(500, 1000)
func New(requestsPerSecond, burst uint) *Limiter {
	l := &Limiter{}
	l.limiter.Store(newBucket(requestsPerSecond, burst))
	return l
}

func newBucket(requestsPerSecond, burst uint) *rate.Limiter {
	return rate.NewLimiter(limitFor(requestsPerSecond), burstFor(requestsPerSecond, burst))
}

func limitFor(requestsPerSecond uint) rate.Limit {
	if requestsPerSecond == 0 {
		return rate.Inf
	}
	return rate.Limit(requestsPerSecond)
}

func burstFor(requestsPerSecond, burst uint) int {
	if requestsPerSecond != 0 && burst == 0 {
		return 1
	}
	return int(burst)
}

// Allow consumes one token if one is available.
//
// It never blocks. The FastCGI backend answers a refused BeginRequest with
// EndRequest(Overloaded).
//
// Returns:
//   - true if the request is admitted (token consumed)
//   - false if the bucket is empty
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Load().Allow()
}

// Update replaces the bucket with one of the new rate and burst. It is
// called when the configuration file is reloaded.
//
// Parameters:
//   - requestsPerSecond, burst: as for New, with the same special cases
//
// The new bucket starts full. Adjusting the old bucket in place would leave
// a previously unlimited limiter empty, refusing the first requests after
// the reload.
func (l *Limiter) Update(requestsPerSecond, burst uint) {
	if l == nil {
		return
	}
	l.limiter.Store(newBucket(requestsPerSecond, burst))
}

// Unlimited reports whether the limiter admits everything.
func (l *Limiter) Unlimited() bool {
	return l == nil || l.limiter.Load().Limit() == rate.Inf
}

// Keyed holds one bucket per key, typically a connection id, so a single
// busy client cannot starve the others.
//
// Buckets are created lazily on the first Allow for a key and must be
// released with Forget when the key goes away; otherwise the map grows with
// every connection ever seen.
//
// Thread safety:
// All methods are safe for concurrent use. The map is guarded by a mutex;
// the buckets themselves are internally synchronized.
type Keyed struct {
	mu                sync.Mutex
	requestsPerSecond uint
	burst             uint
	buckets           map[string]*rate.Limiter
}

// NewKeyed creates a per-key limiter.
//
// Parameters:
//   - requestsPerSecond: sustained rate of each bucket; 0 disables the
//     limiter entirely and no buckets are created
//   - burst: capacity of each bucket
func NewKeyed(requestsPerSecond, burst uint) *Keyed {
	return &Keyed{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		buckets:           make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token from key's bucket, creating it on first use.
//
// Returns:
//   - true if the request is admitted, or the limiter is disabled or nil
//   - false if key's bucket is empty
func (k *Keyed) Allow(key string) bool {
	if k == nil {
		return true
	}

	k.mu.Lock()
	if k.requestsPerSecond == 0 {
		k.mu.Unlock()
		return true
	}
	b, ok := k.buckets[key]
	if !ok {
		b = newBucket(k.requestsPerSecond, k.burst)
		k.buckets[key] = b
	}
	k.mu.Unlock()

	return b.Allow()
}

// Forget drops key's bucket. Call it when the connection closes.
func (k *Keyed) Forget(key string) {
	if k == nil {
		return
	}
	k.mu.Lock()
	delete(k.buckets, key)
	k.mu.Unlock()
}

// Len returns the number of live buckets.
func (k *Keyed) Len() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
