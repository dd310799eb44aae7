package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"hooksync/internal/pkg/errors"
)

type RateLimiter struct {
	store *sync.Map // map[string]*Bucket
	now   func() time.Time
}

type Bucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
	lastAccess time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{store: &sync.Map{}, now: time.Now}
}

// Sweep drops buckets that have not been touched for idle. The server runs it
// on a ticker so one-off callers do not accumulate.
func (rl *RateLimiter) Sweep(idle time.Duration) int {
	now := rl.now()
	removed := 0
	rl.store.Range(func(key, value interface{}) bool {
		bucket := value.(*Bucket)
		bucket.mu.Lock()
		if now.Sub(bucket.lastAccess) > idle {
			rl.store.Delete(key)
			removed++
		}
		bucket.mu.Unlock()
		return true
	})
	return removed
}

// Allow takes one token from key's bucket. Buckets hold limit tokens and
// refill at limit per minute.
func (rl *RateLimiter) Allow(key string, limit int) bool {
	now := rl.now()

	val, _ := rl.store.LoadOrStore(key, &Bucket{
		tokens:     limit,
		lastRefill: now,
		lastAccess: now,
	})

	bucket := val.(*Bucket)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.lastAccess = now

	elapsed := now.Sub(bucket.lastRefill)
	refillRate := float64(limit) / 60.0
	refillTokens := int(elapsed.Seconds() * refillRate)

	if refillTokens > 0 {
		if bucket.tokens+refillTokens > limit {
			bucket.tokens = limit
		} else {
			bucket.tokens += refillTokens
		}
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}

	return false
}

// KeyFunc picks the bucket a request draws from.
type KeyFunc func(r *http.Request) string

// ByClientIP keys on the remote address without its port.
func ByClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects requests beyond perMinute for the bucket scope:key.
// A non-positive perMinute disables the limit.
func (rl *RateLimiter) RateLimit(scope string, perMinute int, key KeyFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if perMinute <= 0 {
				next(w, r)
				return
			}

			if !rl.Allow(scope+":"+key(r), perMinute) {
				w.Header().Set("Retry-After", strconv.Itoa(60/perMinute+1))
				errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
				return
			}

			next(w, r)
		}
	}
}
