package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
)

// limiterIdle is how long an unused per-caller limiter is kept.
const limiterIdle = 10 * time.Minute

// RateLimiter hands out one token bucket per caller. Authenticated callers
// are keyed by user id, anonymous ones by remote host.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *cache.Cache
}

// NewRateLimiter creates a limiter allowing rps requests per second with the
// given burst per caller. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: cache.New(limiterIdle, limiterIdle),
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	if l, ok := rl.limiters.Get(key); ok {
		// refresh the idle expiry
		rl.limiters.SetDefault(key, l)
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	if err := rl.limiters.Add(key, l, cache.DefaultExpiration); err != nil {
		// lost a race with a concurrent request from the same caller
		if existing, ok := rl.limiters.Get(key); ok {
			return existing.(*rate.Limiter)
		}
	}
	return l
}

// Middleware rejects requests over the caller's budget with 429 and writes
// x-ratelimit-* headers on every response.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil || rl.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerKey(r)
		limiter := rl.limiterFor(key)

		now := time.Now()
		reservation := limiter.ReserveN(now, 1)
		delay := reservation.DelayFrom(now)

		h := w.Header()
		h.Set("x-ratelimit-limit-requests", strconv.Itoa(rl.burst))
		if delay > 0 {
			reservation.CancelAt(now)
			h.Set("x-ratelimit-remaining-requests", "0")
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			WriteError(w, r, domain.NewTradeError(domain.ErrorTypeRateLimited, "too many requests"))
			return
		}
		remaining := int(math.Max(0, math.Floor(limiter.TokensAt(now))))
		h.Set("x-ratelimit-remaining-requests", strconv.Itoa(remaining))

		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if actor := GetActor(r.Context()); actor != nil {
		return "user:" + actor.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
