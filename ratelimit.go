package fedapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether a call to a RateLimited endpoint may proceed.
// key identifies the caller. When the call is refused, retryAfter is the
// time until it would be allowed.
type RateLimiter interface {
	Allow(key string) (ok bool, retryAfter time.Duration)
}

// maxIdleCallers bounds the limiter table before idle entries are swept.
const maxIdleCallers = 10000

// Limiter is a token bucket per caller key.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	callers map[string]*rate.Limiter
}

// NewRateLimiter returns a Limiter allowing r calls per second per caller
// with bursts of up to burst calls.
func NewRateLimiter(r rate.Limit, burst int) *Limiter {
	return &Limiter{
		limit:   r,
		burst:   burst,
		callers: make(map[string]*rate.Limiter),
	}
}

// Allow implements RateLimiter.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	res := l.limiter(key).Reserve()
	if !res.OK() {
		return false, 0
	}
	delay := res.Delay()
	if delay == 0 {
		return true, 0
	}
	res.Cancel()
	return false, delay
}

func (l *Limiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.callers[key]
	if ok {
		return lim
	}
	if len(l.callers) >= maxIdleCallers {
		l.sweep()
	}
	lim = rate.NewLimiter(l.limit, l.burst)
	l.callers[key] = lim
	return lim
}

// sweep drops callers whose bucket has refilled. l.mu must be held.
func (l *Limiter) sweep() {
	for key, lim := range l.callers {
		if lim.Tokens() >= float64(l.burst) {
			delete(l.callers, key)
		}
	}
}

// callerKey identifies the caller for rate limiting: the access token,
// else the signing origin, else the remote host.
func callerKey(r *http.Request, c Caller) string {
	switch {
	case c.AccessToken != "":
		return "token:" + c.AccessToken
	case c.Signature != nil:
		return "origin:" + c.Signature.Origin.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
