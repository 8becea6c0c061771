package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 30 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterStore keeps one token bucket per client key.
type RateLimiterStore struct {
	limiters     map[string]*limiterEntry
	mu           sync.Mutex
	defaultRate  rate.Limit
	defaultBurst int
}

func NewRateLimiterStore(defaultRate rate.Limit, defaultBurst int) *RateLimiterStore {
	return &RateLimiterStore{
		limiters:     make(map[string]*limiterEntry),
		defaultRate:  defaultRate,
		defaultBurst: defaultBurst,
	}
}

// PerMinute builds a store allowing n requests per minute with a burst of n.
func PerMinute(n int) *RateLimiterStore {
	if n < 1 {
		n = 1
	}
	return NewRateLimiterStore(rate.Every(time.Minute/time.Duration(n)), n)
}

func (s *RateLimiterStore) GetLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, exists := s.limiters[key]
	if !exists {
		s.prune(now)
		entry = &limiterEntry{limiter: rate.NewLimiter(s.defaultRate, s.defaultBurst)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (s *RateLimiterStore) prune(now time.Time) {
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(s.limiters, key)
		}
	}
}

// Limit rejects requests from a client whose bucket is empty.
func (s *RateLimiterStore) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.GetLimiter(clientIP(r)).Allow() {
			WriteError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
