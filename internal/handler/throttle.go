package handler

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// Throttle keeps one token bucket per value of a URL parameter, so a noisy
// provider cannot starve the others.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	param    string
	r        rate.Limit
	burst    int
}

func NewThrottle(param string, r rate.Limit, burst int) *Throttle {
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		param:    param,
		r:        r,
		burst:    burst,
	}
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(t.r, t.burst)
		t.limiters[key] = l
	}
	return l
}

func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.limiter(chi.URLParam(r, t.param)).Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded, slow down", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
