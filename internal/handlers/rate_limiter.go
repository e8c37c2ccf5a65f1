package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/printdesk/api/internal/platform/auth"
	"github.com/printdesk/api/internal/platform/httpx"
)

// windowLimiter allows limit events per key in fixed windows.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]limitWindow
}

type limitWindow struct {
	count int
	reset time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) *windowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{limit: limit, window: window, clock: clock, windows: make(map[string]limitWindow)}
}

// allow records one event for key. When refused it returns how long until the window resets.
func (l *windowLimiter) allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.reset) {
		l.windows[key] = limitWindow{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true, 0
	}
	if current.count >= l.limit {
		return false, current.reset.Sub(now)
	}
	current.count++
	l.windows[key] = current
	return true, 0
}

func (l *windowLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}

// perCustomerLimit throttles a route per signed-in customer and answers 429 with Retry-After.
func perCustomerLimit(l *windowLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(auth.CurrentUserID(r.Context()))
			if key == "" {
				key = "anonymous"
			}
			ok, wait := l.allow(key)
			if !ok {
				if wait < time.Second {
					wait = time.Second
				}
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many uploads; retry later", http.StatusTooManyRequests).WithRetryAfter(wait))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
