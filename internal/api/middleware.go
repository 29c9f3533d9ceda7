package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// BearerAuth validates the opaque bearer token on every request. The
// development environment bypasses auth entirely.
func BearerAuth(token string, devBypass bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if devBypass {
				return next(c)
			}
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			provided, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || provided == "" || provided != token {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing bearer token")
			}
			return next(c)
		}
	}
}

// Endpoint classes with distinct token-bucket budgets per API key.
const (
	ClassDefault    = "default"
	ClassProcessing = "processing"
	ClassImport     = "import"
)

// classBudget holds one class's refill window.
type classBudget struct {
	requests int
	window   time.Duration
}

var budgets = map[string]classBudget{
	ClassDefault:    {requests: 100, window: time.Minute},
	ClassProcessing: {requests: 5, window: time.Minute},
	ClassImport:     {requests: 2, window: time.Minute},
}

// RateLimiter keeps a token bucket per (api key, endpoint class).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds an empty limiter set.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: map[string]*rate.Limiter{}}
}

func (rl *RateLimiter) limiter(key, class string) *rate.Limiter {
	b, ok := budgets[class]
	if !ok {
		b = budgets[ClassDefault]
	}
	id := class + "|" + key

	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.limiters[id]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(b.requests)/b.window.Seconds()), b.requests)
		rl.limiters[id] = lim
	}
	return lim
}

// Middleware enforces the budget for one endpoint class. 429 responses carry
// Retry-After.
func (rl *RateLimiter) Middleware(class string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(echo.HeaderAuthorization)
			if key == "" {
				key = c.RealIP()
			}
			if !rl.limiter(key, class).Allow() {
				c.Response().Header().Set("Retry-After", "60")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
