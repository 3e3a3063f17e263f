package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// AttemptRateLimit caps sensitive attempts (secret import, secret reveal)
// per client IP and scope. Redis is shared across instances; without it a
// per-process token bucket is used. Cache errors fail open.
func AttemptRateLimit(cache *redis.Client, scope string, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	local := newLocalLimiter(maxPerMin)
	return func(c *fiber.Ctx) error {
		key := "rl:" + scope + ":" + c.IP()
		if cache == nil {
			if !local.allow(key) {
				return tooManyAttempts()
			}
			return c.Next()
		}

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return tooManyAttempts()
		}
		return c.Next()
	}
}

func tooManyAttempts() error {
	return fiber.NewError(http.StatusTooManyRequests, "too many attempts, try again later")
}

type localLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*rate.Limiter
}

func newLocalLimiter(perMin int) *localLimiter {
	return &localLimiter{perMin: perMin, limiters: make(map[string]*rate.Limiter)}
}

func (l *localLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
