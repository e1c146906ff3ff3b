package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/noah-isme/board-api/pkg/config"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
	"github.com/noah-isme/board-api/pkg/response"
)

// RateLimitObserver is notified about rejected requests.
type RateLimitObserver interface {
	ObserveRateLimited(path string)
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per scope and client address.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	interval time.Duration
	logger   *zap.Logger
	observer RateLimitObserver

	mu       sync.Mutex
	limiters map[string]*clientLimiter
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter builds a limiter from configuration and starts idle-entry cleanup.
func NewRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger, observer RateLimitObserver) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	rl := &RateLimiter{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		interval: interval,
		logger:   logger,
		observer: observer,
		limiters: make(map[string]*clientLimiter),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop terminates the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware limits requests per client address within scope.
func (rl *RateLimiter) Middleware(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if rl.limiterFor(scope + "|" + ip).Allow() {
			c.Next()
			return
		}

		rl.logger.Warn("rate limit exceeded", zap.String("scope", scope), zap.String("ip", ip))
		if rl.observer != nil {
			rl.observer.ObserveRateLimited(c.FullPath())
		}
		c.Header("Retry-After", strconv.Itoa(rl.retryAfter()))
		response.Abort(c, appErrors.ErrRateLimited)
	}
}

// Len reports the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, ok := rl.limiters[key]; ok {
		cl.lastAccess = rl.now()
		return cl.limiter
	}
	cl := &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst), lastAccess: rl.now()}
	rl.limiters[key] = cl
	return cl.limiter
}

// retryAfter is the number of seconds until one token is replenished.
func (rl *RateLimiter) retryAfter() int {
	seconds := int(math.Ceil(1.0 / float64(rl.limit)))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops clients idle for more than two intervals.
func (rl *RateLimiter) cleanup() {
	ttl := rl.interval * 2
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
}
