package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller, keyed by X-User-ID when
// present and by IP otherwise.
type RateLimiter struct {
	mu            sync.Mutex
	clients       map[string]*client
	limit         rate.Limit
	burst         int
	idle          time.Duration
	now           func() time.Time
	logger        *zap.Logger
	cleanupTicker *time.Ticker
	done          chan struct{}
}

type Config struct {
	MaxRequestsPerMinute int
	// IdleTTL is how long an unused bucket is kept.
	IdleTTL time.Duration
	Logger  *zap.Logger
	Now     func() time.Time
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	rl := &RateLimiter{
		clients:       make(map[string]*client),
		limit:         rate.Every(time.Minute / time.Duration(cfg.MaxRequestsPerMinute)),
		burst:         cfg.MaxRequestsPerMinute,
		idle:          cfg.IdleTTL,
		now:           cfg.Now,
		logger:        cfg.Logger,
		cleanupTicker: time.NewTicker(5 * time.Minute),
		done:          make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if userID := c.Get("X-User-ID"); userID != "" {
			key = userID
		}

		if !rl.Allow(key) {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	cl, ok := rl.clients[key]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = now
	rl.mu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.cleanupTicker.C:
			rl.evict()
		}
	}
}

func (rl *RateLimiter) evict() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > rl.idle {
			delete(rl.clients, key)
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.cleanupTicker.Stop()
	close(rl.done)
}
