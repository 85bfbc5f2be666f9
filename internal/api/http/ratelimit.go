package http

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/spec-kit/ticketdesk/internal/auth"
	apperrors "github.com/spec-kit/ticketdesk/pkg/util/errorutil"
)

// KeyFunc selects the identity a rate-limit bucket is keyed by.
type KeyFunc func(*fiber.Ctx) string

// KeyByActor keys inbound interactions by the chat user they act for, then
// by the authenticated principal, then by client IP.
func KeyByActor() KeyFunc {
	return func(c *fiber.Ctx) string {
		var body struct {
			UserID  string `json:"user_id"`
			ActorID string `json:"actor_id"`
		}
		if len(c.Body()) > 0 && json.Unmarshal(c.Body(), &body) == nil {
			if body.ActorID != "" {
				return "actor:" + body.ActorID
			}
			if body.UserID != "" {
				return "actor:" + body.UserID
			}
		}
		if p, ok := auth.PrincipalFromContext(c); ok {
			return "principal:" + p.SubjectID
		}
		return "ip:" + c.IP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket limiter. Idle buckets are evicted
// opportunistically.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
	now      func() time.Time
}

// NewRateLimiter builds a limiter allowing rps per key with the given burst.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// evict before lookup so a stale bucket is not refreshed
	rl.lookups++
	if rl.lookups >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}
	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Handler rejects requests over the limit with 429 and a Retry-After header.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.limiterFor(rl.keyFn(c)).Allow() {
			return c.Next()
		}
		c.Set(fiber.HeaderRetryAfter, "1")
		return apperrors.NewRateLimited()
	}
}
