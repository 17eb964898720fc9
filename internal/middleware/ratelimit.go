package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/day-claim-calendar/internal/config"
	"github.com/iliyamo/day-claim-calendar/internal/model"
)

// takeScript refills the bucket at KEYS[1] for the intervals elapsed since
// its last refill, then takes one token if any is left.  It returns
// {allowed, remaining, retry_after_ms}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
	tokens = capacity
	last = now_ms
end

if interval_ms > 0 then
	local intervals = math.floor(math.max(0, now_ms - last) / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + intervals * refill)
		last = last + intervals * interval_ms
	end
end

local allowed = 0
local retry_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_ms = math.max(0, interval_ms - (now_ms - last))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last)
redis.call('EXPIRE', key, ttl)
return {allowed, tokens, retry_ms}
`)

// bucket is one token-bucket policy evaluated in Redis.
type bucket struct {
	rdb *redis.Client
	cfg config.RateLimitConfig
}

type verdict struct {
	allowed    bool
	remaining  int64
	retryAfter time.Duration
}

func (b bucket) take(ctx context.Context, key string) (verdict, error) {
	args := []interface{}{
		time.Now().UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL / time.Second),
	}
	vals, err := takeScript.Run(ctx, b.rdb, []string{key}, args...).Int64Slice()
	if err != nil {
		return verdict{}, err
	}
	if len(vals) != 3 {
		return verdict{}, fmt.Errorf("unexpected script result %v", vals)
	}
	return verdict{
		allowed:    vals[0] == 1,
		remaining:  vals[1],
		retryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// retrySeconds rounds up for the Retry-After header.
func (v verdict) retrySeconds() int {
	return int(math.Ceil(v.retryAfter.Seconds()))
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error { return next(c) }
}

// limit runs b for every request, keyed by keyOf.  A Redis failure lets the
// request through.  blocked writes the response for a request over budget.
func limit(b bucket, keyOf func(echo.Context) string, blocked func(echo.Context, verdict) error) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := keyOf(c)
			v, err := b.take(c.Request().Context(), key)
			if err != nil {
				if b.cfg.Debug {
					c.Logger().Warnf("[ratelimit] redis error for key=%s: %v", key, err)
				}
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(b.cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(v.remaining, 10))
			if b.cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if !v.allowed {
				h.Set("Retry-After", strconv.Itoa(v.retrySeconds()))
				if b.cfg.Debug {
					c.Logger().Infof("[ratelimit] block key=%s retry=%s", key, v.retryAfter)
				}
				return blocked(c, v)
			}
			return next(c)
		}
	}
}

// NewTokenBucket limits requests with a token bucket kept in Redis and
// evaluated atomically by a Lua script.  Without Redis, or when disabled, it
// lets every request through.  Blocked requests get a JSON 429.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	b := bucket{rdb: rdb, cfg: cfg}
	return limit(b, func(c echo.Context) string { return buildRateKey(cfg, c) }, tooMany)
}

// WriteLimitMessage is the toast shown when a visitor exceeds the write
// budget.
const WriteLimitMessage = "Demasiadas solicitudes, espera un momento"

// NewWriteLimit caps booking writes per session with the budget from
// cfg.Writes().  Creating and removing draw on the same bucket.  A visitor
// over budget is sent back to the page with an error toast; requests without
// a session get a JSON 429.
func NewWriteLimit(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	w := cfg.Writes()
	b := bucket{rdb: rdb, cfg: w}
	return limit(b, func(c echo.Context) string { return buildRateKey(w, c) }, func(c echo.Context, v verdict) error {
		s := CurrentSession(c)
		if s == nil {
			return tooMany(c, v)
		}
		s.Notes.Push(WriteLimitMessage, model.SeverityError)
		return c.Redirect(http.StatusSeeOther, "/")
	})
}

func tooMany(c echo.Context, v verdict) error {
	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"error":       "too_many_requests",
		"message":     "rate limit exceeded",
		"retry_after": v.retrySeconds(),
	})
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	sid := sessionID(c)
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "session":
		parts = append(parts, "session", sid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_session":
		parts = append(parts, "ip", ip, "session", sid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "session_route":
		parts = append(parts, "session", sid, "route", route)
	default: // "ip_session_route"
		parts = append(parts, "ip", ip, "session", sid, "route", route)
	}
	return strings.Join(parts, ":")
}
