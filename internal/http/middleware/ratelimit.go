package middleware

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/kinsync/internal/auth"
)

// RateConfig is a token bucket: Rate tokens per second up to Burst.
type RateConfig struct {
	Rate  float64
	Burst float64
}

// RateLimiter throttles presence API calls per caller identity using a
// Redis-backed token bucket.
type RateLimiter struct {
	client    redis.Cmdable
	cfg       RateConfig
	luaScript *redis.Script
}

// NewRateLimiter constructs the limiter; a nil client disables it.
func NewRateLimiter(client redis.Cmdable, cfg RateConfig) *RateLimiter {
	if client == nil {
		return nil
	}
	return &RateLimiter{client: client, cfg: cfg, luaScript: redis.NewScript(tokenBucketLua)}
}

// Middleware enforces the bucket. Nil or zero-rate limiters pass through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || l.cfg.Rate <= 0 || l.cfg.Burst <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter, err := l.allow(r.Context(), callerIdentity(r))
		if err != nil {
			// Fail open: the limiter is protection, not a dependency.
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			if retryAfter > 0 {
				w.Header().Set("Retry-After", formatRetryAfter(retryAfter))
			}
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(ctx context.Context, identity string) (bool, time.Duration, error) {
	key := "rl:presence:" + identity
	result, err := l.luaScript.Run(ctx, l.client, []string{key}, time.Now().UnixMilli(), l.cfg.Rate, l.cfg.Burst).Result()
	if err != nil {
		return false, 0, err
	}
	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, errors.New("invalid redis response")
	}
	allowed, err := toInt64(values[0])
	if err != nil {
		return false, 0, err
	}
	waitSeconds, err := toFloat64(values[1])
	if err != nil {
		return false, 0, err
	}
	if allowed != 1 {
		return false, time.Duration(math.Ceil(waitSeconds*1000)) * time.Millisecond, nil
	}
	return true, 0, nil
}

func callerIdentity(r *http.Request) string {
	if uid, ok := auth.UserFromContext(r.Context()); ok {
		return uid
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func formatRetryAfter(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func toFloat64(v interface{}) (float64, error) {
	switch val := v.(type) {
	case int64:
		return float64(val), nil
	case float64:
		return val, nil
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, errors.New("unsupported type")
	}
}

func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case float64:
		return int64(val), nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, errors.New("unsupported type")
	}
}

const tokenBucketLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'timestamp')
local tokens = tonumber(state[1])
local last = tonumber(state[2])

if tokens == nil then
  tokens = capacity
end
if last == nil then
  last = now_ms
end

local delta = now_ms - last
if delta < 0 then
  delta = 0
end
local refill = delta * rate / 1000
if refill > 0 then
  tokens = math.min(capacity, tokens + refill)
  last = now_ms
end

local allowed = tokens >= 1
local wait = 0
if allowed then
  tokens = tokens - 1
else
  wait = (1 - tokens) / rate
end

redis.call('HMSET', key, 'tokens', tokens, 'timestamp', last)
redis.call('PEXPIRE', key, math.ceil((capacity / rate) * 1000))

if allowed then
  return {1, 0}
else
  return {0, wait}
end
`
