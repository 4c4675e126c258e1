package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ghantakiran/turtletrading-sub002/internal/metrics"
)

// Tier is a subscription plan controlling API quotas.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// LimitType identifies which quota bucket a request counts against.
type LimitType string

const (
	LimitAPICalls          LimitType = "api_calls"
	LimitWebSocketMessages LimitType = "websocket_messages"
	LimitLoginAttempts     LimitType = "login_attempts"
	LimitDataRequests      LimitType = "data_requests"
)

// TierConfig describes one quota bucket.
type TierConfig struct {
	Limit    int
	Window   time.Duration
	Burst    int
	Cooldown time.Duration
}

// defaultTierConfigs maps every tier × limit type to its quota.
var defaultTierConfigs = map[Tier]map[LimitType]TierConfig{
	TierFree: {
		LimitAPICalls:          {Limit: 100, Window: time.Hour, Burst: 10, Cooldown: 5 * time.Minute},
		LimitWebSocketMessages: {Limit: 60, Window: time.Minute, Burst: 10, Cooldown: time.Minute},
		LimitLoginAttempts:     {Limit: 5, Window: 15 * time.Minute, Burst: 5, Cooldown: 15 * time.Minute},
		LimitDataRequests:      {Limit: 50, Window: time.Hour, Burst: 5, Cooldown: 5 * time.Minute},
	},
	TierPro: {
		LimitAPICalls:          {Limit: 1000, Window: time.Hour, Burst: 50, Cooldown: time.Minute},
		LimitWebSocketMessages: {Limit: 300, Window: time.Minute, Burst: 50, Cooldown: 30 * time.Second},
		LimitLoginAttempts:     {Limit: 10, Window: 15 * time.Minute, Burst: 10, Cooldown: 10 * time.Minute},
		LimitDataRequests:      {Limit: 500, Window: time.Hour, Burst: 25, Cooldown: time.Minute},
	},
	TierEnterprise: {
		LimitAPICalls:          {Limit: 10000, Window: time.Hour, Burst: 200, Cooldown: 30 * time.Second},
		LimitWebSocketMessages: {Limit: 1000, Window: time.Minute, Burst: 200, Cooldown: 10 * time.Second},
		LimitLoginAttempts:     {Limit: 20, Window: 15 * time.Minute, Burst: 20, Cooldown: 5 * time.Minute},
		LimitDataRequests:      {Limit: 5000, Window: time.Hour, Burst: 100, Cooldown: 30 * time.Second},
	},
}

// slidingWindowScript prunes expired entries, counts the remainder, and adds
// the current timestamp only when under the limit. One atomic unit so
// concurrent callers for the same key cannot double-spend.
// KEYS[1]=window key, ARGV[1]=now_ms, ARGV[2]=window_ms, ARGV[3]=limit
var slidingWindowScript = goredis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', cutoff)
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
    return {0, count}
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[1] .. '-' .. redis.call('INCR', KEYS[1] .. ':seq'))
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1] .. ':seq', ARGV[2])
return {1, count + 1}
`)

// Result reports the outcome of a tiered limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Degraded  bool
}

// TieredLimiter enforces per-tier sliding windows in Redis so limits hold
// across processes. When Redis is unreachable it falls back to in-process
// windows, which are explicitly weaker (not shared between instances); the
// degraded state is surfaced through Degraded() and the health endpoint.
type TieredLimiter struct {
	rdb      *goredis.Client
	clock    clockwork.Clock
	configs  map[Tier]map[LimitType]TierConfig
	fallback *windowStore
	degraded atomic.Bool
}

// NewTieredLimiter creates a tiered limiter. rdb may be nil, in which case
// the limiter runs permanently in degraded in-process mode.
func NewTieredLimiter(rdb *goredis.Client, clock clockwork.Clock) *TieredLimiter {
	return &TieredLimiter{
		rdb:      rdb,
		clock:    clock,
		configs:  defaultTierConfigs,
		fallback: newWindowStore(clock),
	}
}

// Allow checks one request for identifier against the tier's quota for the
// given limit type.
func (t *TieredLimiter) Allow(ctx context.Context, identifier string, tier Tier, limitType LimitType) (Result, error) {
	cfg, ok := t.configs[tier][limitType]
	if !ok {
		return Result{}, fmt.Errorf("no tier config for tier=%s limit_type=%s", tier, limitType)
	}

	key := fmt.Sprintf("rate_limit:%s:%s:%s", tier, limitType, identifier)

	if t.rdb == nil {
		return t.allowFallback(key, cfg), nil
	}

	now := t.clock.Now()
	res, err := slidingWindowScript.Run(ctx, t.rdb, []string{key},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(cfg.Window.Milliseconds(), 10),
		strconv.Itoa(cfg.Limit),
	).Int64Slice()
	if err != nil {
		// Redis unavailable: degrade to per-process windows rather than
		// rejecting or crashing. Consistency across instances is lost
		// until Redis returns.
		if t.degraded.CompareAndSwap(false, true) {
			slog.Warn("Tiered rate limiter degraded to in-process windows", "error", err)
			metrics.TieredLimiterDegraded.Set(1)
		}
		return t.allowFallback(key, cfg), nil
	}

	if t.degraded.CompareAndSwap(true, false) {
		slog.Info("Tiered rate limiter recovered, using Redis windows again")
		metrics.TieredLimiterDegraded.Set(0)
	}

	if len(res) != 2 {
		return Result{}, fmt.Errorf("unexpected sliding window script reply: %v", res)
	}

	allowed := res[0] == 1
	remaining := cfg.Limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	if !allowed {
		metrics.RateLimitRejections.WithLabelValues("tiered").Inc()
	}
	return Result{Allowed: allowed, Remaining: remaining}, nil
}

func (t *TieredLimiter) allowFallback(key string, cfg TierConfig) Result {
	allowed := t.fallback.allow(key, cfg.Limit, cfg.Window)
	if !allowed {
		metrics.RateLimitRejections.WithLabelValues("tiered").Inc()
	}
	return Result{
		Allowed:   allowed,
		Remaining: t.fallback.remaining(key, cfg.Limit, cfg.Window),
		Degraded:  true,
	}
}

// Degraded reports whether the limiter is running on its in-process
// fallback instead of Redis.
func (t *TieredLimiter) Degraded() bool {
	return t.rdb == nil || t.degraded.Load()
}

// Config exposes the quota for a tier and limit type, for status output.
func (t *TieredLimiter) Config(tier Tier, limitType LimitType) (TierConfig, bool) {
	cfg, ok := t.configs[tier][limitType]
	return cfg, ok
}
