package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/comms-gateway/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 50
	backoffStep              = 10 * time.Millisecond
	backoffMax               = 50 * time.Millisecond
	windowSeconds            = 1
	keyPrefix                = "throttle"
)

var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*VendorThrottle)(nil)

// VendorThrottle caps outbound vendor calls per scope and second across all
// gateway replicas. A scope is "<channel>:<provider>", e.g. "sms:twilio".
type VendorThrottle struct {
	client       goredis.Scripter
	defaultLimit int64
	limits       map[string]int64
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	script       *goredis.Script
}

// NewVendorThrottle builds a throttle with defaultLimitPerSec for every scope
// and per-scope overrides keyed by "<channel>:<provider>".
func NewVendorThrottle(client *goredis.Client, defaultLimitPerSec int, overrides map[string]int) (*VendorThrottle, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	limits := make(map[string]int64, len(overrides))
	for scope, limit := range overrides {
		if limit > 0 {
			limits[normalizeScope(scope)] = int64(limit)
		}
	}

	return newVendorThrottle(client, int64(defaultLimitPerSec), limits, time.Now, sleepWithContext)
}

func newVendorThrottle(
	client goredis.Scripter,
	defaultLimit int64,
	limits map[string]int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*VendorThrottle, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if defaultLimit <= 0 {
		defaultLimit = defaultLimitPerSec
	}
	if limits == nil {
		limits = map[string]int64{}
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &VendorThrottle{
		client:       client,
		defaultLimit: defaultLimit,
		limits:       limits,
		now:          nowFn,
		sleep:        sleepFn,
		script:       allowScript,
	}, nil
}

func (r *VendorThrottle) Allow(ctx context.Context, scope string) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("vendor throttle is not initialized")
	}

	normalized := normalizeScope(scope)
	if normalized == "" {
		return false, fmt.Errorf("throttle scope is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("%s:%s:%d", keyPrefix, normalized, r.now().UTC().Unix())
	result, err := r.script.Run(ctx, r.client, []string{key}, r.limitFor(normalized), windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate vendor throttle: %w", err)
	}

	return result == 1, nil
}

func (r *VendorThrottle) Wait(ctx context.Context, scope string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (r *VendorThrottle) limitFor(scope string) int64 {
	if limit, ok := r.limits[scope]; ok {
		return limit
	}
	return r.defaultLimit
}

func normalizeScope(scope string) string {
	return strings.ToLower(strings.TrimSpace(scope))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
