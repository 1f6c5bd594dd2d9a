package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestVendorThrottleAllow(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	throttle, err := newVendorThrottle(rdb, 2, nil, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newVendorThrottle() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		allowed, err := throttle.Allow(context.Background(), "sms:twilio")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := throttle.Allow(context.Background(), "sms:twilio")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call should be rejected by the throttle")
	}

	now = now.Add(time.Second)
	allowed, err = throttle.Allow(context.Background(), "sms:twilio")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("new second window should allow call")
	}
}

func TestVendorThrottleScopesAreIndependent(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	throttle, err := newVendorThrottle(
		rdb,
		1,
		map[string]int64{"email:postmark": 3},
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newVendorThrottle() error = %v", err)
	}

	mustAllow := func(scope string, want bool) {
		t.Helper()
		allowed, err := throttle.Allow(context.Background(), scope)
		if err != nil {
			t.Fatalf("Allow(%s) error = %v", scope, err)
		}
		if allowed != want {
			t.Fatalf("Allow(%s) = %v, want %v", scope, allowed, want)
		}
	}

	mustAllow("sms:twilio", true)
	mustAllow("SMS:Aliyun", true)
	mustAllow("sms:twilio", false)

	mustAllow("email:postmark", true)
	mustAllow("email:postmark", true)
	mustAllow("email:postmark", true)
	mustAllow("email:postmark", false)
}

func TestVendorThrottleWait(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	sleepCalls := 0
	throttle, err := newVendorThrottle(
		rdb,
		1,
		nil,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			sleepCalls++
			if sleepCalls == 1 {
				now = now.Add(time.Second)
			}
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newVendorThrottle() error = %v", err)
	}

	if err := throttle.Wait(context.Background(), "push:fcm"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if err := throttle.Wait(context.Background(), "push:fcm"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if sleepCalls == 0 {
		t.Fatal("expected Wait() to sleep at least once")
	}
}

func TestVendorThrottleWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_300, 0)
	throttle, err := newVendorThrottle(rdb, 1, nil, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newVendorThrottle() error = %v", err)
	}

	if _, err := throttle.Allow(context.Background(), "sms:twilio"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = throttle.Wait(ctx, "sms:twilio")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestVendorThrottleRejectsEmptyScope(t *testing.T) {
	t.Parallel()

	throttle, err := newVendorThrottle(newTestRedisClient(t), 1, nil, nil, nil)
	if err != nil {
		t.Fatalf("newVendorThrottle() error = %v", err)
	}

	if _, err := throttle.Allow(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty scope")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
