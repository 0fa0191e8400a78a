package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterBurstThenThrottle(t *testing.T) {
	l := NewTokenBucketLimiter(10, 3)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("burst wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("burst should not block, took %v", elapsed)
	}

	// 桶已空,第 4 次需要等约 100ms 回填一枚令牌。
	start = time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("throttled wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("throttled wait returned too fast: %v", elapsed)
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	l := NewTokenBucketLimiter(0.1, 1)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestLimiterDefaults(t *testing.T) {
	l := NewTokenBucketLimiter(-5, 0)
	if l.rate != 1 || l.burst != 1 {
		t.Fatalf("defaults = rate %v burst %d, want 1/1", l.rate, l.burst)
	}
}
