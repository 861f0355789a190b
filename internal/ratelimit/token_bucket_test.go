package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "client")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "client")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "client")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	// Note: refill cannot be tested with miniredis.FastForward() because
	// the Lua script receives time from Go's time.Now(), not Redis's
	// internal clock.
}

func TestTokenBucketAllowN(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 10, 1, time.Minute)

	// A bulk import larger than the bucket never fits.
	allowed, _, err := bucket.AllowN(ctx, "client", 11)
	if err != nil {
		t.Fatalf("allown: %v", err)
	}
	if allowed {
		t.Fatalf("11 tokens allowed from a capacity-10 bucket")
	}

	allowed, remaining, _ := bucket.AllowN(ctx, "client", 8)
	if !allowed {
		t.Fatalf("8 tokens should fit in a full bucket")
	}
	if remaining > 2 {
		t.Fatalf("remaining = %v, want <= 2", remaining)
	}

	// The rejected call must not have consumed anything partial:
	// only 8 were spent, so 2 more fit.
	if allowed, _, _ := bucket.AllowN(ctx, "client", 2); !allowed {
		t.Fatalf("2 remaining tokens should be spendable")
	}
	if allowed, _, _ := bucket.Allow(ctx, "client"); allowed {
		t.Fatalf("bucket should be empty")
	}
}

func TestTokenBucketMalformedReply(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	old := bucketScript
	bucketScript = redis.NewScript(`return 1`)
	defer func() { bucketScript = old }()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 10, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "client")
	if err == nil {
		t.Fatalf("expected error for a non-array script reply")
	}
	if allowed {
		t.Fatalf("malformed reply must not allow the request")
	}
}
