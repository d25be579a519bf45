package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryCache_MarkAndCheck(t *testing.T) {
	cache := NewInMemoryCache(0)
	ctx := context.Background()

	seen, err := cache.IsProcessed(ctx, "evt-1")
	if err != nil || seen {
		t.Fatalf("fresh cache must not contain evt-1 (seen=%v, err=%v)", seen, err)
	}

	if err := cache.MarkProcessed(ctx, "evt-1"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	// Повторная отметка не является ошибкой
	if err := cache.MarkProcessed(ctx, "evt-1"); err != nil {
		t.Fatalf("second MarkProcessed failed: %v", err)
	}

	if seen, _ := cache.IsProcessed(ctx, "evt-1"); !seen {
		t.Errorf("evt-1 must be processed")
	}
	if seen, _ := cache.IsProcessed(ctx, "evt-2"); seen {
		t.Errorf("evt-2 must not be processed")
	}
	if cache.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", cache.Len())
	}
}

func TestInMemoryCache_TTL(t *testing.T) {
	cache := NewInMemoryCache(time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cache.MarkProcessed(ctx, "evt-1")

	now = now.Add(30 * time.Second)
	if seen, _ := cache.IsProcessed(ctx, "evt-1"); !seen {
		t.Fatalf("marker must be alive within ttl")
	}

	now = now.Add(2 * time.Minute)
	if seen, _ := cache.IsProcessed(ctx, "evt-1"); seen {
		t.Errorf("marker must expire after ttl")
	}
	if cache.Len() != 0 {
		t.Errorf("expired marker must be evicted")
	}
}
