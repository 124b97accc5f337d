package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheComputesOnce(t *testing.T) {
	c := NewMemoryCache()
	calls := 0
	compute := func(ctx context.Context) (interface{}, error) {
		calls++
		return "payload", nil
	}

	for i := 0; i < 3; i++ {
		payload, stale, err := c.GetOrCompute(context.Background(), "k", time.Minute, compute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stale {
			t.Fatal("fresh entry reported stale")
		}
		if payload != "payload" {
			t.Fatalf("unexpected payload %v", payload)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one compute call, got %d", calls)
	}
}

func TestMemoryCacheRecomputesAfterTTL(t *testing.T) {
	c := NewMemoryCache()
	current := time.Now()
	c.now = func() time.Time { return current }

	calls := 0
	compute := func(ctx context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	if _, _, err := c.GetOrCompute(context.Background(), "k", time.Minute, compute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	current = current.Add(2 * time.Minute)

	payload, stale, err := c.GetOrCompute(context.Background(), "k", time.Minute, compute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stale {
		t.Fatal("recomputed entry reported stale")
	}
	if payload != 2 {
		t.Fatalf("expected recomputed payload, got %v", payload)
	}
}

func TestMemoryCacheServesStaleOnFailure(t *testing.T) {
	c := NewMemoryCache()
	current := time.Now()
	c.now = func() time.Time { return current }

	ok := func(ctx context.Context) (interface{}, error) { return "old", nil }
	fail := func(ctx context.Context) (interface{}, error) { return nil, errors.New("upstream down") }

	if _, _, err := c.GetOrCompute(context.Background(), "k", time.Minute, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	current = current.Add(2 * time.Minute)

	payload, stale, err := c.GetOrCompute(context.Background(), "k", time.Minute, fail)
	if err != nil {
		t.Fatalf("expected stale serving, got error: %v", err)
	}
	if !stale {
		t.Fatal("expected stale flag")
	}
	if payload != "old" {
		t.Fatalf("expected stale payload, got %v", payload)
	}
}

func TestMemoryCachePropagatesErrorWithoutPriorEntry(t *testing.T) {
	c := NewMemoryCache()
	wantErr := errors.New("upstream down")
	_, stale, err := c.GetOrCompute(context.Background(), "k", time.Minute, func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if stale {
		t.Fatal("error path reported stale")
	}
}

func TestMemoryCacheInvalidate(t *testing.T) {
	c := NewMemoryCache()
	calls := 0
	compute := func(ctx context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	if _, _, err := c.GetOrCompute(context.Background(), "k", time.Minute, compute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Invalidate(context.Background(), "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload, _, err := c.GetOrCompute(context.Background(), "k", time.Minute, compute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload != 2 {
		t.Fatalf("expected recompute after invalidate, got %v", payload)
	}

	// Invalidating after removal stays a no-op.
	if err := c.Invalidate(context.Background(), "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryCacheClearAll(t *testing.T) {
	c := NewMemoryCache()
	calls := 0
	compute := func(ctx context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	for _, key := range []string{"a", "b"} {
		if _, _, err := c.GetOrCompute(context.Background(), key, time.Minute, compute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := c.ClearAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := c.GetOrCompute(context.Background(), "a", time.Minute, compute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected recompute after clear, got %d calls", calls)
	}
}
