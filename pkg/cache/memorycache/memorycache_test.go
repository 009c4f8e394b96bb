package memorycache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asakaida/graphsync/pkg/cache"
)

func newTestCache(t *testing.T, maxSize int64, ttl time.Duration) *Cache {
	t.Helper()
	c, err := New(&Config{
		MaxSizeBytes:  maxSize,
		DefaultTTL:    ttl,
		EnableMetrics: true,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return c
}

func TestCache_SetAndGet(t *testing.T) {
	c := newTestCache(t, 1024*1024, 0)
	ctx := context.Background()

	query := "UNWIND $rows AS row MERGE (i:Widget {id: row.id})"
	if err := c.Set(ctx, "merge_nodes|Widget", query, 0); err != nil {
		t.Fatalf("failed to set value: %v", err)
	}

	value, found := c.Get(ctx, "merge_nodes|Widget")
	if !found {
		t.Fatal("expected to find merge_nodes|Widget")
	}
	if value != query {
		t.Errorf("expected %q, got %q", query, value)
	}

	if _, found := c.Get(ctx, "nonexistent"); found {
		t.Error("expected not to find nonexistent key")
	}
}

func TestCache_NoExpiryByDefault(t *testing.T) {
	c := newTestCache(t, 1024*1024, 0)
	ctx := context.Background()

	c.Set(ctx, "key1", "value1", 0)
	time.Sleep(20 * time.Millisecond)

	if _, found := c.Get(ctx, "key1"); !found {
		t.Error("expected entry without ttl to survive")
	}
}

func TestCache_TTLExpiration(t *testing.T) {
	c := newTestCache(t, 1024*1024, 0)
	ctx := context.Background()

	if err := c.Set(ctx, "key1", "value1", 50*time.Millisecond); err != nil {
		t.Fatalf("failed to set value: %v", err)
	}
	if _, found := c.Get(ctx, "key1"); !found {
		t.Error("expected to find key1 before expiration")
	}

	time.Sleep(100 * time.Millisecond)

	if _, found := c.Get(ctx, "key1"); found {
		t.Error("expected not to find key1 after expiration")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry to be removed, got %d entries", c.Len())
	}
}

func TestCache_DefaultTTL(t *testing.T) {
	c := newTestCache(t, 1024*1024, 50*time.Millisecond)
	ctx := context.Background()

	c.Set(ctx, "key1", "value1", 0)
	time.Sleep(100 * time.Millisecond)

	if _, found := c.Get(ctx, "key1"); found {
		t.Error("expected default ttl to expire key1")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	// Each entry costs entryOverhead + 1 + 10 bytes; room for three.
	c := newTestCache(t, 3*(entryOverhead+11), 0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		if err := c.Set(ctx, key, strings.Repeat("x", 10), 0); err != nil {
			t.Fatalf("failed to set value: %v", err)
		}
	}

	if c.Len() != 3 {
		t.Errorf("expected 3 entries after eviction, got %d", c.Len())
	}
	if _, found := c.Get(ctx, "j"); !found {
		t.Error("expected to find most recent entry 'j'")
	}
	if _, found := c.Get(ctx, "a"); found {
		t.Error("expected oldest entry 'a' to be evicted")
	}
	if got := c.Metrics().KeysEvicted; got != 7 {
		t.Errorf("expected 7 evictions, got %d", got)
	}
}

func TestCache_GetRefreshesRecency(t *testing.T) {
	c := newTestCache(t, 2*(entryOverhead+2), 0)
	ctx := context.Background()

	c.Set(ctx, "a", "1", 0)
	c.Set(ctx, "b", "2", 0)
	c.Get(ctx, "a")
	c.Set(ctx, "c", "3", 0)

	if _, found := c.Get(ctx, "a"); !found {
		t.Error("expected recently read entry 'a' to survive")
	}
	if _, found := c.Get(ctx, "b"); found {
		t.Error("expected least recently used entry 'b' to be evicted")
	}
}

func TestCache_OversizedEntryKept(t *testing.T) {
	c := newTestCache(t, 10, 0)
	ctx := context.Background()

	c.Set(ctx, "big", strings.Repeat("x", 100), 0)
	if _, found := c.Get(ctx, "big"); !found {
		t.Error("expected the only entry to be kept even when oversized")
	}
}

func TestCache_Delete(t *testing.T) {
	c := newTestCache(t, 1024*1024, 0)
	ctx := context.Background()

	c.Set(ctx, "key1", "value1", 0)
	if err := c.Delete(ctx, "key1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, found := c.Get(ctx, "key1"); found {
		t.Error("expected not to find key1 after deletion")
	}
	if c.Size() != 0 {
		t.Errorf("expected size 0 after deletion, got %d", c.Size())
	}
	if err := c.Delete(ctx, "nonexistent"); err != nil {
		t.Fatalf("delete of non-existent key should not error: %v", err)
	}
}

func TestCache_Clear(t *testing.T) {
	c := newTestCache(t, 1024*1024, 0)
	ctx := context.Background()

	c.Set(ctx, "key1", "value1", 0)
	c.Set(ctx, "key2", "value2", 0)
	c.Set(ctx, "key3", "value3", 0)
	if c.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", c.Len())
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}
	if c.Len() != 0 || c.Size() != 0 {
		t.Errorf("expected empty cache after clear, got %d entries, %d bytes", c.Len(), c.Size())
	}
}

func TestCache_UpdateExisting(t *testing.T) {
	c := newTestCache(t, 1024*1024, 0)
	ctx := context.Background()

	c.Set(ctx, "key1", "value1", 0)
	c.Set(ctx, "key1", "value-two", 0)

	value, found := c.Get(ctx, "key1")
	if !found || value != "value-two" {
		t.Errorf("expected value-two, got %q (found=%v)", value, found)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
	if want := int64(entryOverhead + len("key1") + len("value-two")); c.Size() != want {
		t.Errorf("expected size %d, got %d", want, c.Size())
	}
}

func TestCache_Metrics(t *testing.T) {
	c := newTestCache(t, 1024*1024, 0)
	ctx := context.Background()

	c.Set(ctx, "key1", "value1", 0)
	c.Get(ctx, "key1")
	c.Get(ctx, "nonexistent")

	m := c.Metrics()
	if m.Hits != 1 || m.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %d hits and %d misses", m.Hits, m.Misses)
	}
	if m.HitRate() != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", m.HitRate())
	}
}

func TestGetOrCompile(t *testing.T) {
	c := newTestCache(t, 1024*1024, 0)
	ctx := context.Background()

	compiles := 0
	compile := func() string {
		compiles++
		return "compiled"
	}

	for i := 0; i < 3; i++ {
		if got := cache.GetOrCompile(ctx, c, "shape", compile); got != "compiled" {
			t.Fatalf("expected compiled, got %q", got)
		}
	}
	if compiles != 1 {
		t.Errorf("expected one compilation, got %d", compiles)
	}
	if got := cache.GetOrCompile(ctx, nil, "shape", compile); got != "compiled" || compiles != 2 {
		t.Errorf("expected nil cache to compile every time, got %q after %d compilations", got, compiles)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache(t, 1024*1024, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set(ctx, fmt.Sprintf("k%d", id), fmt.Sprintf("v%d", j), 0)
			}
		}(i)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Get(ctx, fmt.Sprintf("k%d", id))
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 10 {
		t.Errorf("expected 10 entries, got %d", c.Len())
	}
}
