package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryTier_Contract(t *testing.T) {
	t.Parallel()

	tier := NewMemoryTier(MemoryConfig{MaxSize: 1 << 20})
	defer tier.Close()
	runTierContract(t, tier)
}

func TestNewMemoryTier_Defaults(t *testing.T) {
	t.Parallel()

	tier := NewMemoryTier(MemoryConfig{})
	defer tier.Close()
	if tier.config.MaxSize != 512<<20 {
		t.Errorf("default MaxSize = %d, want 512MiB", tier.config.MaxSize)
	}
	if tier.config.CleanupInterval != time.Minute {
		t.Errorf("default CleanupInterval = %v", tier.config.CleanupInterval)
	}
}

func TestMemoryTier_EvictsLeastRecentlyUsedBySize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tier := NewMemoryTier(MemoryConfig{MaxSize: 30})
	defer tier.Close()

	_ = tier.Put(ctx, "a", make([]byte, 10), 0)
	_ = tier.Put(ctx, "b", make([]byte, 10), 0)
	_ = tier.Put(ctx, "c", make([]byte, 10), 0)
	// Touch "a" so "b" becomes the eviction candidate.
	_, _, _ = tier.Get(ctx, "a")
	_ = tier.Put(ctx, "d", make([]byte, 10), 0)

	if _, ok, _ := tier.Get(ctx, "b"); ok {
		t.Error("expected b to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok, _ := tier.Get(ctx, key); !ok {
			t.Errorf("expected %s to remain", key)
		}
	}

	stats := tier.TierStats()
	if stats.Bytes != 30 || stats.Entries != 3 {
		t.Errorf("stats = %+v, want 30 bytes / 3 entries", stats)
	}
	if stats.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", stats.Evictions)
	}
}

func TestMemoryTier_EvictsByEntryCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tier := NewMemoryTier(MemoryConfig{MaxSize: 1 << 20, MaxEntries: 2})
	defer tier.Close()

	var evicted []string
	tier.OnEvict(func(key string) { evicted = append(evicted, key) })

	for i := 0; i < 5; i++ {
		_ = tier.Put(ctx, fmt.Sprintf("k%d", i), []byte("x"), 0)
	}
	if got := tier.TierStats().Entries; got != 2 {
		t.Errorf("Entries = %d, want 2", got)
	}
	want := []string{"k0", "k1", "k2"}
	if fmt.Sprint(evicted) != fmt.Sprint(want) {
		t.Errorf("evicted = %v, want %v", evicted, want)
	}
}

func TestMemoryTier_JanitorReportsExpiredKeys(t *testing.T) {
	t.Parallel()

	tier := NewMemoryTier(MemoryConfig{MaxSize: 1 << 20, CleanupInterval: 5 * time.Millisecond})
	defer tier.Close()

	expired := make(chan string, 1)
	tier.OnEvict(func(key string) { expired <- key })
	_ = tier.Put(context.Background(), "short", []byte("x"), 10*time.Millisecond)

	select {
	case key := <-expired:
		if key != "short" {
			t.Errorf("expired key = %q, want short", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor never reported the expired key")
	}
}

func TestMemoryTier_RejectsOversizedEntry(t *testing.T) {
	t.Parallel()

	tier := NewMemoryTier(MemoryConfig{MaxSize: 8})
	defer tier.Close()

	err := tier.Put(context.Background(), "huge", make([]byte, 9), 0)
	if !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("Put() error = %v, want ErrEntryTooLarge", err)
	}
}

func TestMemoryTier_TTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tier := NewMemoryTier(MemoryConfig{MaxSize: 1 << 20, TTL: time.Minute})
	defer tier.Close()

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tier.now = func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	advance := func(d time.Duration) { mu.Lock(); now = now.Add(d); mu.Unlock() }

	_ = tier.Put(ctx, "default-ttl", []byte("x"), 0)
	_ = tier.Put(ctx, "short-ttl", []byte("y"), 10*time.Second)

	advance(11 * time.Second)
	if _, ok, _ := tier.Get(ctx, "short-ttl"); ok {
		t.Error("short-ttl entry served after expiry")
	}
	if _, ok, _ := tier.Get(ctx, "default-ttl"); !ok {
		t.Error("default-ttl entry expired early")
	}

	advance(time.Minute)
	if _, ok, _ := tier.Get(ctx, "default-ttl"); ok {
		t.Error("default-ttl entry served after expiry")
	}
	if got := tier.TierStats().Entries; got != 0 {
		t.Errorf("expired entries not removed, Entries = %d", got)
	}
}

func TestMemoryTier_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tier := NewMemoryTier(MemoryConfig{MaxSize: 1 << 20})
	defer tier.Close()

	src := []byte("ATOM")
	_ = tier.Put(ctx, "k", src, 0)
	src[0] = 'X'

	got, _, _ := tier.Get(ctx, "k")
	got[1] = 'Y'

	again, _, _ := tier.Get(ctx, "k")
	if string(again) != "ATOM" {
		t.Errorf("stored payload mutated: %q", again)
	}
}

func TestMemoryTier_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tier := NewMemoryTier(MemoryConfig{MaxSize: 4096})
	defer tier.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%50)
				_ = tier.Put(ctx, key, make([]byte, 64), 0)
				_, _, _ = tier.Get(ctx, key)
				if i%7 == 0 {
					_ = tier.Delete(ctx, key)
				}
			}
		}(g)
	}
	wg.Wait()

	if s := tier.TierStats(); s.Bytes > 4096 {
		t.Errorf("size %d exceeds capacity", s.Bytes)
	}
}
