package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteTier(t *testing.T, ttl time.Duration) *SQLiteTier {
	t.Helper()
	tier, err := NewSQLiteTier(filepath.Join(t.TempDir(), "durable", "assets.db"), ttl)
	if err != nil {
		t.Fatalf("NewSQLiteTier() error = %v", err)
	}
	t.Cleanup(func() { _ = tier.Close() })
	return tier
}

func TestSQLiteTier_Contract(t *testing.T) {
	t.Parallel()
	runTierContract(t, newTestSQLiteTier(t, 0))
}

func TestSQLiteTier_InMemory(t *testing.T) {
	t.Parallel()

	tier, err := NewSQLiteTier(":memory:", 0)
	if err != nil {
		t.Fatalf("NewSQLiteTier(:memory:) error = %v", err)
	}
	defer tier.Close()

	ctx := context.Background()
	if err := tier.Put(ctx, "1a3n", []byte("x"), 0); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok, _ := tier.Get(ctx, "1a3n"); !ok {
		t.Error("expected hit from in-memory database")
	}
}

func TestSQLiteTier_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "assets.db")
	ctx := context.Background()

	first, err := NewSQLiteTier(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	_ = first.Put(ctx, "7k3g", []byte("ribosome"), 0)
	_ = first.Close()

	second, err := NewSQLiteTier(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	got, ok, err := second.Get(ctx, "7k3g")
	if err != nil || !ok || string(got) != "ribosome" {
		t.Errorf("Get() after reopen = %q, %v, %v", got, ok, err)
	}
}

func TestSQLiteTier_ExpiryAndPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tier := newTestSQLiteTier(t, time.Hour)

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	tier.now = func() time.Time { return now }

	_ = tier.Put(ctx, "a", []byte("1"), time.Minute)
	_ = tier.Put(ctx, "b", []byte("2"), time.Minute)
	_ = tier.Put(ctx, "c", []byte("3"), 0)

	now = now.Add(2 * time.Minute)

	if _, ok, _ := tier.Get(ctx, "a"); ok {
		t.Error("expired row served")
	}
	n, err := tier.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Purge() removed %d rows, want 1 (a was already dropped by Get)", n)
	}
	if _, ok, _ := tier.Get(ctx, "c"); !ok {
		t.Error("row with default ttl expired early")
	}
}

func TestSQLiteTier_Stats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tier := newTestSQLiteTier(t, 0)

	_ = tier.Put(ctx, "a", make([]byte, 100), 0)
	_ = tier.Put(ctx, "b", make([]byte, 50), 0)
	_, _, _ = tier.Get(ctx, "a")
	_, _, _ = tier.Get(ctx, "zzz")

	s := tier.TierStats()
	if s.Entries != 2 || s.Bytes != 150 {
		t.Errorf("stats = %+v, want 2 entries / 150 bytes", s)
	}
	if s.Hits != 1 || s.Misses != 1 || s.HitRate != 0.5 {
		t.Errorf("hit stats = %+v", s)
	}
	if s.Backend != "sqlite" {
		t.Errorf("Backend = %q", s.Backend)
	}
}
