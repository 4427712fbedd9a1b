package cache

import (
	"bytes"
	"context"
	"testing"

	"github.com/labviz/molcache/pkg/types"
)

// runTierContract checks the behaviour every TierBackend must share.
func runTierContract(t *testing.T, tier types.TierBackend) {
	t.Helper()
	ctx := context.Background()

	t.Run("absent key is a clean miss", func(t *testing.T) {
		data, ok, err := tier.Get(ctx, "missing")
		if err != nil || ok || data != nil {
			t.Errorf("Get(missing) = %v, %v, %v; want nil, false, nil", data, ok, err)
		}
	})

	t.Run("put then get", func(t *testing.T) {
		payload := []byte("data_4HHB\n_cell.length_a 63.150")
		if err := tier.Put(ctx, "4hhb", payload, 0); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, ok, err := tier.Get(ctx, "4hhb")
		if err != nil || !ok {
			t.Fatalf("Get() = _, %v, %v; want hit", ok, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("Get() = %q, want %q", got, payload)
		}
	})

	t.Run("overwrite replaces payload", func(t *testing.T) {
		_ = tier.Put(ctx, "1crn", []byte("v1"), 0)
		_ = tier.Put(ctx, "1crn", []byte("version-2"), 0)
		got, ok, _ := tier.Get(ctx, "1crn")
		if !ok || string(got) != "version-2" {
			t.Errorf("Get() = %q, %v; want version-2", got, ok)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		_ = tier.Put(ctx, "2ptc", []byte("x"), 0)
		if err := tier.Delete(ctx, "2ptc"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := tier.Delete(ctx, "2ptc"); err != nil {
			t.Fatalf("second Delete() error = %v", err)
		}
		if _, ok, _ := tier.Get(ctx, "2ptc"); ok {
			t.Error("deleted key still present")
		}
	})
}
