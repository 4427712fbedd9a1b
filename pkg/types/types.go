package types

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a position in the fallback chain, ordered fastest first.
type Tier int

const (
	TierFast Tier = iota
	TierEdge
	TierDurable
	// TierOrigin is not a cache tier; it marks data served by the origin.
	TierOrigin
)

// CacheTiers lists the cache tiers in lookup order.
var CacheTiers = []Tier{TierFast, TierEdge, TierDurable}

func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierEdge:
		return "edge"
	case TierDurable:
		return "durable"
	case TierOrigin:
		return "origin"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier converts a tier name back to a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return TierFast, nil
	case "edge":
		return TierEdge, nil
	case "durable":
		return TierDurable, nil
	case "origin":
		return TierOrigin, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// CacheEntry is the orchestrator's metadata for one payload held in one tier.
type CacheEntry struct {
	Key            string        `json:"key"`
	Tier           Tier          `json:"tier"`
	SizeBytes      int64         `json:"size_bytes"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	HitCount       int64         `json:"hit_count"`
	TTL            time.Duration `json:"ttl,omitempty"`
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) >= e.TTL
}

// Touch records a hit.
func (e *CacheEntry) Touch(now time.Time) {
	e.LastAccessedAt = now
	e.HitCount++
}

// TierStats describes the contents of one backend.
type TierStats struct {
	Backend     string  `json:"backend"`
	Entries     int64   `json:"entries"`
	Bytes       int64   `json:"bytes"`
	Capacity    int64   `json:"capacity,omitempty"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}
