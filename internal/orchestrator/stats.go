package orchestrator

import (
	"time"

	"github.com/labviz/molcache/pkg/types"
)

// TierSnapshot describes one configured tier.
type TierSnapshot struct {
	Tier    types.Tier `json:"tier"`
	Backend string     `json:"backend"`
	// Entries and Bytes count what this process has tracked in the tier.
	Entries int64  `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Health  string `json:"health,omitempty"`
	// Reported is the backend's own view, when it offers one.
	Reported *types.TierStats `json:"reported,omitempty"`
}

// Stats is a point-in-time snapshot of the orchestrator.
type Stats struct {
	HitRate        float64                 `json:"hit_rate"`
	Hits           uint64                  `json:"hits"`
	Misses         uint64                  `json:"misses"`
	EntryCount     int                     `json:"entry_count"`
	TotalBytes     int64                   `json:"total_bytes"`
	Tiers          map[string]TierSnapshot `json:"tiers"`
	InFlight       int64                   `json:"in_flight"`
	OriginFetches  uint64                  `json:"origin_fetches"`
	OriginFailures uint64                  `json:"origin_failures"`
}

// Stats returns a snapshot. The hit rate covers the rolling window only.
func (o *Orchestrator) Stats() Stats {
	hits, misses := o.window.totals()
	s := Stats{
		HitRate:        hitRate(hits, misses),
		Hits:           hits,
		Misses:         misses,
		Tiers:          make(map[string]TierSnapshot),
		InFlight:       o.inFlight.Load(),
		OriginFetches:  o.originFetches.Load(),
		OriginFailures: o.originFailures.Load(),
	}

	now := o.now()
	keys := make(map[string]struct{})
	o.metaMu.Lock()
	for _, tier := range types.CacheTiers {
		backend := o.tiers.get(tier)
		if backend == nil {
			continue
		}
		snap := TierSnapshot{Tier: tier, Backend: backend.Name()}
		for key, el := range o.meta[tier].entries {
			e := el.Value.(*types.CacheEntry)
			// Expired entries are dropped on their next read.
			if e.Expired(now) {
				continue
			}
			snap.Entries++
			snap.Bytes += e.SizeBytes
			keys[key] = struct{}{}
		}
		s.TotalBytes += snap.Bytes
		s.Tiers[tier.String()] = snap
	}
	o.metaMu.Unlock()
	s.EntryCount = len(keys)

	// Backend stats and health may take their own locks; gather them outside metaMu.
	for name, snap := range s.Tiers {
		if r, ok := o.tiers.get(snap.Tier).(types.StatsReporter); ok {
			ts := r.TierStats()
			snap.Reported = &ts
		}
		if o.health != nil {
			if h, ok := o.health.Component(componentName(snap.Tier)); ok {
				snap.Health = h.State.String()
			}
		}
		o.metrics.SetTierBytes(name, snap.Bytes)
		s.Tiers[name] = snap
	}
	return s
}

// Entry returns the tracked metadata for key in tier.
func (o *Orchestrator) Entry(tier types.Tier, key string) (types.CacheEntry, bool) {
	o.metaMu.Lock()
	defer o.metaMu.Unlock()
	e, ok := o.meta[tier].entries[key]
	if !ok {
		return types.CacheEntry{}, false
	}
	return *e.Value.(*types.CacheEntry), true
}

// touchMeta records a hit. It returns false when the entry has expired.
// Entries with no metadata, written by an earlier process or forgotten to
// keep the index bounded, are adopted with the tier's TTL starting now.
func (o *Orchestrator) touchMeta(tier types.Tier, key string, size int64) bool {
	now := o.now()
	o.metaMu.Lock()
	defer o.metaMu.Unlock()

	idx := o.meta[tier]
	e, ok := idx.get(key)
	if !ok {
		e = &types.CacheEntry{Key: key, Tier: tier, SizeBytes: size, CreatedAt: now, TTL: o.ttlFor(tier)}
		o.metrics.MetadataForgotten(tier.String(), idx.put(e))
	}
	if e.Expired(now) {
		return false
	}
	e.Touch(now)
	return true
}

func (o *Orchestrator) setMeta(tier types.Tier, key string, size int64, ttl time.Duration) {
	now := o.now()
	o.metaMu.Lock()
	forgotten := o.meta[tier].put(&types.CacheEntry{
		Key:            key,
		Tier:           tier,
		SizeBytes:      size,
		CreatedAt:      now,
		LastAccessedAt: now,
		TTL:            ttl,
	})
	o.metaMu.Unlock()
	o.metrics.MetadataForgotten(tier.String(), forgotten)
}

func (o *Orchestrator) dropMeta(tier types.Tier, key string) {
	o.metaMu.Lock()
	o.meta[tier].remove(key)
	o.metaMu.Unlock()
}
