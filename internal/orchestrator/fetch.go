package orchestrator

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/labviz/molcache/internal/cache"
	"github.com/labviz/molcache/pkg/errors"
	"github.com/labviz/molcache/pkg/types"
)

// FetchOptions modify a single Fetch.
type FetchOptions struct {
	// ForceRefresh skips every tier read and goes to the origin. The
	// result is still written through to the tiers.
	ForceRefresh bool
	// SkipTiers are neither read nor populated.
	SkipTiers []types.Tier
	// Timeout overrides the origin timeout for this call.
	Timeout time.Duration
}

// Result is a successful fetch.
type Result struct {
	Key    string
	Data   []byte
	Source types.Tier
	// Coalesced is set when the caller joined another caller's origin fetch.
	Coalesced bool
}

// Fetch returns the bytes for key from the fastest tier holding them,
// promoting them into every faster tier, or from the origin on a total
// miss. Concurrent misses for one key share a single origin call.
func (o *Orchestrator) Fetch(ctx context.Context, key string, opts FetchOptions) (*Result, error) {
	if o.observer != nil {
		o.observer.RecordAccess(key)
	}
	return o.fetch(ctx, key, opts, false)
}

// fetch is Fetch without observer notification. Prefetches pass
// background=true and are kept out of the hit rate.
func (o *Orchestrator) fetch(ctx context.Context, key string, opts FetchOptions, background bool) (*Result, error) {
	if key == "" {
		return nil, errors.NewError(errors.ErrCodeNotFound, "empty key").WithComponent("orchestrator")
	}
	skip := make(map[types.Tier]bool, len(opts.SkipTiers))
	for _, t := range opts.SkipTiers {
		skip[t] = true
	}

	if !opts.ForceRefresh {
		gen := o.gens.acquire(key)
		defer o.gens.release(key)

		for i, tier := range types.CacheTiers {
			backend := o.tiers.get(tier)
			if backend == nil || skip[tier] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, contextError(err, key)
			}
			data, ok := o.readTier(ctx, tier, backend, key)
			if !ok {
				continue
			}
			if !background {
				o.recordLookup(true)
			}
			o.populateCurrent(ctx, key, gen, data, types.CacheTiers[:i], skip)
			return &Result{Key: key, Data: data, Source: tier}, nil
		}
		if !background {
			o.recordLookup(false)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, contextError(err, key)
	}
	return o.fetchOrigin(ctx, key, opts, skip)
}

func (o *Orchestrator) recordLookup(hit bool) {
	o.window.record(hit)
	o.metrics.SetHitRate(hitRate(o.window.totals()))
}

// readTier treats errors and expired entries as misses.
func (o *Orchestrator) readTier(ctx context.Context, tier types.Tier, backend types.TierBackend, key string) ([]byte, bool) {
	data, ok, err := backend.Get(ctx, key)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("tier read failed, falling through",
				zap.Stringer("tier", tier), zap.String("key", key), zap.Error(err))
			o.recordHealth(tier, err)
			o.metrics.TierLookup(tier.String(), "error")
		}
		return nil, false
	}
	o.recordHealth(tier, nil)

	if !ok {
		o.dropMeta(tier, key)
		o.metrics.TierLookup(tier.String(), "miss")
		return nil, false
	}

	if o.touchMeta(tier, key, int64(len(data))) {
		o.metrics.TierLookup(tier.String(), "hit")
		return data, true
	}

	// Metadata says the entry outlived its TTL; never serve it.
	o.dropMeta(tier, key)
	if err := backend.Delete(context.WithoutCancel(ctx), key); err != nil {
		o.logger.Warn("failed to delete expired entry",
			zap.Stringer("tier", tier), zap.String("key", key), zap.Error(err))
	}
	o.metrics.TierLookup(tier.String(), "expired")
	return nil, false
}

// populate writes data into tiers. Failures are logged; the caller already
// has the data.
func (o *Orchestrator) populate(ctx context.Context, key string, data []byte, tiers []types.Tier, skip map[types.Tier]bool) {
	wctx := context.WithoutCancel(ctx)
	for _, tier := range tiers {
		backend := o.tiers.get(tier)
		if backend == nil || skip[tier] {
			continue
		}
		ttl := o.ttlFor(tier)
		if err := backend.Put(wctx, key, data, ttl); err != nil {
			if stderrors.Is(err, cache.ErrEntryTooLarge) {
				o.logger.Debug("entry too large for tier",
					zap.Stringer("tier", tier), zap.String("key", key), zap.Int("size", len(data)))
				continue
			}
			o.logger.Warn("tier write failed",
				zap.Stringer("tier", tier), zap.String("key", key), zap.Error(err))
			o.recordHealth(tier, err)
			continue
		}
		o.recordHealth(tier, nil)
		o.setMeta(tier, key, int64(len(data)), ttl)
	}
}

// populateCurrent populates tiers unless key was invalidated after gen was
// taken. A write that raced with an invalidation is removed again.
func (o *Orchestrator) populateCurrent(ctx context.Context, key string, gen uint64, data []byte, tiers []types.Tier, skip map[types.Tier]bool) {
	if !o.gens.current(key, gen) {
		o.logger.Debug("key invalidated during fetch, not caching", zap.String("key", key))
		return
	}
	o.populate(ctx, key, data, tiers, skip)
	if !o.gens.current(key, gen) {
		o.logger.Debug("key invalidated while caching, removing", zap.String("key", key))
		o.remove(ctx, key, tiers, skip)
	}
}

type originResult struct {
	data []byte
	err  error
}

func (o *Orchestrator) fetchOrigin(ctx context.Context, key string, opts FetchOptions, skip map[types.Tier]bool) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = o.config.OriginTimeout
	}

	// leader is written by the flight goroutine before the result is sent
	// and read only after it is received.
	leader := false
	ch := o.flight.DoChan(key, func() (interface{}, error) {
		leader = true
		return o.callOrigin(ctx, key, timeout, skip)
	})

	select {
	case res := <-ch:
		if !leader {
			o.metrics.CoalescedWaiter()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		data := res.Val.([]byte)
		if res.Shared {
			data = append([]byte(nil), data...)
		}
		return &Result{Key: key, Data: data, Source: types.TierOrigin, Coalesced: !leader}, nil
	case <-ctx.Done():
		return nil, contextError(ctx.Err(), key)
	}
}

// callOrigin runs detached from the leader's cancellation so one impatient
// caller cannot fail the others; timeout bounds it instead. It returns at
// the timeout even if the origin ignores its context, which releases the
// key for the next caller.
func (o *Orchestrator) callOrigin(ctx context.Context, key string, timeout time.Duration, skip map[types.Tier]bool) ([]byte, error) {
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	gen := o.gens.acquire(key)
	defer o.gens.release(key)

	o.inFlight.Add(1)
	o.metrics.OriginInFlight(1)
	defer func() {
		o.inFlight.Add(-1)
		o.metrics.OriginInFlight(-1)
	}()
	o.originFetches.Add(1)

	start := o.now()
	done := make(chan originResult, 1)
	go func() {
		data, err := o.origin.Fetch(octx, key)
		done <- originResult{data: data, err: err}
	}()

	var res originResult
	select {
	case res = <-done:
	case <-octx.Done():
		res.err = octx.Err()
	}
	elapsed := o.now().Sub(start)

	if res.err == nil {
		o.metrics.OriginFetch("success", elapsed)
		o.recordHealth(types.TierOrigin, nil)
		// The waiters still get the data when the key was invalidated meanwhile.
		o.populateCurrent(ctx, key, gen, res.data, types.CacheTiers, skip)
		return res.data, nil
	}

	err := res.err
	if _, ok := errors.As(err); !ok && stderrors.Is(err, context.DeadlineExceeded) {
		err = errors.Wrap(errors.ErrCodeOperationTimeout, "origin fetch timed out", err).
			WithDetail("timeout", timeout.String())
	}

	if stderrors.Is(err, errors.ErrNotFound) {
		o.metrics.OriginFetch("not_found", elapsed)
		o.recordHealth(types.TierOrigin, nil)
		o.logger.Debug("origin has no such asset", zap.String("key", key))
	} else {
		o.originFailures.Add(1)
		o.metrics.OriginFetch("error", elapsed)
		o.recordHealth(types.TierOrigin, err)
		o.logger.Error("origin fetch failed",
			zap.String("key", key), zap.Duration("elapsed", elapsed), zap.Error(err))
	}

	return nil, errors.Wrap(errors.ErrCodeCacheMiss, "asset unavailable from every tier and the origin", err).
		WithComponent("orchestrator").WithOperation("fetch").WithKey(key)
}

// Invalidate removes key from every tier. Missing keys and delete failures
// are not errors; failures are logged.
func (o *Orchestrator) Invalidate(ctx context.Context, key string) {
	// Fetches already running must not write their copy back afterwards.
	o.gens.bump(key)
	o.remove(ctx, key, types.CacheTiers, nil)
	// Later fetches must not join a call that started before the invalidation.
	o.flight.Forget(key)
}

func (o *Orchestrator) remove(ctx context.Context, key string, tiers []types.Tier, skip map[types.Tier]bool) {
	dctx := context.WithoutCancel(ctx)
	for _, tier := range tiers {
		backend := o.tiers.get(tier)
		if backend == nil || skip[tier] {
			continue
		}
		if err := backend.Delete(dctx, key); err != nil {
			o.logger.Warn("tier delete failed",
				zap.Stringer("tier", tier), zap.String("key", key), zap.Error(err))
			o.recordHealth(tier, err)
		}
		o.dropMeta(tier, key)
	}
}

func (o *Orchestrator) recordHealth(tier types.Tier, err error) {
	if o.health == nil {
		return
	}
	if err != nil {
		o.health.RecordError(componentName(tier), err)
		return
	}
	o.health.RecordSuccess(componentName(tier))
}

func contextError(err error, key string) error {
	code := errors.ErrCodeOperationCanceled
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = errors.ErrCodeOperationTimeout
	}
	return errors.Wrap(code, "fetch abandoned by caller", err).
		WithComponent("orchestrator").WithKey(key)
}
