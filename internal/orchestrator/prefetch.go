package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/labviz/molcache/pkg/types"
)

// PrefetchStatus is the outcome for one prefetched key.
type PrefetchStatus string

const (
	// StatusCached means a tier already held the key.
	StatusCached PrefetchStatus = "cached"
	// StatusFetched means the key came from the origin.
	StatusFetched  PrefetchStatus = "fetched"
	StatusFailed   PrefetchStatus = "failed"
	StatusCanceled PrefetchStatus = "canceled"
)

// PrefetchItem reports one key of a batch.
type PrefetchItem struct {
	Key    string         `json:"key"`
	Status PrefetchStatus `json:"status"`
	Source string         `json:"source,omitempty"`
	Err    string         `json:"error,omitempty"`
}

// PrefetchReport is returned by Prefetch. Items are in input order.
type PrefetchReport struct {
	BatchID   string         `json:"batch_id"`
	Items     []PrefetchItem `json:"items"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	Canceled  int            `json:"canceled"`
	Duration  time.Duration  `json:"duration"`
}

// Prefetch warms keys with at most PrefetchConcurrency fetches running at
// once. Per-key failures are reported, never returned. Canceling ctx stops
// keys that have not started; keys already running finish on their own.
func (o *Orchestrator) Prefetch(ctx context.Context, keys []string) PrefetchReport {
	start := o.now()
	report := PrefetchReport{
		BatchID: uuid.NewString(),
		Items:   make([]PrefetchItem, len(keys)),
	}
	logger := o.logger.With(zap.String("batch_id", report.BatchID))

	var g errgroup.Group
	g.SetLimit(o.config.PrefetchConcurrency)
	for i, key := range keys {
		item := &report.Items[i]
		item.Key = key
		if ctx.Err() != nil {
			item.Status = StatusCanceled
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				item.Status = StatusCanceled
				return nil
			}
			res, err := o.fetch(context.WithoutCancel(ctx), key, FetchOptions{}, true)
			if err != nil {
				item.Status = StatusFailed
				item.Err = err.Error()
				logger.Warn("prefetch failed", zap.String("key", key), zap.Error(err))
				return nil
			}
			item.Source = res.Source.String()
			if res.Source == types.TierOrigin {
				item.Status = StatusFetched
			} else {
				item.Status = StatusCached
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range report.Items {
		switch item.Status {
		case StatusFailed:
			report.Failed++
		case StatusCanceled:
			report.Canceled++
		default:
			report.Completed++
		}
		o.metrics.PrefetchItem(string(item.Status))
	}
	report.Duration = o.now().Sub(start)

	logger.Info("prefetch batch finished",
		zap.Int("keys", len(keys)),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("canceled", report.Canceled),
		zap.Duration("duration", report.Duration))
	return report
}
