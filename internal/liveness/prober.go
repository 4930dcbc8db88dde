// Package liveness decides which sensors currently report data and folds the
// answer back into the stored sensor rows.
package liveness

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/02loveslollipop/gios-airquality/internal/log"
	"github.com/02loveslollipop/gios-airquality/internal/metrics"
	"github.com/02loveslollipop/gios-airquality/internal/models"
	"github.com/02loveslollipop/gios-airquality/internal/utils"
)

const (
	DefaultConcurrency = 25
	DefaultCooldown    = time.Second

	// probePageSize keeps probe responses small; one record is enough to prove liveness.
	probePageSize = 1
)

// DataFetcher is the slice of the upstream client the prober needs.
type DataFetcher interface {
	FetchSensorDataPage(ctx context.Context, sensorID int64, page, size int) ([]models.DataRecord, int, error)
}

// Prober checks sensors against upstream in fixed-size batches with a
// bounded number of requests in flight.
type Prober struct {
	fetcher   DataFetcher
	limit     int
	batchSize int
	cooldown  time.Duration
}

// NewProber returns a prober whose batch size equals the concurrency limit.
func NewProber(fetcher DataFetcher, limit int, cooldown time.Duration) *Prober {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Prober{fetcher: fetcher, limit: limit, batchSize: limit, cooldown: cooldown}
}

// WithBatchSize overrides the batch size; the in-flight bound stays at the limit.
func (p *Prober) WithBatchSize(n int) *Prober {
	if n > 0 {
		p.batchSize = n
	}
	return p
}

// Probe returns the subset of ids whose data endpoint returns at least one
// record. Per-sensor failures count as not live. The error is non-nil only
// when ctx ends before every batch ran; the live ids found so far are still
// returned.
func (p *Prober) Probe(ctx context.Context, ids map[int64]struct{}) (map[int64]struct{}, error) {
	live := make(map[int64]struct{})
	if len(ids) == 0 {
		return live, nil
	}

	var mu sync.Mutex
	batches := utils.Batches(utils.SortedIDs(ids), p.batchSize)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return live, err
		}

		var g errgroup.Group
		g.SetLimit(p.limit)
		for _, id := range batch {
			id := id
			g.Go(func() error {
				if p.probeOne(ctx, id) {
					mu.Lock()
					live[id] = struct{}{}
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		log.Debugw("liveness batch done", "batch", i+1, "batches", len(batches), "live_so_far", len(live))

		if i < len(batches)-1 && p.cooldown > 0 {
			timer := time.NewTimer(p.cooldown)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return live, ctx.Err()
			}
		}
	}
	return live, nil
}

func (p *Prober) probeOne(ctx context.Context, id int64) bool {
	metrics.ProbesInFlight.Inc()
	defer metrics.ProbesInFlight.Dec()

	records, _, err := p.fetcher.FetchSensorDataPage(ctx, id, 0, probePageSize)
	if err != nil {
		metrics.ProbeResults.WithLabelValues("error").Inc()
		log.Debugw("liveness probe failed", "sensor_id", id, "error", err)
		return false
	}
	if len(records) == 0 {
		metrics.ProbeResults.WithLabelValues("empty").Inc()
		return false
	}
	metrics.ProbeResults.WithLabelValues("live").Inc()
	return true
}
