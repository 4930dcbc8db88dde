// Package ingest pulls measurement history from upstream and appends the
// values that are not stored yet.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/02loveslollipop/gios-airquality/internal/db"
	"github.com/02loveslollipop/gios-airquality/internal/log"
	"github.com/02loveslollipop/gios-airquality/internal/metrics"
	"github.com/02loveslollipop/gios-airquality/internal/models"
	"github.com/02loveslollipop/gios-airquality/internal/utils"
)

// DataFetcher returns the current measurement list of a sensor.
type DataFetcher interface {
	FetchSensorData(ctx context.Context, sensorID int64) ([]models.DataRecord, error)
}

// MeasurementStore runs fn inside a transaction that owns the sensor's measurements.
type MeasurementStore interface {
	InSensorTx(ctx context.Context, sensorID int64, fn func(tx db.MeasurementWriter) error) error
}

// Ingestor appends new measurements for a list of sensors.
type Ingestor struct {
	fetcher DataFetcher
	store   MeasurementStore
	dryRun  bool

	locks keyedMutex
}

func NewIngestor(fetcher DataFetcher, store MeasurementStore) *Ingestor {
	return &Ingestor{fetcher: fetcher, store: store}
}

// WithDryRun makes the ingestor log what it would insert and roll back.
func (i *Ingestor) WithDryRun(dryRun bool) *Ingestor {
	i.dryRun = dryRun
	return i
}

// Ingest processes ids in order and returns the number of rows inserted.
// The first upstream or store failure stops the call; sensors already
// processed keep their inserted rows.
func (i *Ingestor) Ingest(ctx context.Context, ids []int64) (int, error) {
	total := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := i.ingestSensor(ctx, id)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (i *Ingestor) ingestSensor(ctx context.Context, id int64) (int, error) {
	unlock, err := i.locks.lock(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	records, err := i.fetcher.FetchSensorData(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("sensor %d: %w", id, err)
	}
	candidates, err := utils.BuildMeasurementCandidates(id, records)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		log.Debugw("no values to ingest", "sensor_id", id, "records", len(records))
		return 0, nil
	}
	from, to := timeRange(candidates)

	inserted := 0
	err = i.store.InSensorTx(ctx, id, func(tx db.MeasurementWriter) error {
		existing, err := tx.ExistingTimestamps(ctx, from, to)
		if err != nil {
			return err
		}
		pending := utils.FilterNewMeasurements(candidates, utils.NewTimestampSet(existing...))
		if len(pending) == 0 {
			return nil
		}
		if i.dryRun {
			for _, c := range pending {
				log.Infow("dry-run: would insert", "sensor_id", id, "timestamp", c.Timestamp.Format(time.DateTime), "value", c.Value)
			}
			return nil
		}
		if err := tx.InsertMeasurements(ctx, pending); err != nil {
			return err
		}
		inserted = len(pending)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if inserted > 0 {
		metrics.MeasurementsInserted.Add(float64(inserted))
		log.Debugw("measurements inserted", "sensor_id", id, "inserted", inserted)
	}
	return inserted, nil
}

func timeRange(candidates []models.MeasurementCandidate) (from, to time.Time) {
	from, to = candidates[0].Timestamp, candidates[0].Timestamp
	for _, c := range candidates[1:] {
		if c.Timestamp.Before(from) {
			from = c.Timestamp
		}
		if c.Timestamp.After(to) {
			to = c.Timestamp
		}
	}
	return from, to
}

// keyedMutex serializes work per sensor id. Waiting honours ctx. Entries
// are dropped once no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	ch   chan struct{}
	refs int
}

func (k *keyedMutex) lock(ctx context.Context, id int64) (func(), error) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*refMutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{ch: make(chan struct{}, 1)}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	select {
	case m.ch <- struct{}{}:
		return func() {
			<-m.ch
			k.release(id, m)
		}, nil
	case <-ctx.Done():
		k.release(id, m)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(id int64, m *refMutex) {
	k.mu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(k.locks, id)
	}
	k.mu.Unlock()
}
