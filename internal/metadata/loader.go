// Package metadata loads station and sensor catalogues from upstream.
package metadata

import (
	"context"
	"time"

	"github.com/02loveslollipop/gios-airquality/internal/gios"
	"github.com/02loveslollipop/gios-airquality/internal/log"
	"github.com/02loveslollipop/gios-airquality/internal/models"
	"github.com/02loveslollipop/gios-airquality/internal/utils"
)

type Fetcher interface {
	FetchStations(ctx context.Context, page, size int) ([]models.StationRecord, int, error)
	FetchSensors(ctx context.Context, page, size int) ([]models.SensorRecord, int, error)
}

type Store interface {
	UpsertStations(ctx context.Context, stations []models.Station) error
	InsertNewSensors(ctx context.Context, sensors []models.Sensor) (int, error)
	StationCodes(ctx context.Context) (map[string]struct{}, error)
}

// Loader walks every metadata page and persists the result.
type Loader struct {
	fetcher  Fetcher
	store    Store
	cooldown time.Duration
}

func NewLoader(fetcher Fetcher, store Store, cooldown time.Duration) *Loader {
	return &Loader{fetcher: fetcher, store: store, cooldown: cooldown}
}

// LoadStations upserts every station upstream lists and returns the count.
func (l *Loader) LoadStations(ctx context.Context) (int, error) {
	records, err := fetchAll(ctx, l.cooldown, l.fetcher.FetchStations)
	if err != nil {
		return 0, err
	}
	rows, err := utils.BuildStationRows(records)
	if err != nil {
		return 0, err
	}
	if err := l.store.UpsertStations(ctx, rows); err != nil {
		return 0, err
	}
	log.Infow("stations loaded", "records", len(records), "stored", len(rows))
	return len(rows), nil
}

// LoadSensors inserts sensors not stored yet. Sensors pointing at an unknown
// station are skipped with a warning. Returns the number of rows added.
func (l *Loader) LoadSensors(ctx context.Context) (int, error) {
	records, err := fetchAll(ctx, l.cooldown, l.fetcher.FetchSensors)
	if err != nil {
		return 0, err
	}
	rows, err := utils.BuildSensorRows(records)
	if err != nil {
		return 0, err
	}
	codes, err := l.store.StationCodes(ctx)
	if err != nil {
		return 0, err
	}

	known := rows[:0]
	orphans := 0
	for _, row := range rows {
		if _, ok := codes[row.StationCode]; !ok {
			orphans++
			continue
		}
		known = append(known, row)
	}
	if orphans > 0 {
		log.Warnw("sensors reference unknown stations; load stations first", "skipped", orphans)
	}

	added, err := l.store.InsertNewSensors(ctx, known)
	if err != nil {
		return 0, err
	}
	log.Infow("sensors loaded", "records", len(records), "added", added, "skipped", orphans)
	return added, nil
}

func fetchAll[T any](ctx context.Context, cooldown time.Duration, fetch func(context.Context, int, int) ([]T, int, error)) ([]T, error) {
	var all []T
	for page, total := 0, 1; page < total; page++ {
		if page > 0 && cooldown > 0 {
			select {
			case <-time.After(cooldown):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		items, pages, err := fetch(ctx, page, gios.MetadataPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		total = pages
		log.Debugw("metadata page fetched", "page", page, "pages", total, "items", len(items))
	}
	return all, nil
}
