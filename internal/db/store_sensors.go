package db

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/02loveslollipop/gios-airquality/internal/models"
)

const metadataInsertBatch = 500

// AllSensorIDs returns the ids of every persisted sensor.
func (s *Store) AllSensorIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.orm.WithContext(ctx).Model(&models.Sensor{}).Order("id").Pluck("id", &ids).Error
	return ids, storeErr("list sensor ids", err)
}

// ApplySensorStates commits one reconciliation batch: activate marks sensors
// live and normalizes their metadata, deactivate clears the liveness flag.
func (s *Store) ApplySensorStates(ctx context.Context, activate, deactivate []int64) error {
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(deactivate) > 0 {
			if err := tx.Model(&models.Sensor{}).
				Where("id IN ?", deactivate).
				Update("is_active", false).Error; err != nil {
				return err
			}
		}
		if len(activate) > 0 {
			if err := tx.Model(&models.Sensor{}).
				Where("id IN ?", activate).
				Updates(map[string]any{
					"is_active":        true,
					"measurement_type": models.MeasurementTypeAutomatic,
					"end_date":         nil,
					"averaging_time":   models.AveragingTimeHourly,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return storeErr("apply sensor states", err)
}

// UpsertStations inserts stations or overwrites the stored copy by id.
func (s *Store) UpsertStations(ctx context.Context, stations []models.Station) error {
	if len(stations) == 0 {
		return nil
	}
	err := s.orm.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		CreateInBatches(&stations, metadataInsertBatch).Error
	return storeErr("upsert stations", err)
}

// InsertNewSensors inserts sensors whose id is not stored yet and returns how
// many rows were added. Existing sensors are left untouched so a reload never
// clobbers reconciled liveness state.
func (s *Store) InsertNewSensors(ctx context.Context, sensors []models.Sensor) (int, error) {
	if len(sensors) == 0 {
		return 0, nil
	}
	res := s.orm.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&sensors, metadataInsertBatch)
	if res.Error != nil {
		return 0, storeErr("insert sensors", res.Error)
	}
	return int(res.RowsAffected), nil
}

// StationCodes returns the set of persisted station codes.
func (s *Store) StationCodes(ctx context.Context) (map[string]struct{}, error) {
	var codes []string
	if err := s.orm.WithContext(ctx).Model(&models.Station{}).Pluck("code", &codes).Error; err != nil {
		return nil, storeErr("list station codes", err)
	}
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set, nil
}
