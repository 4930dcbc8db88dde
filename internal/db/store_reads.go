package db

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/02loveslollipop/gios-airquality/internal/models"
)

// StationQuery holds filters for listing stations.
type StationQuery struct {
	City        string
	Voivodeship string
	Limit       int
	Offset      int
}

const stationColumns = `st.id, st.code, st.name, st.start_date, st.end_date, st.station_type, st.area_type,
    st.station_kind, st.voivodeship, st.city, st.address, st.latitude, st.longitude`

// workingSensorsSQL counts working sensors per station with the same predicate as models.IsWorking.
const workingSensorsSQL = `(SELECT COUNT(*) FROM sensors se WHERE se.station_code = st.code AND se.` +
	models.WorkingSensorPredicate + `) AS count_working_sensors`

func scanStation(row pgx.Row, st *models.Station) error {
	return row.Scan(
		&st.ID,
		&st.Code,
		&st.Name,
		&st.StartDate,
		&st.EndDate,
		&st.StationType,
		&st.AreaType,
		&st.StationKind,
		&st.Voivodeship,
		&st.City,
		&st.Address,
		&st.Latitude,
		&st.Longitude,
		&st.CountWorkingSensors,
	)
}

// ListStations returns one page of stations with their working sensor count.
func (s *Store) ListStations(ctx context.Context, q StationQuery) ([]models.Station, int, error) {
	conditions := []string{}
	args := []any{}
	if q.City != "" {
		args = append(args, q.City)
		conditions = append(conditions, "st.city = $"+strconv.Itoa(len(args)))
	}
	if q.Voivodeship != "" {
		args = append(args, strings.ToUpper(q.Voivodeship))
		conditions = append(conditions, "UPPER(st.voivodeship) = $"+strconv.Itoa(len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM stations st"+where, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count stations", err)
	}

	sql := "SELECT " + stationColumns + ", " + workingSensorsSQL + " FROM stations st" + where + " ORDER BY st.id"
	if q.Limit > 0 {
		args = append(args, q.Limit, q.Offset)
		sql += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, storeErr("list stations", err)
	}
	defer rows.Close()

	stations := make([]models.Station, 0)
	for rows.Next() {
		var st models.Station
		if err := scanStation(rows, &st); err != nil {
			return nil, 0, storeErr("scan station", err)
		}
		stations = append(stations, st)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("list stations", err)
	}
	return stations, total, nil
}

// GetStation returns a station with its sensors, each carrying its latest
// measurement. A missing station yields (nil, nil).
func (s *Store) GetStation(ctx context.Context, id int64) (*models.Station, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+stationColumns+", "+workingSensorsSQL+" FROM stations st WHERE st.id = $1", id)

	var st models.Station
	if err := scanStation(row, &st); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("get station", err)
	}

	sensors, _, err := s.ListSensors(ctx, SensorQuery{StationCode: st.Code, WithLatest: true})
	if err != nil {
		return nil, err
	}
	st.Sensors = sensors
	return &st, nil
}

// SensorQuery holds filters for listing sensors.
type SensorQuery struct {
	StationCode string
	Active      *bool
	WithLatest  bool
	Limit       int
	Offset      int
}

const sensorColumns = `se.id, se.code, se.station_code, se.indicator_code, se.indicator_name, se.averaging_time,
    se.measurement_type, se.start_date, se.end_date, se.is_active`

const latestJoinSQL = `
    LEFT JOIN LATERAL (
        SELECT m.id, m."timestamp", m.value
        FROM measurements m
        WHERE m.sensor_id = se.id
        ORDER BY m."timestamp" DESC
        LIMIT 1
    ) lm ON true`

// ListSensors returns one page of sensors and the total match count.
func (s *Store) ListSensors(ctx context.Context, q SensorQuery) ([]models.Sensor, int, error) {
	conditions := []string{}
	args := []any{}
	if q.StationCode != "" {
		args = append(args, q.StationCode)
		conditions = append(conditions, "se.station_code = $"+strconv.Itoa(len(args)))
	}
	if q.Active != nil {
		args = append(args, *q.Active)
		conditions = append(conditions, "se.is_active = $"+strconv.Itoa(len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sensors se"+where, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count sensors", err)
	}

	columns := sensorColumns
	from := " FROM sensors se"
	if q.WithLatest {
		columns += `, lm.id, lm."timestamp", lm.value`
		from += latestJoinSQL
	}
	sql := "SELECT " + columns + from + where + " ORDER BY se.id"
	if q.Limit > 0 {
		args = append(args, q.Limit, q.Offset)
		sql += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, storeErr("list sensors", err)
	}
	defer rows.Close()

	sensors := make([]models.Sensor, 0)
	for rows.Next() {
		var se models.Sensor
		dest := []any{
			&se.ID,
			&se.Code,
			&se.StationCode,
			&se.IndicatorCode,
			&se.IndicatorName,
			&se.AveragingTime,
			&se.MeasurementType,
			&se.StartDate,
			&se.EndDate,
			&se.IsActive,
		}
		var latest struct {
			id    *int64
			ts    *time.Time
			value *float64
		}
		if q.WithLatest {
			dest = append(dest, &latest.id, &latest.ts, &latest.value)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, storeErr("scan sensor", err)
		}
		if latest.id != nil && latest.ts != nil && latest.value != nil {
			se.LatestMeasurement = &models.Measurement{
				ID:        *latest.id,
				SensorID:  se.ID,
				Timestamp: *latest.ts,
				Value:     *latest.value,
			}
		}
		sensors = append(sensors, se)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("list sensors", err)
	}
	return sensors, total, nil
}

// SensorExists reports whether a sensor with the id is stored.
func (s *Store) SensorExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM sensors WHERE id = $1)", id).Scan(&exists)
	return exists, storeErr("sensor exists", err)
}
