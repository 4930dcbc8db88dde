package db

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/02loveslollipop/gios-airquality/internal/models"
)

// MeasurementWriter is the view of a per-sensor transaction given to ingest callbacks.
type MeasurementWriter interface {
	ExistingTimestamps(ctx context.Context, from, to time.Time) ([]time.Time, error)
	InsertMeasurements(ctx context.Context, measurements []models.MeasurementCandidate) error
}

// MeasurementTx implements MeasurementWriter on a pgx transaction.
type MeasurementTx struct {
	tx       pgx.Tx
	sensorID int64
}

// InSensorTx runs fn in one transaction scoped to a sensor's measurements.
// A transaction-level advisory lock on the sensor id serializes ingests of the
// same sensor across processes; the transaction commits when fn returns nil.
func (s *Store) InSensorTx(ctx context.Context, sensorID int64, fn func(tx MeasurementWriter) error) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, sensorID); err != nil {
			return err
		}
		return fn(&MeasurementTx{tx: tx, sensorID: sensorID})
	})
	return storeErr("sensor "+strconv.FormatInt(sensorID, 10)+" transaction", err)
}

const existingTimestampsSQL = `
    SELECT "timestamp"
    FROM measurements
    WHERE sensor_id = $1 AND "timestamp" BETWEEN $2 AND $3
`

// ExistingTimestamps lists stored measurement times for the sensor within [from, to].
func (m *MeasurementTx) ExistingTimestamps(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := m.tx.Query(ctx, existingTimestampsSQL, m.sensorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]time.Time, 0)
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

const insertMeasurementSQL = `INSERT INTO measurements (sensor_id, "timestamp", value) VALUES ($1, $2, $3)`

// InsertMeasurements appends new measurement rows for the sensor.
func (m *MeasurementTx) InsertMeasurements(ctx context.Context, measurements []models.MeasurementCandidate) error {
	if len(measurements) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range measurements {
		batch.Queue(insertMeasurementSQL, m.sensorID, c.Timestamp, c.Value)
	}

	res := m.tx.SendBatch(ctx, batch)
	for range measurements {
		if _, err := res.Exec(); err != nil {
			res.Close()
			return err
		}
	}
	return res.Close()
}

// MeasurementQuery holds filters for retrieving measurements.
type MeasurementQuery struct {
	SensorID int64
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

func (q MeasurementQuery) where() (string, []any) {
	args := []any{q.SensorID}
	clause := " WHERE sensor_id = $1"
	if q.Since != nil {
		args = append(args, *q.Since)
		clause += ` AND "timestamp" >= $` + strconv.Itoa(len(args))
	}
	if q.Until != nil {
		args = append(args, *q.Until)
		clause += ` AND "timestamp" <= $` + strconv.Itoa(len(args))
	}
	return clause, args
}

// FetchMeasurements returns one page of a sensor's measurements, newest first,
// together with the total number of matching rows.
func (s *Store) FetchMeasurements(ctx context.Context, q MeasurementQuery) ([]models.Measurement, int, error) {
	where, args := q.where()

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM measurements"+where, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count measurements", err)
	}

	sql := `SELECT id, sensor_id, "timestamp", value FROM measurements` + where + ` ORDER BY "timestamp" DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit, q.Offset)
		sql += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, storeErr("fetch measurements", err)
	}
	defer rows.Close()

	measurements := make([]models.Measurement, 0)
	for rows.Next() {
		var m models.Measurement
		if err := rows.Scan(&m.ID, &m.SensorID, &m.Timestamp, &m.Value); err != nil {
			return nil, 0, storeErr("scan measurement", err)
		}
		measurements = append(measurements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("fetch measurements", err)
	}
	return measurements, total, nil
}

const latestMeasurementsSQL = `
    SELECT DISTINCT ON (m.sensor_id) m.id, m.sensor_id, m."timestamp", m.value
    FROM measurements m
    JOIN sensors s ON s.id = m.sensor_id
    WHERE s.is_active
    ORDER BY m.sensor_id, m."timestamp" DESC
`

// LatestMeasurements returns the most recent measurement of every active sensor.
func (s *Store) LatestMeasurements(ctx context.Context) ([]models.Measurement, error) {
	rows, err := s.pool.Query(ctx, latestMeasurementsSQL)
	if err != nil {
		return nil, storeErr("latest measurements", err)
	}
	defer rows.Close()

	data := make([]models.Measurement, 0)
	for rows.Next() {
		var m models.Measurement
		if err := rows.Scan(&m.ID, &m.SensorID, &m.Timestamp, &m.Value); err != nil {
			return nil, storeErr("scan measurement", err)
		}
		data = append(data, m)
	}
	return data, storeErr("latest measurements", rows.Err())
}
