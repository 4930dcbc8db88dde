package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/gios-airquality/internal/config"
	"github.com/02loveslollipop/gios-airquality/internal/db"
	"github.com/02loveslollipop/gios-airquality/internal/gios"
	"github.com/02loveslollipop/gios-airquality/internal/ingest"
	"github.com/02loveslollipop/gios-airquality/internal/liveness"
	"github.com/02loveslollipop/gios-airquality/internal/models"
)

type fakeStore struct {
	stations     []models.Station
	sensors      []models.Sensor
	measurements []models.Measurement
	err          error
	cleared      bool

	lastStationQ db.StationQuery
	lastSensorQ  db.SensorQuery
	lastMeasQ    db.MeasurementQuery
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.err }

func (f *fakeStore) ListStations(ctx context.Context, q db.StationQuery) ([]models.Station, int, error) {
	f.lastStationQ = q
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.stations, len(f.stations), nil
}

func (f *fakeStore) GetStation(ctx context.Context, id int64) (*models.Station, error) {
	for _, st := range f.stations {
		if st.ID == id {
			st := st
			return &st, nil
		}
	}
	return nil, f.err
}

func (f *fakeStore) ListSensors(ctx context.Context, q db.SensorQuery) ([]models.Sensor, int, error) {
	f.lastSensorQ = q
	return f.sensors, len(f.sensors), f.err
}

func (f *fakeStore) SensorExists(ctx context.Context, id int64) (bool, error) {
	for _, se := range f.sensors {
		if se.ID == id {
			return true, nil
		}
	}
	return false, f.err
}

func (f *fakeStore) FetchMeasurements(ctx context.Context, q db.MeasurementQuery) ([]models.Measurement, int, error) {
	f.lastMeasQ = q
	return f.measurements, len(f.measurements), f.err
}

func (f *fakeStore) LatestMeasurements(ctx context.Context) ([]models.Measurement, error) {
	return f.measurements, f.err
}

func (f *fakeStore) ClearAll(ctx context.Context) error {
	f.cleared = true
	return f.err
}

type fakeLiveness struct {
	res liveness.Result
	err error
}

func (f *fakeLiveness) Run(ctx context.Context) (liveness.Result, error) { return f.res, f.err }

type fakeIngester struct {
	ids []int64
	n   int
	err error
}

func (f *fakeIngester) Ingest(ctx context.Context, ids []int64) (int, error) {
	f.ids = ids
	return f.n, f.err
}

type fakeScheduler struct {
	started []int64
	stopped bool
}

func (f *fakeScheduler) Start(ids []int64) { f.started = ids }
func (f *fakeScheduler) Stop()             { f.stopped = true }
func (f *fakeScheduler) Status() ingest.Status {
	return ingest.Status{Running: f.started != nil && !f.stopped, SensorIDs: f.started, Interval: "15m0s"}
}

type fakeLoader struct {
	stations, sensors int
	err               error
}

func (f *fakeLoader) LoadStations(ctx context.Context) (int, error) { return f.stations, f.err }
func (f *fakeLoader) LoadSensors(ctx context.Context) (int, error)  { return f.sensors, f.err }

type harness struct {
	store     *fakeStore
	liveness  *fakeLiveness
	ingester  *fakeIngester
	scheduler *fakeScheduler
	loader    *fakeLoader
	srv       *Server
}

func newHarness(token string) *harness {
	h := &harness{
		store:     &fakeStore{},
		liveness:  &fakeLiveness{},
		ingester:  &fakeIngester{},
		scheduler: &fakeScheduler{},
		loader:    &fakeLoader{},
	}
	h.srv = New(config.Config{Port: 0, BearerToken: token}, Deps{
		Store:     h.store,
		Liveness:  h.liveness,
		Ingester:  h.ingester,
		Scheduler: h.scheduler,
		Metadata:  h.loader,
	})
	return h
}

func (h *harness) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func ptr[T any](v T) *T { return &v }

func TestHealthz(t *testing.T) {
	h := newHarness("")
	rec := h.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	h.store.err = errors.New("db down")
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newHarness("").do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gios_measurements_inserted_total")
}

func TestListStationsPagination(t *testing.T) {
	h := newHarness("")
	h.store.stations = []models.Station{{ID: 1, Code: "A", CountWorkingSensors: 2}, {ID: 2, Code: "B"}}

	rec := h.do(http.MethodGet, "/api/v1/stations?page=2&size=1&city=Krak%C3%B3w&voivodeship=ma%C5%82opolskie", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Header().Get("X-API-Version"))

	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(2), body["page"])
	assert.Equal(t, float64(1), body["size"])
	assert.Equal(t, float64(2), body["pages"])
	items := body["items"].([]any)
	assert.Equal(t, float64(2), items[0].(map[string]any)["count_working_sensors"])

	assert.Equal(t, db.StationQuery{City: "Kraków", Voivodeship: "małopolskie", Limit: 1, Offset: 1}, h.store.lastStationQ)
}

func TestPageSizeIsCapped(t *testing.T) {
	h := newHarness("")
	rec := h.do(http.MethodGet, "/api/v1/sensors?size=10000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxPageSize, h.store.lastSensorQ.Limit)
	assert.Equal(t, float64(0), decode(t, rec)["pages"])
}

func TestInvalidPagination(t *testing.T) {
	h := newHarness("")
	for _, q := range []string{"page=0", "page=x", "size=-1"} {
		rec := h.do(http.MethodGet, "/api/v1/stations?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestListSensorsActiveFilter(t *testing.T) {
	h := newHarness("")
	rec := h.do(http.MethodGet, "/api/v1/sensors?active=true&station_code=DsWrocWybCon", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, h.store.lastSensorQ.Active)
	assert.True(t, *h.store.lastSensorQ.Active)
	assert.Equal(t, "DsWrocWybCon", h.store.lastSensorQ.StationCode)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/sensors?active=maybe", "").Code)
}

func TestGetStation(t *testing.T) {
	h := newHarness("")
	h.store.stations = []models.Station{{ID: 7, Code: "X", Sensors: []models.Sensor{{
		ID: 1, Code: "X-PM10", IsActive: true, MeasurementType: ptr(models.MeasurementTypeAutomatic),
		LatestMeasurement: &models.Measurement{ID: 3, SensorID: 1, Value: 9.5},
	}}}}

	rec := h.do(http.MethodGet, "/api/v1/stations/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sensors := decode(t, rec)["sensors"].([]any)
	latest := sensors[0].(map[string]any)["latest_measurement"].(map[string]any)
	assert.Equal(t, 9.5, latest["value"])

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/stations/8", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/stations/abc", "").Code)
}

func TestSensorMeasurements(t *testing.T) {
	h := newHarness("")
	h.store.sensors = []models.Sensor{{ID: 100}}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.store.measurements = []models.Measurement{{ID: 1, SensorID: 100, Timestamp: ts, Value: 12.5}}

	rec := h.do(http.MethodGet, "/api/v1/sensors/100/measurements?start=2023-12-31T00:00:00Z&end=2024-01-02%2000:00:00", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["total"])

	q := h.store.lastMeasQ
	assert.Equal(t, int64(100), q.SensorID)
	require.NotNil(t, q.Since)
	require.NotNil(t, q.Until)
	assert.Equal(t, time.Date(2023, 12, 31, 1, 0, 0, 0, time.UTC), *q.Since, "zoned bound maps to Polish wall clock")
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), *q.Until)
	assert.Equal(t, defaultPageSize, q.Limit)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/sensors/5/measurements", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/sensors/100/measurements?start=soon", "").Code)
	assert.Equal(t, http.StatusBadRequest,
		h.do(http.MethodGet, "/api/v1/sensors/100/measurements?start=2024-02-01T00:00:00Z&end=2024-01-01T00:00:00Z", "").Code)
}

func TestSensorMeasurementsCSV(t *testing.T) {
	h := newHarness("")
	h.store.sensors = []models.Sensor{{ID: 100}}
	h.store.measurements = []models.Measurement{
		{SensorID: 100, Timestamp: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), Value: 7.25},
		{SensorID: 100, Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: 12.5},
	}

	rec := h.do(http.MethodGet, "/api/v1/sensors/100/measurements.csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, "sensor_id,timestamp,value\n100,2024-01-01 01:00:00,7.25\n100,2024-01-01 00:00:00,12.5\n", rec.Body.String())
	assert.Equal(t, 0, h.store.lastMeasQ.Limit)
}

func TestSensorStats(t *testing.T) {
	h := newHarness("")
	h.store.sensors = []models.Sensor{{ID: 100}}

	rec := h.do(http.MethodGet, "/api/v1/sensors/100/measurements/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["stats"])

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.store.measurements = []models.Measurement{
		{SensorID: 100, Timestamp: base.Add(time.Hour), Value: 20},
		{SensorID: 100, Timestamp: base, Value: 10},
	}
	rec = h.do(http.MethodGet, "/api/v1/sensors/100/measurements/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode(t, rec)["stats"].(map[string]any)
	assert.Equal(t, float64(2), st["count"])
	assert.Equal(t, float64(15), st["mean"])
	assert.Equal(t, float64(10), st["trend_per_hour"])
}

func TestLatestMeasurements(t *testing.T) {
	h := newHarness("")
	h.store.measurements = []models.Measurement{{SensorID: 1, Value: 1}, {SensorID: 2, Value: 2}}
	rec := h.do(http.MethodGet, "/api/v1/measurements/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	meta := decode(t, rec)["meta"].(map[string]any)
	assert.Equal(t, float64(2), meta["sensors_count"])
}

func TestLivenessEndpoint(t *testing.T) {
	h := newHarness("")
	h.liveness.res = liveness.Result{RunID: "r1", Known: 25, Live: 5}

	rec := h.do(http.MethodPost, "/api/v1/sensors/liveness", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(5), body["live"])
	assert.Equal(t, float64(25), body["known"])

	h.liveness.err = fmt.Errorf("%w: commit", db.ErrStoreFailure)
	assert.Equal(t, http.StatusInternalServerError, h.do(http.MethodPost, "/api/v1/sensors/liveness", "").Code)
}

func TestIngestEndpoint(t *testing.T) {
	h := newHarness("")
	h.ingester.n = 3

	rec := h.do(http.MethodPost, "/api/v1/measurements/ingest", `{"sensor_ids":[100,101]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["inserted"])
	assert.Equal(t, []int64{100, 101}, h.ingester.ids)

	h.ingester.err = fmt.Errorf("sensor 100: %w: timeout", gios.ErrUpstreamUnavailable)
	rec = h.do(http.MethodPost, "/api/v1/measurements/ingest", `{"sensor_ids":[100]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "upstream unavailable")
}

func TestIngestEndpointValidation(t *testing.T) {
	h := newHarness("")
	for _, body := range []string{`{}`, `{"sensor_ids":[]}`, `{"sensor_ids":[0]}`, `not json`} {
		rec := h.do(http.MethodPost, "/api/v1/measurements/ingest", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Nil(t, h.ingester.ids)
}

func TestPeriodicLifecycle(t *testing.T) {
	h := newHarness("")

	rec := h.do(http.MethodPost, "/api/v1/measurements/periodic", `{"sensor_ids":[1,2]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{1, 2}, h.scheduler.started)

	status := decode(t, h.do(http.MethodGet, "/api/v1/measurements/periodic", ""))
	assert.Equal(t, true, status["running"])

	require.Equal(t, http.StatusOK, h.do(http.MethodDelete, "/api/v1/measurements/periodic", "").Code)
	assert.True(t, h.scheduler.stopped)
	status = decode(t, h.do(http.MethodGet, "/api/v1/measurements/periodic", ""))
	assert.Equal(t, false, status["running"])
}

func TestLoadMetadata(t *testing.T) {
	h := newHarness("")
	h.loader.stations, h.loader.sensors = 12, 40

	rec := h.do(http.MethodPost, "/api/v1/load_stations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(12), decode(t, rec)["stations"])

	rec = h.do(http.MethodPost, "/api/v1/load_sensors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(40), decode(t, rec)["added"])

	h.loader.err = fmt.Errorf("%w: status 500", gios.ErrUpstreamBadResponse)
	assert.Equal(t, http.StatusBadGateway, h.do(http.MethodPost, "/api/v1/load_sensors", "").Code)
}

func TestClearDatabase(t *testing.T) {
	h := newHarness("")
	rec := h.do(http.MethodDelete, "/api/v1/clear-database", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.store.cleared)
}

func TestBearerTokenGuardsWrites(t *testing.T) {
	h := newHarness("s3cret")

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodDelete, "/api/v1/clear-database", "").Code)
	assert.Equal(t, http.StatusUnauthorized,
		h.do(http.MethodDelete, "/api/v1/clear-database", "", "Authorization", "Bearer wrong").Code)
	assert.False(t, h.store.cleared)

	assert.Equal(t, http.StatusOK,
		h.do(http.MethodDelete, "/api/v1/clear-database", "", "Authorization", "Bearer s3cret").Code)
	assert.True(t, h.store.cleared)

	// reads stay public
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/v1/stations", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	rec := newHarness("").do(http.MethodOptions, "/api/v1/stations", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
