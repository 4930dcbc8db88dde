package gios

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPageSensors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metadata/sensors", r.URL.Path)
		assert.Equal(t, "500", r.URL.Query().Get("size"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"totalPages": 4, "Lista metadanych stanowisk pomiarowych": [
			{"Nr": 100, "Kod stanowiska": "DsWrocWybCon-PM10-1g", "Kod stacji": "DsWrocWybCon",
			 "Wskaźnik - kod": "PM10", "Wskaźnik": "pył zawieszony PM10",
			 "Czas uśredniania": "1-godzinny", "Typ pomiaru": "automatyczny",
			 "Data uruchomienia": "2019-01-01", "Data zamknięcia": null}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	sensors, total, err := client.FetchSensors(context.Background(), 2, MetadataPageSize)
	require.NoError(t, err)
	require.Len(t, sensors, 1)

	assert.Equal(t, 4, total)
	assert.Equal(t, int64(100), sensors[0].ID.Int64())
	assert.Equal(t, "DsWrocWybCon", sensors[0].StationCode)
	assert.Equal(t, "PM10", sensors[0].IndicatorCode)
	assert.Equal(t, "automatyczny", sensors[0].MeasurementType)
	assert.Empty(t, sensors[0].EndDate)
}

func TestFetchPageStations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metadata/stations", r.URL.Path)
		w.Write([]byte(`{"totalPages": 1, "Lista metadanych stacji pomiarowych": [
			{"Nr": "114", "Kod stacji": "DsWrocWybCon", "Nazwa stacji": "Wrocław, ul. Wyb. Conrada",
			 "WGS84 φ N": "51.129378", "WGS84 λ E": "17.029250", "Miejscowość": "Wrocław"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	stations, total, err := client.FetchStations(context.Background(), 0, MetadataPageSize)
	require.NoError(t, err)
	require.Len(t, stations, 1)

	assert.Equal(t, 1, total)
	assert.Equal(t, int64(114), stations[0].ID.Int64())
	assert.InDelta(t, 51.129378, stations[0].Latitude.Float, 1e-6)
	assert.InDelta(t, 17.029250, stations[0].Longitude.Float, 1e-6)
	assert.Equal(t, "Wrocław", stations[0].City)
}

func TestFetchPageRejectsNegativePage(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", time.Second, 0)
	_, _, err := client.FetchPage(context.Background(), KindSensors, -1, 10)
	assert.Error(t, err)
}

func TestFetchSensorDataFallsBackToFirstList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/getData/100", r.URL.Path)
		w.Write([]byte(`{"totalPages": 1, "...": [{"Nr": 100, "Data": "2024-01-01T00:00:00", "Wartość": 12.5}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	records, err := client.FetchSensorData(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2024-01-01T00:00:00", records[0].Timestamp)
	assert.InDelta(t, 12.5, records[0].Value.Float, 1e-9)
}

func TestFetchSensorDataNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	_, err := client.FetchSensorData(context.Background(), 7)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	_, _, err := client.FetchPage(context.Background(), KindStations, 0, MetadataPageSize)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamBadResponse))
	assert.Contains(t, err.Error(), "500")
}

func TestFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalPages": `))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	_, err := client.FetchSensorData(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrUpstreamBadResponse))
}

func TestFetchTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, 50*time.Millisecond, 0)
	_, err := client.FetchSensorData(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(url, time.Second, 0)
	_, err := client.FetchSensorData(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
}

func TestNoRetryOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	_, _, err := client.FetchPage(context.Background(), KindSensors, 0, MetadataPageSize)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRateLimitSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Lista danych pomiarowych": []}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 20) // one request every 50ms
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.FetchSensorData(context.Background(), int64(i))
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestFetchSensorDataFollowsAllPages(t *testing.T) {
	var (
		mu    sync.Mutex
		pages []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		mu.Lock()
		pages = append(pages, page)
		mu.Unlock()
		switch page {
		case "0":
			w.Write([]byte(`{"totalPages": 2, "Lista danych pomiarowych": [{"Data": "2024-01-01 01:00:00", "Wartość": 2}]}`))
		case "1":
			w.Write([]byte(`{"totalPages": 2, "Lista danych pomiarowych": [{"Data": "2024-01-01 00:00:00", "Wartość": 1}]}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	records, err := client.FetchSensorData(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	mu.Lock()
	assert.Equal(t, []string{"0", "1"}, pages)
	mu.Unlock()
	assert.Equal(t, "2024-01-01 01:00:00", records[0].Timestamp)
	assert.Equal(t, "2024-01-01 00:00:00", records[1].Timestamp)
}

func TestFetchSensorDataPageErrorFailsWholeFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "0" {
			w.Write([]byte(`{"totalPages": 3, "Lista danych pomiarowych": [{"Data": "2024-01-01 00:00:00", "Wartość": 1}]}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	records, err := client.FetchSensorData(context.Background(), 100)
	assert.ErrorIs(t, err, ErrUpstreamBadResponse)
	assert.Nil(t, records)
}

func TestFetchBodyWithoutListIsBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalPages": 1, "message": "maintenance"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	_, err := client.FetchSensorData(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUpstreamBadResponse)

	_, _, err = client.FetchPage(context.Background(), KindStations, 0, MetadataPageSize)
	assert.ErrorIs(t, err, ErrUpstreamBadResponse)
}

func TestRateLimitWaitDoesNotCountAgainstTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Lista danych pomiarowych": []}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 30*time.Millisecond, 10) // one request every 100ms
	for i := 0; i < 3; i++ {
		_, err := client.FetchSensorData(context.Background(), int64(i))
		require.NoError(t, err)
	}
}
