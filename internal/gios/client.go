// Package gios talks to the GIOS air-quality REST API.
package gios

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/02loveslollipop/gios-airquality/internal/metrics"
	"github.com/02loveslollipop/gios-airquality/internal/models"
)

const (
	// MetadataPageSize is the page size used for station and sensor metadata.
	MetadataPageSize = 500
	// DataPageSize is the page size used when pulling measurement history.
	DataPageSize = 500

	sensorsListField  = "Lista metadanych stanowisk pomiarowych"
	stationsListField = "Lista metadanych stacji pomiarowych"
	dataListField     = "Lista danych pomiarowych"
)

var (
	// ErrUpstreamUnavailable covers transport failures, DNS errors and timeouts.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamBadResponse covers non-2xx statuses and undecodable bodies.
	ErrUpstreamBadResponse = errors.New("upstream bad response")
	// ErrNotFound means upstream has no data for the requested resource.
	ErrNotFound = errors.New("upstream not found")
)

// ResourceKind selects a paginated metadata collection.
type ResourceKind string

const (
	KindSensors  ResourceKind = "sensors"
	KindStations ResourceKind = "stations"
)

func (k ResourceKind) listField() string {
	if k == KindStations {
		return stationsListField
	}
	return sensorsListField
}

// Client issues rate-limited, retry-free GETs against the upstream API.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// NewClient builds a client. A non-positive ratePerSecond disables limiting.
func NewClient(baseURL string, timeout time.Duration, ratePerSecond float64) *Client {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// WithHTTPClient swaps the underlying HTTP client (tests, custom transports).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// FetchPage returns the raw records of one metadata page and the total page count.
func (c *Client) FetchPage(ctx context.Context, kind ResourceKind, page, size int) ([]json.RawMessage, int, error) {
	if page < 0 {
		return nil, 0, fmt.Errorf("invalid page index %d", page)
	}
	q := url.Values{}
	q.Set("size", strconv.Itoa(size))
	q.Set("page", strconv.Itoa(page))

	doc, err := c.getJSON(ctx, string(kind), "/metadata/"+string(kind)+"?"+q.Encode())
	if err != nil {
		return nil, 0, err
	}

	items, err := listField(doc, kind.listField())
	if err != nil {
		return nil, 0, err
	}
	total, err := totalPages(doc)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// FetchStations decodes one page of station metadata.
func (c *Client) FetchStations(ctx context.Context, page, size int) ([]models.StationRecord, int, error) {
	raw, total, err := c.FetchPage(ctx, KindStations, page, size)
	if err != nil {
		return nil, 0, err
	}
	out, err := decodeAll[models.StationRecord](raw)
	return out, total, err
}

// FetchSensors decodes one page of sensor metadata.
func (c *Client) FetchSensors(ctx context.Context, page, size int) ([]models.SensorRecord, int, error) {
	raw, total, err := c.FetchPage(ctx, KindSensors, page, size)
	if err != nil {
		return nil, 0, err
	}
	out, err := decodeAll[models.SensorRecord](raw)
	return out, total, err
}

// FetchSensorData returns every page of a sensor's measurements.
func (c *Client) FetchSensorData(ctx context.Context, sensorID int64) ([]models.DataRecord, error) {
	var all []models.DataRecord
	for page, total := 0, 1; page < total; page++ {
		records, n, err := c.FetchSensorDataPage(ctx, sensorID, page, DataPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
		total = n
	}
	return all, nil
}

// FetchSensorDataPage returns one page of a sensor's measurements. A 404 maps to ErrNotFound.
func (c *Client) FetchSensorDataPage(ctx context.Context, sensorID int64, page, size int) ([]models.DataRecord, int, error) {
	q := url.Values{}
	q.Set("size", strconv.Itoa(size))
	q.Set("page", strconv.Itoa(page))

	path := "/data/getData/" + strconv.FormatInt(sensorID, 10) + "?" + q.Encode()
	doc, err := c.getJSON(ctx, "data", path)
	if err != nil {
		return nil, 0, err
	}

	raw, err := listField(doc, dataListField)
	if err != nil {
		return nil, 0, err
	}
	total, err := totalPages(doc)
	if err != nil {
		return nil, 0, err
	}
	records, err := decodeAll[models.DataRecord](raw)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// getJSON waits for the limiter on the caller's ctx; the request timeout
// only starts once the request is allowed out.
func (c *Client) getJSON(ctx context.Context, kind, path string) (map[string]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.UpstreamRequests.WithLabelValues(kind, "unavailable").Inc()
		return nil, fmt.Errorf("%w: rate limiter: %w", ErrUpstreamUnavailable, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.UpstreamLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(kind, "unavailable").Inc()
		return nil, fmt.Errorf("%w: request %s: %w", ErrUpstreamUnavailable, path, err)
	}
	defer resp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %s for %s", ErrUpstreamBadResponse, resp.Status, path)
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrUpstreamUnavailable, path, err)
		}
		return nil, fmt.Errorf("%w: decode %s: %w", ErrUpstreamBadResponse, path, err)
	}
	return doc, nil
}

// listField extracts the named record list, falling back to the first
// array-valued field (in key order) when upstream renames the list. A body
// with no list at all is a bad response.
func listField(doc map[string]json.RawMessage, name string) ([]json.RawMessage, error) {
	if raw, ok := doc[name]; ok {
		return decodeList(raw)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		raw := doc[k]
		if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
			return decodeList(raw)
		}
	}
	return nil, fmt.Errorf("%w: no %q list in body", ErrUpstreamBadResponse, name)
}

func decodeList(raw json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: decode list: %w", ErrUpstreamBadResponse, err)
	}
	return items, nil
}

func totalPages(doc map[string]json.RawMessage) (int, error) {
	raw, ok := doc["totalPages"]
	if !ok {
		return 1, nil
	}
	var n models.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: totalPages: %w", ErrUpstreamBadResponse, err)
	}
	if !n.Valid {
		return 1, nil
	}
	return int(n.Int64()), nil
}

func decodeAll[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, fmt.Errorf("%w: decode record: %w", ErrUpstreamBadResponse, err)
		}
		out = append(out, v)
	}
	return out, nil
}
