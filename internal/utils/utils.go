package utils

import (
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/02loveslollipop/gios-airquality/internal/models"
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	time.RFC3339,
}

// warsaw is the zone upstream wall-clock times are reported in.
var warsaw = mustLoadLocation("Europe/Warsaw")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// ParseTimestamp parses an upstream measurement time. Upstream reports Polish
// wall-clock time without a zone, which is kept as-is (in the UTC location).
// Zoned RFC3339 input is converted to the same Polish wall clock so it
// compares correctly against stored values.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if layout == time.RFC3339 {
				return WallClock(t), nil
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// WallClock returns t as a zone-less Polish wall-clock time.
func WallClock(t time.Time) time.Time {
	w := t.In(warsaw)
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), time.UTC)
}

// ParseDate parses an optional YYYY-MM-DD date; blank input yields nil.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if len(s) > len("2006-01-02") {
		s = s[:len("2006-01-02")]
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &d, nil
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// BuildStationRows converts upstream station metadata into station rows.
// Records without an id or code are skipped.
func BuildStationRows(records []models.StationRecord) ([]models.Station, error) {
	rows := make([]models.Station, 0, len(records))
	for _, r := range records {
		if !r.ID.Valid || strings.TrimSpace(r.Code) == "" {
			continue
		}
		start, err := ParseDate(r.StartDate)
		if err != nil {
			return nil, fmt.Errorf("station %s: %w", r.Code, err)
		}
		end, err := ParseDate(r.EndDate)
		if err != nil {
			return nil, fmt.Errorf("station %s: %w", r.Code, err)
		}
		rows = append(rows, models.Station{
			ID:          r.ID.Int64(),
			Code:        strings.TrimSpace(r.Code),
			Name:        optString(r.Name),
			StartDate:   start,
			EndDate:     end,
			StationType: optString(r.StationType),
			AreaType:    optString(r.AreaType),
			StationKind: optString(r.StationKind),
			Voivodeship: optString(r.Voivodeship),
			City:        optString(r.City),
			Address:     optString(r.Address),
			Latitude:    r.Latitude.Float,
			Longitude:   r.Longitude.Float,
		})
	}
	return rows, nil
}

// BuildSensorRows converts upstream sensor metadata into sensor rows with
// is_active left at its default.
func BuildSensorRows(records []models.SensorRecord) ([]models.Sensor, error) {
	rows := make([]models.Sensor, 0, len(records))
	for _, r := range records {
		if !r.ID.Valid || strings.TrimSpace(r.Code) == "" {
			continue
		}
		start, err := ParseDate(r.StartDate)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", r.Code, err)
		}
		end, err := ParseDate(r.EndDate)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", r.Code, err)
		}
		rows = append(rows, models.Sensor{
			ID:              r.ID.Int64(),
			Code:            strings.TrimSpace(r.Code),
			StationCode:     strings.TrimSpace(r.StationCode),
			IndicatorCode:   r.IndicatorCode,
			IndicatorName:   r.IndicatorName,
			AveragingTime:   optString(r.AveragingTime),
			MeasurementType: optString(r.MeasurementType),
			StartDate:       start,
			EndDate:         end,
		})
	}
	return rows, nil
}

// SensorIDs extracts sensor identifiers from sensor rows.
func SensorIDs(rows []models.Sensor) []int64 {
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}

// SortedIDs returns the members of an id set in ascending order.
func SortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BuildMeasurementCandidates normalizes data records for one sensor. Records
// with a null value are dropped; an unparseable timestamp is an error.
func BuildMeasurementCandidates(sensorID int64, records []models.DataRecord) ([]models.MeasurementCandidate, error) {
	candidates := make([]models.MeasurementCandidate, 0, len(records))
	for _, r := range records {
		if !r.Value.Valid {
			continue
		}
		ts, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("sensor %d: %w", sensorID, err)
		}
		candidates = append(candidates, models.MeasurementCandidate{
			SensorID:  sensorID,
			Timestamp: ts,
			Value:     r.Value.Float,
		})
	}
	return candidates, nil
}

// TimestampSet holds instants at the store's microsecond precision.
type TimestampSet map[int64]struct{}

// NewTimestampSet builds a set from the given times.
func NewTimestampSet(ts ...time.Time) TimestampSet {
	set := make(TimestampSet, len(ts))
	for _, t := range ts {
		set.Add(t)
	}
	return set
}

func (s TimestampSet) Add(t time.Time) { s[t.UnixMicro()] = struct{}{} }

func (s TimestampSet) Has(t time.Time) bool {
	_, ok := s[t.UnixMicro()]
	return ok
}

// FilterNewMeasurements drops candidates whose timestamp is already stored,
// and repeated timestamps within the candidates themselves (first one wins).
func FilterNewMeasurements(candidates []models.MeasurementCandidate, existing TimestampSet) []models.MeasurementCandidate {
	out := make([]models.MeasurementCandidate, 0, len(candidates))
	seen := make(TimestampSet, len(candidates))
	for _, cand := range candidates {
		if existing.Has(cand.Timestamp) || seen.Has(cand.Timestamp) {
			continue
		}
		seen.Add(cand.Timestamp)
		out = append(out, cand)
	}
	return out
}

// Batches splits ids into consecutive chunks of at most size elements.
func Batches(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
