package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// MeasurementTypeAutomatic marks sensors reporting continuously through the automatic network.
	MeasurementTypeAutomatic = "automatyczny"
	// MeasurementTypeManual marks sensors sampled by hand.
	MeasurementTypeManual = "manualny"
	// AveragingTimeHourly is the averaging period assigned to sensors confirmed live.
	AveragingTimeHourly = "1-godzinny"
)

// WorkingSensorPredicate is the SQL form of IsWorking. Both must change together.
const WorkingSensorPredicate = "is_active AND measurement_type = '" + MeasurementTypeAutomatic + "'"

// Station is a measuring station as persisted in the stations table.
type Station struct {
	ID          int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Code        string     `gorm:"not null;uniqueIndex" json:"code"`
	Name        *string    `gorm:"index" json:"name"`
	StartDate   *time.Time `gorm:"type:date" json:"start_date"`
	EndDate     *time.Time `gorm:"type:date" json:"end_date"`
	StationType *string    `json:"station_type"`
	AreaType    *string    `json:"area_type"`
	StationKind *string    `json:"station_kind"`
	Voivodeship *string    `json:"voivodeship"`
	City        *string    `json:"city"`
	Address     *string    `json:"address"`
	Latitude    float64    `gorm:"not null" json:"latitude"`
	Longitude   float64    `gorm:"not null" json:"longitude"`

	Sensors []Sensor `gorm:"foreignKey:StationCode;references:Code;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"sensors,omitempty"`

	// CountWorkingSensors is derived on read, never stored.
	CountWorkingSensors int `gorm:"-" json:"count_working_sensors"`
}

func (Station) TableName() string {
	return "stations"
}

// Sensor is a single measuring position (one pollutant at one station).
type Sensor struct {
	ID              int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Code            string     `gorm:"not null;uniqueIndex" json:"code"`
	StationCode     string     `gorm:"not null;index" json:"station_code"`
	IndicatorCode   string     `gorm:"not null" json:"indicator_code"`
	IndicatorName   string     `gorm:"not null" json:"indicator_name"`
	AveragingTime   *string    `json:"averaging_time"`
	MeasurementType *string    `json:"measurement_type"`
	StartDate       *time.Time `gorm:"type:date" json:"start_date"`
	EndDate         *time.Time `gorm:"type:date" json:"end_date"`
	IsActive        bool       `gorm:"default:false" json:"is_active"`

	Measurements []Measurement `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	// LatestMeasurement is attached while serving reads only.
	LatestMeasurement *Measurement `gorm:"-" json:"latest_measurement,omitempty"`
}

func (Sensor) TableName() string {
	return "sensors"
}

// IsWorking reports whether the sensor counts towards a station's working sensors.
func (s Sensor) IsWorking() bool {
	return s.IsActive && s.MeasurementType != nil && *s.MeasurementType == MeasurementTypeAutomatic
}

// CountWorkingSensors counts active automatic sensors.
func CountWorkingSensors(sensors []Sensor) int {
	n := 0
	for _, s := range sensors {
		if s.IsWorking() {
			n++
		}
	}
	return n
}

// Measurement is one stored value of a sensor at a point in time.
type Measurement struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"type:timestamp;not null;index:idx_measurements_sensor_ts,priority:2" json:"timestamp"`
	Value     float64   `gorm:"not null" json:"value"`
	SensorID  int64     `gorm:"not null;index:idx_measurements_sensor_ts,priority:1" json:"sensor_id"`
}

func (Measurement) TableName() string {
	return "measurements"
}

// MeasurementCandidate is a normalized upstream value awaiting the dedup check.
type MeasurementCandidate struct {
	SensorID  int64
	Timestamp time.Time
	Value     float64
}

// Number decodes upstream numeric fields, which arrive either as JSON numbers,
// as quoted strings (sometimes with a decimal comma) or as null.
type Number struct {
	Float float64
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}

	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
		if raw == "" {
			*n = Number{}
			return nil
		}
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", string(b), err)
	}
	*n = Number{Float: f, Valid: true}
	return nil
}

// Int64 truncates the value to an integer id.
func (n Number) Int64() int64 {
	return int64(n.Float)
}

// StationRecord is one entry of the upstream station metadata list.
type StationRecord struct {
	ID          Number `json:"Nr"`
	Code        string `json:"Kod stacji"`
	Name        string `json:"Nazwa stacji"`
	StartDate   string `json:"Data uruchomienia"`
	EndDate     string `json:"Data zamknięcia"`
	StationType string `json:"Typ stacji"`
	AreaType    string `json:"Typ obszaru"`
	StationKind string `json:"Rodzaj stacji"`
	Voivodeship string `json:"Województwo"`
	City        string `json:"Miejscowość"`
	Address     string `json:"Adres"`
	Latitude    Number `json:"WGS84 φ N"`
	Longitude   Number `json:"WGS84 λ E"`
}

// SensorRecord is one entry of the upstream sensor (measuring position) metadata list.
type SensorRecord struct {
	ID              Number `json:"Nr"`
	Code            string `json:"Kod stanowiska"`
	StationCode     string `json:"Kod stacji"`
	IndicatorCode   string `json:"Wskaźnik - kod"`
	IndicatorName   string `json:"Wskaźnik"`
	AveragingTime   string `json:"Czas uśredniania"`
	MeasurementType string `json:"Typ pomiaru"`
	StartDate       string `json:"Data uruchomienia"`
	EndDate         string `json:"Data zamknięcia"`
}

// DataRecord is one measurement entry returned by the data endpoint.
type DataRecord struct {
	SensorCode string `json:"Kod stanowiska"`
	Timestamp  string `json:"Data"`
	Value      Number `json:"Wartość"`
}
