package http

import (
	"context"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/gios-airquality/internal/db"
	"github.com/02loveslollipop/gios-airquality/internal/stats"
	"github.com/02loveslollipop/gios-airquality/internal/utils"
)

const csvTimestampLayout = "2006-01-02 15:04:05"

// measurementQuery builds the shared selection of the JSON and CSV endpoints.
// start and end accept the upstream "2006-01-02 15:04:05" wall-clock form or
// RFC3339, which is converted to Polish wall-clock time first.
func (s *Server) measurementQuery(c *gin.Context) (db.MeasurementQuery, bool) {
	id, ok := parseID(c)
	if !ok {
		return db.MeasurementQuery{}, false
	}
	q := db.MeasurementQuery{SensorID: id}

	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"start", &q.Since}, {"end", &q.Until}} {
		v := c.Query(bound.name)
		if v == "" {
			continue
		}
		t, err := utils.ParseTimestamp(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + bound.name + " timestamp"})
			return q, false
		}
		*bound.dst = &t
	}
	if q.Since != nil && q.Until != nil && q.Until.Before(*q.Since) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end is before start"})
		return q, false
	}

	exists, err := s.deps.Store.SensorExists(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return q, false
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "sensor not found"})
		return q, false
	}
	return q, true
}

// handleV1SensorMeasurements returns a sensor's measurements, newest first
// GET /api/v1/sensors/:id/measurements?start=&end=&page=&size=
func (s *Server) handleV1SensorMeasurements(c *gin.Context) {
	p, err := parsePage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q, ok := s.measurementQuery(c)
	if !ok {
		return
	}
	q.Limit, q.Offset = p.Size, p.offset()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	measurements, total, err := s.deps.Store.FetchMeasurements(ctx, q)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pageResponse(measurements, total, p))
}

// handleV1SensorMeasurementsCSV streams the whole selection as CSV
// GET /api/v1/sensors/:id/measurements.csv?start=&end=
func (s *Server) handleV1SensorMeasurementsCSV(c *gin.Context) {
	q, ok := s.measurementQuery(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	measurements, _, err := s.deps.Store.FetchMeasurements(ctx, q)
	if err != nil {
		writeError(c, err)
		return
	}

	filename := "sensor_" + strconv.FormatInt(q.SensorID, 10) + "_measurements.csv"
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"sensor_id", "timestamp", "value"})
	for _, m := range measurements {
		_ = w.Write([]string{
			strconv.FormatInt(m.SensorID, 10),
			m.Timestamp.Format(csvTimestampLayout),
			strconv.FormatFloat(m.Value, 'f', -1, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = c.Error(err)
	}
}

// handleV1SensorStats summarizes the selection
// GET /api/v1/sensors/:id/measurements/stats?start=&end=
func (s *Server) handleV1SensorStats(c *gin.Context) {
	q, ok := s.measurementQuery(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	measurements, _, err := s.deps.Store.FetchMeasurements(ctx, q)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sensor_id": q.SensorID,
		"stats":     stats.Summarize(measurements),
	})
}

// handleV1LatestMeasurements returns the newest value of every active sensor
// GET /api/v1/measurements/latest
func (s *Server) handleV1LatestMeasurements(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	latest, err := s.deps.Store.LatestMeasurements(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": latest,
		"meta": gin.H{
			"sensors_count": len(latest),
			"generated_at":  time.Now().UTC().Format(time.RFC3339),
		},
	})
}
