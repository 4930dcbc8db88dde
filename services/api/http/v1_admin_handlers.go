package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/gios-airquality/internal/log"
)

type sensorIDsRequest struct {
	SensorIDs []int64 `json:"sensor_ids" binding:"required,min=1,dive,gt=0"`
}

func bindSensorIDs(c *gin.Context) ([]int64, bool) {
	var req sensorIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sensor_ids must be a non-empty list of positive ids"})
		return nil, false
	}
	return req.SensorIDs, true
}

// handleV1Liveness probes every stored sensor and reconciles is_active
// POST /api/v1/sensors/liveness
func (s *Server) handleV1Liveness(c *gin.Context) {
	res, err := s.deps.Liveness.Run(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "sensor liveness updated",
		"run_id":   res.RunID,
		"known":    res.Known,
		"live":     res.Live,
		"duration": res.Duration.String(),
	})
}

// handleV1Ingest runs one synchronous ingest
// POST /api/v1/measurements/ingest {"sensor_ids": [...]}
func (s *Server) handleV1Ingest(c *gin.Context) {
	ids, ok := bindSensorIDs(c)
	if !ok {
		return
	}

	inserted, err := s.deps.Ingester.Ingest(c.Request.Context(), ids)
	if err != nil {
		log.Warnw("manual ingest failed", "sensors", len(ids), "inserted", inserted, "error", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"inserted": inserted})
}

// handleV1StartPeriodic replaces the periodic ingest sensor list
// POST /api/v1/measurements/periodic {"sensor_ids": [...]}
func (s *Server) handleV1StartPeriodic(c *gin.Context) {
	ids, ok := bindSensorIDs(c)
	if !ok {
		return
	}

	s.deps.Scheduler.Start(ids)
	c.JSON(http.StatusAccepted, gin.H{
		"message":    "periodic ingest started",
		"sensor_ids": ids,
	})
}

// handleV1StopPeriodic stops periodic ingest
// DELETE /api/v1/measurements/periodic
func (s *Server) handleV1StopPeriodic(c *gin.Context) {
	s.deps.Scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "periodic ingest stopped"})
}

// handleV1PeriodicStatus reports the scheduler state and last cycle
// GET /api/v1/measurements/periodic
func (s *Server) handleV1PeriodicStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Scheduler.Status())
}

// POST /api/v1/load_stations
func (s *Server) handleV1LoadStations(c *gin.Context) {
	n, err := s.deps.Metadata.LoadStations(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "stations loaded", "stations": n})
}

// POST /api/v1/load_sensors
func (s *Server) handleV1LoadSensors(c *gin.Context) {
	n, err := s.deps.Metadata.LoadSensors(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sensors loaded", "added": n})
}

// handleV1ClearDatabase wipes every table. Debug only.
// DELETE /api/v1/clear-database
func (s *Server) handleV1ClearDatabase(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := s.deps.Store.ClearAll(ctx); err != nil {
		writeError(c, err)
		return
	}
	log.Warnw("database cleared", "client_ip", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"message": "database cleared"})
}
