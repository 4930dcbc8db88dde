package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/gios-airquality/internal/db"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type pageParams struct {
	Page int
	Size int
}

func (p pageParams) offset() int { return (p.Page - 1) * p.Size }

// parsePage reads 1-based page and size; size is capped at maxPageSize.
func parsePage(c *gin.Context) (pageParams, error) {
	p := pageParams{Page: 1, Size: defaultPageSize}
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, errors.New("invalid page")
		}
		p.Page = n
	}
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, errors.New("invalid size")
		}
		p.Size = min(n, maxPageSize)
	}
	return p, nil
}

func pageResponse(items any, total int, p pageParams) gin.H {
	pages := 0
	if total > 0 {
		pages = (total + p.Size - 1) / p.Size
	}
	return gin.H{
		"items": items,
		"total": total,
		"page":  p.Page,
		"size":  p.Size,
		"pages": pages,
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// handleV1ListStations returns stations with their working sensor count
// GET /api/v1/stations?city=&voivodeship=&page=&size=
func (s *Server) handleV1ListStations(c *gin.Context) {
	p, err := parsePage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	stations, total, err := s.deps.Store.ListStations(ctx, db.StationQuery{
		City:        c.Query("city"),
		Voivodeship: c.Query("voivodeship"),
		Limit:       p.Size,
		Offset:      p.offset(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pageResponse(stations, total, p))
}

// handleV1GetStation returns a station with sensors and their latest values
// GET /api/v1/stations/:id
func (s *Server) handleV1GetStation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	station, err := s.deps.Store.GetStation(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if station == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}

	c.JSON(http.StatusOK, station)
}

// handleV1ListSensors returns sensors, optionally filtered
// GET /api/v1/sensors?station_code=&active=&page=&size=
func (s *Server) handleV1ListSensors(c *gin.Context) {
	p, err := parsePage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q := db.SensorQuery{
		StationCode: c.Query("station_code"),
		Limit:       p.Size,
		Offset:      p.offset(),
	}
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid active parameter"})
			return
		}
		q.Active = &active
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	sensors, total, err := s.deps.Store.ListSensors(ctx, q)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pageResponse(sensors, total, p))
}
