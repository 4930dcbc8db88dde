package http

// registerV1Routes sets up /api/v1. Write endpoints require the bearer token
// when one is configured; reads stay open.
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())

	{
		v1.GET("/stations", s.handleV1ListStations)
		v1.GET("/stations/:id", s.handleV1GetStation)
		v1.GET("/sensors", s.handleV1ListSensors)
		v1.GET("/sensors/:id/measurements", s.handleV1SensorMeasurements)
		v1.GET("/sensors/:id/measurements.csv", s.handleV1SensorMeasurementsCSV)
		v1.GET("/sensors/:id/measurements/stats", s.handleV1SensorStats)
		v1.GET("/measurements/latest", s.handleV1LatestMeasurements)
		v1.GET("/measurements/periodic", s.handleV1PeriodicStatus)
	}

	admin := v1.Group("")
	if s.cfg.BearerToken != "" {
		admin.Use(bearerAuthMiddleware(s.cfg.BearerToken))
	}
	{
		admin.POST("/sensors/liveness", s.handleV1Liveness)
		admin.POST("/measurements/ingest", s.handleV1Ingest)
		admin.POST("/measurements/periodic", s.handleV1StartPeriodic)
		admin.DELETE("/measurements/periodic", s.handleV1StopPeriodic)
		admin.POST("/load_stations", s.handleV1LoadStations)
		admin.POST("/load_sensors", s.handleV1LoadSensors)
		admin.DELETE("/clear-database", s.handleV1ClearDatabase)
	}
}
