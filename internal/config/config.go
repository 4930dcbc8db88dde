package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultBaseURL            = "https://api.gios.gov.pl/pjp-api/v1/rest"
	defaultPort               = 8080
	defaultRequestTimeout     = 10 * time.Second
	defaultLivenessLimit      = 25
	defaultLivenessCooldown   = time.Second
	defaultReconcileBatchSize = 500
	defaultIngestInterval     = 15 * time.Minute
	defaultKafkaTopic         = "gios.ingest.status"
)

// Config holds environment-driven settings shared by the API and the watcher.
type Config struct {
	DatabaseURL string
	Port        int
	BearerToken string

	BaseURL        string
	RequestTimeout time.Duration
	RateLimit      float64
	PageCooldown   time.Duration

	LivenessConcurrency int
	LivenessCooldown    time.Duration
	ReconcileBatchSize  int

	IngestInterval  time.Duration
	IngestSensorIDs []int64

	KafkaBrokers []string
	KafkaTopic   string

	Debug  bool
	DryRun bool
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		Port:                defaultPort,
		BaseURL:             defaultBaseURL,
		RequestTimeout:      defaultRequestTimeout,
		LivenessConcurrency: defaultLivenessLimit,
		LivenessCooldown:    defaultLivenessCooldown,
		ReconcileBatchSize:  defaultReconcileBatchSize,
		IngestInterval:      defaultIngestInterval,
		KafkaTopic:          defaultKafkaTopic,
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := os.Getenv("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")

	if v := strings.TrimSpace(os.Getenv("GIOS_BASE_URL")); v != "" {
		cfg.BaseURL = strings.TrimRight(v, "/")
	}

	var err error
	if cfg.RequestTimeout, err = durationEnv("GIOS_REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return cfg, err
	}
	if cfg.PageCooldown, err = durationEnv("GIOS_PAGE_COOLDOWN", cfg.PageCooldown); err != nil {
		return cfg, err
	}
	if cfg.LivenessCooldown, err = durationEnv("LIVENESS_COOLDOWN", cfg.LivenessCooldown); err != nil {
		return cfg, err
	}
	if cfg.IngestInterval, err = durationEnv("INGEST_INTERVAL", cfg.IngestInterval); err != nil {
		return cfg, err
	}
	if cfg.IngestInterval <= 0 {
		return cfg, fmt.Errorf("invalid INGEST_INTERVAL: must be positive")
	}

	if v := strings.TrimSpace(os.Getenv("GIOS_RATE_LIMIT")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return cfg, fmt.Errorf("invalid GIOS_RATE_LIMIT: %s", v)
		}
		cfg.RateLimit = f
	}

	if cfg.LivenessConcurrency, err = positiveIntEnv("LIVENESS_CONCURRENCY", cfg.LivenessConcurrency); err != nil {
		return cfg, err
	}
	if cfg.ReconcileBatchSize, err = positiveIntEnv("RECONCILE_BATCH_SIZE", cfg.ReconcileBatchSize); err != nil {
		return cfg, err
	}

	if v := strings.TrimSpace(os.Getenv("INGEST_SENSOR_IDS")); v != "" {
		ids, err := ParseSensorIDs(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid INGEST_SENSOR_IDS: %w", err)
		}
		cfg.IngestSensorIDs = ids
	}

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_TOPIC")); v != "" {
		cfg.KafkaTopic = v
	}

	cfg.Debug = boolEnv("LOG_DEBUG")
	cfg.DryRun = boolEnv("DRY_RUN")

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ParseSensorIDs parses a comma separated list of sensor ids.
func ParseSensorIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("sensor id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func positiveIntEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def, fmt.Errorf("invalid %s: %s", key, v)
	}
	return n, nil
}

func boolEnv(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return v == "1" || strings.EqualFold(v, "true")
}
