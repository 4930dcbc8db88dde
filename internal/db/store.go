package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/02loveslollipop/gios-airquality/internal/log"
	"github.com/02loveslollipop/gios-airquality/internal/models"
)

// ErrStoreFailure wraps every transaction or query error raised by the store.
var ErrStoreFailure = errors.New("store failure")

// Store wraps database access helpers. Bulk measurement writes and reads go
// through the pgx pool; schema and sensor/station maintenance go through gorm
// sharing the same pool.
type Store struct {
	pool  *pgxpool.Pool
	sqlDB *sql.DB
	orm   *gorm.DB
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	orm, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.New(log.StdLogger(), gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		sqlDB.Close()
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, sqlDB: sqlDB, orm: orm}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.sqlDB != nil {
		s.sqlDB.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates or updates the stations, sensors and measurements tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.orm.WithContext(ctx).AutoMigrate(&models.Station{}, &models.Sensor{}, &models.Measurement{}); err != nil {
		return fmt.Errorf("%w: migrate: %w", ErrStoreFailure, err)
	}
	return nil
}

// ClearAll deletes every row from the three tables in one transaction.
func (s *Store) ClearAll(ctx context.Context) error {
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"measurements", "sensors", "stations"} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: clear database: %w", ErrStoreFailure, err)
	}
	return nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}
