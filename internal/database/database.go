// Package database opens the configured conversation store and, for
// PostgreSQL, manages its pooled connection and schema migrations.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jscharber/convosense/internal/store"
	"github.com/jscharber/convosense/pkg/logger"
)

// Database owns the conversation repository and any driver specific resources.
type Database struct {
	repo     store.Repository
	conn     *Connection
	migrator *Migrator
	config   *Config
	logger   *logger.Logger
}

// New opens the repository selected by config.Driver.
func New(ctx context.Context, config *Config, log *logger.Logger) (*Database, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if log == nil {
		log = logger.GetDefault()
	}

	db := &Database{
		config: config,
		logger: log.WithField("driver", config.Driver),
	}

	switch config.Driver {
	case DriverMemory:
		db.repo = store.NewMemoryRepository(nil)

	case DriverSQLite:
		repo, err := store.NewSQLiteRepository(ctx, config.SQLitePath, nil)
		if err != nil {
			return nil, err
		}
		db.repo = repo

	case DriverPostgres:
		conn, err := NewConnection(config, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create database connection: %w", err)
		}
		migrator, err := NewMigrator(ctx, config, log)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		db.conn = conn
		db.migrator = migrator
		db.repo = store.NewGormRepository(conn.DB(), nil)

	case DriverMongo:
		repo, err := store.NewMongoRepository(ctx, store.MongoConfig{
			URI:            config.MongoURI,
			Database:       config.MongoDatabase,
			Collection:     config.MongoCollection,
			ConnectTimeout: config.ConnectTimeout,
		}, nil)
		if err != nil {
			return nil, err
		}
		db.repo = repo
	}

	db.logger.Info("Conversation store opened")
	return db, nil
}

// Connect verifies connectivity and applies pending migrations when enabled.
func (db *Database) Connect(ctx context.Context) error {
	if err := db.repo.Ping(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	if db.migrator != nil && db.config.AutoMigrate {
		if err := db.migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Repository returns the conversation repository.
func (db *Database) Repository() store.Repository {
	return db.repo
}

// Migrator returns the SQL migrator, or nil for drivers without one.
func (db *Database) Migrator() *Migrator {
	return db.migrator
}

// Driver returns the configured driver name.
func (db *Database) Driver() string {
	return db.config.Driver
}

// HealthCheck pings the store; PostgreSQL also runs a query.
func (db *Database) HealthCheck(ctx context.Context) error {
	if db.conn != nil {
		return db.conn.HealthCheck(ctx)
	}
	return db.repo.Ping(ctx)
}

// GetStats returns connection pool statistics where the driver exposes them.
func (db *Database) GetStats() (map[string]interface{}, error) {
	if db.conn != nil {
		stats, err := db.conn.GetStats()
		if err != nil {
			return nil, err
		}
		stats["driver"] = db.config.Driver
		return stats, nil
	}
	return map[string]interface{}{"driver": db.config.Driver}, nil
}

// Close releases every resource held by the database.
func (db *Database) Close() error {
	var errs []error
	if db.migrator != nil {
		if err := db.migrator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close migrator: %w", err))
		}
	}
	if err := db.repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close repository: %w", err))
	}
	return errors.Join(errs...)
}
