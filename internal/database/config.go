package database

import (
	"fmt"
	"time"
)

// Supported storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config represents database configuration
type Config struct {
	Driver string `yaml:"driver" json:"driver" env:"DB_DRIVER" default:"memory"`

	// PostgreSQL
	Host     string `yaml:"host" json:"host" env:"DB_HOST" default:"localhost"`
	Port     int    `yaml:"port" json:"port" env:"DB_PORT" default:"5432"`
	Username string `yaml:"username" json:"username" env:"DB_USERNAME" default:"postgres"`
	Password string `yaml:"password" json:"password" env:"DB_PASSWORD" default:""`
	Database string `yaml:"database" json:"database" env:"DB_DATABASE" default:"convosense"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode" env:"DB_SSL_MODE" default:"disable"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" default:"30m"`

	LogLevel      string        `yaml:"log_level" json:"log_level" env:"DB_LOG_LEVEL" default:"warn"`
	SlowThreshold time.Duration `yaml:"slow_threshold" json:"slow_threshold" env:"DB_SLOW_THRESHOLD" default:"200ms"`

	// AutoMigrate applies pending SQL migrations on startup (postgres only)
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" env:"DB_AUTO_MIGRATE" default:"false"`

	// SQLite
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path" env:"DB_SQLITE_PATH" default:"convosense.db"`

	// MongoDB
	MongoURI        string        `yaml:"mongo_uri" json:"mongo_uri" env:"DB_MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase   string        `yaml:"mongo_database" json:"mongo_database" env:"DB_MONGO_DATABASE" default:"convosense"`
	MongoCollection string        `yaml:"mongo_collection" json:"mongo_collection" env:"DB_MONGO_COLLECTION" default:"conversations"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" json:"connect_timeout" env:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// DefaultConfig returns the in-memory configuration used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverMemory,
		Host:            "localhost",
		Port:            5432,
		Username:        "postgres",
		Database:        "convosense",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "warn",
		SlowThreshold:   200 * time.Millisecond,
		SQLitePath:      "convosense.db",
		MongoURI:        "mongodb://localhost:27017",
		MongoDatabase:   "convosense",
		MongoCollection: "conversations",
		ConnectTimeout:  10 * time.Second,
	}
}

// Validate validates the database configuration
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Host == "" {
			return fmt.Errorf("host is required for the postgres driver")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("invalid port: %d", c.Port)
		}
		if c.Database == "" {
			return fmt.Errorf("database name is required for the postgres driver")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("mongo_uri is required for the mongo driver")
		}
		if c.MongoDatabase == "" {
			return fmt.Errorf("mongo_database is required for the mongo driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	return nil
}

// DSN builds the PostgreSQL data source name
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.Username,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
