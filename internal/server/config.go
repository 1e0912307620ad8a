package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/jscharber/convosense/internal/database"
	"github.com/jscharber/convosense/internal/realtime"
	"github.com/jscharber/convosense/pkg/analysis"
	"github.com/jscharber/convosense/pkg/events"
	"github.com/jscharber/convosense/pkg/retention"
	"github.com/jscharber/convosense/pkg/tracing"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig           `yaml:"server" json:"server"`
	Logging   LoggingConfig          `yaml:"logging" json:"logging"`
	Database  *database.Config       `yaml:"database" json:"database"`
	Analysis  analysis.Config        `yaml:"analysis" json:"analysis"`
	Realtime  realtime.Config        `yaml:"realtime" json:"realtime"`
	Tracing   *tracing.TracingConfig `yaml:"tracing" json:"tracing"`
	Events    EventsConfig           `yaml:"events" json:"events"`
	Retention retention.Config       `yaml:"retention" json:"retention"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host" json:"host" env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `yaml:"port" json:"port" env:"SERVER_PORT" default:"8080"`

	// TLS settings
	TLSEnabled  bool   `yaml:"tls_enabled" json:"tls_enabled" env:"TLS_ENABLED" default:"false"`
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file" env:"TLS_KEY_FILE"`

	// Timeouts
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" default:"30s"`

	// CORS settings
	CORSEnabled        bool     `yaml:"cors_enabled" json:"cors_enabled" env:"CORS_ENABLED" default:"true"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSAllowedMethods []string `yaml:"cors_allowed_methods" json:"cors_allowed_methods" env:"CORS_ALLOWED_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	CORSAllowedHeaders []string `yaml:"cors_allowed_headers" json:"cors_allowed_headers" env:"CORS_ALLOWED_HEADERS" default:"Content-Type,X-Request-ID"`

	// Rate limiting
	RateLimitEnabled bool `yaml:"rate_limit_enabled" json:"rate_limit_enabled" env:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitRPS     int  `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst   int  `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST" default:"200"`

	// Request logging
	LogRequests bool `yaml:"log_requests" json:"log_requests" env:"LOG_REQUESTS" default:"true"`
	LogHeaders  bool `yaml:"log_headers" json:"log_headers" env:"LOG_HEADERS" default:"false"`

	HealthCheckPath string `yaml:"health_check_path" json:"health_check_path" env:"HEALTH_CHECK_PATH" default:"/health"`

	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled" env:"METRICS_ENABLED" default:"true"`
	MetricsPath    string `yaml:"metrics_path" json:"metrics_path" env:"METRICS_PATH" default:"/metrics"`

	// API settings
	APIPrefix       string `yaml:"api_prefix" json:"api_prefix" env:"API_PREFIX" default:"/api"`
	MaxRequestSize  int64  `yaml:"max_request_size" json:"max_request_size" env:"MAX_REQUEST_SIZE" default:"1048576"` // 1MB
	RequestIDHeader string `yaml:"request_id_header" json:"request_id_header" env:"REQUEST_ID_HEADER" default:"X-Request-ID"`

	// Pagination defaults
	DefaultPageSize int `yaml:"default_page_size" json:"default_page_size" env:"DEFAULT_PAGE_SIZE" default:"10"`
	MaxPageSize     int `yaml:"max_page_size" json:"max_page_size" env:"MAX_PAGE_SIZE" default:"100"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT" default:"json"`
}

// EventsConfig groups the event bus and the Kafka publisher.
type EventsConfig struct {
	Bus   events.BusConfig   `yaml:"bus" json:"bus"`
	Kafka events.KafkaConfig `yaml:"kafka" json:"kafka"`
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			IdleTimeout:        120 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			CORSEnabled:        true,
			CORSAllowedOrigins: []string{"*"},
			CORSAllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			CORSAllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			RateLimitEnabled:   true,
			RateLimitRPS:       100,
			RateLimitBurst:     200,
			LogRequests:        true,
			HealthCheckPath:    "/health",
			MetricsEnabled:     true,
			MetricsPath:        "/metrics",
			APIPrefix:          "/api",
			MaxRequestSize:     1 << 20,
			RequestIDHeader:    "X-Request-ID",
			DefaultPageSize:    10,
			MaxPageSize:        100,
		},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Database:  database.DefaultConfig(),
		Analysis:  analysis.DefaultConfig(),
		Realtime:  realtime.DefaultConfig(),
		Tracing:   tracing.DefaultTracingConfig(),
		Events:    EventsConfig{Bus: events.DefaultBusConfig(), Kafka: events.DefaultKafkaConfig()},
		Retention: retention.DefaultConfig(),
	}
}

// GetAddress returns the server address
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the server section.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS cert file is required when TLS is enabled")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS key file is required when TLS is enabled")
		}
	}

	if c.RateLimitEnabled {
		if c.RateLimitRPS <= 0 {
			return fmt.Errorf("rate limit RPS must be positive")
		}
		if c.RateLimitBurst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
	}

	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("api_prefix must start with '/': %q", c.APIPrefix)
	}

	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("max request size must be positive")
	}

	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("default page size must be positive")
	}

	if c.MaxPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("max page size must be positive and >= default page size")
	}

	return nil
}

// Validate validates every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "console":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	if c.Database == nil {
		return fmt.Errorf("database: configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("realtime: %w", err)
	}
	if c.Realtime.Path == c.Server.HealthCheckPath || c.Realtime.Path == c.Server.MetricsPath {
		return fmt.Errorf("realtime: path %q collides with another endpoint", c.Realtime.Path)
	}
	if c.Tracing != nil {
		if err := c.Tracing.Validate(); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	if err := c.Events.Kafka.Validate(); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	return nil
}
