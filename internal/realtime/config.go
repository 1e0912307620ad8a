package realtime

import (
	"fmt"
	"time"
)

// Config contains configuration for the WebSocket hub
type Config struct {
	Path string `yaml:"path" json:"path" env:"REALTIME_PATH" default:"/socket"`

	// Connection settings
	ReadBufferSize   int           `yaml:"read_buffer_size" json:"read_buffer_size" env:"REALTIME_READ_BUFFER_SIZE" default:"4096"`
	WriteBufferSize  int           `yaml:"write_buffer_size" json:"write_buffer_size" env:"REALTIME_WRITE_BUFFER_SIZE" default:"4096"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout" env:"REALTIME_HANDSHAKE_TIMEOUT" default:"10s"`
	AllowedOrigins   []string      `yaml:"allowed_origins" json:"allowed_origins" env:"REALTIME_ALLOWED_ORIGINS" default:"*"`

	// Message handling
	MaxMessageSize int64         `yaml:"max_message_size" json:"max_message_size" env:"REALTIME_MAX_MESSAGE_SIZE" default:"1048576"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"REALTIME_WRITE_TIMEOUT" default:"10s"`
	PongTimeout    time.Duration `yaml:"pong_timeout" json:"pong_timeout" env:"REALTIME_PONG_TIMEOUT" default:"60s"`
	PingPeriod     time.Duration `yaml:"ping_period" json:"ping_period" env:"REALTIME_PING_PERIOD" default:"54s"`
	SendBufferSize int           `yaml:"send_buffer_size" json:"send_buffer_size" env:"REALTIME_SEND_BUFFER_SIZE" default:"256"`

	// Limits
	MaxConnections int     `yaml:"max_connections" json:"max_connections" env:"REALTIME_MAX_CONNECTIONS" default:"1000"`
	MessageRate    float64 `yaml:"message_rate" json:"message_rate" env:"REALTIME_MESSAGE_RATE" default:"20"`
	MessageBurst   int     `yaml:"message_burst" json:"message_burst" env:"REALTIME_MESSAGE_BURST" default:"40"`
}

// DefaultConfig returns default WebSocket configuration
func DefaultConfig() Config {
	return Config{
		Path:             "/socket",
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		AllowedOrigins:   []string{"*"},
		MaxMessageSize:   1 << 20,
		WriteTimeout:     10 * time.Second,
		PongTimeout:      60 * time.Second,
		PingPeriod:       54 * time.Second,
		SendBufferSize:   256,
		MaxConnections:   1000,
		MessageRate:      20,
		MessageBurst:     40,
	}
}

// Validate checks the hub configuration.
func (c Config) Validate() error {
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("realtime path must start with '/': %q", c.Path)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive")
	}
	if c.PongTimeout <= 0 || c.PingPeriod <= 0 {
		return fmt.Errorf("ping_period and pong_timeout must be positive")
	}
	if c.PingPeriod >= c.PongTimeout {
		return fmt.Errorf("ping_period (%s) must be shorter than pong_timeout (%s)", c.PingPeriod, c.PongTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if c.SendBufferSize <= 0 {
		return fmt.Errorf("send_buffer_size must be positive")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive")
	}
	if c.MessageRate <= 0 || c.MessageBurst <= 0 {
		return fmt.Errorf("message_rate and message_burst must be positive")
	}
	return nil
}
