package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/HMasataka/relay/internal/logging"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Relay     RelayConfig     `json:"relay" yaml:"relay"`
	Logging   logging.Config  `json:"logging" yaml:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host" env:"RELAY_SERVER_HOST"`
	Port            int           `json:"port" yaml:"port" env:"RELAY_SERVER_PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"RELAY_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"RELAY_SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"RELAY_SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"RELAY_SERVER_SHUTDOWN_TIMEOUT"`
	ChatPath        string        `json:"chat_path" yaml:"chat_path" env:"RELAY_CHAT_PATH"`
	StaticDir       string        `json:"static_dir" yaml:"static_dir" env:"RELAY_STATIC_DIR"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins"`
}

// TransportConfig represents per-connection websocket settings
type TransportConfig struct {
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout" env:"RELAY_WS_WRITE_TIMEOUT"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout" env:"RELAY_WS_READ_TIMEOUT"`
	PingInterval   time.Duration `json:"ping_interval" yaml:"ping_interval" env:"RELAY_WS_PING_INTERVAL"`
	CloseGrace     time.Duration `json:"close_grace" yaml:"close_grace" env:"RELAY_WS_CLOSE_GRACE"`
	MaxMessageSize int64         `json:"max_message_size" yaml:"max_message_size" env:"RELAY_WS_MAX_MESSAGE_SIZE"`
	SendBuffer     int           `json:"send_buffer" yaml:"send_buffer" env:"RELAY_WS_SEND_BUFFER"`
}

// RelayConfig represents hub settings
type RelayConfig struct {
	BroadcastQueue int `json:"broadcast_queue" yaml:"broadcast_queue" env:"RELAY_BROADCAST_QUEUE"`
	EventBusBuffer int `json:"event_bus_buffer" yaml:"event_bus_buffer" env:"RELAY_EVENT_BUS_BUFFER"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ChatPath:        "/chat",
			AllowedOrigins:  []string{"*"},
		},
		Transport: TransportConfig{
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			PingInterval:   30 * time.Second,
			CloseGrace:     time.Second,
			MaxMessageSize: 64 * 1024,
			SendBuffer:     256,
		},
		Relay: RelayConfig{
			BroadcastQueue: 1024,
			EventBusBuffer: 256,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return NewConfigError("server.shutdown_timeout", "timeout must be positive")
	}

	if !strings.HasPrefix(c.Server.ChatPath, "/") {
		return NewConfigError("server.chat_path", "path must start with '/'")
	}

	if c.Transport.WriteTimeout <= 0 {
		return NewConfigError("transport.write_timeout", "timeout must be positive")
	}

	if c.Transport.ReadTimeout <= 0 {
		return NewConfigError("transport.read_timeout", "timeout must be positive")
	}

	if c.Transport.PingInterval <= 0 || c.Transport.PingInterval >= c.Transport.ReadTimeout {
		return NewConfigError("transport.ping_interval", "must be positive and shorter than read_timeout")
	}

	if c.Transport.CloseGrace < 0 {
		return NewConfigError("transport.close_grace", "timeout cannot be negative")
	}

	if c.Transport.MaxMessageSize <= 0 {
		return NewConfigError("transport.max_message_size", "must be positive")
	}

	if c.Transport.SendBuffer <= 0 {
		return NewConfigError("transport.send_buffer", "must be positive")
	}

	if c.Relay.BroadcastQueue <= 0 {
		return NewConfigError("relay.broadcast_queue", "must be positive")
	}

	if c.Relay.EventBusBuffer <= 0 {
		return NewConfigError("relay.event_bus_buffer", "must be positive")
	}

	if !logging.ValidFormat(c.Logging.Format) {
		return NewConfigError("logging.format", "must be one of text, json, pretty")
	}

	return nil
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
