package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	req := require.New(t)
	cfg := Default()

	req.NoError(cfg.Validate())
	req.Equal(3000, cfg.Server.Port)
	req.Equal("/chat", cfg.Server.ChatPath)
	req.Equal(":3000", cfg.Addr())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"chat path", func(c *Config) { c.Server.ChatPath = "chat" }, "server.chat_path"},
		{"ping interval", func(c *Config) { c.Transport.PingInterval = c.Transport.ReadTimeout }, "transport.ping_interval"},
		{"send buffer", func(c *Config) { c.Transport.SendBuffer = 0 }, "transport.send_buffer"},
		{"broadcast queue", func(c *Config) { c.Relay.BroadcastQueue = -1 }, "relay.broadcast_queue"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			var cfgErr *ConfigError
			require.True(t, errors.As(cfg.Validate(), &cfgErr))
			require.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := `
server:
  port: 4000
  chat_path: /ws
  allowed_origins:
    - http://localhost:5173
transport:
  ping_interval: 5s
  read_timeout: 20s
logging:
  level: debug
  format: json
`
	req.NoError(os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(LoadOptions{Path: path})
	req.NoError(err)
	req.Equal(4000, cfg.Server.Port)
	req.Equal("/ws", cfg.Server.ChatPath)
	req.Equal([]string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	req.Equal(5*time.Second, cfg.Transport.PingInterval)
	req.Equal(20*time.Second, cfg.Transport.ReadTimeout)
	req.Equal("debug", cfg.Logging.Level)
	// untouched fields keep their defaults
	req.Equal(256, cfg.Transport.SendBuffer)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "relay.yml")
	req.NoError(os.WriteFile(path, []byte("server:\n  port: 4000\n"), 0o600))

	t.Setenv("RELAY_SERVER_PORT", "5000")
	t.Setenv("RELAY_LOG_FORMAT", "json")
	t.Setenv("RELAY_WS_SEND_BUFFER", "8")
	t.Setenv("RELAY_ALLOWED_ORIGINS", "http://a.example, http://b.example")

	cfg, err := Load(LoadOptions{Path: path})
	req.NoError(err)
	req.Equal(5000, cfg.Server.Port)
	req.Equal("json", cfg.Logging.Format)
	req.Equal(8, cfg.Transport.SendBuffer)
	req.Equal([]string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoad_InvalidEnvFailsValidation(t *testing.T) {
	t.Setenv("RELAY_SERVER_PORT", "70000")

	_, err := Load()
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "server.port", cfgErr.Field)
}

func TestLoad_UnsupportedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := Load(LoadOptions{Path: path})
	require.ErrorContains(t, err, "unsupported config file format")
}
