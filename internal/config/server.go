package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the relay server.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	WSPath          string        `yaml:"ws_path"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ConfigFile      string        `yaml:"-"`
	LogLevel        string        `yaml:"log_level"`
	RedisAddr       string        `yaml:"redis_addr"`
	SendBuffer      int           `yaml:"send_buffer"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
	StateInterval   time.Duration `yaml:"state_interval"`
}

// SetDefaults fills zero-valued fields with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.WSPath == "" {
		c.WSPath = "/videostream"
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"*"}
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 8 << 20
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 10 * time.Second
	}
	if c.StateInterval <= 0 {
		c.StateInterval = 2 * time.Second
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("server.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := getEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := getEnv("METRICS_PORT", ""); v != "" {
		c.MetricsAddr = normalizeAddr(v)
	}
	if v := getEnv("WS_PATH", ""); v != "" {
		c.WSPath = v
	}
	if v := getEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := getEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := getEnv("SEND_BUFFER", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SendBuffer = n
		}
	}
	if v := getEnv("WRITE_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.WriteTimeout = d
		}
	}
	if v := getEnv("MAX_MESSAGE_BYTES", ""); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxMessageBytes = n
		}
	}
	if v := getEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := getEnv("STATE_INTERVAL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.StateInterval = d
		}
	}
}

// BindFlags binds command line flags using the current config values as
// defaults so main can call flag.Parse().
func (c *ServerConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the relay")
	fs.Func("metrics-port", "Prometheus metrics listen address or port; defaults to the value of --port", func(v string) error {
		c.MetricsAddr = normalizeAddr(v)
		return nil
	})
	fs.StringVar(&c.WSPath, "ws-path", c.WSPath, "path producers and viewers use to open WebSocket connections")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL mirroring relay state")
	fs.IntVar(&c.SendBuffer, "send-buffer", c.SendBuffer, "outbound messages queued per connection before dropping")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "maximum duration of a single WebSocket write")
	fs.Int64Var(&c.MaxMessageBytes, "max-message-bytes", c.MaxMessageBytes, "largest inbound WebSocket message accepted")
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to keep serving existing connections on shutdown (0 to exit immediately)")
	fs.DurationVar(&c.StateInterval, "state-interval", c.StateInterval, "interval between state snapshots on /api/state/stream")
}

// LoadFile populates the config from a YAML file.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ListenAddr is the address of the public listener.
func (c ServerConfig) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MetricsListenAddr is the address serving /metrics. An empty MetricsAddr
// follows the public port, whatever layer set it.
func (c ServerConfig) MetricsListenAddr() string {
	if c.MetricsAddr == "" {
		return c.ListenAddr()
	}
	return c.MetricsAddr
}

// SeparateMetrics reports whether metrics are served on their own listener.
func (c ServerConfig) SeparateMetrics() bool {
	return c.MetricsListenAddr() != c.ListenAddr()
}

func normalizeAddr(v string) string {
	if strings.Contains(v, ":") {
		return v
	}
	return ":" + v
}
