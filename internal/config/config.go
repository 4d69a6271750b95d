// Package config provides Viper-based configuration loading for the speeddrawer server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// ShutdownTimeout bounds how long a graceful stop may take.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig holds the player-facing WebSocket listener settings.
type WebSocketConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`
	// Port is the TCP port.
	Port int `mapstructure:"port"`
	// Path is the HTTP path upgraded to WebSocket.
	Path string `mapstructure:"path"`
	// ReadLimit is the maximum accepted frame size in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SendBuffer is the number of outbound frames queued per connection.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (w WebSocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// HeartbeatConfig holds liveness probing settings.
type HeartbeatConfig struct {
	// Interval is the sweep period. A user is evicted after two consecutive
	// intervals without a probe acknowledgment.
	Interval time.Duration `mapstructure:"interval"`
}

// GameConfig holds handshake and room rules.
type GameConfig struct {
	// UsernameMin and UsernameMax are exclusive length bounds.
	UsernameMin int `mapstructure:"username_min"`
	UsernameMax int `mapstructure:"username_max"`
	// DefaultRounds is the round count of a newly created room.
	DefaultRounds int `mapstructure:"default_rounds"`
	// MaxRounds caps the round count an owner may configure.
	MaxRounds int `mapstructure:"max_rounds"`
}

// AdminConfig holds the gRPC health endpoint settings.
type AdminConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.GRPCHost, a.GRPCPort)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Game      GameConfig      `mapstructure:"game"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateServer(c.Server),
		validateWebSocket(c.WebSocket),
		validateHeartbeat(c.Heartbeat),
		validateGame(c.Game),
		validateAdmin(c.Admin),
		validateLogging(c.Logging),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0, got %s", s.ShutdownTimeout)
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if w.Port < 1 || w.Port > 65535 {
		errs = append(errs, fmt.Sprintf("websocket.port must be 1-65535, got %d", w.Port))
	}
	if !strings.HasPrefix(w.Path, "/") {
		errs = append(errs, fmt.Sprintf("websocket.path must start with '/', got %q", w.Path))
	}
	if w.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("websocket.read_limit must be >= 1, got %d", w.ReadLimit))
	}
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHeartbeat(h HeartbeatConfig) error {
	if h.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive, got %s", h.Interval)
	}
	return nil
}

func validateGame(g GameConfig) error {
	var errs []string
	if g.UsernameMin < 0 {
		errs = append(errs, fmt.Sprintf("game.username_min must be >= 0, got %d", g.UsernameMin))
	}
	if g.UsernameMax-g.UsernameMin < 2 {
		errs = append(errs, fmt.Sprintf("game.username_max (%d) must exceed game.username_min (%d) by at least 2",
			g.UsernameMax, g.UsernameMin))
	}
	if g.MaxRounds < 1 {
		errs = append(errs, fmt.Sprintf("game.max_rounds must be >= 1, got %d", g.MaxRounds))
	}
	if g.DefaultRounds < 1 || g.DefaultRounds > g.MaxRounds {
		errs = append(errs, fmt.Sprintf("game.default_rounds must be 1-%d, got %d", g.MaxRounds, g.DefaultRounds))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	if !a.Enabled {
		return nil
	}
	var errs []string
	if a.GRPCHost == "" {
		errs = append(errs, "admin.grpc_host must not be empty")
	}
	if a.GRPCPort < 1 || a.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("admin.grpc_port must be 1-65535, got %d", a.GRPCPort))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and the
// environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and SPEEDDRAWER_ environment
// overrides applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SPEEDDRAWER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 13370)
	v.SetDefault("websocket.path", "/")
	v.SetDefault("websocket.read_limit", 64*1024)
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.send_buffer", 256)

	v.SetDefault("heartbeat.interval", "5s")

	v.SetDefault("game.username_min", 2)
	v.SetDefault("game.username_max", 20)
	v.SetDefault("game.default_rounds", 3)
	v.SetDefault("game.max_rounds", 10)

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 13371)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
