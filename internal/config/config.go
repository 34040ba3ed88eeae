// Package config holds the livecanvas configuration: hub and client
// settings, cursor tunables and logging.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/recera/livecanvas/pkg/cursor"
	"github.com/recera/livecanvas/pkg/session"
)

// Config represents a livecanvas configuration file.
type Config struct {
	// Hub settings used by `livecanvas serve`
	Server ServerConfig `json:"server" yaml:"server" toml:"server"`

	// Connection settings used by `livecanvas join`
	Client ClientConfig `json:"client" yaml:"client" toml:"client"`

	// Cursor and reaction tunables, reloadable at runtime
	Cursor CursorConfig `json:"cursor" yaml:"cursor" toml:"cursor"`

	Log LogConfig `json:"log" yaml:"log" toml:"log"`
}

// ServerConfig contains hub configuration
type ServerConfig struct {
	Host string `json:"host,omitempty" yaml:"host,omitempty" toml:"host,omitempty"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`

	// Whether to announce the hub over mDNS
	Advertise bool `json:"advertise" yaml:"advertise" toml:"advertise"`

	// Instance name used in the mDNS announcement
	Name string `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`

	// Outgoing frames queued per connection before it is dropped
	SendBuffer int `json:"sendBuffer,omitempty" yaml:"sendBuffer,omitempty" toml:"sendBuffer,omitempty"`

	PingInterval Duration `json:"pingInterval,omitempty" yaml:"pingInterval,omitempty" toml:"pingInterval,omitempty"`
	ReadTimeout  Duration `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty" toml:"readTimeout,omitempty"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ClientConfig contains join configuration
type ClientConfig struct {
	// Hub base URL, e.g. ws://localhost:7420
	Server string `json:"server,omitempty" yaml:"server,omitempty" toml:"server,omitempty"`
	Room   string `json:"room,omitempty" yaml:"room,omitempty" toml:"room,omitempty"`

	// Browse mDNS for a hub when no server is given
	Discover        bool     `json:"discover" yaml:"discover" toml:"discover"`
	DiscoverTimeout Duration `json:"discoverTimeout,omitempty" yaml:"discoverTimeout,omitempty" toml:"discoverTimeout,omitempty"`

	SendBuffer int `json:"sendBuffer,omitempty" yaml:"sendBuffer,omitempty" toml:"sendBuffer,omitempty"`
}

// CursorConfig contains the interaction tunables
type CursorConfig struct {
	// Colours assigned to participants by connection id
	Palette []string `json:"palette,omitempty" yaml:"palette,omitempty" toml:"palette,omitempty"`

	// Glyphs offered by the reaction selector, at most nine
	Glyphs []string `json:"glyphs,omitempty" yaml:"glyphs,omitempty" toml:"glyphs,omitempty"`

	TickInterval      Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty" toml:"tickInterval,omitempty"`
	ReactionRetention Duration `json:"reactionRetention,omitempty" yaml:"reactionRetention,omitempty" toml:"reactionRetention,omitempty"`
	MaxTrail          int      `json:"maxTrail,omitempty" yaml:"maxTrail,omitempty" toml:"maxTrail,omitempty"`
}

// Tuning converts the cursor section into session tunables.
func (c CursorConfig) Tuning() session.Tuning {
	return session.Tuning{
		Palette:      append(cursor.Palette(nil), c.Palette...),
		Glyphs:       append([]string(nil), c.Glyphs...),
		TickInterval: c.TickInterval.Std(),
		Retention:    c.ReactionRetention.Std(),
		MaxTrail:     c.MaxTrail,
	}
}

// LogConfig contains logging configuration
type LogConfig struct {
	// debug, info, warn or error
	Level string `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`

	// text or json
	Format string `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty"`

	// Empty means stderr
	File string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         7420,
			Name:         "livecanvas",
			SendBuffer:   256,
			PingInterval: Duration(54 * time.Second),
			ReadTimeout:  Duration(5 * time.Minute),
		},
		Client: ClientConfig{
			Server:          "ws://localhost:7420",
			Room:            "lobby",
			DiscoverTimeout: Duration(3 * time.Second),
			SendBuffer:      256,
		},
		Cursor: CursorConfig{
			Palette:           append([]string(nil), cursor.DefaultPalette...),
			Glyphs:            append([]string(nil), session.DefaultGlyphs...),
			TickInterval:      Duration(cursor.DefaultTickInterval),
			ReactionRetention: Duration(cursor.DefaultRetention),
			MaxTrail:          cursor.DefaultMaxTrail,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills zero values left by a partial file
func applyDefaults(c *Config) {
	d := DefaultConfig()

	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.Name == "" {
		c.Server.Name = d.Server.Name
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = d.Server.SendBuffer
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = d.Server.PingInterval
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = d.Server.ReadTimeout
	}

	if c.Client.Server == "" {
		c.Client.Server = d.Client.Server
	}
	if c.Client.Room == "" {
		c.Client.Room = d.Client.Room
	}
	if c.Client.DiscoverTimeout == 0 {
		c.Client.DiscoverTimeout = d.Client.DiscoverTimeout
	}
	if c.Client.SendBuffer == 0 {
		c.Client.SendBuffer = d.Client.SendBuffer
	}

	if c.Cursor.Palette == nil {
		c.Cursor.Palette = d.Cursor.Palette
	}
	if c.Cursor.Glyphs == nil {
		c.Cursor.Glyphs = d.Cursor.Glyphs
	}
	if c.Cursor.TickInterval == 0 {
		c.Cursor.TickInterval = d.Cursor.TickInterval
	}
	if c.Cursor.ReactionRetention == 0 {
		c.Cursor.ReactionRetention = d.Cursor.ReactionRetention
	}
	if c.Cursor.MaxTrail == 0 {
		c.Cursor.MaxTrail = d.Cursor.MaxTrail
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// ApplyEnvOverrides applies LIVECANVAS_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	// Server overrides
	if v := os.Getenv("LIVECANVAS_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("LIVECANVAS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LIVECANVAS_ADVERTISE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.Advertise = b
		}
	}

	// Client overrides
	if v := os.Getenv("LIVECANVAS_SERVER"); v != "" {
		c.Client.Server = v
	}
	if v := os.Getenv("LIVECANVAS_ROOM"); v != "" {
		c.Client.Room = v
	}

	// Cursor overrides
	if v := os.Getenv("LIVECANVAS_PALETTE"); v != "" {
		c.Cursor.Palette = splitList(v)
	}

	// Logging overrides
	if v := os.Getenv("LIVECANVAS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LIVECANVAS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("LIVECANVAS_LOG_FILE"); v != "" {
		c.Log.File = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.SendBuffer < 1 {
		errs = append(errs, errors.New("server.sendBuffer must be positive"))
	}
	if c.Server.PingInterval <= 0 {
		errs = append(errs, errors.New("server.pingInterval must be positive"))
	}
	if c.Server.ReadTimeout <= c.Server.PingInterval {
		errs = append(errs, errors.New("server.readTimeout must exceed server.pingInterval"))
	}

	if c.Client.Room == "" {
		errs = append(errs, errors.New("client.room is required"))
	}
	if strings.Contains(c.Client.Room, "/") {
		errs = append(errs, fmt.Errorf("client.room %q must not contain '/'", c.Client.Room))
	}

	if len(c.Cursor.Palette) == 0 {
		errs = append(errs, errors.New("cursor.palette must not be empty"))
	}
	if len(c.Cursor.Glyphs) == 0 || len(c.Cursor.Glyphs) > 9 {
		errs = append(errs, fmt.Errorf("cursor.glyphs must hold 1 to 9 entries, got %d", len(c.Cursor.Glyphs)))
	}
	if c.Cursor.TickInterval <= 0 {
		errs = append(errs, errors.New("cursor.tickInterval must be positive"))
	}
	if c.Cursor.ReactionRetention <= 0 {
		errs = append(errs, errors.New("cursor.reactionRetention must be positive"))
	}
	if c.Cursor.MaxTrail < 1 {
		errs = append(errs, errors.New("cursor.maxTrail must be positive"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q unknown", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q unknown", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration written as "1500ms" or "4s" in every
// config format.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler (JSON and TOML).
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler (JSON and TOML).
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}
