// Package config reads the calblock TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// FileName is looked up in the working directory, then in ~/.config/calblock/.
	FileName = ".calblock.toml"

	DefaultDatabase        = ".calblock.db"
	DefaultTitlePrefix     = "O_o"
	DefaultProviderTimeout = 30 * time.Second
	DefaultFanOut          = 4
)

type Config struct {
	General  General                 `toml:"general"`
	Google   Google                  `toml:"google"`
	Blocking Blocking                `toml:"blocking"`
	CalDAVs  map[string]CalDAVServer `toml:"caldav_servers"`

	// Dir is the directory the file was read from; relative database paths
	// resolve against it.
	Dir string `toml:"-"`
}

type General struct {
	Database string `toml:"database"`
	// VerbosityLevel: 0 errors only, 1-2 info, 3 and above debug.
	VerbosityLevel int    `toml:"verbosity_level"`
	LogFormat      string `toml:"log_format"`
}

type Google struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

type Blocking struct {
	TitlePrefix     string   `toml:"title_prefix"`
	ProviderTimeout Duration `toml:"provider_timeout"`
	FanOut          int      `toml:"fan_out"`
}

type CalDAVServer struct {
	ServerURL string `toml:"server_url"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Name      string `toml:"name"`
}

// DisplayName returns Name, falling back to the key the server is stored under.
func (s CalDAVServer) DisplayName(key string) string {
	if s.Name != "" {
		return s.Name
	}
	return key
}

// Duration is a time.Duration written as "30s" or "1m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.General.Database == "" {
		c.General.Database = DefaultDatabase
	}
	if c.General.LogFormat == "" {
		c.General.LogFormat = "text"
	}
	if c.Blocking.TitlePrefix == "" {
		c.Blocking.TitlePrefix = DefaultTitlePrefix
	}
	if c.Blocking.ProviderTimeout.Duration <= 0 {
		c.Blocking.ProviderTimeout.Duration = DefaultProviderTimeout
	}
	if c.Blocking.FanOut <= 0 {
		c.Blocking.FanOut = DefaultFanOut
	}
	if c.CalDAVs == nil {
		c.CalDAVs = map[string]CalDAVServer{}
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if c.General.LogFormat != "text" && c.General.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.General.LogFormat)
	}
	for name, s := range c.CalDAVs {
		if s.ServerURL == "" {
			return fmt.Errorf("caldav server %q has no server_url", name)
		}
	}
	return nil
}

// DatabasePath resolves the database file relative to the config directory.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.General.Database) || c.Dir == "" {
		return c.General.Database
	}
	return filepath.Join(c.Dir, c.General.Database)
}

// HasGoogle reports whether OAuth client credentials are configured.
func (c *Config) HasGoogle() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

// SearchPaths lists where Load looks for the file, in order.
func SearchPaths() []string {
	paths := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "calblock", FileName))
	}
	return paths
}

// Load reads path, or the first file found in SearchPaths when path is
// empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	for _, p := range SearchPaths() {
		cfg, err := LoadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return cfg, err
	}
	return Default(), nil
}

// LoadFile reads and normalizes a single TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Dir = filepath.Dir(path)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}
