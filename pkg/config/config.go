// Package config loads the chatlink application configuration from YAML or
// TOML files with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-chatlink/pkg/cache"
	"github.com/dd0wney/cluso-chatlink/pkg/connectivity"
	"github.com/dd0wney/cluso-chatlink/pkg/netstatus"
	"github.com/dd0wney/cluso-chatlink/pkg/search"
	"github.com/dd0wney/cluso-chatlink/pkg/validation"
)

// Environment overrides
const (
	EnvEndpoint = "CHATLINK_ENDPOINT"
	EnvToken    = "CHATLINK_TOKEN"
	EnvAPIURL   = "CHATLINK_API_URL"
	EnvLogLevel = "LOG_LEVEL"
)

// Config is the application configuration
type Config struct {
	Endpoint   string   `yaml:"endpoint" toml:"endpoint" validate:"required,wsurl"`
	Token      string   `yaml:"token" toml:"token"`
	Namespaces []string `yaml:"namespaces" toml:"namespaces" validate:"dive,nspath"`

	Connection ConnectionConfig `yaml:"connection" toml:"connection"`
	Search     SearchConfig     `yaml:"search" toml:"search"`
	Cache      CacheConfig      `yaml:"cache" toml:"cache"`
	API        APIConfig        `yaml:"api" toml:"api"`
	Network    NetworkConfig    `yaml:"network" toml:"network"`
	HTTP       HTTPConfig       `yaml:"http" toml:"http"`
	Log        LogConfig        `yaml:"log" toml:"log"`
}

// ConnectionConfig tunes the socket manager
type ConnectionConfig struct {
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts" validate:"gte=0"`
	ReconnectDelay       Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	ReconnectDelayMax    Duration `yaml:"reconnect_delay_max" toml:"reconnect_delay_max"`
	Timeout              Duration `yaml:"timeout" toml:"timeout"`
	HeartbeatInterval    Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
}

// SearchConfig tunes the search engine
type SearchConfig struct {
	Mode          string   `yaml:"mode" toml:"mode" validate:"omitempty,oneof=local remote"`
	MatchMode     string   `yaml:"match_mode" toml:"match_mode" validate:"omitempty,oneof=contains startsWith exact fuzzy"`
	SearchKeys    []string `yaml:"search_keys" toml:"search_keys"`
	MinCharacters *int     `yaml:"min_characters" toml:"min_characters" validate:"omitempty,gte=0"`
	Debounce      Duration `yaml:"debounce" toml:"debounce"`
	PageSize      int      `yaml:"page_size" toml:"page_size" validate:"gte=0,lte=1000"`
	Timeout       Duration `yaml:"timeout" toml:"timeout"`
	RetryCount    *int     `yaml:"retry_count" toml:"retry_count" validate:"omitempty,gte=0"`
	RetryDelay    Duration `yaml:"retry_delay" toml:"retry_delay"`
	Locale        string   `yaml:"locale" toml:"locale"`
}

// CacheConfig selects and tunes the search cache store
type CacheConfig struct {
	Enabled     *bool    `yaml:"enabled" toml:"enabled"`
	Backend     string   `yaml:"backend" toml:"backend" validate:"omitempty,oneof=memory sqlite postgres"`
	Path        string   `yaml:"path" toml:"path" validate:"required_if=Backend sqlite"`
	DSN         string   `yaml:"dsn" toml:"dsn" validate:"required_if=Backend postgres"`
	TTL         Duration `yaml:"ttl" toml:"ttl"`
	Prefix      string   `yaml:"prefix" toml:"prefix"`
	Compression bool     `yaml:"compression" toml:"compression"`
}

// APIConfig points at the REST backend used for remote search
type APIConfig struct {
	BaseURL string   `yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

// NetworkConfig tunes the reachability monitor
type NetworkConfig struct {
	ProbeURL      string   `yaml:"probe_url" toml:"probe_url" validate:"omitempty,url"`
	CheckInterval Duration `yaml:"check_interval" toml:"check_interval"`
}

// HTTPConfig is the agent's status listener
type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// LogConfig selects the log level
type LogConfig struct {
	Level string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Namespaces: []string{"/"},
		Search:     SearchConfig{SearchKeys: []string{"name"}},
		Cache:      CacheConfig{Backend: "memory", Prefix: cache.DefaultPrefix},
		HTTP:       HTTPConfig{Addr: ":9090"},
		Log:        LogConfig{Level: "info"},
	}
}

// Load reads path (".yaml", ".yml" or ".toml"), applies environment
// overrides and validates the result. An empty path loads defaults plus
// the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, filepath.Ext(path), cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data into cfg according to the file extension
func Parse(data []byte, ext string, cfg *Config) error {
	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvEndpoint); v != "" {
		c.Endpoint = v
	}
	if v := getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate checks struct tags and then the derived component configs
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	conn := c.ConnectivityConfig()
	if err := conn.Validate(); err != nil {
		return err
	}
	sc := c.SearchConfig()
	if err := sc.Validate(); err != nil {
		return err
	}
	nc := c.NetworkConfig()
	return nc.Validate()
}

// CacheEnabled defaults to true when unset
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// ConnectivityConfig returns the socket manager config with defaults applied
func (c *Config) ConnectivityConfig() connectivity.Config {
	cfg := connectivity.DefaultConfig()
	if c.Connection.MaxReconnectAttempts > 0 {
		cfg.MaxReconnectAttempts = c.Connection.MaxReconnectAttempts
	}
	if d := c.Connection.ReconnectDelay.D(); d > 0 {
		cfg.ReconnectBaseDelay = d
	}
	if d := c.Connection.ReconnectDelayMax.D(); d > 0 {
		cfg.ReconnectMaxDelay = d
	}
	if d := c.Connection.Timeout.D(); d > 0 {
		cfg.ConnectTimeout = d
		cfg.RequestTimeout = d
	}
	if d := c.Connection.HeartbeatInterval.D(); d > 0 {
		cfg.HeartbeatInterval = d
	}
	return cfg
}

// SearchConfig returns the search engine config with defaults applied.
// Remote mode is selected whenever an API base URL is configured and no
// mode is given.
func (c *Config) SearchConfig() search.Config {
	cfg := search.DefaultConfig()
	s := c.Search

	switch {
	case s.Mode != "":
		cfg.Mode = search.Mode(s.Mode)
	case c.API.BaseURL != "":
		cfg.Mode = search.ModeRemote
	}
	if s.MatchMode != "" {
		cfg.MatchMode = search.MatchMode(s.MatchMode)
	}
	if len(s.SearchKeys) > 0 {
		cfg.SearchKeys = s.SearchKeys
	}
	if s.MinCharacters != nil {
		cfg.MinCharacters = *s.MinCharacters
	}
	if d := s.Debounce.D(); d > 0 {
		cfg.DebounceDelay = d
	}
	if s.PageSize > 0 {
		cfg.PageSize = s.PageSize
	}
	if d := s.Timeout.D(); d > 0 {
		cfg.Timeout = d
	}
	if s.RetryCount != nil {
		cfg.RetryCount = *s.RetryCount
	}
	if d := s.RetryDelay.D(); d > 0 {
		cfg.RetryDelay = d
	}
	if s.Locale != "" {
		cfg.Locale = s.Locale
	}
	cfg.EnableCache = c.CacheEnabled()
	if d := c.Cache.TTL.D(); d > 0 {
		cfg.CacheTTL = d
	}
	return cfg
}

// NetworkConfig returns the reachability monitor config with defaults applied
func (c *Config) NetworkConfig() netstatus.Config {
	cfg := netstatus.DefaultConfig()
	if c.Network.ProbeURL != "" {
		cfg.ProbeURL = c.Network.ProbeURL
	}
	if d := c.Network.CheckInterval.D(); d > 0 {
		cfg.CheckInterval = d
	}
	return cfg
}
