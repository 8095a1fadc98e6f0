package search

import (
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/validation"
)

// Mode selects where results come from
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// MatchMode selects how a local query is compared against item fields
type MatchMode string

const (
	MatchContains   MatchMode = "contains"
	MatchStartsWith MatchMode = "startsWith"
	MatchExact      MatchMode = "exact"
	MatchFuzzy      MatchMode = "fuzzy"
)

// Config holds search engine settings
type Config struct {
	Mode Mode

	// Local matching
	SearchKeys          []string
	MatchMode           MatchMode
	CaseSensitive       bool
	MinCharacters       int    // trimmed query length that starts a search; 0 searches every query
	SortResults         bool   // sort by the first search key
	Locale              string // collation language for sorting
	ShowAllOnEmptyQuery bool

	// Remote fetching. RetryCount and MinCharacters are taken as given, so
	// start from DefaultConfig to get 3 retries and a 1 character minimum.
	Timeout    time.Duration
	RetryCount int           // 0 disables retries
	RetryDelay time.Duration // the n-th retry waits RetryDelay*n

	DebounceDelay time.Duration
	PageSize      int
	UniqueKey     string // field used to drop duplicates when appending pages

	// Cache
	EnableCache              bool
	CacheTTL                 time.Duration
	CacheMaintenanceInterval time.Duration
	CleanRatio               float64 // evict when expired > valid*CleanRatio
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Mode:                     ModeLocal,
		MatchMode:                MatchContains,
		MinCharacters:            1,
		Locale:                   "en",
		Timeout:                  10 * time.Second,
		RetryCount:               3,
		RetryDelay:               1 * time.Second,
		DebounceDelay:            300 * time.Millisecond,
		PageSize:                 20,
		EnableCache:              true,
		CacheTTL:                 5 * time.Minute,
		CacheMaintenanceInterval: 60 * time.Second,
		CleanRatio:               1.0,
	}
}

// ApplyDefaults applies default values to zero-valued fields
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	c.Mode = validation.DefaultOr(c.Mode, defaults.Mode)
	c.MatchMode = validation.DefaultOr(c.MatchMode, defaults.MatchMode)
	c.Locale = validation.DefaultOr(c.Locale, defaults.Locale)
	c.Timeout = validation.DefaultOrDuration(c.Timeout, defaults.Timeout)
	c.RetryDelay = validation.DefaultOrDuration(c.RetryDelay, defaults.RetryDelay)
	c.DebounceDelay = validation.DefaultOrDuration(c.DebounceDelay, defaults.DebounceDelay)
	c.PageSize = validation.DefaultOrInt(c.PageSize, defaults.PageSize)
	c.CacheTTL = validation.DefaultOrDuration(c.CacheTTL, defaults.CacheTTL)
	c.CacheMaintenanceInterval = validation.DefaultOrDuration(c.CacheMaintenanceInterval, defaults.CacheMaintenanceInterval)
	c.CleanRatio = validation.DefaultOrFloat(c.CleanRatio, defaults.CleanRatio)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	v := validation.NewConfigValidator("search.Config")

	v.OneOf("Mode", string(c.Mode), string(ModeLocal), string(ModeRemote)).
		OneOf("MatchMode", string(c.MatchMode),
			string(MatchContains), string(MatchStartsWith), string(MatchExact), string(MatchFuzzy)).
		When(c.Mode == ModeLocal, func(v *validation.ConfigValidator) {
			v.Custom("SearchKeys", func() error {
				if len(c.SearchKeys) == 0 {
					return errNoSearchKeys
				}
				return nil
			})
		}).
		NonNegative("MinCharacters", c.MinCharacters).
		NonNegative("RetryCount", c.RetryCount).
		MinDuration("Timeout", c.Timeout, time.Millisecond).
		MinDuration("RetryDelay", c.RetryDelay, 0).
		MinDuration("DebounceDelay", c.DebounceDelay, 0).
		RangeInt("PageSize", c.PageSize, 1, 1000).
		MinDuration("CacheTTL", c.CacheTTL, time.Millisecond).
		MinDuration("CacheMaintenanceInterval", c.CacheMaintenanceInterval, time.Millisecond).
		MinFloat("CleanRatio", c.CleanRatio, 0)

	return v.Validate()
}
