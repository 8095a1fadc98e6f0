package netstatus

import (
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/validation"
)

// DefaultProbeURL answers 204 No Content when the internet is reachable
const DefaultProbeURL = "https://www.google.com/generate_204"

// Config holds network monitor settings
type Config struct {
	ProbeURL      string
	ProbeTimeout  time.Duration
	CheckInterval time.Duration // polling period while the network is healthy
	RetryBase     time.Duration // first retry delay while it is not
	RetryMax      time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		ProbeURL:      DefaultProbeURL,
		ProbeTimeout:  10 * time.Second,
		CheckInterval: 30 * time.Second,
		RetryBase:     1 * time.Second,
		RetryMax:      30 * time.Second,
	}
}

// ApplyDefaults applies default values to zero-valued fields
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	c.ProbeURL = validation.DefaultOr(c.ProbeURL, defaults.ProbeURL)
	c.ProbeTimeout = validation.DefaultOrDuration(c.ProbeTimeout, defaults.ProbeTimeout)
	c.CheckInterval = validation.DefaultOrDuration(c.CheckInterval, defaults.CheckInterval)
	c.RetryBase = validation.DefaultOrDuration(c.RetryBase, defaults.RetryBase)
	c.RetryMax = validation.DefaultOrDuration(c.RetryMax, defaults.RetryMax)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	v := validation.NewConfigValidator("netstatus.Config")

	v.URL("ProbeURL", c.ProbeURL, "http", "https").
		MinDuration("ProbeTimeout", c.ProbeTimeout, time.Millisecond).
		MinDuration("CheckInterval", c.CheckInterval, time.Millisecond).
		MinDuration("RetryBase", c.RetryBase, time.Millisecond).
		DurationOrder("RetryBase", c.RetryBase, "RetryMax", c.RetryMax)

	return v.Validate()
}

// RetryDelay is min(RetryMax, RetryBase * 2^min(4, retries))
func (c *Config) RetryDelay(retries int) time.Duration {
	if retries > 4 {
		retries = 4
	}
	if retries < 0 {
		retries = 0
	}
	d := c.RetryBase << uint(retries)
	if d > c.RetryMax {
		d = c.RetryMax
	}
	return d
}
