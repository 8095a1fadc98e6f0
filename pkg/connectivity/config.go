package connectivity

import (
	"math"
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/validation"
)

// Config holds connection and reconnection settings
type Config struct {
	// Reconnection
	ReconnectBaseDelay   time.Duration // delay before the first automatic retry
	ReconnectMaxDelay    time.Duration // ceiling for the exponential part
	ReconnectGrowth      float64       // multiplier per failed attempt
	ReconnectJitter      time.Duration // random addition bound; zero takes the default
	MaxReconnectAttempts int           // automatic retries before giving up

	// Timeouts
	ConnectTimeout time.Duration // dial plus server acknowledgement
	RequestTimeout time.Duration // default for correlated requests
	WriteTimeout   time.Duration

	// Heartbeat
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	DefaultNamespace string
	ClientVersion    string
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    5 * time.Second,
		ReconnectGrowth:      1.5,
		ReconnectJitter:      1 * time.Second,
		MaxReconnectAttempts: 5,

		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,

		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,

		DefaultNamespace: "/",
		ClientVersion:    "1.0.0",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	v := validation.NewConfigValidator("connectivity.Config")

	v.MinDuration("ReconnectBaseDelay", c.ReconnectBaseDelay, time.Millisecond).
		MinDuration("ReconnectMaxDelay", c.ReconnectMaxDelay, time.Millisecond).
		DurationOrder("ReconnectBaseDelay", c.ReconnectBaseDelay, "ReconnectMaxDelay", c.ReconnectMaxDelay).
		MinFloat("ReconnectGrowth", c.ReconnectGrowth, 1).
		MinDuration("ReconnectJitter", c.ReconnectJitter, 0).
		Positive("MaxReconnectAttempts", c.MaxReconnectAttempts).
		MinDuration("ConnectTimeout", c.ConnectTimeout, time.Millisecond).
		MinDuration("RequestTimeout", c.RequestTimeout, time.Millisecond).
		MinDuration("WriteTimeout", c.WriteTimeout, time.Millisecond).
		MinDuration("HeartbeatInterval", c.HeartbeatInterval, time.Millisecond).
		MinDuration("HeartbeatTimeout", c.HeartbeatTimeout, time.Millisecond).
		Custom("DefaultNamespace", func() error { return validNamespace(c.DefaultNamespace) }).
		Required("ClientVersion", c.ClientVersion)

	return v.Validate()
}

// ApplyDefaults applies default values to zero-valued fields. A zero
// ReconnectJitter becomes the 1s default; WithJitter(func() float64 { return 0 })
// removes jitter instead.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	c.ReconnectBaseDelay = validation.DefaultOrDuration(c.ReconnectBaseDelay, defaults.ReconnectBaseDelay)
	c.ReconnectMaxDelay = validation.DefaultOrDuration(c.ReconnectMaxDelay, defaults.ReconnectMaxDelay)
	c.ReconnectGrowth = validation.DefaultOrFloat(c.ReconnectGrowth, defaults.ReconnectGrowth)
	c.ReconnectJitter = validation.DefaultOrDuration(c.ReconnectJitter, defaults.ReconnectJitter)
	c.MaxReconnectAttempts = validation.DefaultOrInt(c.MaxReconnectAttempts, defaults.MaxReconnectAttempts)
	c.ConnectTimeout = validation.DefaultOrDuration(c.ConnectTimeout, defaults.ConnectTimeout)
	c.RequestTimeout = validation.DefaultOrDuration(c.RequestTimeout, defaults.RequestTimeout)
	c.WriteTimeout = validation.DefaultOrDuration(c.WriteTimeout, defaults.WriteTimeout)
	c.HeartbeatInterval = validation.DefaultOrDuration(c.HeartbeatInterval, defaults.HeartbeatInterval)
	c.HeartbeatTimeout = validation.DefaultOrDuration(c.HeartbeatTimeout, defaults.HeartbeatTimeout)
	c.DefaultNamespace = validation.DefaultOr(c.DefaultNamespace, defaults.DefaultNamespace)
	c.ClientVersion = validation.DefaultOr(c.ClientVersion, defaults.ClientVersion)
}

// Backoff returns the reconnect delay after attempts failed cycles.
// jitter is a fraction in [0, 1) of ReconnectJitter.
func (c *Config) Backoff(attempts int, jitter float64) time.Duration {
	d := float64(c.ReconnectBaseDelay) * math.Pow(c.ReconnectGrowth, float64(attempts))
	if d > float64(c.ReconnectMaxDelay) || math.IsInf(d, 1) || math.IsNaN(d) {
		d = float64(c.ReconnectMaxDelay)
	}
	return time.Duration(d) + time.Duration(jitter*float64(c.ReconnectJitter))
}
