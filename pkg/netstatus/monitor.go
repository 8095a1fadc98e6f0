// Package netstatus tracks whether the internet is usable: a local link
// check, an HTTP reachability probe and a manual offline switch.
package netstatus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/metrics"
	"github.com/dd0wney/cluso-chatlink/pkg/pubsub"
)

// Status is a snapshot of the monitor
type Status struct {
	Connected     bool      `json:"connected"`
	Reachable     bool      `json:"reachable"`
	Offline       bool      `json:"offlineMode"`
	Retrying      bool      `json:"retrying"`
	RetryAttempts int       `json:"retryAttempts"`
	Link          string    `json:"link,omitempty"`
	LastChecked   time.Time `json:"lastChecked"`
}

// Available reports connected && reachable && not in offline mode
func (s Status) Available() bool {
	return s.Connected && s.Reachable && !s.Offline
}

// Monitor polls the network and publishes Status changes
type Monitor struct {
	cfg     Config
	client  *http.Client
	link    LinkFunc
	logger  logging.Logger
	metrics *metrics.Registry
	broker  *pubsub.Broker[Status]
	now     func() time.Time

	probeMu sync.Mutex // one probe at a time

	mu      sync.Mutex
	status  Status
	checked bool
	wake    chan struct{}
}

// Option configures a Monitor
type Option func(*Monitor)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// WithLink replaces the interface-based link check
func WithLink(fn LinkFunc) Option {
	return func(m *Monitor) { m.link = fn }
}

func WithLogger(logger logging.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(m *Monitor) { m.metrics = r }
}

// NewMonitor creates a monitor. Nothing is probed until Refresh or Run.
func NewMonitor(cfg Config, opts ...Option) (*Monitor, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:    cfg,
		client: &http.Client{},
		link:   InterfaceLink,
		logger: logging.DefaultLogger(),
		broker: pubsub.NewBroker[Status](),
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewThrottled(m.logger.With(logging.Component("netstatus")), 2*time.Second)
	return m, nil
}

// Status returns the latest snapshot
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Available implements search.Reachability
func (m *Monitor) Available() bool {
	return m.Status().Available()
}

// Subscribe streams status changes until ctx is done
func (m *Monitor) Subscribe(ctx context.Context) *pubsub.Subscription[Status] {
	return m.broker.Subscribe(ctx)
}

// SetOfflineMode forces Available to false while active
func (m *Monitor) SetOfflineMode(active bool) {
	m.mu.Lock()
	changed := m.status.Offline != active
	m.status.Offline = active
	s := m.status
	m.mu.Unlock()

	if changed {
		m.logger.Info("offline mode changed", logging.Bool("active", active))
		m.broker.Publish(s)
	}
}

// Refresh checks the link and, when connected, probes reachability. It
// returns whether the network is connected and reachable.
func (m *Monitor) Refresh(ctx context.Context) bool {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	m.mu.Lock()
	m.status.Retrying = true
	m.status.RetryAttempts++
	m.mu.Unlock()

	connected, kind := m.link()
	reachable := false
	if connected {
		reachable = m.probe(ctx)
	}

	m.mu.Lock()
	prev := m.status
	first := !m.checked
	m.checked = true
	m.status.Connected = connected
	m.status.Reachable = reachable
	m.status.Link = kind
	m.status.LastChecked = m.now()
	m.status.Retrying = false
	if connected && reachable {
		m.status.RetryAttempts = 0
	}
	s := m.status
	m.mu.Unlock()

	if first || prev.Connected != connected || prev.Reachable != reachable || prev.Link != kind {
		m.logger.Info("network status",
			logging.Bool("connected", connected),
			logging.Bool("reachable", reachable),
			logging.String("link", kind))
	}
	m.broker.Publish(s)
	return connected && reachable
}

// probe issues a HEAD request and expects 204 No Content
func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.ProbeURL, nil)
	if err != nil {
		m.logger.Warn("bad probe request", logging.Error(err))
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("reachability probe failed", logging.Error(err))
		}
		m.metrics.RecordProbe(false)
		return false
	}
	resp.Body.Close()

	ok := resp.StatusCode == http.StatusNoContent
	if !ok {
		m.logger.Debug("unexpected probe status", logging.Int("status", resp.StatusCode))
	}
	m.metrics.RecordProbe(ok)
	return ok
}

// Run refreshes until ctx is done: every CheckInterval while healthy,
// otherwise after RetryDelay(attempts). Recheck wakes it early.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.broker.Close()

	for {
		healthy := m.Refresh(ctx)

		delay := m.cfg.CheckInterval
		if !healthy {
			delay = m.cfg.RetryDelay(m.Status().RetryAttempts - 1)
			m.logger.Debug("scheduling connectivity retry", logging.Duration("delay", delay))
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-m.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// Recheck asks a running monitor to refresh now
func (m *Monitor) Recheck() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (s Status) String() string {
	return fmt.Sprintf("connected=%t reachable=%t offline=%t link=%s", s.Connected, s.Reachable, s.Offline, s.Link)
}
