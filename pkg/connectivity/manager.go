// Package connectivity keeps one real-time connection to the messaging
// server alive. It reconnects with exponential backoff, measures latency
// with a heartbeat, correlates requests with their responses, queues
// events while offline and opens secondary namespace connections.
package connectivity

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/metrics"
	"github.com/dd0wney/cluso-chatlink/pkg/pubsub"
)

// Manager owns the primary transport, its namespaces, the pending request
// map and the offline event queue.
//
// Lock order: sendMu before mu. sendMu serialises every frame written and
// is held across queue replay so that nothing emitted after the Connected
// transition can overtake a queued event.
type Manager struct {
	cfg     Config
	dialer  Dialer
	logger  logging.Logger
	metrics *metrics.Registry
	broker  *pubsub.Broker[State]
	jitter  func() float64
	now     func() time.Time

	onConnect    []func(State)
	onDisconnect []func(State)

	sendMu sync.Mutex

	mu              sync.Mutex
	endpoint        string
	token           string
	status          Status
	attempts        int
	lastConnectedAt time.Time
	lastReason      string
	lastError       string
	latency         time.Duration
	serverTime      time.Time
	gen             uint64 // bumped by every dial and teardown; stale callbacks compare it
	conn            Conn
	cancelDial      context.CancelFunc
	reconnectTimer  *time.Timer
	heartbeatStop   chan struct{}
	pending         map[string]*Call
	queue           []queuedEvent
	namespaces      map[string]*namespaceConn
	listeners       map[listenerKey]map[uint64]Listener
	nextListenerID  uint64
	closed          bool

	wg sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithJitter replaces the random source for reconnect jitter. fn must
// return values in [0, 1).
func WithJitter(fn func() float64) Option {
	return func(m *Manager) { m.jitter = fn }
}

// WithClock replaces time.Now for timestamps and latency
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// OnConnect registers a hook run after every successful connect
func OnConnect(fn func(State)) Option {
	return func(m *Manager) { m.onConnect = append(m.onConnect, fn) }
}

// OnDisconnect registers a hook run after the primary transport goes away
func OnDisconnect(fn func(State)) Option {
	return func(m *Manager) { m.onDisconnect = append(m.onDisconnect, fn) }
}

// New creates a disconnected manager. Call SetSession to connect.
func New(cfg Config, dialer Dialer, opts ...Option) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:        cfg,
		dialer:     dialer,
		logger:     logging.DefaultLogger(),
		broker:     pubsub.NewBroker[State](),
		jitter:     rand.Float64,
		now:        time.Now,
		status:     StatusDisconnected,
		pending:    make(map[string]*Call),
		namespaces: make(map[string]*namespaceConn),
		listeners:  make(map[listenerKey]map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewThrottled(m.logger.With(logging.Component("connectivity")), 2*time.Second)
	m.metrics.SetConnectionState(string(StatusDisconnected))
	return m, nil
}

// SetSession supplies the endpoint and bearer token. With both present the
// manager connects; with either missing it tears the connection down.
// A token change alone is picked up by the next (re)connect; an endpoint
// change reconnects immediately.
func (m *Manager) SetSession(endpoint, token string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	endpointChanged := endpoint != m.endpoint
	active := m.status != StatusDisconnected || m.conn != nil
	m.endpoint, m.token = endpoint, token
	m.mu.Unlock()

	if endpoint == "" || token == "" {
		m.Disconnect()
		return
	}
	if endpointChanged && active {
		m.Reconnect()
		return
	}
	m.Connect()
}

// Connect opens the primary transport. It is a no-op while a transport is
// open or being dialed, or while the endpoint or token is missing.
func (m *Manager) Connect() {
	m.mu.Lock()
	started := m.startDialLocked()
	m.mu.Unlock()
	if started {
		m.publish()
	}
}

// Disconnect closes the primary transport and all namespaces, stops every
// timer, drops the event queue and fails pending requests.
func (m *Manager) Disconnect() {
	m.teardown(ReasonManual)
}

// Reconnect disconnects then connects again
func (m *Manager) Reconnect() {
	m.Disconnect()
	m.Connect()
}

// Close disconnects, closes subscriptions and waits for background work
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.teardown(ReasonClientDisconnect)
	m.wg.Wait()
	m.broker.Close()
	return nil
}

// State returns a snapshot of the manager
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe streams state snapshots until ctx is done
func (m *Manager) Subscribe(ctx context.Context) *pubsub.Subscription[State] {
	return m.broker.Subscribe(ctx)
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) snapshotLocked() State {
	s := State{
		Status:               m.status,
		Attempts:             m.attempts,
		LastConnectedAt:      m.lastConnectedAt,
		LastDisconnectReason: m.lastReason,
		LastError:            m.lastError,
		Latency:              m.latency,
		ServerTime:           m.serverTime,
		PendingRequests:      len(m.pending),
		QueuedEvents:         len(m.queue),
	}
	if len(m.namespaces) > 0 {
		s.Namespaces = make(map[string]NamespaceStatus, len(m.namespaces))
		for path, ns := range m.namespaces {
			s.Namespaces[path] = NamespaceStatus{Connected: ns.conn != nil, Error: ns.err}
		}
	}
	return s
}

func (m *Manager) publish() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	s := m.snapshotLocked()
	m.mu.Unlock()

	m.metrics.SetConnectionState(string(s.Status))
	m.metrics.SetPendingRequests(s.PendingRequests)
	m.broker.Publish(s)
}

func (m *Manager) runHooks(hooks []func(State)) {
	if len(hooks) == 0 {
		return
	}
	s := m.State()
	for _, fn := range hooks {
		m.safeCall("hook", func() { fn(s) })
	}
}
