package connectivity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
)

// startDialLocked begins a connect cycle if one is allowed. Caller holds mu.
func (m *Manager) startDialLocked() bool {
	if m.closed || m.conn != nil || m.status != StatusDisconnected {
		return false
	}
	if m.endpoint == "" || m.token == "" {
		m.logger.Debug("connect skipped: no session")
		return false
	}
	if exp, ok := tokenExpiry(m.token); ok && !m.now().Before(exp) {
		m.lastError = fmt.Errorf("%w at %s", ErrTokenExpired, exp.UTC().Format(time.RFC3339)).Error()
		m.logger.Warn("connect skipped: token expired", logging.Time("expired_at", exp))
		return false
	}

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}

	m.gen++
	gen := m.gen
	m.status = StatusConnecting

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	m.cancelDial = cancel

	req := DialRequest{
		Endpoint:      m.endpoint,
		Token:         m.token,
		Namespace:     m.cfg.DefaultNamespace,
		ConnectionID:  uuid.NewString(),
		ClientVersion: m.cfg.ClientVersion,
	}

	m.logger.Info("connecting",
		logging.Endpoint(req.Endpoint),
		logging.Attempt(m.attempts),
		logging.String("connection_id", req.ConnectionID))

	m.wg.Add(1)
	go m.dial(ctx, cancel, gen, req)
	return true
}

// dial runs one connect cycle
func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, req DialRequest) {
	defer m.wg.Done()
	defer cancel()

	conn, err := m.dialer.Dial(ctx, req)
	if err != nil {
		m.connectFailed(gen, err)
		return
	}
	m.onConnected(gen, conn)
}

func (m *Manager) connectFailed(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		// Superseded by Disconnect or a newer Connect.
		m.mu.Unlock()
		return
	}
	m.cancelDial = nil
	m.status = StatusDisconnected
	m.lastError = err.Error()
	m.scheduleReconnectLocked()
	attempts := m.attempts
	m.mu.Unlock()

	m.metrics.RecordConnectAttempt(false, attempts)
	m.logger.Warn("connect failed", logging.Error(err), logging.Attempt(attempts))
	m.publish()
}

// onConnected runs the Connected transition: store the transport, replay
// the offline queue in order, then start the heartbeat.
func (m *Manager) onConnected(gen uint64, conn Conn) {
	m.sendMu.Lock()

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		m.sendMu.Unlock()
		_ = conn.Close()
		return
	}
	m.cancelDial = nil
	m.conn = conn
	m.status = StatusConnected
	m.attempts = 0
	m.lastConnectedAt = m.now()
	m.lastError = ""
	m.lastReason = ""
	stop := make(chan struct{})
	m.heartbeatStop = stop
	m.mu.Unlock()

	m.wg.Add(2)
	go m.readLoop(gen, "", conn)

	replayed := m.flushQueue(gen, "")
	m.sendMu.Unlock()

	go m.heartbeat(gen, stop)

	m.metrics.RecordConnectAttempt(true, 0)
	m.metrics.RecordReplay(replayed)
	m.logger.Info("connected", logging.Int("replayed", replayed))

	m.runHooks(m.onConnect)
	m.publish()
}

// scheduleReconnectLocked arms the backoff timer unless the retry budget is
// spent. Caller holds mu.
func (m *Manager) scheduleReconnectLocked() {
	if m.closed {
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.logger.Warn("reconnect attempts exhausted", logging.Attempt(m.attempts))
		return
	}

	delay := m.cfg.Backoff(m.attempts, m.jitter())
	m.attempts++
	gen := m.gen

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() { m.reconnectAfterBackoff(gen) })

	m.metrics.RecordReconnectScheduled()
	m.logger.Debug("reconnect scheduled", logging.Attempt(m.attempts), logging.Duration("delay", delay))
}

func (m *Manager) reconnectAfterBackoff(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	started := m.startDialLocked()
	m.mu.Unlock()
	if started {
		m.publish()
	}
}

// readLoop delivers frames from conn until it fails. namespace is "" for
// the primary transport.
func (m *Manager) readLoop(gen uint64, namespace string, conn Conn) {
	defer m.wg.Done()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			reason := ReasonTransportError
			if errors.Is(err, ErrServerClosed) {
				reason, err = ReasonServerDisconnect, nil
			}
			m.dropped(namespace, conn, reason, err)
			return
		}

		switch frame.Type {
		case FrameDisconnect:
			reason := ReasonServerDisconnect
			var s string
			if frame.Decode(&s) == nil && s != "" {
				reason = s
			}
			m.dropped(namespace, conn, reason, nil)
			return
		case FrameEvent:
			if frame.Event == eventResponse {
				m.resolve(frame)
			}
			m.dispatch(namespace, frame)
		default:
			m.logger.Debug("ignoring frame", logging.String("type", string(frame.Type)))
		}
	}
}

func (m *Manager) dropped(namespace string, conn Conn, reason string, err error) {
	if namespace == "" {
		m.handleDrop(conn, reason, err)
		return
	}
	m.handleNamespaceDrop(namespace, conn, err)
}

// handleDrop processes the loss of the primary transport. The offline queue
// survives; requests that were already sent fail.
func (m *Manager) handleDrop(conn Conn, reason string, err error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.status = StatusDisconnected
	m.lastReason = reason
	if err != nil {
		m.lastError = err.Error()
	}
	m.stopHeartbeatLocked()
	namespaces := m.takeNamespacesLocked()
	pending := m.takePendingLocked(nil)
	if !isIntentional(reason) {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	_ = conn.Close()
	for _, ns := range namespaces {
		_ = ns.Close()
	}
	m.failCalls(pending, ErrDisconnected)
	m.metrics.SetNamespacesConnected(0)

	m.logger.Warn("disconnected", logging.Reason(reason), logging.Error(err))
	m.runHooks(m.onDisconnect)
	m.publish()
}

// teardown is the explicit close path used by Disconnect and Close
func (m *Manager) teardown(reason string) {
	m.mu.Lock()
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	conn := m.conn
	m.conn = nil
	namespaces := m.takeNamespacesLocked()
	pending := m.takePendingLocked(nil)
	queued := m.queue
	m.queue = nil
	m.status = StatusDisconnected
	m.lastReason = reason
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	for _, ns := range namespaces {
		_ = ns.Close()
	}
	m.failCalls(pending, ErrDisconnected)
	for _, q := range queued {
		if q.call != nil {
			m.finish(q.call, nil, ErrDisconnected)
		}
	}
	m.metrics.SetNamespacesConnected(0)
	m.metrics.SetQueueDepth(0)

	if conn != nil {
		m.logger.Info("disconnected", logging.Reason(reason), logging.Int("dropped_events", len(queued)))
		m.runHooks(m.onDisconnect)
	}
	m.publish()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}
