package connectivity

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
)

// namespaceConn is a secondary transport. conn is nil while dialing or
// after it dropped; ready is closed when the dial finishes either way.
type namespaceConn struct {
	conn  Conn
	err   string
	ready chan struct{}
}

// ConnectToNamespace opens a secondary transport for path on the same
// endpoint and token. It is idempotent: an open namespace is reused and a
// concurrent dial is awaited. The primary transport must be connected.
func (m *Manager) ConnectToNamespace(ctx context.Context, path string) error {
	path = normalizeNamespace(path)
	if err := validNamespace(path); err != nil {
		return err
	}
	if path == m.cfg.DefaultNamespace {
		return nil
	}

	m.mu.Lock()
	if m.status != StatusConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if ns, ok := m.namespaces[path]; ok {
		if ns.conn != nil {
			m.mu.Unlock()
			return nil
		}
		select {
		case <-ns.ready:
			// A finished, failed dial: fall through and dial again.
		default:
			ready := ns.ready
			m.mu.Unlock()
			select {
			case <-ready:
				return m.namespaceResult(path)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	ns := &namespaceConn{ready: make(chan struct{})}
	m.namespaces[path] = ns
	gen := m.gen
	req := DialRequest{
		Endpoint:      m.endpoint,
		Token:         m.token,
		Namespace:     path,
		ConnectionID:  uuid.NewString(),
		ClientVersion: m.cfg.ClientVersion,
	}
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	conn, err := m.dialer.Dial(dialCtx, req)
	cancel()

	m.mu.Lock()
	current, tracked := m.namespaces[path]
	if gen != m.gen || !tracked || current != ns {
		m.mu.Unlock()
		close(ns.ready)
		if conn != nil {
			_ = conn.Close()
		}
		if err != nil {
			return err
		}
		return ErrDisconnected
	}
	if err != nil {
		ns.err = err.Error()
		m.mu.Unlock()
		close(ns.ready)
		m.logger.Warn("namespace connect failed", logging.Namespace(path), logging.Error(err))
		m.publish()
		return fmt.Errorf("%w: %s: %w", ErrNamespaceUnavailable, path, err)
	}
	ns.conn = conn
	ns.err = ""
	open := m.openNamespacesLocked()
	m.mu.Unlock()
	close(ns.ready)

	m.wg.Add(1)
	go m.readLoop(gen, path, conn)

	m.sendMu.Lock()
	replayed := m.flushQueue(gen, path)
	m.sendMu.Unlock()

	m.metrics.SetNamespacesConnected(open)
	m.logger.Info("namespace connected", logging.Namespace(path), logging.Int("replayed", replayed))
	m.publish()
	return nil
}

func (m *Manager) namespaceResult(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[path]
	switch {
	case !ok:
		return ErrDisconnected
	case ns.conn != nil:
		return nil
	default:
		return fmt.Errorf("%w: %s: %s", ErrNamespaceUnavailable, path, ns.err)
	}
}

// handleNamespaceDrop marks a namespace down and fails its in-flight
// requests. The namespace is not redialed automatically.
func (m *Manager) handleNamespaceDrop(path string, conn Conn, err error) {
	m.mu.Lock()
	ns, ok := m.namespaces[path]
	if !ok || ns.conn != conn {
		m.mu.Unlock()
		return
	}
	ns.conn = nil
	if err != nil {
		ns.err = err.Error()
	} else {
		ns.err = ReasonServerDisconnect
	}
	pending := m.takePendingLocked(func(c *Call) bool { return c.namespace == path })
	open := m.openNamespacesLocked()
	m.mu.Unlock()

	_ = conn.Close()
	m.failCalls(pending, ErrDisconnected)
	m.metrics.SetNamespacesConnected(open)
	m.logger.Warn("namespace disconnected", logging.Namespace(path), logging.Error(err))
	m.publish()
}

// takeNamespacesLocked empties the namespace table and returns open conns
func (m *Manager) takeNamespacesLocked() []Conn {
	var conns []Conn
	for path, ns := range m.namespaces {
		if ns.conn != nil {
			conns = append(conns, ns.conn)
			ns.conn = nil
		}
		delete(m.namespaces, path)
	}
	return conns
}

func (m *Manager) openNamespacesLocked() int {
	n := 0
	for _, ns := range m.namespaces {
		if ns.conn != nil {
			n++
		}
	}
	return n
}
