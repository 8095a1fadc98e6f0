package connectivity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
)

// EmitStatus reports what happened to an emitted event
type EmitStatus int

const (
	// EmitRejected means the event was not sent and not queued
	EmitRejected EmitStatus = iota
	// EmitSent means the frame was written to the transport
	EmitSent
	// EmitQueued means the event waits for the next connect
	EmitQueued
)

func (s EmitStatus) String() string {
	switch s {
	case EmitSent:
		return "sent"
	case EmitQueued:
		return "queued"
	default:
		return "rejected"
	}
}

// CallOption configures Emit, Request and AddEventListener
type CallOption func(*callOptions)

type callOptions struct {
	namespace string
	timeout   time.Duration
	queue     bool
}

// WithNamespace targets a secondary namespace instead of the primary
func WithNamespace(ns string) CallOption {
	return func(o *callOptions) { o.namespace = normalizeNamespace(ns) }
}

// WithTimeout overrides the request timeout
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithoutQueue fails instead of queuing when the transport is down
func WithoutQueue() CallOption {
	return func(o *callOptions) { o.queue = false }
}

func (m *Manager) callOptions(opts []CallOption) callOptions {
	o := callOptions{timeout: m.cfg.RequestTimeout, queue: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.namespace == m.cfg.DefaultNamespace {
		o.namespace = ""
	}
	return o
}

type queuedEvent struct {
	frame *Frame
	opts  callOptions
	call  *Call
}

// Call is the handle of a correlated request. Exactly one outcome is ever
// recorded: a response, a remote error, a timeout or a disconnect.
type Call struct {
	ID        string
	Event     string
	namespace string
	timeout   time.Duration

	timer  *time.Timer
	sentAt time.Time

	once sync.Once
	done chan struct{}
	data json.RawMessage
	err  error
}

func newCall(event string, o callOptions) *Call {
	return &Call{
		ID:        uuid.NewString(),
		Event:     event,
		namespace: o.namespace,
		timeout:   o.timeout,
		done:      make(chan struct{}),
	}
}

// Done is closed once the call has an outcome
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (c *Call) Result() (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.data, c.err
	default:
		return nil, fmt.Errorf("request %s still pending", c.ID)
	}
}

// Wait blocks until the call completes or ctx is done. Cancelling ctx
// abandons the wait only; the call still reaches its own outcome.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.data, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the call and decodes its data into v
func (c *Call) Decode(ctx context.Context, v any) error {
	data, err := c.Wait(ctx)
	if err != nil {
		return err
	}
	if len(data) == 0 || v == nil {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (c *Call) complete(data json.RawMessage, err error) bool {
	first := false
	c.once.Do(func() {
		c.data, c.err = data, err
		close(c.done)
		first = true
	})
	return first
}

// Emit sends a fire-and-forget event. While the target transport is down
// the event is queued unless WithoutQueue is given, in which case
// ErrNotConnected is returned.
func (m *Manager) Emit(event string, payload any, opts ...CallOption) (EmitStatus, error) {
	o := m.callOptions(opts)
	frame, err := NewEventFrame(event, payload)
	if err != nil {
		return EmitRejected, fmt.Errorf("encode %s: %w", event, err)
	}
	return m.send(frame, o, nil)
}

// Request sends an event that expects a correlated "response" event. The
// returned Call completes with the response data, a *RemoteError, a
// timeout or ErrDisconnected. The timeout starts when the frame is written,
// so a queued request does not time out while waiting for a connection.
func (m *Manager) Request(event string, payload any, opts ...CallOption) *Call {
	o := m.callOptions(opts)
	call := newCall(event, o)

	data, err := withRequestID(payload, call.ID)
	if err != nil {
		m.finish(call, nil, fmt.Errorf("encode %s: %w", event, err))
		return call
	}
	frame := &Frame{Type: FrameEvent, Event: event, Data: data, Timestamp: m.now().UnixMilli()}

	if _, err := m.send(frame, o, call); err != nil {
		m.finish(call, nil, err)
	}
	return call
}

// send writes frame now or queues it. call is non-nil for requests.
func (m *Manager) send(frame *Frame, o callOptions, call *Call) (EmitStatus, error) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return EmitRejected, ErrClosed
	}
	conn := m.connForLocked(o.namespace)
	if conn == nil {
		if !o.queue {
			m.mu.Unlock()
			m.metrics.RecordEmit("rejected", m.queueLen())
			return EmitRejected, ErrNotConnected
		}
		m.queue = append(m.queue, queuedEvent{frame: frame, opts: o, call: call})
		depth := len(m.queue)
		m.mu.Unlock()

		m.metrics.RecordEmit("queued", depth)
		m.logger.Debug("event queued", logging.Event(frame.Event), logging.Namespace(o.namespace), logging.Count(depth))
		m.publish()
		return EmitQueued, nil
	}
	gen := m.gen
	if call != nil {
		m.registerLocked(call)
	}
	m.mu.Unlock()

	if err := m.write(conn, frame); err != nil {
		if call != nil {
			if m.unregister(call) {
				m.finish(call, nil, fmt.Errorf("send %s: %w", frame.Event, err))
			}
			return EmitRejected, nil
		}
		if o.queue && m.requeue(gen, []queuedEvent{{frame: frame, opts: o}}) {
			m.logger.Debug("write failed, event queued", logging.Event(frame.Event), logging.Error(err))
			return EmitQueued, nil
		}
		m.metrics.RecordEmit("rejected", m.queueLen())
		return EmitRejected, fmt.Errorf("send %s: %w", frame.Event, err)
	}

	m.metrics.RecordEmit("sent", m.queueLen())
	if call != nil {
		m.publish()
	}
	return EmitSent, nil
}

func (m *Manager) write(conn Conn, frame *Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	return conn.WriteFrame(ctx, frame)
}

func (m *Manager) queueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// connForLocked returns the open transport for namespace ("" = primary)
func (m *Manager) connForLocked(namespace string) Conn {
	if namespace == "" {
		if m.status != StatusConnected {
			return nil
		}
		return m.conn
	}
	if ns, ok := m.namespaces[namespace]; ok {
		return ns.conn
	}
	return nil
}

// registerLocked adds call to the pending map and starts its timeout
func (m *Manager) registerLocked(call *Call) {
	call.sentAt = m.now()
	m.pending[call.ID] = call
	id := call.ID
	call.timer = time.AfterFunc(call.timeout, func() { m.expire(id) })
}

// unregister removes call from the pending map. It reports false if the
// call already left the map through another outcome.
func (m *Manager) unregister(call *Call) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[call.ID] != call {
		return false
	}
	delete(m.pending, call.ID)
	call.timer.Stop()
	return true
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	call, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.logger.Warn("request timed out", logging.Event(call.Event), logging.RequestID(id))
	m.finish(call, nil, fmt.Errorf("%w for event: %s", ErrRequestTimeout, call.Event))
}

// resolve completes the pending call named by a "response" frame
func (m *Manager) resolve(frame *Frame) {
	var resp responsePayload
	if err := frame.Decode(&resp); err != nil || resp.RequestID == "" {
		m.logger.Debug("malformed response frame", logging.Error(err))
		return
	}

	m.mu.Lock()
	call, ok := m.pending[resp.RequestID]
	if ok {
		delete(m.pending, resp.RequestID)
		call.timer.Stop()
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("response for unknown request", logging.RequestID(resp.RequestID))
		return
	}

	if resp.failed() {
		m.finish(call, nil, &RemoteError{Event: call.Event, Message: remoteMessage(resp.Error)})
		return
	}
	m.finish(call, resp.Data, nil)
}

// finish records the outcome of call exactly once
func (m *Manager) finish(call *Call, data json.RawMessage, err error) {
	if !call.complete(data, err) {
		return
	}

	outcome := "success"
	switch {
	case err == nil:
	case isTimeout(err):
		outcome = "timeout"
	case err == ErrDisconnected || err == ErrNotConnected || err == ErrClosed:
		outcome = "disconnected"
	default:
		outcome = "error"
	}

	var elapsed time.Duration
	if !call.sentAt.IsZero() {
		elapsed = m.now().Sub(call.sentAt)
	}
	m.mu.Lock()
	pending := len(m.pending)
	m.mu.Unlock()
	m.metrics.RecordRequest(outcome, elapsed, pending)
}

// takePendingLocked removes and returns pending calls matching keep
// (all when keep is nil), stopping their timers. Caller holds mu.
func (m *Manager) takePendingLocked(keep func(*Call) bool) []*Call {
	var out []*Call
	for id, call := range m.pending {
		if keep != nil && !keep(call) {
			continue
		}
		delete(m.pending, id)
		call.timer.Stop()
		out = append(out, call)
	}
	return out
}

func (m *Manager) failCalls(calls []*Call, err error) {
	for _, call := range calls {
		m.finish(call, nil, err)
	}
}

// flushQueue writes the queued events for namespace in order and removes
// them from the queue. Caller holds sendMu. Events for other namespaces
// keep their place. If a write fails, the unsent remainder goes back to
// the front of the queue.
func (m *Manager) flushQueue(gen uint64, namespace string) int {
	m.mu.Lock()
	conn := m.connForLocked(namespace)
	if conn == nil || gen != m.gen || len(m.queue) == 0 {
		m.mu.Unlock()
		return 0
	}
	var batch, rest []queuedEvent
	for _, q := range m.queue {
		if q.opts.namespace == namespace {
			batch = append(batch, q)
		} else {
			rest = append(rest, q)
		}
	}
	m.queue = rest
	for _, q := range batch {
		if q.call != nil {
			m.registerLocked(q.call)
		}
	}
	m.mu.Unlock()

	for i, q := range batch {
		if err := m.write(conn, q.frame); err != nil {
			m.logger.Warn("replay interrupted", logging.Event(q.frame.Event), logging.Error(err))
			var unsent []queuedEvent
			for _, u := range batch[i:] {
				if u.call == nil || m.unregister(u.call) {
					unsent = append(unsent, u)
				}
			}
			m.requeue(gen, unsent)
			return i
		}
		m.logger.Debug("replayed event", logging.Event(q.frame.Event), logging.Namespace(namespace))
	}
	return len(batch)
}

// requeue puts events back at the front of the queue. If the manager was
// torn down since gen, the events are dropped and their calls fail.
func (m *Manager) requeue(gen uint64, events []queuedEvent) bool {
	if len(events) == 0 {
		return true
	}
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		for _, q := range events {
			if q.call != nil {
				m.finish(q.call, nil, ErrDisconnected)
			}
		}
		return false
	}
	m.queue = append(append([]queuedEvent(nil), events...), m.queue...)
	m.mu.Unlock()
	m.publish()
	return true
}
