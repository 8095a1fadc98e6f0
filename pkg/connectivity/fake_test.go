package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
)

// fakeConn is an in-memory transport. Tests push inbound frames with
// deliver and inspect written frames with frames/waitWrites.
type fakeConn struct {
	namespace string
	inbound   chan *Frame
	closed    chan struct{}
	closeOnce sync.Once
	readErr   error

	mu       sync.Mutex
	written  []*Frame
	writeErr error
	onWrite  func(*Frame)
}

func newFakeConn(namespace string) *fakeConn {
	return &fakeConn{
		namespace: namespace,
		inbound:   make(chan *Frame, 64),
		closed:    make(chan struct{}),
	}
}

func (c *fakeConn) WriteFrame(_ context.Context, f *Frame) error {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return io.ErrClosedPipe
	default:
	}
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	c.written = append(c.written, f)
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

func (c *fakeConn) ReadFrame() (*Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.closed:
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the transport failing underneath the manager
func (c *fakeConn) drop(err error) {
	c.readErr = err
	c.Close()
}

func (c *fakeConn) deliver(f *Frame) {
	c.inbound <- f
}

func (c *fakeConn) respond(t *testing.T, requestID string, data any, remoteErr any) {
	t.Helper()
	body := map[string]any{"requestId": requestID}
	if data != nil {
		body["data"] = data
	}
	if remoteErr != nil {
		body["error"] = remoteErr
	}
	f, err := NewEventFrame(eventResponse, body)
	if err != nil {
		t.Fatal(err)
	}
	c.deliver(f)
}

func (c *fakeConn) frames() []*Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Frame(nil), c.written...)
}

func (c *fakeConn) events() []string {
	var out []string
	for _, f := range c.frames() {
		out = append(out, f.Event)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out fakeConns, failing the first `failures` dials
// (or every dial while failAll is set).
type fakeDialer struct {
	mu       sync.Mutex
	requests []DialRequest
	failures int
	failAll  bool
	block    bool
	conns    chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	fail := d.failAll || d.failures > 0
	if d.failures > 0 {
		d.failures--
	}
	block := d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn(req.Namespace)
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setFailAll(v bool) {
	d.mu.Lock()
	d.failAll = v
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *fakeDialer) lastRequest() DialRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[len(d.requests)-1]
}

func (d *fakeDialer) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection dialed")
		return nil
	}
}

func testConfig() Config {
	return Config{
		ReconnectBaseDelay:   5 * time.Millisecond,
		ReconnectMaxDelay:    20 * time.Millisecond,
		ReconnectGrowth:      1.5,
		MaxReconnectAttempts: 5,
		ConnectTimeout:       time.Second,
		RequestTimeout:       time.Second,
		HeartbeatInterval:    time.Hour,
	}
}

func newTestManager(t *testing.T, cfg Config, dialer Dialer, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{
		WithLogger(logging.NewNopLogger()),
		WithJitter(func() float64 { return 0 }),
	}, opts...)
	m, err := New(cfg, dialer, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func requestIDOf(t *testing.T, f *Frame) string {
	t.Helper()
	var body struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(f.Data, &body); err != nil {
		t.Fatalf("decode request frame: %v", err)
	}
	return body.RequestID
}
