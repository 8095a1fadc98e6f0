package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer opens transports over WebSocket. The namespace is
// appended to the endpoint path and the token is sent as a bearer header.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	// WriteTimeout bounds a single frame write when the caller's context
	// has no deadline
	WriteTimeout time.Duration
}

// NewWebSocketDialer returns a dialer with gorilla's defaults
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		WriteTimeout: 10 * time.Second,
	}
}

// Dial connects and waits for the server's connected frame. Canceling ctx
// abandons the wait.
func (d *WebSocketDialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	target, err := socketURL(req)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+req.Token)

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}
	// Closing the socket unblocks the ack read when ctx is canceled.
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	var ack Frame
	err = ws.ReadJSON(&ack)
	if !stop() {
		ws.Close()
		return nil, fmt.Errorf("awaiting connect ack: %w", ctx.Err())
	}
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("awaiting connect ack: %w", err)
	}
	switch ack.Type {
	case FrameConnected:
	case FrameDisconnect:
		ws.Close()
		var reason string
		_ = ack.Decode(&reason)
		return nil, fmt.Errorf("server refused connection: %s", reason)
	default:
		ws.Close()
		return nil, fmt.Errorf("unexpected %q frame before connect ack", ack.Type)
	}
	_ = ws.SetReadDeadline(time.Time{})

	return &wsConn{ws: ws, writeTimeout: d.WriteTimeout}, nil
}

func socketURL(req DialRequest) (string, error) {
	u, err := url.Parse(req.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	if ns := normalizeNamespace(req.Namespace); ns != "" && ns != "/" {
		u.Path = strings.TrimRight(u.Path, "/") + ns
	}

	q := u.Query()
	q.Set("clientVersion", req.ClientVersion)
	q.Set("connectionId", req.ConnectionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) WriteFrame(ctx context.Context, f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok && c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteJSON(f)
}

func (c *wsConn) ReadFrame() (*Frame, error) {
	var f Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return nil, ErrServerClosed
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, fmt.Errorf("closed by server (%d %s): %w", ce.Code, ce.Text, err)
		}
		return nil, err
	}
	return &f, nil
}

// Close sends a normal close frame and closes the socket
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, ReasonClientDisconnect)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
