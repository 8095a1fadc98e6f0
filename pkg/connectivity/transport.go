package connectivity

import (
	"context"
)

// Conn is one open transport, acknowledged by the server.
// WriteFrame may be called concurrently with ReadFrame.
type Conn interface {
	WriteFrame(ctx context.Context, f *Frame) error
	// ReadFrame blocks for the next frame. ErrServerClosed reports a
	// normal close from the server.
	ReadFrame() (*Frame, error)
	Close() error
}

// DialRequest describes a transport to open
type DialRequest struct {
	Endpoint      string
	Token         string
	Namespace     string
	ConnectionID  string
	ClientVersion string
}

// Dialer opens transports. Dial must honour ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Conn, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, req DialRequest) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	return f(ctx, req)
}
