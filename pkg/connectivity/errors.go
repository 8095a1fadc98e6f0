package connectivity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConnected is returned when the target transport is down and
	// queuing was disabled for the call
	ErrNotConnected = errors.New("not connected")
	// ErrDisconnected completes requests whose transport went away
	ErrDisconnected = errors.New("disconnected before response")
	// ErrRequestTimeout is wrapped with the event name when a request times out
	ErrRequestTimeout = errors.New("request timeout")
	// ErrNamespaceUnavailable wraps a failed secondary transport dial
	ErrNamespaceUnavailable = errors.New("namespace unavailable")
	// ErrTokenExpired is recorded when the bearer token is a JWT past its exp
	ErrTokenExpired = errors.New("session token expired")
	// ErrServerClosed reports a normal close initiated by the server
	ErrServerClosed = errors.New("server closed connection")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("connectivity manager closed")
)

// RemoteError is an application-level error carried in a response frame
type RemoteError struct {
	Event   string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Event, e.Message)
}

// remoteMessage extracts a human message from a response error payload,
// which servers send either as a string or as an object with "message".
func remoteMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(raw))
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrRequestTimeout)
}
