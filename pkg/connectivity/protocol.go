package connectivity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FrameType identifies a wire frame
type FrameType string

const (
	// FrameConnected is the server's acknowledgement of a new connection
	FrameConnected FrameType = "connected"
	// FrameEvent carries a named event and its payload
	FrameEvent FrameType = "event"
	// FrameDisconnect announces an intentional close; Data holds the reason
	FrameDisconnect FrameType = "disconnect"
)

const (
	eventResponse = "response"
	eventPing     = "ping"

	requestIDField = "requestId"
)

// Frame is the JSON envelope exchanged with the server
type Frame struct {
	Type      FrameType       `json:"type"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"ts"`
}

// NewEventFrame encodes payload as an event frame
func NewEventFrame(event string, payload any) (*Frame, error) {
	f := &Frame{Type: FrameEvent, Event: event, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Data = data
	}
	return f, nil
}

// Decode decodes frame data into v
func (f *Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

// responsePayload is the body of a "response" event
type responsePayload struct {
	RequestID string          `json:"requestId"`
	Error     json.RawMessage `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (r responsePayload) failed() bool {
	return len(r.Error) > 0 && string(r.Error) != "null" && string(r.Error) != "false"
}

type pingPayload struct {
	ClientTime int64 `json:"clientTime"`
}

type pongPayload struct {
	ServerTime int64 `json:"serverTime"`
}

// withRequestID attaches the correlation id to payload. Objects gain a
// requestId field; anything else is wrapped as {"requestId", "data"}.
func withRequestID(payload any, id string) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var obj map[string]json.RawMessage
	if payload != nil && json.Unmarshal(raw, &obj) == nil && obj != nil {
		idRaw, _ := json.Marshal(id)
		obj[requestIDField] = idRaw
		return json.Marshal(obj)
	}

	wrapped := map[string]any{requestIDField: id}
	if payload != nil {
		wrapped["data"] = json.RawMessage(raw)
	}
	return json.Marshal(wrapped)
}

func validNamespace(ns string) error {
	if !strings.HasPrefix(ns, "/") {
		return fmt.Errorf("namespace %q must start with /", ns)
	}
	if strings.ContainsAny(ns, " ?#") {
		return fmt.Errorf("namespace %q contains invalid characters", ns)
	}
	return nil
}

// normalizeNamespace turns "chat" and "/chat/" into "/chat"
func normalizeNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return ""
	}
	if !strings.HasPrefix(ns, "/") {
		ns = "/" + ns
	}
	if len(ns) > 1 {
		ns = strings.TrimRight(ns, "/")
	}
	return ns
}
