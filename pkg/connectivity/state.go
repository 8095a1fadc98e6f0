package connectivity

import (
	"time"
)

// Status is the primary connection status
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Disconnect reasons. The first three are intentional and never trigger an
// automatic reconnect.
const (
	ReasonManual           = "manual"
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
)

func isIntentional(reason string) bool {
	switch reason {
	case ReasonManual, ReasonServerDisconnect, ReasonClientDisconnect:
		return true
	}
	return false
}

// NamespaceStatus tracks one secondary connection
type NamespaceStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// State is a read-only snapshot of the manager
type State struct {
	Status               Status                     `json:"status"`
	Attempts             int                        `json:"attempts"`
	LastConnectedAt      time.Time                  `json:"lastConnectedAt"`
	LastDisconnectReason string                     `json:"lastDisconnectReason,omitempty"`
	LastError            string                     `json:"lastError,omitempty"`
	Latency              time.Duration              `json:"latency"`
	ServerTime           time.Time                  `json:"serverTime"`
	PendingRequests      int                        `json:"pendingRequests"`
	QueuedEvents         int                        `json:"queuedEvents"`
	Namespaces           map[string]NamespaceStatus `json:"namespaces,omitempty"`
}

// Connected reports whether the primary transport is up
func (s State) Connected() bool {
	return s.Status == StatusConnected
}
