package connectivity

import (
	"encoding/json"
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
)

// heartbeat pings the server every HeartbeatInterval until stop closes.
// A failed ping is only logged; the transport's own close decides whether
// the connection is gone.
func (m *Manager) heartbeat(gen uint64, stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ping(gen, stop)
		}
	}
}

func (m *Manager) ping(gen uint64, stop <-chan struct{}) {
	sent := m.now()
	call := m.Request(eventPing, pingPayload{ClientTime: sent.UnixMilli()},
		WithTimeout(m.cfg.HeartbeatTimeout), WithoutQueue())

	select {
	case <-call.Done():
	case <-stop:
		return
	}

	data, err := call.Result()
	if err != nil {
		m.metrics.RecordHeartbeat(0, err)
		m.logger.Warn("heartbeat failed", logging.Error(err))
		return
	}

	latency := m.now().Sub(sent)
	var pong pongPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &pong); err != nil {
			m.logger.Debug("unreadable pong", logging.Error(err))
		}
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.latency = latency
	if pong.ServerTime > 0 {
		m.serverTime = time.UnixMilli(pong.ServerTime)
	}
	m.mu.Unlock()

	m.metrics.RecordHeartbeat(latency, nil)
	m.logger.Debug("heartbeat", logging.Latency(latency))
	m.publish()
}
