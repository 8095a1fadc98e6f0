package connectivity

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
)

// Listener receives the data of an inbound event
type Listener func(data json.RawMessage)

type listenerKey struct {
	namespace string
	event     string
}

// AddEventListener registers fn for event on the primary transport, or on
// a namespace given WithNamespace. Listeners survive reconnects. A panic in
// fn is recovered and logged. The returned function unsubscribes.
func (m *Manager) AddEventListener(event string, fn Listener, opts ...CallOption) func() {
	o := m.callOptions(opts)
	key := listenerKey{namespace: o.namespace, event: event}

	m.mu.Lock()
	m.nextListenerID++
	id := m.nextListenerID
	if m.listeners[key] == nil {
		m.listeners[key] = make(map[uint64]Listener)
	}
	m.listeners[key][id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.listeners[key]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.listeners, key)
			}
		}
	}
}

// dispatch runs the listeners for frame on the reading goroutine
func (m *Manager) dispatch(namespace string, frame *Frame) {
	m.mu.Lock()
	set := m.listeners[listenerKey{namespace: namespace, event: frame.Event}]
	fns := make([]Listener, 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		m.safeCall(frame.Event, func() { fn(frame.Data) })
	}
}

func (m *Manager) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("listener panicked",
				logging.Event(name),
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}
