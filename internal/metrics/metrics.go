package metrics

import "sync"

// Event counter names.
const (
	ConnectionsAdmitted  = "connections_admitted"
	ConnectionsRejected  = "connections_rejected"
	ConnectionsReleased  = "connections_released"
	FramesInvalid        = "frames_invalid"
	FramesUnknownEvent   = "frames_unknown_event"
	MessagesForwarded    = "messages_forwarded"
	DropTargetOffline    = "drop_target_offline"
	DropSendBufferFull   = "drop_send_buffer_full"
	DropRateLimited      = "drop_rate_limited"
	CallsStarted         = "calls_started"
	CallsEnded           = "calls_ended"
	CallsEndedWithout    = "calls_end_without_active"
	CallsClearedOnLeave  = "calls_cleared_on_disconnect"
	PresenceSyncFailures = "presence_sync_failures"
)

// Event returns the counter name for an inbound event type.
func Event(name string) string {
	return "event_" + name
}

// Metrics is a concurrency-safe counter registry. A nil *Metrics discards
// increments so callers never have to guard.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
