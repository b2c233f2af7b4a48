package recording

import "sync"

// Recorder receives lifecycle events. Implementations must be safe for
// concurrent use; the presenter records from its frame loop and from
// Submit callers.
type Recorder interface {
	Record(Event) error
}

// Nop discards every event.
var Nop Recorder = nopRecorder{}

type nopRecorder struct{}

func (nopRecorder) Record(Event) error { return nil }

// Memory keeps events in memory. The zero value is ready to use.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory returns an empty in-memory recorder.
func NewMemory() *Memory { return &Memory{} }

// Record appends e.
func (m *Memory) Record(e Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events in order.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Filter returns the recorded events of the given kinds.
func (m *Memory) Filter(kinds ...Kind) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Reset drops all events.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}

// Tee records every event to all recorders and returns the first error.
func Tee(rs ...Recorder) Recorder { return tee(rs) }

type tee []Recorder

func (t tee) Record(e Event) error {
	var first error
	for _, r := range t {
		if err := r.Record(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
