package recording

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Factory opens a recorder for target. The meaning of target depends on
// the sink: a directory for "journal", ignored by "memory" and "nop".
// The returned closer may be nil.
type Factory func(target string) (Recorder, io.Closer, error)

var (
	registryMu sync.RWMutex
	sinks      = make(map[string]Factory)
)

func init() {
	Register("nop", func(string) (Recorder, io.Closer, error) { return Nop, nil, nil })
	Register("memory", func(string) (Recorder, io.Closer, error) { return NewMemory(), nil, nil })
	Register("journal", func(dir string) (Recorder, io.Closer, error) {
		j, err := OpenJournal(dir)
		if err != nil {
			return nil, nil, err
		}
		return j, j, nil
	})
}

// Register makes a sink available by name.
//
// Register panics if factory is nil or the name is already taken.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("recording: Register factory is nil")
	}
	if _, dup := sinks[name]; dup {
		panic("recording: Register called twice for " + name)
	}
	sinks[name] = factory
}

// Unregister removes a sink. Unknown names are ignored.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(sinks, name)
}

// Open creates a recorder from the named sink.
func Open(name, target string) (Recorder, io.Closer, error) {
	registryMu.RLock()
	factory, ok := sinks[name]
	registryMu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("recording: unknown sink %q", name)
	}
	return factory(target)
}

// Sinks returns the registered sink names, sorted.
func Sinks() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(sinks))
	for name := range sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
