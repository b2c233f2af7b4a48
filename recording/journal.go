package recording

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/wal"
)

// ErrJournalClosed is returned when recording to a closed journal.
var ErrJournalClosed = errors.New("recording: journal closed")

// Entry is one journal record.
type Entry struct {
	Index   uint64    `json:"-"`
	Session uuid.UUID `json:"session"`
	Event   Event     `json:"event"`
}

// Journal is an append-only event log on disk. Every process that opens
// the journal appends under a fresh session id, so interleaved runs can be
// told apart when replaying.
type Journal struct {
	mu      sync.Mutex
	log     *wal.Log
	idx     uint64 // last written index
	session uuid.UUID
	closed  bool
}

// OpenJournal opens or creates the journal in dir.
func OpenJournal(dir string) (*Journal, error) {
	log, err := wal.Open(dir, &wal.Options{NoSync: true})
	if err != nil {
		return nil, fmt.Errorf("recording: open journal: %w", err)
	}
	// The log counts from 1; LastIndex is 0 when it is empty.
	idx, err := log.LastIndex()
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("recording: journal last index: %w", err)
	}
	return &Journal{log: log, idx: idx, session: uuid.New()}, nil
}

// Session returns the id stamped on events written through j.
func (j *Journal) Session() uuid.UUID { return j.session }

// Record appends e.
func (j *Journal) Record(e Event) error {
	data, err := json.Marshal(Entry{Session: j.session, Event: e})
	if err != nil {
		return fmt.Errorf("recording: encode event: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	if err := j.log.Write(j.idx+1, data); err != nil {
		return fmt.Errorf("recording: write entry %d: %w", j.idx+1, err)
	}
	j.idx++
	return nil
}

// Len returns the number of entries in the journal.
func (j *Journal) Len() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	first, err := j.log.FirstIndex()
	if err != nil {
		return 0, err
	}
	if first == 0 {
		return 0, nil
	}
	return int(j.idx - first + 1), nil
}

// Replay calls fn for every entry in order. It stops at the first error.
func (j *Journal) Replay(fn func(Entry) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	return replay(j.log, fn)
}

// Truncate drops entries before index.
func (j *Journal) Truncate(index uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.log.TruncateFront(index)
}

// Sync flushes the journal to disk.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.log.Sync()
}

// Close syncs and closes the journal. Further calls are no-ops.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.log.Sync(); err != nil {
		j.log.Close()
		return err
	}
	return j.log.Close()
}

// ReadJournal replays the journal in dir without keeping it open.
func ReadJournal(dir string, fn func(Entry) error) error {
	log, err := wal.Open(dir, &wal.Options{NoSync: true})
	if err != nil {
		return fmt.Errorf("recording: open journal: %w", err)
	}
	defer log.Close()
	return replay(log, fn)
}

func replay(log *wal.Log, fn func(Entry) error) error {
	first, err := log.FirstIndex()
	if err != nil {
		return fmt.Errorf("recording: journal first index: %w", err)
	}
	if first == 0 {
		return nil
	}
	last, err := log.LastIndex()
	if err != nil {
		return fmt.Errorf("recording: journal last index: %w", err)
	}
	for i := first; i <= last; i++ {
		data, err := log.Read(i)
		if err != nil {
			return fmt.Errorf("recording: read entry %d: %w", i, err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("recording: decode entry %d: %w", i, err)
		}
		e.Index = i
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
