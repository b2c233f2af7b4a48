package recording

import (
	"fmt"

	"github.com/gogpu/present/timeline"
)

// Kind identifies a lifecycle event.
type Kind uint8

// Event kinds.
const (
	KindSubmit Kind = iota + 1
	KindLatch
	KindForcedLatch
	KindCommit
	KindComplete
	KindRelease
	KindPresent
	KindTrusted
	KindSyncSubmit
	KindSyncLost
)

var kindNames = [...]string{
	KindSubmit:      "submit",
	KindLatch:       "latch",
	KindForcedLatch: "forced-latch",
	KindCommit:      "commit",
	KindComplete:    "complete",
	KindRelease:     "release",
	KindPresent:     "present",
	KindTrusted:     "trusted",
	KindSyncSubmit:  "sync-submit",
	KindSyncLost:    "sync-lost",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) || kindNames[k] == "" {
		return nil, fmt.Errorf("recording: unknown kind %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name != "" && name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("recording: unknown kind %q", b)
}

// Event is one step in the life of a transaction, buffer or frame.
// Fields that do not apply to a kind are left zero.
type Event struct {
	Kind        Kind               `json:"kind"`
	Time        timeline.Timestamp `json:"time"`
	Display     uint32             `json:"display,omitempty"`
	Transaction uint64             `json:"txn,omitempty"`
	Layer       string             `json:"layer,omitempty"`
	Frame       timeline.VsyncID   `json:"frame,omitempty"`
	PresentTime timeline.Timestamp `json:"present,omitempty"`
	Detail      string             `json:"detail,omitempty"`
}

// String formats the event for trace output.
func (e Event) String() string {
	s := fmt.Sprintf("%v %-12s", e.Time, e.Kind)
	if e.Display != 0 {
		s += fmt.Sprintf(" display=%d", e.Display)
	}
	if e.Transaction != 0 {
		s += fmt.Sprintf(" txn=%d", e.Transaction)
	}
	if e.Layer != "" {
		s += " layer=" + e.Layer
	}
	if e.Frame != 0 {
		s += fmt.Sprintf(" frame=%d", e.Frame)
	}
	if e.PresentTime != 0 {
		s += fmt.Sprintf(" present=%v", e.PresentTime)
	}
	if e.Detail != "" {
		s += " " + e.Detail
	}
	return s
}
