// Package transport decouples connection handling from the concrete
// mechanism that moves bytes. Callers open listeners, establish and
// accept connections, read and write raw byte streams, and multiplex
// readiness over many handles through a Dispatcher; the backend doing
// the actual work is swappable at startup.
//
// The layer is meant to be driven from a single control-flow context.
// No function blocks except Poll, and Poll blocks only for the
// duration the caller allows via its timeout.
package transport

import "strings"

// Handle identifies a connection or listener. It is opaque: the TCP
// backend uses it directly as a file descriptor, other backends map it
// to internal connection objects. Handles are not portable across
// backends.
type Handle int

// InvalidHandle marks an uninitialized or released handle.
const InvalidHandle = Handle(-1)

func (h Handle) Valid() bool {
	return h >= 0
}

// Event is a bitmask of readiness conditions.
type Event int

const (
	Readable = Event(0x1)
	Writable = Event(0x2)
	Error    = Event(0x4)
)

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	parts := make([]string, 0, 3)
	if e&Readable != 0 {
		parts = append(parts, "readable")
	}
	if e&Writable != 0 {
		parts = append(parts, "writable")
	}
	if e&Error != 0 {
		parts = append(parts, "error")
	}
	return strings.Join(parts, "|")
}

// PollEntry is a single slot in a PollSet. The caller fills Handle and
// Requested; Poll resets Returned before waiting and fills it with the
// events that fired. Returned is only meaningful for entries with a
// valid handle.
type PollEntry struct {
	Handle    Handle
	Requested Event
	Returned  Event
}

// PollSet is an ordered, fixed-capacity interest set consumed by a
// backend's Poll. Capacity is a sizing contract: it must exceed the
// caller's maximum concurrent connection count so a full connection
// table plus listeners always fits. NewPollSet enforces that contract
// at construction.
type PollSet struct {
	entries []PollEntry
	count   int
}

func NewPollSet(capacity, maxConns int) (*PollSet, error) {
	if capacity <= 0 || capacity <= maxConns {
		return nil, pollSetTooSmall
	}
	return &PollSet{entries: make([]PollEntry, capacity)}, nil
}

// Add appends a (handle, requested events) entry.
func (ps *PollSet) Add(h Handle, requested Event) error {
	if ps.count >= len(ps.entries) {
		return pollSetFull
	}
	ps.entries[ps.count] = PollEntry{Handle: h, Requested: requested}
	ps.count++
	return nil
}

func (ps *PollSet) Len() int {
	return ps.count
}

func (ps *PollSet) Cap() int {
	return len(ps.entries)
}

// Entry returns the i-th entry for inspection after Poll. The pointer
// stays valid until the next Clear.
func (ps *PollSet) Entry(i int) *PollEntry {
	return &ps.entries[i]
}

// Clear empties the set so it can be refilled for the next Poll call.
func (ps *PollSet) Clear() {
	ps.count = 0
}
