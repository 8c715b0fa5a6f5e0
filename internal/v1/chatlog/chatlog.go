// Package chatlog is the bounded ring buffer of chat messages each GameRoom
// and the GlobalLobby keep so a newly attached or reconnecting connection
// can be handed recent history without replaying the full persisted event
// stream.
package chatlog

import "github.com/dicee-dev/dicee-server/internal/v1/protocol"

// DefaultCapacity is the default number of retained messages per room.
const DefaultCapacity = 100

// Log is a fixed-capacity FIFO of chat messages. Appending past capacity
// evicts the oldest entry.
type Log struct {
	capacity int
	messages []protocol.ChatMessageEvent
}

// New returns a Log with the given capacity. A capacity of 0 falls back to
// DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// Restore rebuilds a Log from a persisted snapshot, trimming to capacity if
// the stored snapshot is somehow larger (e.g. capacity was lowered).
func Restore(capacity int, messages []protocol.ChatMessageEvent) *Log {
	l := New(capacity)
	if len(messages) > l.capacity {
		messages = messages[len(messages)-l.capacity:]
	}
	l.messages = append(l.messages, messages...)
	return l
}

// Append adds a message, evicting the oldest entry if the log is at
// capacity.
func (l *Log) Append(msg protocol.ChatMessageEvent) {
	l.messages = append(l.messages, msg)
	if len(l.messages) > l.capacity {
		l.messages = l.messages[len(l.messages)-l.capacity:]
	}
}

// Snapshot returns a copy of the retained messages, oldest first, suitable
// both for persistence and for sending as room.state chat history.
func (l *Log) Snapshot() []protocol.ChatMessageEvent {
	out := make([]protocol.ChatMessageEvent, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len reports the number of retained messages.
func (l *Log) Len() int {
	return len(l.messages)
}
