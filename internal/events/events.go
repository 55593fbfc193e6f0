package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event is a structured log entry for the dashboard's live event feed and
// the persisted event history.
type Event struct {
	Timestamp string         `json:"ts"`
	Level     string         `json:"level"`
	Name      string         `json:"event"`
	Message   string         `json:"msg,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Subscriber receives broadcast events. The channel is buffered; a slow
// subscriber drops events rather than blocking Emit.
type Subscriber chan Event

// Store persists events. Implemented by the Postgres store.
type Store interface {
	Append(ts time.Time, level, name, msg string, fields map[string]any) error
}

// Log is the process-wide event log: a bounded in-memory ring for the UI's
// recent-events view, fan-out to WebSocket subscribers, and best-effort
// persistence. Constructed once in main and injected everywhere.
type Log struct {
	buffer *RingBuffer

	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
	store       Store

	storeErrOnce sync.Once
}

// NewLog creates an event log retaining the last size events in memory.
func NewLog(size int) *Log {
	return &Log{
		buffer:      NewRingBuffer(size),
		subscribers: make(map[Subscriber]struct{}),
	}
}

// SetStore attaches a persistence backend. May be left unset in tests.
func (l *Log) SetStore(store Store) {
	l.mu.Lock()
	l.store = store
	l.mu.Unlock()
}

// Emit records an event: validates the name, appends to the ring buffer,
// persists, and broadcasts to subscribers. A persistence failure is
// reported once into the ring buffer and never fails the emit, so callers
// on hot paths can ignore the returned bytes.
func (l *Log) Emit(level, name, msg string, fields map[string]any) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	l.buffer.Add(e)

	l.mu.RLock()
	store := l.store
	l.mu.RUnlock()

	if store != nil {
		if err := store.Append(ts, level, name, msg, fields); err != nil {
			// Report once, directly into the buffer: going through Emit
			// again would recurse while the store keeps failing.
			l.storeErrOnce.Do(func() {
				l.buffer.Add(Event{
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
					Level:     "error",
					Name:      "system.error",
					Message:   "event store append failed",
					Fields:    map[string]any{"error": err.Error()},
				})
			})
		}
	}

	l.broadcast(e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	return b, nil
}

// Subscribe registers a new live-feed subscriber.
func (l *Log) Subscribe() Subscriber {
	ch := make(Subscriber, 64)
	l.mu.Lock()
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (l *Log) Unsubscribe(sub Subscriber) {
	l.mu.Lock()
	delete(l.subscribers, sub)
	l.mu.Unlock()
	close(sub)
}

func (l *Log) broadcast(e Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for sub := range l.subscribers {
		select {
		case sub <- e:
		default:
			// Buffer full; drop for this slow subscriber.
		}
	}
}

// SubscriberCount returns the number of live-feed subscribers.
func (l *Log) SubscriberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscribers)
}

// Snapshot returns all buffered events, oldest first.
func (l *Log) Snapshot() []Event {
	return l.buffer.Snapshot()
}

// Recent returns the last n buffered events, oldest first.
func (l *Log) Recent(n int) []Event {
	all := l.buffer.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}
