package broker

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// subscribeConn is the slice of Connection the registry drives. The
// registry is the only caller of broker-level subscribe/unsubscribe.
type subscribeConn interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
}

// ListenerHandle identifies one listener registration for removal.
type ListenerHandle struct {
	topic string
	id    uint64
}

// Topic returns the topic this handle is registered on.
func (h ListenerHandle) Topic() string { return h.topic }

type topicEntry struct {
	qos       byte
	nextID    uint64
	listeners map[uint64]MessageHandler

	// ready is closed once the broker subscribe for this entry has
	// resolved; err holds its failure, if any. Listeners that join while
	// the subscribe is in flight wait on ready so a handle is never
	// handed out for a topic the broker rejected.
	ready chan struct{}
	err   error
}

// Registry multiplexes one broker connection across many independent
// listeners. N listeners on the same topic cost exactly one broker-level
// subscription: SUBSCRIBE is issued on the 0→1 listener transition and
// UNSUBSCRIBE on 1→0, and the registry is the single writer of that
// invariant. It is also the source of truth for what should be subscribed
// after a reconnect, since the connection uses clean sessions.
//
// Listener registration, removal, and dispatch bookkeeping are serialized
// by one mutex; listeners themselves are invoked outside the lock against
// a snapshot so a slow listener never extends the critical section.
type Registry struct {
	conn subscribeConn

	mu     sync.Mutex
	topics map[string]*topicEntry
}

// NewRegistry creates a registry over the given connection.
func NewRegistry(conn subscribeConn) *Registry {
	return &Registry{
		conn:   conn,
		topics: make(map[string]*topicEntry),
	}
}

// AddListener registers fn for messages on topic. The first listener for
// a topic triggers the broker subscription; later listeners share it, and
// listeners arriving while that subscription is still in flight share its
// outcome. The qos of the first listener wins for the shared subscription.
//
// The returned handle must be released with RemoveListener when the owning
// feature goes away.
func (r *Registry) AddListener(topic string, qos byte, fn MessageHandler) (ListenerHandle, error) {
	if topic == "" {
		return ListenerHandle{}, fmt.Errorf("broker: empty topic")
	}
	if fn == nil {
		return ListenerHandle{}, fmt.Errorf("broker: nil listener for %s", topic)
	}

	r.mu.Lock()
	entry, ok := r.topics[topic]
	first := !ok
	if first {
		entry = &topicEntry{
			qos:       qos,
			listeners: make(map[uint64]MessageHandler),
			ready:     make(chan struct{}),
		}
		r.topics[topic] = entry
	}
	entry.nextID++
	id := entry.nextID
	entry.listeners[id] = fn
	r.mu.Unlock()

	if first {
		// The broker round-trip happens outside the lock. A failure
		// drops the whole entry, failing every listener that joined
		// while the subscribe was in flight.
		err := r.conn.Subscribe(topic, qos, r.inbound)
		r.mu.Lock()
		entry.err = err
		if err != nil {
			delete(r.topics, topic)
		}
		close(entry.ready)
		r.mu.Unlock()
		if err != nil {
			return ListenerHandle{}, err
		}
	} else {
		<-entry.ready
		if entry.err != nil {
			return ListenerHandle{}, entry.err
		}
	}

	return ListenerHandle{topic: topic, id: id}, nil
}

// RemoveListener releases a registration. When the last listener for a
// topic is removed the broker subscription is dropped as well.
func (r *Registry) RemoveListener(h ListenerHandle) {
	r.mu.Lock()
	entry, ok := r.topics[h.topic]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := entry.listeners[h.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(entry.listeners, h.id)
	last := len(entry.listeners) == 0
	if last {
		delete(r.topics, h.topic)
	}
	r.mu.Unlock()

	if last {
		if err := r.conn.Unsubscribe(h.topic); err != nil {
			// Nothing to roll back: with the entry gone a redelivered
			// message simply finds no listeners.
			log.Printf("broker: unsubscribe %s: %v", h.topic, err)
		}
	}
}

// inbound is the shared connection-level handler for every registry
// subscription.
func (r *Registry) inbound(topic string, payload []byte) {
	r.Dispatch(topic, payload)
}

// Dispatch fans one inbound message out to every listener registered on
// its topic, in registration order. A panicking listener is isolated and
// logged; delivery to the remaining listeners continues. Messages on one
// topic reach listeners in the order the broker delivered them; dispatch
// introduces no reordering.
func (r *Registry) Dispatch(topic string, payload []byte) {
	r.mu.Lock()
	entry, ok := r.topics[topic]
	if !ok {
		r.mu.Unlock()
		return
	}
	ids := make([]uint64, 0, len(entry.listeners))
	for id := range entry.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]MessageHandler, len(ids))
	for i, id := range ids {
		fns[i] = entry.listeners[id]
	}
	r.mu.Unlock()

	for _, fn := range fns {
		invoke(fn, topic, payload)
	}
}

func invoke(fn MessageHandler, topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("broker: listener panic on %s: %v", topic, rec)
		}
	}()
	fn(topic, payload)
}

// Resubscribe restores every tracked topic on the broker. The connection
// calls this from its on-connect hook after a reconnect.
func (r *Registry) Resubscribe() {
	r.mu.Lock()
	type sub struct {
		topic string
		qos   byte
	}
	subs := make([]sub, 0, len(r.topics))
	for topic, entry := range r.topics {
		subs = append(subs, sub{topic, entry.qos})
	}
	r.mu.Unlock()

	for _, s := range subs {
		if err := r.conn.Subscribe(s.topic, s.qos, r.inbound); err != nil {
			log.Printf("broker: resubscribe %s: %v", s.topic, err)
		}
	}
}

// ListenerCount returns how many listeners are registered on topic.
func (r *Registry) ListenerCount(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.topics[topic]
	if !ok {
		return 0
	}
	return len(entry.listeners)
}

// TopicCount returns how many distinct topics currently have listeners.
func (r *Registry) TopicCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}
