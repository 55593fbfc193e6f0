// Package camera fans live camera frames out from the broker to UI
// subscribers. Frames are high-frequency and lossy: delivery is
// best-effort at the lowest broker priority, and slow subscribers drop
// frames rather than stalling the feed.
package camera

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/mfeltner/homelink/internal/broker"
)

// Frame is one decoded camera still.
type Frame struct {
	DeviceID   string
	Image      []byte
	ReceivedAt time.Time
}

// Subscriber receives frames. The channel is buffered; full buffers drop.
type Subscriber chan Frame

// listenerRegistry is the slice of broker.Registry the feed uses.
type listenerRegistry interface {
	AddListener(topic string, qos byte, fn broker.MessageHandler) (broker.ListenerHandle, error)
	RemoveListener(h broker.ListenerHandle)
}

// frameMessage is the wire shape on a camera feed topic.
type frameMessage struct {
	ImageB64 string `json:"image_b64"`
}

// Feed multiplexes camera frame topics to any number of UI subscribers.
type Feed struct {
	reg    listenerRegistry
	topics broker.Topics

	mu          sync.Mutex
	watches     map[string]broker.ListenerHandle
	subscribers map[Subscriber]struct{}
}

// NewFeed creates a feed over the given registry.
func NewFeed(reg listenerRegistry) *Feed {
	return &Feed{
		reg:         reg,
		watches:     make(map[string]broker.ListenerHandle),
		subscribers: make(map[Subscriber]struct{}),
	}
}

// Watch starts receiving frames for one camera. Watching an already
// watched camera is a no-op.
func (f *Feed) Watch(deviceID string) error {
	f.mu.Lock()
	if _, ok := f.watches[deviceID]; ok {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	topic := f.topics.CameraFeed(deviceID)
	handle, err := f.reg.AddListener(topic, broker.QoSFrames, func(_ string, payload []byte) {
		f.onFrame(deviceID, payload)
	})
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.watches[deviceID] = handle
	f.mu.Unlock()
	return nil
}

// Unwatch stops receiving frames for one camera.
func (f *Feed) Unwatch(deviceID string) {
	f.mu.Lock()
	handle, ok := f.watches[deviceID]
	if ok {
		delete(f.watches, deviceID)
	}
	f.mu.Unlock()

	if ok {
		f.reg.RemoveListener(handle)
	}
}

func (f *Feed) onFrame(deviceID string, payload []byte) {
	var msg frameMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("camera: %s: malformed frame message: %v", deviceID, err)
		return
	}
	if msg.ImageB64 == "" {
		// Absent image is logged and ignored, not fatal.
		log.Printf("camera: %s: frame message without image_b64", deviceID)
		return
	}

	img, err := base64.StdEncoding.DecodeString(msg.ImageB64)
	if err != nil {
		log.Printf("camera: %s: undecodable frame: %v", deviceID, err)
		return
	}

	f.broadcast(Frame{
		DeviceID:   deviceID,
		Image:      img,
		ReceivedAt: time.Now().UTC(),
	})
}

func (f *Feed) broadcast(frame Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subscribers {
		select {
		case sub <- frame:
		default:
			// Slow subscriber; this frame is gone for them.
		}
	}
}

// Subscribe registers a frame subscriber.
func (f *Feed) Subscribe() Subscriber {
	ch := make(Subscriber, 8)
	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *Feed) Unsubscribe(sub Subscriber) {
	f.mu.Lock()
	delete(f.subscribers, sub)
	f.mu.Unlock()
	close(sub)
}

// Watching returns the ids of currently watched cameras.
func (f *Feed) Watching() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.watches))
	for id := range f.watches {
		out = append(out, id)
	}
	return out
}
