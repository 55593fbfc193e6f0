package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mfeltner/homelink/internal/camera"
	"github.com/mfeltner/homelink/internal/events"
)

const (
	// Number of recent events to send on connection
	recentEventsCount = 50

	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard may be served from another origin during development
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage is the envelope for everything sent over the live socket.
// Exactly one of Event or Frame is set.
type wsMessage struct {
	Type  string        `json:"type"`
	Event *events.Event `json:"event,omitempty"`
	Frame *wsFrame      `json:"frame,omitempty"`
}

// wsFrame carries one camera frame. Image marshals as base64.
type wsFrame struct {
	DeviceID string `json:"device_id"`
	Image    []byte `json:"image"`
	Received string `json:"ts"`
}

func eventMessage(e events.Event) ([]byte, error) {
	return json.Marshal(wsMessage{Type: "event", Event: &e})
}

func frameMessage(f camera.Frame) ([]byte, error) {
	return json.Marshal(wsMessage{Type: "frame", Frame: &wsFrame{
		DeviceID: f.DeviceID,
		Image:    f.Image,
		Received: f.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}})
}

// wsHandler streams live events and watched camera frames to the browser.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	sub := s.events.Subscribe()

	var frames camera.Subscriber
	if s.feed != nil {
		frames = s.feed.Subscribe()
	}

	cleanup := func() {
		s.events.Unsubscribe(sub)
		if frames != nil {
			s.feed.Unsubscribe(frames)
		}
		conn.Close()
	}

	write := func(data []byte) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	// Send recent events immediately so the feed is never empty
	for _, e := range s.events.Recent(recentEventsCount) {
		data, err := eventMessage(e)
		if err != nil {
			continue
		}
		if err := write(data); err != nil {
			log.Printf("ws write recent event failed: %v", err)
			cleanup()
			return
		}
	}

	// Reader goroutine handles pongs and close messages
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			cleanup()
			return

		case e, ok := <-sub:
			if !ok {
				conn.Close()
				return
			}
			data, err := eventMessage(e)
			if err != nil {
				continue
			}
			if err := write(data); err != nil {
				log.Printf("ws write event failed: %v", err)
				cleanup()
				return
			}

		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			data, err := frameMessage(f)
			if err != nil {
				continue
			}
			if err := write(data); err != nil {
				cleanup()
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				cleanup()
				return
			}
		}
	}
}
