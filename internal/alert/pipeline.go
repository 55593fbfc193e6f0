package alert

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mfeltner/homelink/internal/broker"
)

// Recorder is the event-log slice the pipeline emits into.
type Recorder interface {
	Emit(level, name, msg string, fields map[string]any) ([]byte, error)
}

// listenerRegistry is the slice of broker.Registry the pipeline uses.
type listenerRegistry interface {
	AddListener(topic string, qos byte, fn broker.MessageHandler) (broker.ListenerHandle, error)
	RemoveListener(h broker.ListenerHandle)
}

// inboundAlert is the wire shape on the critical alert topic. Every field
// is optional; normalization fills defaults.
type inboundAlert struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	DeviceID  string `json:"deviceId"`
}

// Pipeline owns the in-memory alert list: persisted history loaded once,
// live alerts prepended as they arrive, dismissals applied optimistically
// and rolled back if the store rejects them.
type Pipeline struct {
	store  Store
	events Recorder

	mu     sync.Mutex
	alerts []Alert

	reg    listenerRegistry
	handle broker.ListenerHandle
	topics broker.Topics
}

// NewPipeline creates a pipeline over the given store.
func NewPipeline(store Store, events Recorder) *Pipeline {
	return &Pipeline{store: store, events: events}
}

// Start loads persisted alerts and registers the single critical-alert
// listener for the lifetime of the monitoring view.
func (p *Pipeline) Start(ctx context.Context, reg listenerRegistry) error {
	persisted, err := p.store.ListAlerts(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.alerts = persisted
	p.mu.Unlock()

	handle, err := reg.AddListener(p.topics.CriticalAlerts(), broker.QoSControl, p.onMessage)
	if err != nil {
		return err
	}
	p.reg = reg
	p.handle = handle
	return nil
}

// Stop releases the broker listener.
func (p *Pipeline) Stop() {
	if p.reg != nil {
		p.reg.RemoveListener(p.handle)
		p.reg = nil
	}
}

// onMessage normalizes one inbound broker message into an Alert and
// prepends it to the visible list. Malformed payloads are dropped with a
// log line; the listener must never crash.
func (p *Pipeline) onMessage(topic string, payload []byte) {
	var in inboundAlert
	if err := json.Unmarshal(payload, &in); err != nil {
		log.Printf("alert: dropping malformed message on %s: %v", topic, err)
		return
	}

	a := normalize(in)

	p.mu.Lock()
	// Live alerts take priority ordering over fetched history.
	p.alerts = append([]Alert{a}, p.alerts...)
	p.mu.Unlock()

	p.events.Emit("info", "alert.received", a.Message, map[string]any{
		"alert_id": a.ID,
		"severity": a.Severity,
		"source":   a.DeviceName,
	})

	// Persist so the alert survives reload and can be dismissed later.
	// A store failure leaves the alert visible for this session.
	if err := p.store.SaveAlert(context.Background(), a); err != nil {
		log.Printf("alert: persist %s: %v", a.ID, err)
	}
}

// normalize applies the defaults for missing inbound fields.
func normalize(in inboundAlert) Alert {
	severity := in.Type
	switch severity {
	case SeverityError, SeverityWarning, SeverityInfo:
	default:
		severity = SeverityError
	}

	message := in.Message
	if message == "" {
		message = defaultMessage
	}

	source := in.Source
	if source == "" {
		source = defaultSource
	}

	ts := time.Now().UTC()
	if in.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, in.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}

	return Alert{
		ID:         uuid.NewString(),
		Severity:   severity,
		Message:    message,
		DeviceName: source,
		Timestamp:  ts,
		DeviceID:   in.DeviceID,
		Live:       true,
	}
}

// Alerts returns the visible list, newest live alerts first.
func (p *Pipeline) Alerts() []Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Alert, len(p.alerts))
	copy(out, p.alerts)
	return out
}

// Dismiss removes an alert optimistically, then confirms against the
// store. A store failure reinserts the alert at its original position.
// Dismissing an id that is not in the list is a no-op.
func (p *Pipeline) Dismiss(ctx context.Context, id string) error {
	p.mu.Lock()
	idx := -1
	for i, a := range p.alerts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return nil
	}
	removed := p.alerts[idx]
	p.alerts = append(p.alerts[:idx], p.alerts[idx+1:]...)
	p.mu.Unlock()

	ok, err := p.store.DismissAlert(ctx, id)
	if err != nil || !ok {
		p.mu.Lock()
		if idx > len(p.alerts) {
			idx = len(p.alerts)
		}
		p.alerts = append(p.alerts[:idx], append([]Alert{removed}, p.alerts[idx:]...)...)
		p.mu.Unlock()

		p.events.Emit("error", "alert.dismiss_failed", "", map[string]any{
			"alert_id": id,
		})
		if err != nil {
			return err
		}
		return ErrDismissFailed
	}

	p.events.Emit("info", "alert.dismissed", "", map[string]any{
		"alert_id": id,
	})
	return nil
}

// Len returns the number of visible alerts.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.alerts)
}
