package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// device
	"device.state_changed":     {},
	"device.command_rejected":  {},
	"device.command_failed":    {},
	"device.command_cancelled": {},
	"device.publish_failed":    {},

	// broker
	"broker.connected":    {},
	"broker.reconnecting": {},
	"broker.offline":      {},

	// alert
	"alert.received":       {},
	"alert.dismissed":      {},
	"alert.dismiss_failed": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

// Validate rejects event names outside the fixed vocabulary, keeping the
// persisted history queryable.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
