package broker

import "fmt"

// Well-known topic strings shared with the device bridge out of band.
const (
	// TopicControl carries device control commands published by the
	// dashboard after a successful authoritative write.
	TopicControl = "control"

	// TopicLive is the prefix for high-frequency inbound feeds such as
	// camera frames.
	TopicLive = "live"

	// TopicCriticalAlerts carries critical alerts raised by devices and
	// the bridge.
	TopicCriticalAlerts = "alerts/critical"
)

// Topics provides builders for homelink topic strings so call sites never
// assemble them by hand.
type Topics struct{}

// Control returns the device control command topic.
func (Topics) Control() string { return TopicControl }

// CriticalAlerts returns the critical alert topic.
func (Topics) CriticalAlerts() string { return TopicCriticalAlerts }

// CameraFeed returns the live frame topic for one camera.
//
// Example: live/camera/front-door
func (Topics) CameraFeed(deviceID string) string {
	return fmt.Sprintf("%s/camera/%s", TopicLive, deviceID)
}
