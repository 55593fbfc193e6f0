package device

import (
	"context"
	"time"
)

// Type classifies a controllable device.
type Type string

const (
	TypeLight      Type = "light"
	TypeCamera     Type = "camera"
	TypeAutomation Type = "automation"
)

// Device states.
const (
	StateOn  = "on"
	StateOff = "off"
)

// DefaultBrightness is the level a light snaps to when switched on from a
// stored brightness of zero.
const DefaultBrightness = 100

// Device is the dashboard's view of one smart-home device. State and
// Brightness are coupled: brightness zero always means off, and a light
// that is on always has a non-zero brightness.
type Device struct {
	ID         string    `json:"id"`
	HomeID     string    `json:"homeId"`
	Name       string    `json:"name"`
	Type       Type      `json:"type"`
	State      string    `json:"state"`
	Brightness int       `json:"brightness"`
	ModeID     string    `json:"mode_id,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Copy returns a value copy safe for callers to mutate.
func (d *Device) Copy() *Device {
	cpy := *d
	return &cpy
}

// Store is the authoritative persistence collaborator. The coordinator
// depends only on these signatures and their success/failure shape, never
// on storage internals.
type Store interface {
	GetDevice(ctx context.Context, id string) (*Device, error)
	ListDevices(ctx context.Context) ([]*Device, error)

	// UpdateDeviceByID writes only the given fields (partial update) and
	// returns the stored row. Field keys use column naming:
	// current_state, brightness, mode_id.
	UpdateDeviceByID(ctx context.Context, id string, fields map[string]any) (*Device, error)
}

// Publisher sends best-effort notifications to the physical devices.
// Failure is reported as false and never unwinds a committed write.
type Publisher interface {
	Publish(topic string, payload any, qos byte) bool
}

// ControlMessage is the command payload published to the control topic.
// Consumers (the device bridge) key off Type and DeviceID.
type ControlMessage struct {
	HomeID     string `json:"homeId"`
	Type       Type   `json:"type"`
	DeviceID   string `json:"deviceId"`
	State      string `json:"state"`
	Brightness *int   `json:"brightness,omitempty"`
	ModeID     string `json:"mode_id,omitempty"`
	CreatedAt  string `json:"createdAt"`
}
