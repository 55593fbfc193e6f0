// Package alert ingests critical alerts arriving over the broker and
// merges them with persisted alert history for the monitoring view.
package alert

import (
	"context"
	"errors"
	"time"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Defaults applied to inbound alert messages with missing fields.
const (
	defaultMessage = "Critical alert!"
	defaultSource  = "raspberry-pi"
)

// Alert is one entry in the monitoring view. Live alerts arrive over the
// broker during the session; persisted ones are loaded at startup.
type Alert struct {
	ID         string    `json:"id"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	DeviceName string    `json:"deviceName"`
	Timestamp  time.Time `json:"timestamp"`
	DeviceID   string    `json:"deviceId,omitempty"`
	Live       bool      `json:"live"`
}

// Store persists alerts and dismissals.
type Store interface {
	ListAlerts(ctx context.Context) ([]Alert, error)

	// SaveAlert persists a live alert so a dismissal survives reload.
	SaveAlert(ctx context.Context, a Alert) error

	// DismissAlert marks an alert dismissed. The bool reports whether
	// the store accepted the dismissal.
	DismissAlert(ctx context.Context, id string) (bool, error)
}

// ErrDismissFailed is returned when the store rejects a dismissal; the
// alert has already been reinserted into the visible list.
var ErrDismissFailed = errors.New("alert: dismiss failed")
