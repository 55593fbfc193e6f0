package device

import (
	"context"
	"fmt"
	"time"

	"github.com/mfeltner/homelink/internal/broker"
)

// Recorder is the event-log slice the coordinator emits into.
type Recorder interface {
	Emit(level, name, msg string, fields map[string]any) ([]byte, error)
}

// Coordinator turns user intents (toggle a light, set brightness, change
// camera power, switch automation mode) into a single coherent state
// transition: the UI-visible cache flips immediately, the authoritative
// write and the device-facing broker notification happen after.
//
// The flow is identical for every device class:
//
//  1. Reject if the device already has a command in flight.
//  2. Snapshot the current state and compute the optimistic target.
//  3. Apply the optimistic state to the cache and register the pending
//     command.
//  4. Persist only the fields that actually changed.
//  5. On failure, revert the cache, clear pending, and return the error.
//     Persistence failures are the one class that must always reach the
//     user, or the UI silently diverges from the stored truth.
//  6. On success, clear pending after a short grace delay and publish the
//     control message best-effort: a publish failure is logged, never
//     rolled back, because the persisted state is the source of truth.
//  7. Record a state-change event, only on success and only when the
//     state actually changed.
type Coordinator struct {
	homeID  string
	store   Store
	pub     Publisher
	log     Recorder
	cache   *StateCache
	pending *pendingSet
	topics  broker.Topics
}

// NewCoordinator wires a coordinator. grace is how long a completed
// command lingers in the pending set to absorb UI flicker.
func NewCoordinator(homeID string, store Store, pub Publisher, log Recorder, cache *StateCache, grace time.Duration) *Coordinator {
	return &Coordinator{
		homeID:  homeID,
		store:   store,
		pub:     pub,
		log:     log,
		cache:   cache,
		pending: newPendingSet(grace),
	}
}

// ToggleLight flips a light between on and off. Turning on a light whose
// stored brightness is zero snaps it to the default brightness.
func (c *Coordinator) ToggleLight(ctx context.Context, id string) (*Device, error) {
	return c.apply(ctx, id, KindToggle, TypeLight, func(d *Device) map[string]any {
		fields := make(map[string]any)
		if d.State == StateOn {
			d.State = StateOff
			fields["current_state"] = StateOff
		} else {
			d.State = StateOn
			fields["current_state"] = StateOn
			if d.Brightness == 0 {
				d.Brightness = DefaultBrightness
				fields["brightness"] = DefaultBrightness
			}
		}
		return fields
	})
}

// SetBrightness sets a light's brightness level. Zero forces the light
// off; any other level forces it on. This coupling is a domain rule, not
// a convenience.
func (c *Coordinator) SetBrightness(ctx context.Context, id string, level int) (*Device, error) {
	if level < 0 || level > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBrightness, level)
	}

	return c.apply(ctx, id, KindSetBrightness, TypeLight, func(d *Device) map[string]any {
		fields := make(map[string]any)
		if d.Brightness != level {
			d.Brightness = level
			fields["brightness"] = level
		}
		state := StateOn
		if level == 0 {
			state = StateOff
		}
		if d.State != state {
			d.State = state
			fields["current_state"] = state
		}
		return fields
	})
}

// SetCameraPower switches a camera on or off.
func (c *Coordinator) SetCameraPower(ctx context.Context, id string, on bool) (*Device, error) {
	return c.apply(ctx, id, KindSetPower, TypeCamera, func(d *Device) map[string]any {
		state := StateOff
		if on {
			state = StateOn
		}
		if d.State == state {
			return nil
		}
		d.State = state
		return map[string]any{"current_state": state}
	})
}

// SetAutomationMode switches the active mode of an automation device.
func (c *Coordinator) SetAutomationMode(ctx context.Context, id, modeID string) (*Device, error) {
	return c.apply(ctx, id, KindSetMode, TypeAutomation, func(d *Device) map[string]any {
		if d.ModeID == modeID {
			return nil
		}
		d.ModeID = modeID
		return map[string]any{"mode_id": modeID}
	})
}

// Cancel releases the pending entry for a device without applying its
// effects, for when the owning UI context is torn down mid-flight.
// Returns false if nothing was pending.
func (c *Coordinator) Cancel(id string) bool {
	cmd := c.pending.release(id)
	if cmd == nil {
		return false
	}
	c.log.Emit("info", "device.command_cancelled", "", map[string]any{
		"device_id": id,
		"kind":      string(cmd.Kind),
	})
	return true
}

// Pending reports whether a device has a command in flight.
func (c *Coordinator) Pending(id string) bool {
	_, ok := c.pending.get(id)
	return ok
}

// PendingCount returns the number of devices with commands in flight.
func (c *Coordinator) PendingCount() int {
	return c.pending.size()
}

// apply runs the uniform optimistic command flow. mutate edits the device
// to its optimistic target and returns the changed fields in store column
// naming; an empty map means the command is a no-op.
func (c *Coordinator) apply(ctx context.Context, id string, kind CommandKind, want Type, mutate func(*Device) map[string]any) (*Device, error) {
	current, ok := c.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if current.Type != want {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongType, id, current.Type)
	}

	original := current.Copy()
	optimistic := current.Copy()
	fields := mutate(optimistic)
	if len(fields) == 0 {
		// Nothing would change; no write, no pending entry, no history.
		return original, nil
	}

	cmd := &PendingCommand{
		DeviceID:   id,
		Kind:       kind,
		Original:   original,
		Optimistic: optimistic,
	}
	if !c.pending.begin(cmd) {
		c.log.Emit("warning", "device.command_rejected", "command already in flight", map[string]any{
			"device_id": id,
			"kind":      string(kind),
		})
		return nil, fmt.Errorf("%w: %s", ErrCommandPending, id)
	}

	c.cache.Apply(optimistic)

	stored, err := c.store.UpdateDeviceByID(ctx, id, fields)
	if err != nil || stored == nil {
		// Revert only while this command still owns the device slot. If
		// the command was cancelled and a successor is already in flight,
		// the cache and the slot belong to the successor.
		c.pending.releaseOwned(cmd, func() {
			c.cache.Apply(original)
		})
		c.log.Emit("error", "device.command_failed", "authoritative write failed, rolled back", map[string]any{
			"device_id": id,
			"kind":      string(kind),
		})
		if err == nil {
			err = fmt.Errorf("store returned no device")
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUpdateFailed, id, err)
	}

	c.cache.Apply(stored)
	c.pending.releaseAfterGrace(cmd)

	if original.State != stored.State {
		c.log.Emit("info", "device.state_changed", "", map[string]any{
			"device_id": id,
			"old_state": original.State,
			"new_state": stored.State,
		})
	}

	if !c.pub.Publish(c.topics.Control(), c.controlMessage(stored), broker.QoSControl) {
		// The stored row is already the truth; a lost notification is
		// not a rollback.
		c.log.Emit("warning", "device.publish_failed", "control message not delivered", map[string]any{
			"device_id": id,
		})
	}

	return stored.Copy(), nil
}

func (c *Coordinator) controlMessage(d *Device) ControlMessage {
	msg := ControlMessage{
		HomeID:    c.homeID,
		Type:      d.Type,
		DeviceID:  d.ID,
		State:     d.State,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if d.Type == TypeLight {
		b := d.Brightness
		msg.Brightness = &b
	}
	if d.Type == TypeAutomation {
		msg.ModeID = d.ModeID
	}
	return msg
}
